// reaper.go - Expiry reaper: deletes file groups past their time-to-live
// or download quota. Runs on a timer and synchronously before any
// decision that depends on group liveness (pickup, status reads).
package server

import (
	"context"
	"log"
	"os"
	"time"
)

// reapable reports whether the group should be deleted at now.
func reapable(g *FileGroup, now time.Time) bool {
	if g.ExpiryAt != nil && now.After(*g.ExpiryAt) {
		return true
	}
	if g.MaxDownloads != nil && g.DownloadCount >= *g.MaxDownloads {
		return true
	}
	return false
}

// Reap deletes every group whose expiry has passed or whose download
// quota is exhausted. The scan collects ids first and deletes afterwards,
// so the map is never mutated while being iterated. Returns the number of
// groups removed.
func (s *Store) Reap(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doomed []string
	for id, g := range s.groups {
		if reapable(g, now) {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	for _, id := range doomed {
		if err := os.RemoveAll(s.GroupDir(id)); err != nil {
			log.Printf("service=reaper msg=%q id=%s err=%v", "remove_dir_failed", id, err)
			continue
		}
		delete(s.groups, id)
	}
	if err := s.saveLocked(); err != nil {
		return 0, err
	}
	return len(doomed), nil
}

// StartReaperJob runs Reap on a ticker until ctx is cancelled. A pass
// also runs immediately on start, covering groups that expired while the
// process was down.
func StartReaperJob(ctx context.Context, store *Store, interval time.Duration) {
	log.Printf("service=reaper msg=%q interval=%s", "starting", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runReap(store)

	for {
		select {
		case <-ctx.Done():
			log.Printf("service=reaper msg=%q", "shutting_down")
			return
		case <-ticker.C:
			runReap(store)
		}
	}
}

func runReap(store *Store) {
	start := time.Now()
	reaped, err := store.Reap(start)
	if err != nil {
		log.Printf("service=reaper msg=%q err=%v", "reap_failed", err)
		return
	}
	if reaped > 0 {
		GetMetrics().RecordReaped(reaped)
		log.Printf("service=reaper msg=%q reaped=%d duration_ms=%d",
			"reap_complete", reaped, time.Since(start).Milliseconds())
	}
}
