package server

import (
	"net/http"
	"os"
	"path/filepath"
)

// healthHandler reports liveness plus a storage writability probe: if the
// data directory stops accepting writes, every upload and registry save
// is going to fail, so readiness should fail first.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	probe := filepath.Join(s.cfg.DataDir, ".healthcheck")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		status = "storage_unwritable"
		code = http.StatusServiceUnavailable
	} else {
		_ = os.Remove(probe)
	}

	writeJSON(w, code, map[string]any{
		"status":             status,
		"file_groups":        s.store.Count(),
		"storage_used_bytes": s.store.TotalBytes(),
	})
}
