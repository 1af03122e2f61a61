// registry.go - Durable file-group registry backed by a single JSON document.
//
// All mutations run under one mutex and write through to disk with a
// temp-file-then-rename replace, so a crash never leaves a half-written
// registry behind.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// dedupWindow is how long a repeat download from the same client for the
// same file is treated as a retry rather than a new download.
const dedupWindow = 5 * time.Minute

var errGroupNotFound = errors.New("file group not found")

// FileRecord describes one stored file inside a group. DisplayName is what
// the uploader called it; StorageName is the sanitized on-disk name.
type FileRecord struct {
	DisplayName string    `json:"name"`
	StorageName string    `json:"storage_name"`
	SizeBytes   int64     `json:"size"`
	UploadedAt  time.Time `json:"upload_time"`
}

// DownloadEvent is one entry in a group's append-only download history.
type DownloadEvent struct {
	Filename      string    `json:"filename"`
	Time          time.Time `json:"time"`
	ClientAddress string    `json:"ip"`
}

// FileGroup is a batch of files sharing one pickup code, expiry and
// download quota.
type FileGroup struct {
	ID              string               `json:"-"`
	PickupCode      string               `json:"pickup_code"`
	Files           []FileRecord         `json:"files"`
	CreatedAt       time.Time            `json:"created_at"`
	ExpiryAt        *time.Time           `json:"expiry_date,omitempty"`
	MaxDownloads    *int                 `json:"max_downloads,omitempty"`
	DownloadCount   int                  `json:"download_count"`
	DownloadHistory []DownloadEvent      `json:"download_history"`
	ActiveToken     string               `json:"download_token,omitempty"`
	TokenIssuedAt   *time.Time           `json:"token_created,omitempty"`
	RecentClients   map[string]time.Time `json:"recent_clients,omitempty"`
	TotalSizeBytes  int64                `json:"total_size"`
}

// findFile resolves a requested display name to its file record.
func (g *FileGroup) findFile(displayName string) (FileRecord, bool) {
	for _, f := range g.Files {
		if f.DisplayName == displayName {
			return f, true
		}
	}
	return FileRecord{}, false
}

func (g *FileGroup) clone() *FileGroup {
	c := *g
	c.Files = append([]FileRecord(nil), g.Files...)
	c.DownloadHistory = append([]DownloadEvent(nil), g.DownloadHistory...)
	if g.RecentClients != nil {
		c.RecentClients = make(map[string]time.Time, len(g.RecentClients))
		for k, v := range g.RecentClients {
			c.RecentClients[k] = v
		}
	}
	return &c
}

// registryDoc is the on-disk shape of the registry document. Group IDs are
// the map keys, matching the storage directory names under filesDir.
type registryDoc struct {
	FileGroups map[string]*FileGroup `json:"file_groups"`
}

// Store is the registry of live file groups. Every read-modify-write cycle
// holds mu for the whole sequence, including the directory removal that
// accompanies a group deletion, so the registry and the files directory
// never disagree about which groups exist.
type Store struct {
	mu         sync.Mutex
	dataPath   string
	filesDir   string
	codeLength int
	groups     map[string]*FileGroup
}

// OpenStore loads the registry document from dataDir (or starts empty) and
// ensures the files directory exists. codeLength is the pickup code length
// used for new groups.
func OpenStore(dataDir string, codeLength int) (*Store, error) {
	filesDir := filepath.Join(dataDir, "files")
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}

	s := &Store{
		dataPath:   filepath.Join(dataDir, "registry.json"),
		filesDir:   filesDir,
		codeLength: codeLength,
		groups:     make(map[string]*FileGroup),
	}

	raw, err := os.ReadFile(s.dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}

	var doc registryDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	for id, g := range doc.FileGroups {
		g.ID = id
		s.groups[id] = g
	}
	return s, nil
}

// GroupDir returns the storage directory for a group id. The directory is
// created by the upload path and removed together with the registry entry.
func (s *Store) GroupDir(id string) string {
	return filepath.Join(s.filesDir, id)
}

// saveLocked persists the registry document. Callers must hold s.mu.
// The document is fully serialized to a temp file first and renamed over
// the previous one, so readers never observe a truncated registry.
func (s *Store) saveLocked() error {
	doc := registryDoc{FileGroups: s.groups}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}

	tmp := s.dataPath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, s.dataPath); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// CreateGroup registers a group whose storage directory has already been
// populated by the upload path. A pickup code unique among live groups is
// allocated under the registry lock.
func (s *Store) CreateGroup(g *FileGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	taken := make(map[string]bool, len(s.groups))
	for _, live := range s.groups {
		taken[live.PickupCode] = true
	}
	code, err := newPickupCode(s.codeLength, taken)
	if err != nil {
		return err
	}
	g.PickupCode = code

	s.groups[g.ID] = g
	if err := s.saveLocked(); err != nil {
		delete(s.groups, g.ID)
		return err
	}
	return nil
}

// Get returns a copy of the group, so callers can read it without holding
// the registry lock.
func (s *Store) Get(id string) (*FileGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, false
	}
	return g.clone(), true
}

// FindByCode returns a copy of the live group holding the pickup code.
func (s *Store) FindByCode(code string) (*FileGroup, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.PickupCode == code {
			return g.clone(), true
		}
	}
	return nil, false
}

// Delete removes a group's storage directory and registry entry together.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return errGroupNotFound
	}
	if err := os.RemoveAll(s.GroupDir(id)); err != nil {
		return fmt.Errorf("remove group dir: %w", err)
	}
	delete(s.groups, id)
	return s.saveLocked()
}

// IssueToken mints a fresh download token for the group, replacing and
// thereby invalidating any previously issued token.
func (s *Store) IssueToken(id string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return "", errGroupNotFound
	}
	token := newDownloadToken()
	g.ActiveToken = token
	g.TokenIssuedAt = &now
	if err := s.saveLocked(); err != nil {
		return "", err
	}
	return token, nil
}

// CheckToken reports whether token is the group's currently active token.
func (s *Store) CheckToken(id, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || g.ActiveToken == "" {
		return false
	}
	return tokenEqual(g.ActiveToken, token)
}

// RecordDownload records a download of the named file. Partial (ranged)
// transfers and repeats from the same client fingerprint inside the dedup
// window are served without being counted. Returns whether the download
// was counted.
func (s *Store) RecordDownload(id string, f FileRecord, clientAddr, fingerprint string, now time.Time, partial bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return false, errGroupNotFound
	}

	if partial {
		return false, nil
	}
	key := fingerprint + "/" + f.StorageName
	if last, seen := g.RecentClients[key]; seen && now.Sub(last) < dedupWindow {
		return false, nil
	}

	g.DownloadHistory = append(g.DownloadHistory, DownloadEvent{
		Filename:      f.DisplayName,
		Time:          now,
		ClientAddress: clientAddr,
	})
	g.DownloadCount++
	if g.RecentClients == nil {
		g.RecentClients = make(map[string]time.Time)
	}
	g.RecentClients[key] = now
	for k, t := range g.RecentClients {
		if now.Sub(t) >= dedupWindow {
			delete(g.RecentClients, k)
		}
	}

	if err := s.saveLocked(); err != nil {
		return false, err
	}
	return true, nil
}

// TotalBytes is the sum of all live groups' stored sizes.
func (s *Store) TotalBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, g := range s.groups {
		total += g.TotalSizeBytes
	}
	return total
}

// Count returns the number of live groups.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups)
}

// PurgeAll deletes every live group. Used by the shutdown hook when
// purge-on-shutdown is configured.
func (s *Store) PurgeAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.groups {
		if err := os.RemoveAll(s.GroupDir(id)); err != nil {
			return fmt.Errorf("remove group dir: %w", err)
		}
		delete(s.groups, id)
	}
	return s.saveLocked()
}
