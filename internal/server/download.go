package server

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
)

// downloadHandler handles GET /download/{groupID}/{filename}?token=...
// The filename in the URL is the display name shown at pickup; it is
// resolved to the sanitized storage name before touching the disk. Byte
// ranges are honored so interrupted transfers can resume, and ranged or
// quickly repeated requests from the same client are served without
// being counted again.
func (s *Server) downloadHandler(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	filename := chi.URLParam(r, "filename")

	token := r.URL.Query().Get("token")
	if token == "" || !s.store.CheckToken(groupID, token) {
		GetMetrics().RecordDownloadError()
		writeError(w, http.StatusForbidden, "invalid or expired download link")
		return
	}

	group, ok := s.store.Get(groupID)
	if !ok {
		GetMetrics().RecordDownloadError()
		writeError(w, http.StatusNotFound, "file group not found")
		return
	}

	rec, ok := group.findFile(filename)
	if !ok {
		GetMetrics().RecordDownloadError()
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	path := filepath.Join(s.store.GroupDir(groupID), rec.StorageName)
	f, err := os.Open(path)
	if err != nil {
		GetMetrics().RecordDownloadError()
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		GetMetrics().RecordDownloadError()
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	addr := clientIP(r)
	partial := r.Header.Get("Range") != ""
	counted, err := s.store.RecordDownload(
		groupID, rec, addr, clientFingerprint(r), time.Now().UTC(), partial)
	if err != nil {
		GetMetrics().RecordDownloadError()
		writeError(w, http.StatusNotFound, "file group not found")
		return
	}
	GetMetrics().RecordDownload(!counted)

	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, rec.DisplayName))
	// ServeContent handles Range requests and sets Accept-Ranges: bytes.
	http.ServeContent(w, r, rec.StorageName, info.ModTime(), f)
}

// clientFingerprint identifies a client for download dedup only: the
// network origin plus the declared client identity string, hashed so the
// raw pair never lands in the registry document.
func clientFingerprint(r *http.Request) string {
	sum := sha256.Sum256([]byte(clientIP(r) + "\n" + r.UserAgent()))
	return hex.EncodeToString(sum[:16])
}
