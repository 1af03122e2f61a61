package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// groupInfoResp is the public view of a file group. The active token and
// the dedup fingerprints stay out of it.
type groupInfoResp struct {
	FileGroupID     string           `json:"file_group_id"`
	PickupCode      string           `json:"pickup_code"`
	Files           []pickupFileInfo `json:"files"`
	CreatedAt       time.Time        `json:"created_at"`
	ExpiryAt        *time.Time       `json:"expiry_date,omitempty"`
	MaxDownloads    *int             `json:"max_downloads,omitempty"`
	DownloadCount   int              `json:"download_count"`
	DownloadHistory []DownloadEvent  `json:"download_history"`
	TotalSizeBytes  int64            `json:"total_size"`
}

// groupInfoHandler handles GET /api/file-group/{groupID}. A reap pass
// runs first so status reads never report groups that are already due
// for deletion.
func (s *Server) groupInfoHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.Reap(time.Now().UTC()); err != nil {
		Error("reap before status read failed", nil, err)
	}

	group, ok := s.store.Get(chi.URLParam(r, "groupID"))
	if !ok {
		writeError(w, http.StatusNotFound, "file group not found")
		return
	}

	files := make([]pickupFileInfo, 0, len(group.Files))
	for _, f := range group.Files {
		files = append(files, pickupFileInfo{
			Name:       f.DisplayName,
			Size:       f.SizeBytes,
			UploadTime: f.UploadedAt,
		})
	}

	writeJSON(w, http.StatusOK, groupInfoResp{
		FileGroupID:     group.ID,
		PickupCode:      group.PickupCode,
		Files:           files,
		CreatedAt:       group.CreatedAt,
		ExpiryAt:        group.ExpiryAt,
		MaxDownloads:    group.MaxDownloads,
		DownloadCount:   group.DownloadCount,
		DownloadHistory: group.DownloadHistory,
		TotalSizeBytes:  group.TotalSizeBytes,
	})
}

// deleteGroupHandler handles POST /api/delete/{groupID}: explicit,
// permanent deletion of a group and its stored bytes.
func (s *Server) deleteGroupHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "groupID")
	if err := s.store.Delete(id); err != nil {
		if errors.Is(err, errGroupNotFound) {
			writeError(w, http.StatusNotFound, "file group not found")
			return
		}
		Error("delete failed", map[string]any{"group_id": id}, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	Info("group deleted", map[string]any{"group_id": id})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// systemInfoHandler handles GET /api/system-info: current storage usage
// against the configured ceilings.
func (s *Server) systemInfoHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"storage_used_bytes":  s.store.TotalBytes(),
		"storage_max_bytes":   s.cfg.MaxGlobalBytes,
		"max_file_bytes":      s.cfg.MaxFileBytes,
		"max_group_bytes":     s.cfg.MaxGroupBytes,
		"max_files_per_group": s.cfg.MaxFilesPerGroup,
		"file_groups":         s.store.Count(),
	})
}
