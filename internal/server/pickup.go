package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

type pickupReq struct {
	PickupCode string `json:"pickup_code"`
}

// pickupFileInfo is the per-file shape returned on redemption; storage
// names stay internal, the recipient downloads by display name.
type pickupFileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadTime time.Time `json:"upload_time"`
}

type pickupResp struct {
	Success     bool             `json:"success"`
	FileGroupID string           `json:"file_group_id"`
	Token       string           `json:"token"`
	Files       []pickupFileInfo `json:"files"`
}

// pickupHandler handles POST /pickup: redeem a pickup code for a fresh
// download token. A reap pass runs first so an expired code is never
// redeemable, and each successful redemption rotates the group's token,
// invalidating the previous one.
func (s *Server) pickupHandler(w http.ResponseWriter, r *http.Request) {
	code := readPickupCode(r)
	if code == "" {
		writeError(w, http.StatusBadRequest, "missing pickup code")
		return
	}

	now := time.Now().UTC()
	if _, err := s.store.Reap(now); err != nil {
		Error("reap before pickup failed", nil, err)
	}

	group, ok := s.store.FindByCode(code)
	if !ok {
		GetMetrics().RecordPickup(false)
		writeError(w, http.StatusNotFound, "invalid or expired pickup code")
		return
	}

	token, err := s.store.IssueToken(group.ID, now)
	if err != nil {
		Error("token issue failed", map[string]any{"group_id": group.ID}, err)
		writeError(w, http.StatusInternalServerError, "internal error")
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

	GetMetrics().RecordPickup(true)
	writeJSON(w, http.StatusOK, pickupResp{
		Success:     true,
		FileGroupID: group.ID,
		Token:       token,
		Files:       files,
	})
}

// readPickupCode accepts the code as a form field or a JSON body,
// normalised to the uppercase alphabet codes are issued in.
func readPickupCode(r *http.Request) string {
	var code string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req pickupReq
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			code = req.PickupCode
		}
	} else {
		if err := r.ParseForm(); err == nil {
			code = r.PostFormValue("pickup_code")
		}
	}
	return strings.ToUpper(strings.TrimSpace(code))
}
