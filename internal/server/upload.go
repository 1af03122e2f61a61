package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// uploadResp is the JSON response returned after a successful upload
// batch. The pickup code is what the sender hands to the recipient.
type uploadResp struct {
	Success     bool   `json:"success"`
	FileGroupID string `json:"file_group_id"`
	PickupCode  string `json:"pickup_code"`
}

// uploadHandler handles POST /upload. The multipart body carries the file
// parts ("files[]") plus optional expiry_value/expiry_unit and
// max_downloads fields. Validation and quotas are all-or-nothing per
// batch: any rejection removes the candidate directory before the error
// is returned, so a failed upload leaves no bytes behind.
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxGroupBytes > 0 {
		// Slack covers multipart framing and form fields.
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxGroupBytes+(1<<20))
	}

	mr, err := r.MultipartReader()
	if err != nil {
		GetMetrics().RecordUploadError()
		writeError(w, http.StatusBadRequest, "bad multipart body")
		return
	}

	id := uuid.NewString()
	dir := s.store.GroupDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		GetMetrics().RecordUploadError()
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	quota := &quotaChecker{cfg: s.cfg}
	if err := quota.checkGlobal(s.store.TotalBytes()); err != nil {
		s.failUpload(w, dir, err)
		return
	}

	var (
		files  []FileRecord
		used   = make(map[string]bool)
		fields = make(map[string]string)
		now    = time.Now().UTC()
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.failUpload(w, dir, validationErrorf("bad multipart body"))
			return
		}

		if part.FileName() == "" {
			val, _ := io.ReadAll(io.LimitReader(part, 1024))
			fields[part.FormName()] = strings.TrimSpace(string(val))
			_ = part.Close()
			continue
		}

		rec, err := s.admitFilePart(dir, part, quota, used, now)
		_ = part.Close()
		if err != nil {
			s.failUpload(w, dir, err)
			return
		}
		files = append(files, rec)
	}

	if len(files) == 0 {
		s.failUpload(w, dir, validationErrorf("no files uploaded"))
		return
	}

	expiry, err := parseExpiry(fields, s.cfg)
	if err != nil {
		s.failUpload(w, dir, err)
		return
	}

	group := &FileGroup{
		ID:              id,
		Files:           files,
		CreatedAt:       now,
		DownloadHistory: []DownloadEvent{},
	}
	if expiry > 0 {
		at := now.Add(expiry)
		group.ExpiryAt = &at
	}
	if md := parseMaxDownloads(fields); md > 0 {
		group.MaxDownloads = &md
	}
	for _, f := range files {
		group.TotalSizeBytes += f.SizeBytes
	}

	if err := s.store.CreateGroup(group); err != nil {
		s.failUpload(w, dir, err)
		return
	}

	GetMetrics().RecordUpload(group.TotalSizeBytes)
	Info("upload accepted", map[string]any{
		"group_id": id,
		"files":    len(files),
		"bytes":    group.TotalSizeBytes,
	})

	writeJSON(w, http.StatusOK, uploadResp{
		Success:     true,
		FileGroupID: id,
		PickupCode:  group.PickupCode,
	})
}

// admitFilePart validates one incoming file stream and persists it under
// its collision-safe storage name, enforcing quotas while the bytes are
// still streaming in.
func (s *Server) admitFilePart(dir string, part *multipart.Part, quota *quotaChecker, used map[string]bool, now time.Time) (FileRecord, error) {
	display := filepath.Base(part.FileName())

	if err := quota.admitFile(); err != nil {
		return FileRecord{}, err
	}
	if err := s.policy.CheckFilename(display); err != nil {
		return FileRecord{}, err
	}

	sname := uniqueStorageName(storageName(display), used)
	used[sname] = true
	dst := filepath.Join(dir, sname)

	size, err := streamToFile(dst, part, s.cfg.MaxFileBytes)
	if err != nil {
		return FileRecord{}, err
	}
	if err := quota.admitBytes(size); err != nil {
		return FileRecord{}, err
	}

	ext := fileExt(display)
	if imageExtensions[ext] {
		head, err := readHead(dst, sniffLen)
		if err != nil {
			return FileRecord{}, err
		}
		if sniffImageHead(head) {
			return FileRecord{}, validationErrorf("embedded script detected in %q", display)
		}
	}
	if ext == "zip" {
		if err := s.policy.inspectZipMembers(dst); err != nil {
			return FileRecord{}, err
		}
	}

	return FileRecord{
		DisplayName: display,
		StorageName: sname,
		SizeBytes:   size,
		UploadedAt:  now,
	}, nil
}

// streamToFile copies the part to dst, stopping early once the per-file
// ceiling is breached so an oversized file never lands in full.
func streamToFile(dst string, src io.Reader, maxFileBytes int64) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	reader := src
	if maxFileBytes > 0 {
		reader = io.LimitReader(src, maxFileBytes+1)
	}
	n, err := io.Copy(f, reader)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return n, &QuotaError{Limit: LimitGroupBytes, Observed: n, Allowed: tooLarge.Limit}
		}
		return n, err
	}
	if maxFileBytes > 0 && n > maxFileBytes {
		return n, &QuotaError{Limit: LimitFileBytes, Observed: n, Allowed: maxFileBytes}
	}
	return n, nil
}

// readHead returns up to n leading bytes of the stored file.
func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, n)
	read, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	return head[:read], nil
}

// parseExpiry resolves the batch's requested lifetime. Absent fields use
// the configured default; an explicit zero means the group never
// time-expires, matching the original behavior of the upload form.
func parseExpiry(fields map[string]string, cfg Config) (time.Duration, error) {
	raw, ok := fields["expiry_value"]
	unit := fields["expiry_unit"]
	if !ok {
		raw, ok = fields["expiry_days"]
		unit = "days"
	}
	if !ok || raw == "" {
		return cfg.DefaultExpiry, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationErrorf("bad expiry value %q", raw)
	}
	if n <= 0 {
		return 0, nil
	}

	switch unit {
	case "hours":
		return cfg.clampExpiry(time.Duration(n) * time.Hour), nil
	case "days", "":
		return cfg.clampExpiry(time.Duration(n) * 24 * time.Hour), nil
	default:
		return 0, validationErrorf("bad expiry unit %q", unit)
	}
}

// parseMaxDownloads reads the download quota; zero, absent and garbage
// all mean unlimited, as the original upload form treated them.
func parseMaxDownloads(fields map[string]string) int {
	n, err := strconv.Atoi(fields["max_downloads"])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// failUpload rolls the candidate directory back and maps the error onto
// the HTTP taxonomy.
func (s *Server) failUpload(w http.ResponseWriter, dir string, err error) {
	_ = os.RemoveAll(dir)
	GetMetrics().RecordUploadError()

	var vErr *ValidationError
	var qErr *QuotaError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Reason)
	case errors.As(err, &qErr):
		status := http.StatusRequestEntityTooLarge
		if qErr.Global() {
			status = http.StatusInsufficientStorage
		}
		writeError(w, status, qErr.Error())
	default:
		Error("upload failed", nil, err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
