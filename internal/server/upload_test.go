package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Addr:             ":0",
		DataDir:          t.TempDir(),
		MaxFileBytes:     1 << 20,
		MaxGroupBytes:    2 << 20,
		MaxGlobalBytes:   10 << 20,
		MaxFilesPerGroup: 5,
		CodeLength:       6,
		MinExpiry:        time.Hour,
		MaxExpiry:        720 * time.Hour,
		DefaultExpiry:    168 * time.Hour,
		ReaperInterval:   10 * time.Minute,
		PickupRate:       1000,
	}
}

func newTestServer(t *testing.T) (*Server, *Store) {
	t.Helper()
	cfg := testConfig(t)
	store, err := OpenStore(cfg.DataDir, cfg.CodeLength)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	return New(cfg, store), store
}

type testFile struct {
	name    string
	content []byte
}

// multipartBody builds an upload request body with the given files and
// form fields.
func multipartBody(t *testing.T, files []testFile, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		w, err := mw.CreateFormFile("files[]", f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := w.Write(f.content); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doUpload(t *testing.T, srv *Server, files []testFile, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, files, fields)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

// groupCount returns how many group directories exist on disk.
func groupDirCount(t *testing.T, store *Store) int {
	t.Helper()
	entries, err := os.ReadDir(store.filesDir)
	if err != nil {
		t.Fatalf("read files dir: %v", err)
	}
	return len(entries)
}

func TestUploadHandler_Success(t *testing.T) {
	srv, store := newTestServer(t)

	rr := doUpload(t, srv, []testFile{
		{"a.txt", []byte("hello")},
		{"b.png", []byte("\x89PNG\r\n\x1a\nimagedata")},
	}, map[string]string{"expiry_value": "1", "expiry_unit": "days"})

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp uploadResp
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !resp.Success || resp.FileGroupID == "" || len(resp.PickupCode) != 6 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	g, ok := store.Get(resp.FileGroupID)
	if !ok {
		t.Fatal("group not registered")
	}
	if len(g.Files) != 2 || g.TotalSizeBytes != 5+17 {
		t.Errorf("group files wrong: %+v", g.Files)
	}
	if g.ExpiryAt == nil {
		t.Error("expiry not set")
	}
	if g.MaxDownloads != nil {
		t.Error("max downloads set without being requested")
	}
}

func TestUploadHandler_NoFiles(t *testing.T) {
	srv, store := newTestServer(t)

	rr := doUpload(t, srv, nil, map[string]string{"expiry_value": "1"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if got := groupDirCount(t, store); got != 0 {
		t.Errorf("residual directories after rejected batch: %d", got)
	}
}

func TestUploadHandler_DoubleExtensionRejectsWholeBatch(t *testing.T) {
	srv, store := newTestServer(t)

	// The clean file comes first and is written before the bad one is
	// seen; rejection must remove it again.
	rr := doUpload(t, srv, []testFile{
		{"clean.txt", []byte("fine")},
		{"shell.php.jpg", []byte("\xff\xd8\xff")},
	}, nil)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if store.Count() != 0 {
		t.Error("group registered despite rejection")
	}
	if got := groupDirCount(t, store); got != 0 {
		t.Errorf("residual directories after rejected batch: %d", got)
	}
}

func TestUploadHandler_GroupQuotaLeavesNoResidue(t *testing.T) {
	srv, store := newTestServer(t)

	// Three files of 900 KiB each: under the per-file limit, over the
	// 2 MiB group ceiling.
	big := bytes.Repeat([]byte("x"), 900<<10)
	rr := doUpload(t, srv, []testFile{
		{"a.txt", big},
		{"b.txt", big},
		{"c.txt", big},
	}, nil)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
	if got := groupDirCount(t, store); got != 0 {
		t.Errorf("residual bytes on disk after quota rejection: %d dirs", got)
	}
}

func TestUploadHandler_FileCountQuota(t *testing.T) {
	srv, _ := newTestServer(t)

	files := make([]testFile, 6)
	for i := range files {
		files[i] = testFile{name: string(rune('a'+i)) + ".txt", content: []byte("x")}
	}
	rr := doUpload(t, srv, files, nil)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
}

func TestUploadHandler_GlobalCeiling(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxGlobalBytes = 4
	store, err := OpenStore(cfg.DataDir, cfg.CodeLength)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	srv := New(cfg, store)

	// First batch fills the ceiling.
	rr := doUpload(t, srv, []testFile{{"a.txt", []byte("1234")}}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("first upload: status = %d", rr.Code)
	}

	rr = doUpload(t, srv, []testFile{{"b.txt", []byte("5678")}}, nil)
	if rr.Code != http.StatusInsufficientStorage {
		t.Fatalf("second upload: status = %d, want 507", rr.Code)
	}
}

func TestUploadHandler_ImageWithEmbeddedScript(t *testing.T) {
	srv, store := newTestServer(t)

	rr := doUpload(t, srv, []testFile{
		{"img.png", []byte("\x89PNG<script>alert(1)</script>")},
	}, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if got := groupDirCount(t, store); got != 0 {
		t.Errorf("residual directories: %d", got)
	}
}

func TestParseExpiry(t *testing.T) {
	cfg := testConfig(t)

	// Absent: default.
	d, err := parseExpiry(map[string]string{}, cfg)
	if err != nil || d != cfg.DefaultExpiry {
		t.Errorf("absent: d=%v err=%v", d, err)
	}
	// Explicit zero: never expires.
	d, err = parseExpiry(map[string]string{"expiry_value": "0"}, cfg)
	if err != nil || d != 0 {
		t.Errorf("zero: d=%v err=%v", d, err)
	}
	// Clamped to the maximum.
	d, err = parseExpiry(map[string]string{"expiry_value": "9999", "expiry_unit": "days"}, cfg)
	if err != nil || d != cfg.MaxExpiry {
		t.Errorf("clamp: d=%v err=%v", d, err)
	}
	// Hours unit.
	d, err = parseExpiry(map[string]string{"expiry_value": "48", "expiry_unit": "hours"}, cfg)
	if err != nil || d != 48*time.Hour {
		t.Errorf("hours: d=%v err=%v", d, err)
	}
	// Legacy field name.
	d, err = parseExpiry(map[string]string{"expiry_days": "2"}, cfg)
	if err != nil || d != 48*time.Hour {
		t.Errorf("legacy: d=%v err=%v", d, err)
	}
	// Garbage unit.
	if _, err = parseExpiry(map[string]string{"expiry_value": "1", "expiry_unit": "weeks"}, cfg); err == nil {
		t.Error("bad unit accepted")
	}
}
