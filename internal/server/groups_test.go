package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func doGet(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestGroupInfo_NeverExposesToken(t *testing.T) {
	srv, store := newTestServer(t)
	g := addGroup(t, store, nil)
	if _, err := store.IssueToken(g.ID, time.Now().UTC()); err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	rr := doGet(t, srv, "/api/file-group/"+g.ID)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	if strings.Contains(body, "download_token") || strings.Contains(body, "token") {
		t.Errorf("status body leaks token material: %s", body)
	}

	var resp groupInfoResp
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.FileGroupID != g.ID || resp.PickupCode != g.PickupCode || resp.TotalSizeBytes != 5 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestGroupInfo_ExpiredGroupIsGone(t *testing.T) {
	srv, store := newTestServer(t)
	past := time.Now().UTC().Add(-time.Minute)
	g := addGroup(t, store, func(fg *FileGroup) { fg.ExpiryAt = &past })

	rr := doGet(t, srv, "/api/file-group/"+g.ID)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestDeleteGroupHandler(t *testing.T) {
	srv, store := newTestServer(t)
	g := addGroup(t, store, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/delete/"+g.ID, nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if _, ok := store.Get(g.ID); ok {
		t.Error("group survives deletion")
	}
	if got := groupDirCount(t, store); got != 0 {
		t.Errorf("storage directory survives deletion: %d", got)
	}

	// Deleting again reports not found.
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/delete/"+g.ID, nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d, want 404", rr.Code)
	}
}

func TestSystemInfoHandler(t *testing.T) {
	srv, store := newTestServer(t)
	addGroup(t, store, nil)
	addGroup(t, store, nil)

	rr := doGet(t, srv, "/api/system-info")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp["storage_used_bytes"].(float64) != 10 {
		t.Errorf("storage_used_bytes = %v", resp["storage_used_bytes"])
	}
	if resp["file_groups"].(float64) != 2 {
		t.Errorf("file_groups = %v", resp["file_groups"])
	}
}

func TestHealthHandler(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doGet(t, srv, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	rr := doGet(t, srv, "/health")
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	srv, store := newTestServer(t)
	addGroup(t, store, nil)

	rr := doGet(t, srv, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{"fp_uploads_total", "fp_storage_bytes", "fp_file_groups"} {
		if !strings.Contains(body, metric) {
			t.Errorf("exposition missing %s", metric)
		}
	}
}
