package server

import "testing"

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in         string
		wantHost   string
		wantSecure bool
		wantErr    bool
	}{
		{"minio:9000", "minio:9000", false, false},
		{"http://minio:9000", "minio:9000", false, false},
		{"https://s3.example.com", "s3.example.com", true, false},
		{"  https://s3.example.com  ", "s3.example.com", true, false},
		{"https://s3.example.com/path", "", false, true},
		{"", "", false, true},
	}
	for _, tc := range cases {
		host, secure, err := normaliseEndpoint(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %q", tc.in, host)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if host != tc.wantHost || secure != tc.wantSecure {
			t.Errorf("%q: got (%q, %v), want (%q, %v)", tc.in, host, secure, tc.wantHost, tc.wantSecure)
		}
	}
}

func TestNewMinioUploader_IncompleteConfig(t *testing.T) {
	for _, key := range []string{"FP_S3_ENDPOINT", "FP_S3_ACCESS_KEY", "FP_S3_SECRET_KEY", "FP_S3_BUCKET"} {
		t.Setenv(key, "")
	}
	if _, err := NewMinioUploader(); err == nil {
		t.Fatal("incomplete configuration accepted")
	}
}
