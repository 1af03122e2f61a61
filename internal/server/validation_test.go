package server

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckFilename_Policy(t *testing.T) {
	policy := NewExtensionPolicy(nil, nil)

	cases := []struct {
		name   string
		wantOK bool
	}{
		{"notes.txt", true},
		{"photo.JPG", true},
		{"archive.zip", true},
		{"shell.php", false},
		{"run.exe", false},
		{"noextension", false},
		{"weird.xyz", false},
		// Double-extension smuggling: final extension is allowed but an
		// interior segment is forbidden.
		{"shell.php.jpg", false},
		{"backup.tar.exe.zip", false},
		{"report.final.pdf", true},
	}

	for _, tc := range cases {
		err := policy.CheckFilename(tc.name)
		if tc.wantOK && err != nil {
			t.Errorf("CheckFilename(%q) = %v, want ok", tc.name, err)
		}
		if !tc.wantOK && err == nil {
			t.Errorf("CheckFilename(%q) accepted, want rejection", tc.name)
		}
	}
}

func TestCheckFilename_Wildcard(t *testing.T) {
	policy := NewExtensionPolicy([]string{"*"}, nil)

	if err := policy.CheckFilename("anything.xyz"); err != nil {
		t.Errorf("wildcard rejected anything.xyz: %v", err)
	}
	// Forbidden still wins over the wildcard.
	if err := policy.CheckFilename("shell.php"); err == nil {
		t.Error("wildcard accepted a forbidden extension")
	}
}

func TestStorageName_Sanitizes(t *testing.T) {
	if got := storageName("my report.pdf"); got != "myreport.pdf" {
		t.Errorf("storageName = %q", got)
	}
	if got := storageName("../../etc/passwd.txt"); got != "etcpasswd.txt" {
		t.Errorf("storageName = %q", got)
	}
}

func TestStorageName_HashFallbackIsDeterministic(t *testing.T) {
	// A name with no usable characters falls back to a hash-derived name.
	a := storageName("файл.txt")
	b := storageName("файл.txt")
	if a != b {
		t.Fatalf("fallback not deterministic: %q != %q", a, b)
	}
	if fileExt(a) != "txt" {
		t.Errorf("fallback lost the extension: %q", a)
	}
	if a == storageName("другой.txt") {
		t.Error("different originals produced the same fallback name")
	}
}

func TestUniqueStorageName(t *testing.T) {
	used := map[string]bool{"a.txt": true, "a_1.txt": true}
	if got := uniqueStorageName("a.txt", used); got != "a_2.txt" {
		t.Errorf("uniqueStorageName = %q, want a_2.txt", got)
	}
	if got := uniqueStorageName("b.txt", used); got != "b.txt" {
		t.Errorf("uniqueStorageName = %q, want b.txt", got)
	}
}

func TestSniffImageHead(t *testing.T) {
	if !sniffImageHead([]byte("GIF89a<SCRIPT>alert(1)</SCRIPT>")) {
		t.Error("script marker not detected")
	}
	if !sniffImageHead([]byte("\x89PNG<?php echo 1; ?>")) {
		t.Error("php marker not detected")
	}
	if sniffImageHead([]byte("\x89PNG\r\n\x1a\nplain image bytes")) {
		t.Error("clean image head flagged")
	}
}

func TestInspectZipMembers(t *testing.T) {
	policy := NewExtensionPolicy(nil, nil)
	dir := t.TempDir()

	writeZip := func(name string, members ...string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("create zip: %v", err)
		}
		zw := zip.NewWriter(f)
		for _, m := range members {
			w, err := zw.Create(m)
			if err != nil {
				t.Fatalf("add member: %v", err)
			}
			if _, err := w.Write([]byte("x")); err != nil {
				t.Fatalf("write member: %v", err)
			}
		}
		if err := zw.Close(); err != nil {
			t.Fatalf("close zip: %v", err)
		}
		_ = f.Close()
		return path
	}

	clean := writeZip("clean.zip", "doc.txt", "img/photo.png")
	if err := policy.inspectZipMembers(clean); err != nil {
		t.Errorf("clean archive rejected: %v", err)
	}

	dirty := writeZip("dirty.zip", "doc.txt", "payload/run.exe")
	if err := policy.inspectZipMembers(dirty); err == nil {
		t.Error("archive with forbidden member accepted")
	}

	if err := policy.inspectZipMembers(filepath.Join(dir, "missing.zip")); err == nil {
		t.Error("unreadable archive accepted")
	}
}
