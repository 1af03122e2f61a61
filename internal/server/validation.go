// validation.go - Upload batch validation: extension policy, double
// extension smuggling, embedded script sniffing and archive inspection.
package server

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// defaultAllowedExtensions lists file types permitted for upload.
// "*" acts as a wildcard that admits any extension not forbidden.
var defaultAllowedExtensions = []string{
	"txt", "pdf", "png", "jpg", "jpeg", "gif",
	"doc", "docx", "xls", "xlsx", "ppt", "pptx",
	"zip", "rar", "7z",
	"mp3", "mp4", "avi", "mov",
}

// defaultForbiddenExtensions lists extensions that are rejected even when
// they appear as an interior segment of a multi-dot filename.
var defaultForbiddenExtensions = []string{
	"php", "exe", "bat", "cmd", "sh", "js", "vbs", "py",
}

// imageExtensions are sniffed for embedded script-opening markers.
var imageExtensions = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true,
}

// scriptMarkers are byte sequences that have no business in the head of
// an image file.
var scriptMarkers = [][]byte{
	[]byte("<script"),
	[]byte("<?php"),
	[]byte("<%"),
}

// sniffLen is how many leading bytes of an image are inspected.
const sniffLen = 512

// ValidationError marks a rejected upload input; handlers map it to 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ExtensionPolicy decides which filenames are admissible.
type ExtensionPolicy struct {
	allowed   map[string]bool
	forbidden map[string]bool
	wildcard  bool
}

// NewExtensionPolicy builds a policy from extension lists. Entries are
// lowercased and leading dots stripped; empty lists fall back to the
// defaults.
func NewExtensionPolicy(allowed, forbidden []string) ExtensionPolicy {
	if len(allowed) == 0 {
		allowed = defaultAllowedExtensions
	}
	if len(forbidden) == 0 {
		forbidden = defaultForbiddenExtensions
	}

	p := ExtensionPolicy{
		allowed:   make(map[string]bool, len(allowed)),
		forbidden: make(map[string]bool, len(forbidden)),
	}
	for _, e := range allowed {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e == "*" {
			p.wildcard = true
			continue
		}
		if e != "" {
			p.allowed[e] = true
		}
	}
	for _, e := range forbidden {
		e = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))
		if e != "" {
			p.forbidden[e] = true
		}
	}
	return p
}

// fileExt returns the lowercased extension after the last dot, or "" when
// the name has none.
func fileExt(name string) string {
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[dot+1:])
}

// CheckFilename applies the extension policy to a declared filename,
// including the interior segments of multi-dot names so that a.php.jpg is
// rejected even though jpg is allowed.
func (p ExtensionPolicy) CheckFilename(name string) error {
	ext := fileExt(name)
	if p.forbidden[ext] {
		return validationErrorf("file type not allowed: %q", name)
	}
	if !p.wildcard && !p.allowed[ext] {
		return validationErrorf("unsupported file type: %q", name)
	}

	segments := strings.Split(strings.ToLower(name), ".")
	for _, seg := range segments[:len(segments)-1] {
		if p.forbidden[seg] {
			return validationErrorf("suspicious double extension: %q", name)
		}
	}
	return nil
}

// sniffImageHead reports whether the leading bytes of an image contain a
// script-opening marker.
func sniffImageHead(head []byte) bool {
	lower := bytes.ToLower(head)
	for _, marker := range scriptMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// inspectZipMembers enumerates archive entries without extracting them and
// rejects the archive when any member carries a forbidden extension. Only
// zip archives are readable here; rar and 7z pass through undisturbed.
func (p ExtensionPolicy) inspectZipMembers(path string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return validationErrorf("unreadable archive: %v", err)
	}
	defer func() { _ = zr.Close() }()

	for _, member := range zr.File {
		if p.forbidden[fileExt(member.Name)] {
			return validationErrorf("archive member not allowed: %q", member.Name)
		}
	}
	return nil
}

// storageName derives the collision-safe on-disk name for a display name.
// Sanitization keeps a conservative character set; when nothing usable
// survives, the name falls back to a deterministic hash of the original
// name plus its extension.
func storageName(displayName string) string {
	var b strings.Builder
	for _, r := range displayName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}

	sanitized := b.String()
	stem, suffix := sanitized, ""
	if dot := strings.LastIndexByte(sanitized, '.'); dot >= 0 {
		stem, suffix = sanitized[:dot], sanitized[dot:]
	}
	if suffix == "." {
		suffix = ""
	}
	stem = strings.Trim(stem, "._-")
	if stem != "" {
		return stem + suffix
	}

	// Nothing usable survived sanitization; fall back to a deterministic
	// hash of the original name.
	sum := sha256.Sum256([]byte(displayName))
	name := hex.EncodeToString(sum[:])[:12]
	if ext := fileExt(displayName); ext != "" {
		name += "." + ext
	}
	return name
}

// uniqueStorageName suffixes the base name until it does not collide with
// names already used inside the group's directory.
func uniqueStorageName(base string, used map[string]bool) string {
	if !used[base] {
		return base
	}
	stem, ext := base, ""
	if dot := strings.LastIndexByte(base, '.'); dot > 0 {
		stem, ext = base[:dot], base[dot:]
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if !used[candidate] {
			return candidate
		}
	}
}
