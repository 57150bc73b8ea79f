// Package validate holds the pure input validators applied to untrusted
// request fields before any store or broker is touched.
package validate

import (
	"regexp"
	"sort"
	"strings"
)

const (
	// MaxArchiveSize caps a single save archive at 2 GiB.
	MaxArchiveSize = int64(2) * 1024 * 1024 * 1024
	// MaxFileListEntries caps the per-version file list.
	MaxFileListEntries = 200
	// MaxFilePathLen caps each file-list path in bytes.
	MaxFilePathLen = 512
	// MaxDeviceNameLen caps the sanitized device display name.
	MaxDeviceNameLen = 64
)

var (
	emailRe  = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	idRe     = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
	sha256Re = regexp.MustCompile(`^[0-9a-f]{64}$`)
	nameRe   = regexp.MustCompile(`[^a-z0-9 _-]+`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// Email normalizes an address (trim, lowercase) and reports whether it has
// a plausible local@domain.tld shape. Returns the normalized form.
func Email(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || len(s) > 254 {
		return "", false
	}
	return s, emailRe.MatchString(s)
}

// Password enforces the minimum credential length.
func Password(s string) bool {
	return len(s) >= 8
}

// ID reports whether s matches the shared id grammar used for device, game
// and version ids. Ids feed object keys, so no path separators are allowed.
func ID(s string) bool {
	return idRe.MatchString(s)
}

// SHA256Hex normalizes a hex digest to lowercase and reports whether it is
// exactly 64 hex characters.
func SHA256Hex(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, sha256Re.MatchString(s)
}

// SizeBytes reports whether n is a valid archive size.
func SizeBytes(n int64) bool {
	return n > 0 && n <= MaxArchiveSize
}

// FileList validates and canonicalizes a version's file list: bounded count,
// bounded relative paths, no traversal. The returned list is sorted so the
// same set of files always produces the same ordering.
func FileList(list []string) ([]string, bool) {
	if len(list) == 0 || len(list) > MaxFileListEntries {
		return nil, false
	}
	out := make([]string, len(list))
	for i, p := range list {
		if p == "" || len(p) > MaxFilePathLen {
			return nil, false
		}
		if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
			return nil, false
		}
		for _, seg := range strings.Split(p, "/") {
			if seg == "" || seg == ".." {
				return nil, false
			}
		}
		out[i] = p
	}
	sort.Strings(out)
	return out, true
}

// Platform normalizes a client-supplied platform tag.
func Platform(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "unknown"
	}
	return s
}

// DeviceName sanitizes a client-supplied display name so it is safe to store
// and render: lowercase, collapsed whitespace, restricted charset.
func DeviceName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = spaceRe.ReplaceAllString(s, " ")
	s = nameRe.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if s == "" {
		return "Unknown Device"
	}
	if len(s) > MaxDeviceNameLen {
		s = s[:MaxDeviceNameLen]
	}
	return s
}
