package validate_test

import (
	"strings"
	"testing"

	"github.com/savesync-app/backend/internal/validate"
)

func TestEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"a@b.com", "a@b.com", true},
		{"  A@B.COM ", "a@b.com", true},
		{"user.name+tag@sub.example.org", "user.name+tag@sub.example.org", true},
		{"", "", false},
		{"no-at-sign", "no-at-sign", false},
		{"a@b", "a@b", false},
		{"two@@b.com", "two@@b.com", false},
		{"spa ce@b.com", "spa ce@b.com", false},
		{strings.Repeat("a", 250) + "@b.com", "", false},
	}
	for _, c := range cases {
		got, ok := validate.Email(c.in)
		if ok != c.ok {
			t.Errorf("Email(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
		if ok && got != c.want {
			t.Errorf("Email(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestPassword(t *testing.T) {
	if validate.Password("short7!") {
		t.Error("7-char password should be rejected")
	}
	if !validate.Password("Str0ngPass1") {
		t.Error("valid password rejected")
	}
}

func TestID(t *testing.T) {
	good := []string{"dev-01", "SNES.pocket_2", "a", strings.Repeat("x", 64)}
	for _, s := range good {
		if !validate.ID(s) {
			t.Errorf("ID(%q) = false, want true", s)
		}
	}
	bad := []string{"", "has space", "slash/id", "../up", strings.Repeat("x", 65), "semi;colon"}
	for _, s := range bad {
		if validate.ID(s) {
			t.Errorf("ID(%q) = true, want false", s)
		}
	}
}

func TestSHA256Hex(t *testing.T) {
	h := strings.Repeat("ab", 32)
	if got, ok := validate.SHA256Hex(strings.ToUpper(h)); !ok || got != h {
		t.Errorf("uppercase digest not normalized: got %q ok=%v", got, ok)
	}
	for _, s := range []string{"", strings.Repeat("a", 63), strings.Repeat("a", 65), strings.Repeat("g", 64)} {
		if _, ok := validate.SHA256Hex(s); ok {
			t.Errorf("SHA256Hex(%q) accepted", s)
		}
	}
}

func TestSizeBytes(t *testing.T) {
	if validate.SizeBytes(0) || validate.SizeBytes(-1) {
		t.Error("non-positive sizes accepted")
	}
	if !validate.SizeBytes(validate.MaxArchiveSize) {
		t.Error("exact 2GiB rejected")
	}
	if validate.SizeBytes(validate.MaxArchiveSize + 1) {
		t.Error("2GiB+1 accepted")
	}
}

func TestFileList(t *testing.T) {
	got, ok := validate.FileList([]string{"b.srm", "a/c.rtc", "a/b.sav"})
	if !ok {
		t.Fatal("valid list rejected")
	}
	want := []string{"a/b.sav", "a/c.rtc", "b.srm"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("list not sorted: got %v", got)
		}
	}

	big := make([]string, validate.MaxFileListEntries+1)
	for i := range big {
		big[i] = "f"
	}
	if _, ok := validate.FileList(big); ok {
		t.Error("201-entry list accepted")
	}
	for _, bad := range [][]string{
		nil,
		{""},
		{"/abs/path"},
		{"up/../escape"},
		{"win\\path"},
		{"trail//slash"},
		{strings.Repeat("p", validate.MaxFilePathLen+1)},
	} {
		if _, ok := validate.FileList(bad); ok {
			t.Errorf("FileList(%v) accepted", bad)
		}
	}
}

func TestPlatform(t *testing.T) {
	if got := validate.Platform("  Windows "); got != "windows" {
		t.Errorf("Platform = %q", got)
	}
	if got := validate.Platform(""); got != "unknown" {
		t.Errorf("Platform default = %q", got)
	}
}

func TestDeviceName(t *testing.T) {
	cases := map[string]string{
		"My   Gaming-PC":        "my gaming-pc",
		"<script>alert(1)</script>": "scriptalert1script",
		"":                      "Unknown Device",
		"!!!":                   "Unknown Device",
		strings.Repeat("n", 80): strings.Repeat("n", validate.MaxDeviceNameLen),
	}
	for in, want := range cases {
		if got := validate.DeviceName(in); got != want {
			t.Errorf("DeviceName(%q) = %q, want %q", in, got, want)
		}
	}
}
