package util

import (
	"path/filepath"
	"testing"
)

func TestNormalizedRelPath(t *testing.T) {
	root := filepath.Join("data", "library")

	cases := []struct {
		abs  string
		want string
	}{
		{filepath.Join(root, "movies", "a.mkv"), "movies/a.mkv"},
		{filepath.Join(root, "a.txt"), "a.txt"},
		{root, "."},
	}

	for _, tc := range cases {
		got, err := NormalizedRelPath(root, tc.abs)
		if err != nil {
			t.Fatalf("NormalizedRelPath(%q, %q) failed: %v", root, tc.abs, err)
		}
		if got != tc.want {
			t.Errorf("NormalizedRelPath(%q, %q) = %q, want %q", root, tc.abs, got, tc.want)
		}
	}
}

func TestDenormalizedAbsPathRoundTrip(t *testing.T) {
	root := filepath.Join("data", "library")
	key := "movies/sub folder/a.mkv"

	abs := DenormalizedAbsPath(root, key)
	got, err := NormalizedRelPath(root, abs)
	if err != nil {
		t.Fatalf("round trip failed: %v", err)
	}
	if got != key {
		t.Errorf("round trip = %q, want %q", got, key)
	}

	if got := DenormalizedAbsPath(root, "."); got != root {
		t.Errorf("DenormalizedAbsPath(root, \".\") = %q, want %q", got, root)
	}
}

func TestHasPathPrefix(t *testing.T) {
	cases := []struct {
		key    string
		prefix string
		want   bool
	}{
		{"movies/a", "movies", true},
		{"movies", "movies", true},
		{"movies-hd/a", "movies", false},
		{"movies/sub/deep", "movies/sub", true},
		{"anything", ".", true},
		{"movies", "movies/sub", false},
	}

	for _, tc := range cases {
		if got := HasPathPrefix(tc.key, tc.prefix); got != tc.want {
			t.Errorf("HasPathPrefix(%q, %q) = %v, want %v", tc.key, tc.prefix, got, tc.want)
		}
	}
}

func TestNormalizeExt(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"mkv", ".mkv"},
		{".MP4", ".mp4"},
		{" .ts ", ".ts"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := NormalizeExt(tc.in); got != tc.want {
			t.Errorf("NormalizeExt(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestWithUserWritePermission(t *testing.T) {
	if got := WithUserWritePermission(0444); got != 0644 {
		t.Errorf("WithUserWritePermission(0444) = %o, want 0644", got)
	}
	if got := WithUserWritePermission(0755); got != 0755 {
		t.Errorf("WithUserWritePermission(0755) = %o, want 0755", got)
	}
}
