package trash

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/spf13/afero"

	"github.com/hope140/strmsync/pkg/hints"
)

func TestArchiveAndCloseTarGz(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()

	src := filepath.Join(dir, "victim.txt")
	if err := os.WriteFile(src, []byte("save me"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	stamp := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	bin, err := Open(fs, filepath.Join(dir, "trash"), FormatTarGz, stamp)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}

	if err := bin.Archive(src, "movies/victim.txt"); err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	bundle := filepath.Join(dir, "trash", "strmsync-trash-2025-06-01_12-00-00.tar.gz")
	f, err := os.Open(bundle)
	if err != nil {
		t.Fatalf("bundle not found: %v", err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		t.Fatalf("bundle is not valid gzip: %v", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("bundle has no entries: %v", err)
	}
	if hdr.Name != "movies/victim.txt" {
		t.Errorf("expected entry name movies/victim.txt, got %q", hdr.Name)
	}
	content, err := io.ReadAll(tr)
	if err != nil {
		t.Fatalf("failed to read entry: %v", err)
	}
	if string(content) != "save me" {
		t.Errorf("expected entry content %q, got %q", "save me", string(content))
	}
}

func TestArchiveAndCloseTarZst(t *testing.T) {
	dir := t.TempDir()

	src := filepath.Join(dir, "victim.bin")
	if err := os.WriteFile(src, []byte("zstd payload"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}

	bin, err := Open(nil, filepath.Join(dir, "trash"), FormatTarZst, time.Now())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := bin.Archive(src, "victim.bin"); err != nil {
		t.Fatalf("Archive() failed: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "trash"))
	if err != nil {
		t.Fatalf("failed to read trash dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".tar.zst") {
		t.Fatalf("expected exactly one .tar.zst bundle, got %v", entries)
	}

	f, err := os.Open(filepath.Join(dir, "trash", entries[0].Name()))
	if err != nil {
		t.Fatalf("failed to open bundle: %v", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("bundle is not valid zstd: %v", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("bundle has no entries: %v", err)
	}
	if hdr.Name != "victim.bin" {
		t.Errorf("expected entry name victim.bin, got %q", hdr.Name)
	}
}

func TestEmptyBundleIsDiscarded(t *testing.T) {
	dir := t.TempDir()

	bin, err := Open(nil, dir, FormatTarGz, time.Now())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("failed to read trash dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected an empty bundle to be discarded, found %v", entries)
	}
}

func TestArchiveVanishedFileIsHint(t *testing.T) {
	dir := t.TempDir()

	bin, err := Open(nil, dir, FormatTarGz, time.Now())
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer bin.Close()

	err = bin.Archive(filepath.Join(dir, "gone.txt"), "gone.txt")
	if err == nil {
		t.Fatal("expected an error for a vanished file")
	}
	if !hints.IsHint(err) {
		t.Errorf("expected a hint for a vanished file, got: %v", err)
	}
	if bin.Count() != 0 {
		t.Errorf("vanished file must not be counted, got %d", bin.Count())
	}
}

func TestOpenRejectsUnknownFormat(t *testing.T) {
	if _, err := Open(nil, t.TempDir(), Format("rar"), time.Now()); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}
