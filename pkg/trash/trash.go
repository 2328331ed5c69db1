// Package trash bundles files removed by the deletion sweeps into a
// compressed tar archive before they are unlinked, providing a per-run
// safety net against a bad sweep.
//
// One bundle is written per run, named strmsync-trash-<timestamp>.tar.zst
// (or .tar.gz). The bundle is written to a temporary file and renamed into
// place on Close; a bundle that archived nothing is discarded.
package trash

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/spf13/afero"

	"github.com/hope140/strmsync/pkg/hints"
	"github.com/hope140/strmsync/pkg/plog"
	"github.com/hope140/strmsync/pkg/util"
)

// Format selects the bundle compression.
type Format string

const (
	FormatTarGz  Format = "tar.gz"
	FormatTarZst Format = "tar.zst"
)

// timestampLayout keeps bundle names sortable on disk.
const timestampLayout = "2006-01-02_15-04-05"

// Bin is an open trash bundle. It is used by the single run goroutine only.
type Bin struct {
	fs        afero.Fs
	tempPath  string
	finalPath string
	file      afero.File
	compactor io.WriteCloser
	tw        *tar.Writer
	count     int64
}

// Open creates a new bundle in dir for a run starting at stamp. A nil fs
// defaults to the OS filesystem.
func Open(fs afero.Fs, dir string, format Format, stamp time.Time) (*Bin, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	switch format {
	case FormatTarGz, FormatTarZst:
	default:
		return nil, fmt.Errorf("unsupported trash format %q", format)
	}

	if err := fs.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create trash directory %s: %w", dir, err)
	}

	finalName := fmt.Sprintf("strmsync-trash-%s.%s", stamp.Format(timestampLayout), format)
	file, err := afero.TempFile(fs, dir, "strmsync-trash-*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp trash bundle in %s: %w", dir, err)
	}

	var compactor io.WriteCloser
	switch format {
	case FormatTarZst:
		if compactor, err = zstd.NewWriter(file); err != nil {
			file.Close()
			_ = fs.Remove(file.Name())
			return nil, fmt.Errorf("failed to initialize zstd writer: %w", err)
		}
	case FormatTarGz:
		compactor = pgzip.NewWriter(file)
	}

	return &Bin{
		fs:        fs,
		tempPath:  file.Name(),
		finalPath: filepath.Join(dir, finalName),
		file:      file,
		compactor: compactor,
		tw:        tar.NewWriter(compactor),
	}, nil
}

// Archive appends the file at absPath to the bundle under relPathKey.
// A file that vanished since it was walked is reported as a hint, not a
// failure.
func (b *Bin) Archive(absPath, relPathKey string) error {
	info, err := b.fs.Stat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return hints.FileVanished(absPath, err)
		}
		return fmt.Errorf("failed to stat %s for archiving: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return hints.New(fmt.Sprintf("not a regular file: %s", absPath))
	}

	in, err := b.fs.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return hints.FileVanished(absPath, err)
		}
		return fmt.Errorf("failed to open %s for archiving: %w", absPath, err)
	}
	defer in.Close()

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to build tar header for %s: %w", absPath, err)
	}
	hdr.Name = relPathKey

	if err := b.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", relPathKey, err)
	}
	if _, err := io.Copy(b.tw, in); err != nil {
		return fmt.Errorf("failed to archive %s: %w", relPathKey, err)
	}

	b.count++
	plog.Notice("TRASH", "path", relPathKey)
	return nil
}

// Count returns the number of files archived so far.
func (b *Bin) Count() int64 {
	return b.count
}

// Close finalizes the bundle. An empty bundle is discarded; a non-empty one
// is renamed into its final name atomically.
func (b *Bin) Close() error {
	if err := b.tw.Close(); err != nil {
		b.compactor.Close()
		b.file.Close()
		_ = b.fs.Remove(b.tempPath)
		return fmt.Errorf("failed to finalize trash tar stream: %w", err)
	}
	if err := b.compactor.Close(); err != nil {
		b.file.Close()
		_ = b.fs.Remove(b.tempPath)
		return fmt.Errorf("failed to finalize trash compression: %w", err)
	}
	if err := b.file.Close(); err != nil {
		_ = b.fs.Remove(b.tempPath)
		return fmt.Errorf("failed to close trash bundle: %w", err)
	}

	if b.count == 0 {
		return b.fs.Remove(b.tempPath)
	}

	if err := b.fs.Rename(b.tempPath, b.finalPath); err != nil {
		return fmt.Errorf("failed to move trash bundle to %s: %w", b.finalPath, err)
	}
	plog.Info("Wrote trash bundle", "path", b.finalPath, "files", b.count)
	return nil
}
