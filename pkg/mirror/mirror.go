// Package mirror implements the copy half of reconciliation: it walks a
// source tree, applies exclusion and size filters, copies or overwrites
// files into the destination tree according to the duplicate policy, and
// then sweeps the destination for entries no longer present in the source.
//
// The walk records every observed source file into the pair's source file
// set before any filtering. That set is the sole authority for the deletion
// sweep, so a file that is filtered, skipped or even fails to copy is still
// protected from deletion.
package mirror

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"github.com/hope140/strmsync/pkg/config"
	"github.com/hope140/strmsync/pkg/hashgate"
	"github.com/hope140/strmsync/pkg/hints"
	"github.com/hope140/strmsync/pkg/metrics"
	"github.com/hope140/strmsync/pkg/plog"
	"github.com/hope140/strmsync/pkg/trash"
	"github.com/hope140/strmsync/pkg/util"
)

// DefaultPointerSuffix is the extension of pointer files, which the deletion
// sweep must never touch (they are reconciled by the driver's own sweep).
const DefaultPointerSuffix = ".strm"

// ioBufferSize is the copy granularity.
const ioBufferSize = 256 * 1024

// ioBufferPool recycles copy buffers across files.
var ioBufferPool = sync.Pool{
	New: func() any {
		buffer := make([]byte, ioBufferSize)
		return &buffer
	},
}

// Options configures one pair's mirror pass.
type Options struct {
	ExcludeExts     []string
	ExcludePatterns []string
	MaxSizeMB       int64
	OnDuplicate     config.DuplicatePolicy
	Timeout         time.Duration

	// Processed holds source-relative subfolder keys already reconciled by a
	// prior run; their files are not re-scanned unless covered by a force
	// prefix. Subdirectories are still descended.
	Processed     map[string]struct{}
	ForcePrefixes []string

	PointerSuffix string
	DryRun        bool
}

// Syncer mirrors one source tree into one destination tree.
type Syncer struct {
	fs      afero.Fs
	src     string
	dst     string
	opts    Options
	gate    *hashgate.Gate
	metrics metrics.Metrics
	bin     *trash.Bin // nil disables archiving of swept files

	sourceFiles map[string]struct{}
	createdDirs map[string]struct{}
	dirSFGroup  singleflight.Group
}

// New returns a Syncer for one folder pair. A nil fs defaults to the OS
// filesystem; a nil metrics sink defaults to no-op.
func New(fs afero.Fs, src, dst string, gate *hashgate.Gate, m metrics.Metrics, bin *trash.Bin, opts Options) *Syncer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	if opts.PointerSuffix == "" {
		opts.PointerSuffix = DefaultPointerSuffix
	}
	return &Syncer{
		fs:          fs,
		src:         src,
		dst:         dst,
		opts:        opts,
		gate:        gate,
		metrics:     m,
		bin:         bin,
		sourceFiles: make(map[string]struct{}),
		createdDirs: make(map[string]struct{}),
	}
}

// Sync runs the copy phase and then the deletion sweep. It returns the
// pair's source file set for the driver's cross-check pass. The sweep runs
// strictly after the copy phase, so it only ever consults the fully built
// set.
func (s *Syncer) Sync(ctx context.Context) (map[string]struct{}, error) {
	plog.Notice("SYNC", "from", s.src, "to", s.dst)

	if !s.opts.DryRun {
		if err := s.fs.MkdirAll(s.dst, util.UserWritableDirPerms); err != nil {
			return nil, fmt.Errorf("failed to create destination root %s: %w", s.dst, err)
		}
	}

	if err := s.walkSource(ctx); err != nil {
		return s.sourceFiles, err
	}

	if err := ctx.Err(); err != nil {
		return s.sourceFiles, err
	}

	if err := s.sweep(ctx); err != nil {
		return s.sourceFiles, err
	}
	return s.sourceFiles, nil
}

// walkSource is the copy phase. Per-file problems are logged and recorded,
// never fatal; only an unreadable source root or a canceled context aborts
// the pair.
func (s *Syncer) walkSource(ctx context.Context) error {
	return afero.Walk(s.fs, s.src, func(absSrcPath string, info os.FileInfo, err error) error {
		relPathKey, normErr := util.NormalizedRelPath(s.src, absSrcPath)
		if normErr != nil {
			return fmt.Errorf("could not get relative path for %s: %w", absSrcPath, normErr)
		}

		if err != nil {
			// An unreadable source root invalidates the whole pair: an empty
			// source set would make the sweep delete the entire destination.
			if relPathKey == "." {
				return fmt.Errorf("source root is unreadable: %w", err)
			}
			// Record the path so the sweep never deletes its destination
			// counterpart, then keep walking. A failed lstat arrives with a
			// nil info, so the path is recorded unconditionally; a spurious
			// directory key in the set is harmless to the sweep.
			s.sourceFiles[relPathKey] = struct{}{}
			plog.Warn("SKIP", "reason", "error accessing path", "path", absSrcPath, "error", err)
			s.metrics.RecordFailedPath(absSrcPath)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() {
			plog.Notice("SKIP", "type", info.Mode().String(), "path", relPathKey)
			return nil
		}

		s.metrics.AddFilesSeen(1)

		// Every observed file enters the set, before any filtering. The
		// sweep's deletion-correctness depends on this ordering.
		s.sourceFiles[relPathKey] = struct{}{}

		if s.skipEligible(path.Dir(relPathKey)) {
			plog.Debug("Subfolder already processed", "path", relPathKey)
			return nil
		}

		if s.isExcluded(relPathKey, info.Name()) {
			plog.Notice("EXCL", "path", relPathKey)
			s.metrics.AddFilesSkipped(1)
			return nil
		}

		if s.opts.MaxSizeMB > 0 && info.Size() > s.opts.MaxSizeMB*1024*1024 {
			plog.Notice("SKIP", "reason", "exceeds size limit", "path", relPathKey, "sizeBytes", info.Size())
			s.metrics.AddFilesSkipped(1)
			return nil
		}

		if err := s.syncFile(relPathKey, absSrcPath, info); err != nil {
			if hints.IsHint(err) {
				plog.Debug("File left as-is", "path", relPathKey, "reason", err)
				return nil
			}
			plog.Warn("Sync failed for path; it will be preserved in the destination to prevent deletion",
				"path", relPathKey, "error", err)
			s.metrics.RecordFailedPath(absSrcPath)
		}
		return nil
	})
}

// skipEligible reports whether a subfolder was fully reconciled by a prior
// run and is not overridden by a force-reprocess prefix.
func (s *Syncer) skipEligible(dirKey string) bool {
	if _, ok := s.opts.Processed[dirKey]; !ok {
		return false
	}
	return !util.AnyPathPrefix(dirKey, s.opts.ForcePrefixes)
}

// isExcluded applies the extension and glob filters.
func (s *Syncer) isExcluded(relPathKey, basename string) bool {
	lowerName := strings.ToLower(basename)
	for _, ext := range s.opts.ExcludeExts {
		if ext != "" && strings.HasSuffix(lowerName, ext) {
			return true
		}
	}
	for _, pattern := range s.opts.ExcludePatterns {
		if ok, err := doublestar.Match(pattern, relPathKey); err == nil && ok {
			return true
		}
		// Patterns without a separator also match the bare filename, so
		// "*.nfo" excludes at any depth.
		if !strings.Contains(pattern, "/") {
			if ok, err := doublestar.Match(pattern, basename); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// syncFile decides skip/overwrite/copy for one file and performs it.
func (s *Syncer) syncFile(relPathKey, absSrcPath string, info os.FileInfo) error {
	absDstPath := util.DenormalizedAbsPath(s.dst, relPathKey)

	if err := s.ensureDestDir(path.Dir(relPathKey)); err != nil {
		return fmt.Errorf("failed to ensure destination directory for %s: %w", relPathKey, err)
	}

	overwrite := false
	dstInfo, err := s.fs.Stat(absDstPath)
	if err == nil {
		if dstInfo.IsDir() {
			plog.Warn("Destination is a directory, removing before copy", "path", relPathKey)
			if !s.opts.DryRun {
				if err := s.fs.RemoveAll(absDstPath); err != nil {
					return fmt.Errorf("failed to remove directory at destination %s: %w", absDstPath, err)
				}
			}
			overwrite = true
		} else {
			switch s.opts.OnDuplicate {
			case config.DuplicateSkip:
				srcSum, srcOK := s.gate.Hash(absSrcPath)
				if !srcOK {
					return fmt.Errorf("source hash did not complete within %s", s.gate.Timeout())
				}
				dstSum, dstOK := s.gate.Hash(absDstPath)
				if !dstOK {
					return fmt.Errorf("destination hash did not complete within %s", s.gate.Timeout())
				}
				if srcSum == dstSum {
					plog.Notice("SKIP", "reason", "contents identical", "path", relPathKey)
					s.metrics.AddFilesSkipped(1)
					return nil
				}
				overwrite = true
			case config.DuplicateOverwrite:
				if !s.opts.DryRun {
					if err := s.fs.Remove(absDstPath); err != nil {
						return fmt.Errorf("failed to remove existing destination file %s: %w", absDstPath, err)
					}
				}
				overwrite = true
			}
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat destination %s: %w", absDstPath, err)
	}

	if s.opts.DryRun {
		plog.Notice("[DRY RUN] COPY", "path", relPathKey)
		if overwrite {
			s.metrics.AddFilesOverwritten(1)
		}
		s.metrics.AddFilesCopied(1)
		return nil
	}

	start := time.Now()
	if err := s.copyFile(absSrcPath, absDstPath, info); err != nil {
		return fmt.Errorf("failed to copy file to %s: %w", absDstPath, err)
	}

	// Post-hoc guard against abnormally slow storage: a copy that overran
	// the configured bound is treated as failed even though it completed,
	// and its output is removed so no half-trusted file lingers.
	if elapsed := time.Since(start); elapsed > s.opts.Timeout {
		_ = s.fs.Remove(absDstPath)
		return fmt.Errorf("copy of %s exceeded %s (took %s), destination removed", relPathKey, s.opts.Timeout, elapsed.Round(time.Millisecond))
	}

	if overwrite {
		plog.Notice("OVERWRITE", "path", relPathKey)
		s.metrics.AddFilesOverwritten(1)
	} else {
		plog.Notice("COPY", "path", relPathKey)
	}
	s.metrics.AddFilesCopied(1)
	return nil
}

// ensureDestDir creates the destination subdirectory for a path key once.
// singleflight keeps creation single-shot per key even when multiple
// requests for the same directory land back to back.
func (s *Syncer) ensureDestDir(dirKey string) error {
	if _, ok := s.createdDirs[dirKey]; ok {
		return nil
	}
	_, err, _ := s.dirSFGroup.Do(dirKey, func() (any, error) {
		if s.opts.DryRun {
			return nil, nil
		}
		absDir := util.DenormalizedAbsPath(s.dst, dirKey)
		if err := s.fs.MkdirAll(absDir, util.UserWritableDirPerms); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	s.createdDirs[dirKey] = struct{}{}
	return nil
}

// copyFile copies content and timestamps. It writes to a temporary file in
// the destination directory and renames it into place, so an interrupted
// copy never leaves a partial file at the destination path.
func (s *Syncer) copyFile(absSrcPath, absDstPath string, info os.FileInfo) error {
	in, err := s.fs.Open(absSrcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return hints.FileVanished(absSrcPath, err)
		}
		return fmt.Errorf("failed to open source file %s: %w", absSrcPath, err)
	}
	defer in.Close()

	absDstDir := filepath.Dir(absDstPath)
	out, err := afero.TempFile(s.fs, absDstDir, "strmsync-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", absDstDir, err)
	}
	defer out.Close() // Ensure closed on error.

	absTempPath := out.Name()
	// If the rename succeeds, absTempPath is cleared and this is a no-op.
	defer func() {
		if absTempPath != "" {
			_ = s.fs.Remove(absTempPath)
		}
	}()

	bufPtr := ioBufferPool.Get().(*[]byte)
	defer ioBufferPool.Put(bufPtr)
	buf := *bufPtr
	buf = buf[:cap(buf)]

	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		return fmt.Errorf("failed to copy content from %s to %s: %w", absSrcPath, absTempPath, err)
	}

	if err := s.fs.Chmod(absTempPath, util.WithUserWritePermission(info.Mode().Perm())); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", absTempPath, err)
	}

	// Close flushes data. It must precede Chtimes, which closing could bump.
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}

	if err := s.fs.Chtimes(absTempPath, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}

	if err := s.fs.Rename(absTempPath, absDstPath); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", absTempPath, err)
	}
	absTempPath = ""
	return nil
}

// sweep walks the destination and deletes regular files whose relative path
// was not observed in the source this run. Pointer files are exempt; they
// are reconciled by the driver's pointer sweep. Directories left empty are
// removed afterwards, deepest first.
func (s *Syncer) sweep(ctx context.Context) error {
	plog.Notice("MIRROR", "from", s.src, "to", s.dst)

	var dirKeys []string
	err := afero.Walk(s.fs, s.dst, func(absDstPath string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			plog.Warn("SKIP", "reason", "error accessing destination path", "path", absDstPath, "error", err)
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		relPathKey, err := util.NormalizedRelPath(s.dst, absDstPath)
		if err != nil {
			return err
		}
		if relPathKey == "." {
			return nil
		}

		if info.IsDir() {
			dirKeys = append(dirKeys, relPathKey)
			return nil
		}

		// Stale temp files from a crashed run bypass all exemptions.
		isStaleTemp := strings.HasPrefix(info.Name(), "strmsync-") && strings.HasSuffix(info.Name(), ".tmp")
		if !isStaleTemp {
			if strings.HasSuffix(info.Name(), s.opts.PointerSuffix) {
				return nil
			}
			if _, ok := s.sourceFiles[relPathKey]; ok {
				return nil
			}
		}

		s.deleteStale(absDstPath, relPathKey, isStaleTemp)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deletion sweep failed: %w", err)
	}

	// Children sort strictly longer than their parents, so deleting longest
	// first empties directories bottom-up.
	slices.SortFunc(dirKeys, func(a, b string) int {
		return len(b) - len(a)
	})
	for _, dirKey := range dirKeys {
		absDir := util.DenormalizedAbsPath(s.dst, dirKey)
		if s.opts.DryRun {
			continue
		}
		if err := s.fs.Remove(absDir); err == nil {
			plog.Notice("DELETE", "path", dirKey)
		}
		// A non-empty directory fails Remove and stays; that is the point.
	}
	return nil
}

// deleteStale removes one destination file, archiving it first when a trash
// bin is attached.
func (s *Syncer) deleteStale(absDstPath, relPathKey string, staleTemp bool) {
	if s.opts.DryRun {
		plog.Notice("[DRY RUN] DELETE", "path", relPathKey)
		return
	}

	if s.bin != nil && !staleTemp {
		if err := s.bin.Archive(absDstPath, relPathKey); err != nil {
			if !hints.IsHint(err) {
				plog.Warn("Could not archive file before deletion, leaving it in place", "path", relPathKey, "error", err)
				return
			}
		} else {
			s.metrics.AddFilesArchived(1)
		}
	}

	if err := s.fs.Remove(absDstPath); err != nil {
		plog.Warn("Failed to delete stale destination file", "path", relPathKey, "error", err)
		return
	}
	plog.Notice("DELETE", "path", relPathKey)
	s.metrics.AddFilesDeleted(1)
}
