// Package engine orchestrates one reconciliation run: for each configured
// folder pair it runs the mirror pass and the pointer projection, then a
// cross-check sweep for orphaned pointers, and finally persists the set of
// fully reconciled subfolders.
package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/hope140/strmsync/pkg/config"
	"github.com/hope140/strmsync/pkg/hashgate"
	"github.com/hope140/strmsync/pkg/hints"
	"github.com/hope140/strmsync/pkg/metrics"
	"github.com/hope140/strmsync/pkg/mirror"
	"github.com/hope140/strmsync/pkg/plog"
	"github.com/hope140/strmsync/pkg/pointer"
	"github.com/hope140/strmsync/pkg/preflight"
	"github.com/hope140/strmsync/pkg/statestore"
	"github.com/hope140/strmsync/pkg/trash"
	"github.com/hope140/strmsync/pkg/util"
)

// Driver runs one reconciliation across all configured folder pairs. All
// collaborators are supplied at construction; the driver holds no ambient
// global state.
type Driver struct {
	cfg     config.Config
	fs      afero.Fs
	store   *statestore.Store
	metrics metrics.Metrics

	// DryRun reports every planned mutation without touching the
	// destination trees or the persisted state.
	DryRun bool
	// Preflight enables the pre-pair accessibility and free-space checks.
	// They probe the real OS filesystem, so tests on an in-memory fs leave
	// this off.
	Preflight bool
}

// processedKeySep joins a source root and a subfolder key into one persisted
// processed-set entry. The set is shared across all pairs, so unqualified
// keys would let pair A's "show" suppress pair B's unrelated "show". NUL
// cannot occur in a file path.
const processedKeySep = "\x00"

func processedKey(srcRoot, dirKey string) string {
	return util.NormalizePath(srcRoot) + processedKeySep + dirKey
}

// scopedProcessed extracts one pair's subfolder keys from the shared set.
func scopedProcessed(processed map[string]struct{}, srcRoot string) map[string]struct{} {
	prefix := util.NormalizePath(srcRoot) + processedKeySep
	out := make(map[string]struct{})
	for key := range processed {
		if strings.HasPrefix(key, prefix) {
			out[strings.TrimPrefix(key, prefix)] = struct{}{}
		}
	}
	return out
}

// New returns a Driver. A nil fs defaults to the OS filesystem; a nil
// metrics sink defaults to no-op; a nil store is allowed and disables the
// processed-subfolder optimization entirely.
func New(cfg config.Config, fs afero.Fs, store *statestore.Store, m metrics.Metrics) *Driver {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Driver{cfg: cfg, fs: fs, store: store, metrics: m}
}

// Run executes the full reconciliation. A canceled context or a failure to
// persist state is fatal; everything else is logged per pair and the run
// continues.
func (d *Driver) Run(ctx context.Context) error {
	start := time.Now()
	plog.Info("Run starting", "pairs", len(d.cfg.FolderPairs), "dryRun", d.DryRun)

	processed := map[string]struct{}{}
	if d.store != nil {
		processed = d.store.Load()
	}
	newProcessed := make(map[string]struct{}, len(processed))
	for key := range processed {
		newProcessed[key] = struct{}{}
	}

	gate := hashgate.New(d.fs, d.cfg.Timeout())

	var bin *trash.Bin
	if d.cfg.Trash.Enabled && !d.DryRun {
		var err error
		bin, err = trash.Open(d.fs, d.cfg.Trash.Dir, trash.Format(d.cfg.Trash.Format), start)
		if err != nil {
			return fmt.Errorf("failed to open trash bundle: %w", err)
		}
		defer func() {
			if err := bin.Close(); err != nil {
				plog.Warn("Failed to finalize trash bundle", "error", err)
			}
		}()
	}

	for _, pair := range d.cfg.FolderPairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.runPair(ctx, pair, gate, bin, processed, newProcessed); err != nil {
			if ctx.Err() != nil {
				return err
			}
			plog.Error("Pair failed", "src", pair.SrcFolder, "dst", pair.DstFolder, "error", err)
		}
	}

	if d.store != nil && !d.DryRun {
		if err := d.store.Save(newProcessed); err != nil {
			return fmt.Errorf("failed to persist processed subfolders: %w", err)
		}
	}

	d.report(start)
	return nil
}

// runPair reconciles one folder pair end to end.
func (d *Driver) runPair(ctx context.Context, pair config.FolderPair, gate *hashgate.Gate, bin *trash.Bin, processed, newProcessed map[string]struct{}) error {
	if d.Preflight {
		if err := preflight.CheckSourceAccessible(pair.SrcFolder); err != nil {
			return fmt.Errorf("source check failed: %w", err)
		}
		if err := preflight.CheckDestinationAccessible(pair.DstFolder); err != nil {
			return fmt.Errorf("destination check failed: %w", err)
		}
		if !d.DryRun {
			if err := preflight.CheckDestinationWritable(pair.DstFolder); err != nil {
				return fmt.Errorf("destination write check failed: %w", err)
			}
			preflight.WarnOnLowSpace(pair.DstFolder)
		}
	}

	forceKeys := d.forcePrefixKeys(pair.SrcFolder)
	pairProcessed := scopedProcessed(processed, pair.SrcFolder)

	failedBefore := len(d.metrics.FailedPaths())

	syncer := mirror.New(d.fs, pair.SrcFolder, pair.DstFolder, gate, d.metrics, bin, mirror.Options{
		ExcludeExts:     d.cfg.ExcludeExts,
		ExcludePatterns: d.cfg.ExcludePatterns,
		MaxSizeMB:       d.cfg.MaxSizeMB,
		OnDuplicate:     d.cfg.OnDuplicate,
		Timeout:         d.cfg.Timeout(),
		Processed:       pairProcessed,
		ForcePrefixes:   forceKeys,
		PointerSuffix:   pointer.Suffix,
		DryRun:          d.DryRun,
	})
	srcSet, err := syncer.Sync(ctx)
	if err != nil {
		return err
	}

	var stems map[string]struct{}
	if len(d.cfg.VideoExts) > 0 {
		proj := pointer.New(d.fs, pair.SrcFolder, pair.DstFolder, d.metrics, pointer.Options{
			BaseURL:       d.cfg.WebdavBaseURL,
			ExcludePrefix: d.cfg.ExcludePrefix,
			VideoExts:     d.cfg.VideoExts,
			Processed:     pairProcessed,
			ForcePrefixes: forceKeys,
			DryRun:        d.DryRun,
		})
		stems, err = proj.Project(ctx)
		if err != nil {
			return err
		}
	}

	if err := d.crossCheck(ctx, pair.DstFolder, srcSet, stems, bin); err != nil {
		return err
	}

	// Failed paths from this pair keep their immediate parent subfolders out
	// of the persisted set, so those files are re-observed next run.
	failedDirs := make(map[string]struct{})
	for _, absPath := range d.metrics.FailedPaths()[failedBefore:] {
		if key, err := util.NormalizedRelPath(pair.SrcFolder, absPath); err == nil {
			failedDirs[path.Dir(key)] = struct{}{}
		}
	}
	d.markProcessed(pair.SrcFolder, forceKeys, failedDirs, newProcessed)
	return nil
}

// forcePrefixKeys resolves the configured force-reprocess prefixes for one
// source root. Absolute prefixes apply only when they lie under the root;
// relative ones are taken as source-relative keys directly.
func (d *Driver) forcePrefixKeys(srcRoot string) []string {
	var keys []string
	for _, prefix := range d.cfg.ForceProcessSubfolders {
		if !filepath.IsAbs(prefix) {
			keys = append(keys, util.NormalizePath(prefix))
			continue
		}
		key, err := util.NormalizedRelPath(srcRoot, prefix)
		if err != nil || key == ".." || strings.HasPrefix(key, "../") {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// crossCheck walks the destination after both passes and removes pointer
// files whose stem no longer matches any observed video, plus any non-pointer
// stragglers absent from the pair's source set. Empty directories left behind
// are pruned deepest first.
func (d *Driver) crossCheck(ctx context.Context, dstRoot string, srcSet, stems map[string]struct{}, bin *trash.Bin) error {
	var dirKeys []string
	err := afero.Walk(d.fs, dstRoot, func(absDstPath string, info os.FileInfo, err error) error {
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

		relPathKey, err := util.NormalizedRelPath(dstRoot, absDstPath)
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

		if strings.HasSuffix(info.Name(), pointer.Suffix) {
			stem := strings.TrimSuffix(info.Name(), pointer.Suffix)
			if _, ok := stems[stem]; ok {
				return nil
			}
			if d.DryRun {
				plog.Notice("[DRY RUN] DELETE", "path", relPathKey)
				return nil
			}
			if err := d.fs.Remove(absDstPath); err != nil {
				plog.Warn("Failed to delete orphaned pointer", "path", relPathKey, "error", err)
				return nil
			}
			plog.Notice("DELETE", "reason", "orphaned pointer", "path", relPathKey)
			d.metrics.AddPointersDeleted(1)
			return nil
		}

		if _, ok := srcSet[relPathKey]; ok {
			return nil
		}
		if d.DryRun {
			plog.Notice("[DRY RUN] DELETE", "path", relPathKey)
			return nil
		}
		if bin != nil {
			if err := bin.Archive(absDstPath, relPathKey); err != nil {
				if !hints.IsHint(err) {
					plog.Warn("Could not archive file before deletion, leaving it in place", "path", relPathKey, "error", err)
					return nil
				}
			} else {
				d.metrics.AddFilesArchived(1)
			}
		}
		if err := d.fs.Remove(absDstPath); err != nil {
			plog.Warn("Failed to delete stale destination file", "path", relPathKey, "error", err)
			return nil
		}
		plog.Notice("DELETE", "path", relPathKey)
		d.metrics.AddFilesDeleted(1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cross-check sweep failed: %w", err)
	}

	if d.DryRun {
		return nil
	}
	slices.SortFunc(dirKeys, func(a, b string) int {
		return len(b) - len(a)
	})
	for _, dirKey := range dirKeys {
		if err := d.fs.Remove(util.DenormalizedAbsPath(dstRoot, dirKey)); err == nil {
			plog.Notice("DELETE", "path", dirKey)
		}
	}
	return nil
}

// markProcessed records every subfolder of the source root as reconciled,
// except those covered by a force-reprocess prefix and those whose files
// failed this run. Entries are qualified with the source root so pairs
// with identically named subfolders do not shadow each other.
func (d *Driver) markProcessed(srcRoot string, forceKeys []string, failedDirs, newProcessed map[string]struct{}) {
	err := afero.Walk(d.fs, srcRoot, func(absSrcPath string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil
		}
		dirKey, err := util.NormalizedRelPath(srcRoot, absSrcPath)
		if err != nil {
			return nil
		}
		if util.AnyPathPrefix(dirKey, forceKeys) {
			return nil
		}
		if _, failed := failedDirs[dirKey]; failed {
			return nil
		}
		newProcessed[processedKey(srcRoot, dirKey)] = struct{}{}
		return nil
	})
	if err != nil {
		plog.Warn("Could not record processed subfolders", "root", srcRoot, "error", err)
	}
}

// report prints the aggregate statistics, surfacing failed paths as explicit
// reconciliation gaps rather than silently counting them.
func (d *Driver) report(start time.Time) {
	d.metrics.Log()
	plog.Info("Run finished", "elapsed", time.Since(start).Round(time.Millisecond))

	failed := d.metrics.FailedPaths()
	if len(failed) == 0 {
		return
	}
	plog.Warn("Reconciliation gaps: the following source paths failed or timed out; their destination copies may be stale or missing. Their subfolders were left unprocessed, so they will be re-scanned next run.", "count", len(failed))
	for _, p := range failed {
		plog.Warn("  failed", "path", p)
	}
}
