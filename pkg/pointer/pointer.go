// Package pointer emits redirect stubs for video files. A pointer file is a
// one-line text file in the destination tree whose content is the URL a
// streaming backend resolves instead of the media bytes. Pointers are
// projected from the source tree independently of the mirror filters, so a
// video excluded from copying still gets a pointer.
package pointer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/hope140/strmsync/pkg/metrics"
	"github.com/hope140/strmsync/pkg/plog"
	"github.com/hope140/strmsync/pkg/util"
)

// Suffix is the extension of generated pointer files.
const Suffix = ".strm"

// Options configures one pair's pointer projection.
type Options struct {
	BaseURL       string
	ExcludePrefix string
	VideoExts     []string

	Processed     map[string]struct{}
	ForcePrefixes []string

	DryRun bool
}

// Projector emits and refreshes pointer files for one folder pair.
type Projector struct {
	fs      afero.Fs
	src     string
	dst     string
	opts    Options
	metrics metrics.Metrics
}

// New returns a Projector for one folder pair. A nil fs defaults to the OS
// filesystem; a nil metrics sink defaults to no-op.
func New(fs afero.Fs, src, dst string, m metrics.Metrics, opts Options) *Projector {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Projector{fs: fs, src: src, dst: dst, opts: opts, metrics: m}
}

// Project walks the source tree and writes a pointer for every recognized
// video file whose subfolder is not skip-eligible. Existing pointers with
// byte-identical content are left untouched. It returns the set of video
// base names (extension stripped) observed this pass, which the driver's
// sweep uses to detect orphaned pointers.
func (p *Projector) Project(ctx context.Context) (map[string]struct{}, error) {
	plog.Notice("POINT", "from", p.src, "to", p.dst)

	stems := make(map[string]struct{})
	err := afero.Walk(p.fs, p.src, func(absSrcPath string, info os.FileInfo, err error) error {
		if err != nil {
			plog.Warn("SKIP", "reason", "error accessing path", "path", absSrcPath, "error", err)
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		if info.IsDir() || !info.Mode().IsRegular() {
			return nil
		}

		ext := p.videoExt(info.Name())
		if ext == "" {
			return nil
		}

		relPathKey, err := util.NormalizedRelPath(p.src, absSrcPath)
		if err != nil {
			return fmt.Errorf("could not get relative path for %s: %w", absSrcPath, err)
		}

		stems[strings.TrimSuffix(info.Name(), ext)] = struct{}{}

		if p.skipEligible(path.Dir(relPathKey)) {
			plog.Debug("Subfolder already processed", "path", relPathKey)
			return nil
		}

		if err := p.projectFile(relPathKey, ext); err != nil {
			plog.Warn("Pointer generation failed", "path", relPathKey, "error", err)
			p.metrics.RecordFailedPath(absSrcPath)
		}
		return nil
	})
	return stems, err
}

// videoExt returns the matching recognized extension, or "" if the name is
// not a video file.
func (p *Projector) videoExt(basename string) string {
	lowerName := strings.ToLower(basename)
	for _, ext := range p.opts.VideoExts {
		if ext != "" && strings.HasSuffix(lowerName, ext) {
			return basename[len(basename)-len(ext):]
		}
	}
	return ""
}

func (p *Projector) skipEligible(dirKey string) bool {
	if _, ok := p.opts.Processed[dirKey]; !ok {
		return false
	}
	return !util.AnyPathPrefix(dirKey, p.opts.ForcePrefixes)
}

// projectFile writes one pointer, or leaves it alone if it already holds the
// computed URL.
func (p *Projector) projectFile(relPathKey, videoExt string) error {
	pointerKey := strings.TrimSuffix(relPathKey, videoExt) + Suffix
	absPointerPath := util.DenormalizedAbsPath(p.dst, pointerKey)
	url := p.targetURL(relPathKey)

	existing, err := afero.ReadFile(p.fs, absPointerPath)
	if err == nil && bytes.Equal(existing, []byte(url)) {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read existing pointer %s: %w", absPointerPath, err)
	}

	if p.opts.DryRun {
		plog.Notice("[DRY RUN] POINT", "path", pointerKey, "url", url)
		p.metrics.AddPointersGenerated(1)
		return nil
	}

	if err := p.fs.MkdirAll(filepath.Dir(absPointerPath), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create pointer directory for %s: %w", pointerKey, err)
	}
	if err := afero.WriteFile(p.fs, absPointerPath, []byte(url), util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write pointer %s: %w", absPointerPath, err)
	}

	plog.Notice("POINT", "path", pointerKey, "url", url)
	p.metrics.AddPointersGenerated(1)
	return nil
}

// targetURL computes `{base}/{destination path relative to the exclude
// prefix}` with forward slashes. When no exclude prefix is configured, or
// the destination lies outside it, the path falls back to being relative to
// the destination root.
func (p *Projector) targetURL(relPathKey string) string {
	base := strings.TrimRight(p.opts.BaseURL, "/")

	urlPath := relPathKey
	if p.opts.ExcludePrefix != "" {
		absDstPath := util.DenormalizedAbsPath(p.dst, relPathKey)
		if rel, err := util.NormalizedRelPath(p.opts.ExcludePrefix, absDstPath); err == nil && rel != ".." && !strings.HasPrefix(rel, "../") {
			urlPath = rel
		}
	}
	return base + "/" + urlPath
}
