// Package hashgate computes content digests of files under a hard wall-clock
// bound.
//
// Digests are used for content equality only (duplicate detection between a
// source and a destination file), not for anything security sensitive, so a
// fast non-cryptographic 64-bit hash is sufficient. The gate guarantees the
// caller never waits past its configured timeout: the digest is computed in
// a worker goroutine and abandoned if it overruns. The worker's read loop
// checks the deadline between chunks, so an abandoned read terminates on its
// own shortly after instead of running to completion unobserved.
package hashgate

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/hope140/strmsync/pkg/plog"
)

// chunkSize is the read granularity. The deadline is checked between chunks,
// so it also bounds how long an abandoned worker keeps its file open.
const chunkSize = 256 * 1024

// bufferPool recycles read buffers across hash requests.
var bufferPool = sync.Pool{
	New: func() any {
		buffer := make([]byte, chunkSize)
		return &buffer
	},
}

// Gate hashes files with a per-request timeout. The zero value is not
// usable; construct with New.
type Gate struct {
	fs      afero.Fs
	timeout time.Duration
}

// New returns a Gate reading through fs. A nil fs defaults to the OS
// filesystem.
func New(fs afero.Fs, timeout time.Duration) *Gate {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Gate{fs: fs, timeout: timeout}
}

// Timeout returns the configured per-request bound.
func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

// Hash computes the digest of the file at path. It returns ok=false if the
// file could not be read in full within the gate's timeout, for any reason:
// timeout and I/O error are deliberately indistinguishable to callers.
// Two files are considered identical iff both digests are defined and equal.
func (g *Gate) Hash(path string) (uint64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	type result struct {
		sum uint64
		err error
	}

	// Buffered so a worker finishing after abandonment can deposit its
	// result and exit without blocking; the stale value is never read.
	resCh := make(chan result, 1)
	go func() {
		sum, err := g.HashContext(ctx, path)
		resCh <- result{sum: sum, err: err}
	}()

	select {
	case <-ctx.Done():
		plog.Debug("Hash abandoned", "path", path, "timeout", g.timeout)
		return 0, false
	case r := <-resCh:
		if r.err != nil {
			plog.Debug("Hash failed", "path", path, "error", r.err)
			return 0, false
		}
		return r.sum, true
	}
}

// HashContext streams the file through the digest, honoring ctx between
// chunks. It is the cooperative core of Hash and is exported for callers
// that manage their own deadlines.
func (g *Gate) HashContext(ctx context.Context, path string) (uint64, error) {
	f, err := g.fs.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)
	buf := *bufPtr

	d := xxhash.New()
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		n, err := f.Read(buf)
		if n > 0 {
			// xxhash.Digest.Write never returns an error.
			_, _ = d.Write(buf[:n])
		}
		if err == io.EOF {
			return d.Sum64(), nil
		}
		if err != nil {
			return 0, err
		}
	}
}
