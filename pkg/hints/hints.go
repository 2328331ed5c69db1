// Package hints labels errors that signal a skipped step rather than a real
// failure.
//
// The sweeps treat some conditions as ignorable: a file that vanished
// between being walked and being archived, or a pointer whose source
// disappeared mid-run. Producers wrap such errors as hints; consumers check
// IsHint and continue without recording a failure. The check is behavioral
// (an interface on the error chain), so packages do not need to share
// sentinel errors.
package hints

import (
	"errors"
	"fmt"
)

type skipHint struct {
	cause error
}

func (h *skipHint) Error() string {
	if h == nil || h.cause == nil {
		return "unknown hint"
	}
	return h.cause.Error()
}
func (h *skipHint) IsHint() bool  { return true }
func (h *skipHint) Unwrap() error { return h.cause }

// New creates a hint from a string.
func New(msg string) error {
	return &skipHint{cause: errors.New(msg)}
}

// Wrap takes an existing error and promotes it to a hint.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return &skipHint{cause: err}
}

// FileVanished reports a file that disappeared between being walked and
// being operated on. Copy and archive steps hit this when the source tree
// mutates mid-run; the file simply gets picked up again next run.
func FileVanished(absPath string, err error) error {
	return Wrap(fmt.Errorf("file vanished before it could be processed: %s: %w", absPath, err))
}

// IsHint checks if any error in the chain behaves like a hint.
func IsHint(err error) bool {
	var h interface{ IsHint() bool }
	return errors.As(err, &h) && h.IsHint()
}

// Is checks if the error is a hint AND matches the target error.
func Is(err, target error) bool {
	return IsHint(err) && errors.Is(err, target)
}
