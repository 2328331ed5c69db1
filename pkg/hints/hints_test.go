package hints

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestIsHint(t *testing.T) {
	if IsHint(errors.New("plain error")) {
		t.Error("a plain error must not be a hint")
	}
	if !IsHint(New("skipped")) {
		t.Error("New() must produce a hint")
	}
	if !IsHint(Wrap(os.ErrNotExist)) {
		t.Error("Wrap() must produce a hint")
	}
	if Wrap(nil) != nil {
		t.Error("Wrap(nil) must be nil")
	}
}

func TestFileVanished(t *testing.T) {
	err := FileVanished("/media/source/gone.mkv", os.ErrNotExist)
	if !IsHint(err) {
		t.Error("FileVanished() must produce a hint")
	}
	if !Is(err, os.ErrNotExist) {
		t.Error("FileVanished() must keep the underlying error in the chain")
	}
}

func TestHintSurvivesWrapping(t *testing.T) {
	hint := Wrap(os.ErrNotExist)
	wrapped := fmt.Errorf("archiving failed: %w", hint)

	if !IsHint(wrapped) {
		t.Error("hint lost through fmt.Errorf wrapping")
	}
	if !Is(wrapped, os.ErrNotExist) {
		t.Error("Is() must match the underlying error through the chain")
	}
	if Is(wrapped, os.ErrPermission) {
		t.Error("Is() matched the wrong target")
	}
}
