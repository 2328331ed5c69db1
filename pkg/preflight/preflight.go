// Package preflight provides validation checks that run before a folder pair
// is reconciled. The checks are designed to produce friendlier errors than
// letting the walk or the first copy fail, and to catch misconfigurations
// (missing source, unwritable destination, nearly full disk) before any
// destination mutation happens.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hope140/strmsync/pkg/plog"
	"github.com/hope140/strmsync/pkg/util"
)

// lowSpaceFloor is the free-space level below which a destination triggers a
// warning. Mirroring onto a full disk fails file by file; warning up front
// names the real problem once.
const lowSpaceFloor = 256 << 20 // 256 MiB

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}

	return nil
}

// CheckDestinationAccessible ensures the destination is usable: if it exists
// it must be a directory, and if it does not, its parent chain must be
// reachable so MkdirAll can succeed.
func CheckDestinationAccessible(dstPath string) error {
	info, err := os.Stat(dstPath)
	if os.IsNotExist(err) {
		// Destination doesn't exist yet; find the deepest existing ancestor
		// and make sure it is a traversable directory.
		ancestor := dstPath
		for {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				break // Hit root.
			}
			ancestor = parent
			if _, err := os.Stat(ancestor); err == nil {
				break
			}
		}

		ancestorInfo, err := os.Stat(ancestor)
		if err != nil {
			return fmt.Errorf("cannot access any ancestor of destination %s: %w", dstPath, err)
		}
		if !ancestorInfo.IsDir() {
			return fmt.Errorf("ancestor %s of destination %s is not a directory", ancestor, dstPath)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access destination path %s: %w", dstPath, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("destination path exists but is not a directory: %s", dstPath)
	}
	return nil
}

// CheckDestinationWritable ensures the destination directory can be created
// and is writable by performing filesystem modifications.
func CheckDestinationWritable(dstPath string) error {
	if err := os.MkdirAll(dstPath, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", dstPath, err)
	}

	// Perform a thorough write check by creating and deleting a temporary file.
	tempFile := filepath.Join(dstPath, ".strmsync-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("destination directory %s is not writable: %w", dstPath, err)
	}
	f.Close()
	_ = os.Remove(tempFile)
	return nil
}

// WarnOnLowSpace logs a warning when the destination filesystem is close to
// full. It never fails the run: free-space accounting is advisory.
func WarnOnLowSpace(dstPath string) {
	free, err := FreeBytes(dstPath)
	if err != nil {
		plog.Debug("Could not determine free space", "path", dstPath, "error", err)
		return
	}
	if free < lowSpaceFloor {
		plog.Warn("Destination filesystem is nearly full", "path", dstPath, "freeBytes", free)
	} else {
		plog.Debug("Destination free space", "path", dstPath, "freeBytes", free)
	}
}
