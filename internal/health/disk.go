// Package health provides pre-flight checks for a backup run.
package health

import (
	"context"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/disk"
)

// CheckScratchSpace verifies that the volume holding path has at least
// minFreeMB megabytes free. An empty path means the OS temp directory.
func CheckScratchSpace(ctx context.Context, path string, minFreeMB int64) error {
	if path == "" {
		path = os.TempDir()
	}

	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return fmt.Errorf("stat scratch volume %s: %w", path, err)
	}

	need := uint64(minFreeMB) * 1024 * 1024
	if usage.Free < need {
		return fmt.Errorf("insufficient scratch space on %s: %d MB free, %d MB required",
			path, usage.Free/(1024*1024), minFreeMB)
	}
	return nil
}
