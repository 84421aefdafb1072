package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// lockPath maps a device node to its lock file, /dev/video0 becoming
// <dir>/video0.lock.
func lockPath(dir, device string) string {
	name := strings.Trim(strings.ReplaceAll(filepath.Clean(device), string(filepath.Separator), "_"), "_")
	name = strings.TrimPrefix(name, "dev_")
	if name == "" || name == "." {
		name = "device"
	}
	return filepath.Join(dir, name+".lock")
}

// acquireDeviceLock takes the exclusive lock for device without blocking.
func acquireDeviceLock(dir, device string) (*flock.Flock, error) {
	lock := flock.New(lockPath(dir, device))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s (lock %s)", ErrDeviceBusy, device, lock.Path())
	}
	return lock, nil
}
