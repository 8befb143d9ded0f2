// Package lock keeps two runs from writing into the same output directory.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created inside an output directory.
const FileName = "opdbt.lock"

// ErrHeld is returned when a live process holds the lock.
var ErrHeld = errors.New("output directory is locked")

// PathFor returns the lock path for an output directory.
func PathFor(outputDir string) string {
	return filepath.Join(outputDir, FileName)
}

// Acquire writes the current PID into path. A lock whose owner has exited is
// taken over once; a live owner yields ErrHeld.
func Acquire(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output directory %s: %w", filepath.Dir(path), err)
	}

	err := create(path)
	if !errors.Is(err, fs.ErrExist) {
		return err
	}

	held, owner, err := IsHeld(path)
	switch {
	case err != nil:
		return err
	case held:
		return fmt.Errorf("%w: PID %d is running against %s", ErrHeld, owner, filepath.Dir(path))
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("dropping stale lock of PID %d: %w", owner, err)
	}
	if err := create(path); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: lost the race for %s", ErrHeld, path)
		}
		return err
	}
	return nil
}

func create(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprint(f, os.Getpid()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Release deletes the lock unless another process owns it. A missing lock
// is not an error.
func Release(path string) error {
	owner, err := readOwner(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil && owner != os.Getpid() {
		return fmt.Errorf("lock %s belongs to PID %d", path, owner)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// IsHeld reports whether path names a lock owned by a live process, and
// which PID that is. Unreadable contents count as not held.
func IsHeld(path string) (bool, int, error) {
	owner, err := readOwner(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, 0, nil
	}
	var numErr *strconv.NumError
	if errors.As(err, &numErr) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return alive(owner), owner, nil
}

func readOwner(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// alive sends signal 0, which only checks that the process exists.
func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	return err == nil && p.Signal(syscall.Signal(0)) == nil
}
