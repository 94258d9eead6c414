package journal

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

const lockFileName = ".lock"

// dirLock holds an advisory exclusive lock on the journal directory so two
// processes never append to the same segment files.
type dirLock struct {
	file *os.File
	path string
}

func acquireDirLock(dir string) (*dirLock, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, LockFailedError(dir)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	// Best effort; the flock is authoritative, the pid is for operators.
	_ = f.Truncate(0)
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))

	return &dirLock{file: f, path: path}, nil
}

func (l *dirLock) release() {
	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	_ = os.Remove(l.path)
}
