package store

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// writeLock is the advisory <db_path>.lock file backing the Store's
// single-writer discipline, mirroring original_source/core/database.hpp's
// flock(LOCK_EX) around the same path suffix.
type writeLock struct {
	f *os.File
}

func acquireWriteLock(dbPath string) (*writeLock, error) {
	path := dbPath + ".lock"
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o666)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("acquiring write lock on %s: %w (another indexer process running?)", path, err)
	}
	return &writeLock{f: f}, nil
}

func (l *writeLock) release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return err
	}
	return l.f.Close()
}
