// Package leaderlock implements the file-based leader lock: two files on a
// shared volume elect exactly one leader among any number of replicas
// without an external coordination service.
//
// It is built directly on syscall rather than a third-party file-lock
// library because the is-leader check needs the lock file's inode identity
// (st_ino), which no flock wrapper in the example pack exposes (see
// DESIGN.md).
package leaderlock

import (
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"
)

// Lock is a file-based leader lock keyed on lockPath/leasePath.
type Lock struct {
	lockPath  string
	leasePath string
	ttl       time.Duration

	mu       sync.Mutex
	lockFile *os.File
	leader   bool
}

// New builds a Lock. lockPath and leasePath must live on the same shared
// volume across replicas.
func New(lockPath, leasePath string, ttl time.Duration) *Lock {
	return &Lock{lockPath: lockPath, leasePath: leasePath, ttl: ttl}
}

// AcquireLease is idempotent: if this instance is already leader it renews
// the lock file's access time; otherwise it tries a non-blocking acquire,
// and on contention checks whether the current holder is stale enough to
// take over from.
func (l *Lock) AcquireLease() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.leader {
		return l.renewLocked()
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("leaderlock: opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return l.forceAcquireLocked()
	}

	l.lockFile = f
	l.leader = true
	return l.renewLocked()
}

// forceAcquireLocked attempts a stale-holder takeover: acquire the lease
// mutex non-blockingly, and if that succeeds, unlink and reacquire the lock
// file. If the lock isn't actually stale, or another replica already holds
// the lease mutex, it backs off without error.
func (l *Lock) forceAcquireLocked() error {
	stale, err := l.isStaleLocked()
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}

	leaseFile, err := os.OpenFile(l.leasePath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("leaderlock: opening lease file: %w", err)
	}
	defer os.Remove(l.leasePath)

	if err := syscall.Flock(int(leaseFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		leaseFile.Close()
		// Another replica is already taking over; back off.
		return nil
	}
	defer func() {
		syscall.Flock(int(leaseFile.Fd()), syscall.LOCK_UN)
		leaseFile.Close()
	}()

	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("leaderlock: removing stale lock file: %w", err)
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("leaderlock: recreating lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("leaderlock: reacquiring lock after takeover: %w", err)
	}

	l.lockFile = f
	l.leader = true
	return l.renewLocked()
}

func (l *Lock) isStaleLocked() (bool, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(l.lockPath, &st); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("leaderlock: stat lock file: %w", err)
	}

	accessTime := time.Unix(st.Atim.Sec, st.Atim.Nsec)
	return time.Since(accessTime) > 2*l.ttl, nil
}

func (l *Lock) renewLocked() error {
	if l.lockFile == nil {
		return nil
	}
	now := time.Now()
	return os.Chtimes(l.lockPath, now, now)
}

// IsLeader reports whether this instance holds the lock and the lock file's
// inode identity still matches the descriptor it opened (so a competitor
// that deleted and recreated the file is never mistaken for self).
func (l *Lock) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.leader || l.lockFile == nil {
		return false
	}

	var onDisk, held syscall.Stat_t
	if err := syscall.Stat(l.lockPath, &onDisk); err != nil {
		return false
	}
	if err := syscall.Fstat(int(l.lockFile.Fd()), &held); err != nil {
		return false
	}

	return onDisk.Ino == held.Ino
}

// Release drops ownership if this instance is the leader.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.leader || l.lockFile == nil {
		return nil
	}

	syscall.Flock(int(l.lockFile.Fd()), syscall.LOCK_UN)
	err := l.lockFile.Close()
	l.lockFile = nil
	l.leader = false
	return err
}
