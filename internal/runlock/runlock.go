// Package runlock keeps two passes from running at once, either on one host
// (a lock file) or across hosts (a Redis key).
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrLocked is returned when another holder owns the lock.
	ErrLocked = errors.New("another run holds the lock")
	// ErrLost means a lease expired or was taken over by another run.
	ErrLost = errors.New("run lock lost")
)

// Locker hands out exclusive leases.
type Locker interface {
	Acquire(ctx context.Context) (Lease, error)
}

// Lease is a held lock. Refresh pushes its expiry forward and returns
// ErrLost once the lock belongs to someone else.
type Lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// FileLocker creates path exclusively. A lock file not touched for staleAfter
// is assumed to belong to a crashed run and is taken over. Holders keep the
// file fresh with Refresh.
type FileLocker struct {
	path       string
	staleAfter time.Duration
	now        func() time.Time
	newToken   func() string
}

func NewFile(path string, staleAfter time.Duration) (*FileLocker, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("lock path is required")
	}
	return &FileLocker{
		path:       path,
		staleAfter: staleAfter,
		now:        time.Now,
		newToken:   uuid.NewString,
	}, nil
}

func (l *FileLocker) Acquire(_ context.Context) (Lease, error) {
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}

	token := l.newToken()
	for i := 0; i < 2; i++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%s\n%d\n", token, os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(l.path)
				return nil, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			return &fileLease{path: l.path, token: token, now: l.now}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if i > 0 || !l.stale(l.path) {
			return nil, ErrLocked
		}
		if err := l.evict(token); err != nil {
			return nil, err
		}
	}
	return nil, ErrLocked
}

// evict moves a stale lock file aside. Rename is atomic, so of several runs
// racing for the same stale file only one moves it. If the moved file turns
// out to be fresh, a holder refreshed it or a new run recreated it after the
// stale check, and it is put back.
func (l *FileLocker) evict(token string) error {
	aside := l.path + ".stale-" + token
	if err := os.Rename(l.path, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("move stale lock: %w", err)
	}
	if l.stale(aside) {
		if err := os.Remove(aside); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
		return nil
	}

	// Link fails if yet another run created the lock meanwhile; that run
	// owns it now and the moved file is discarded either way.
	_ = os.Link(aside, l.path)
	_ = os.Remove(aside)
	return ErrLocked
}

func (l *FileLocker) stale(path string) bool {
	if l.staleAfter <= 0 {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	return l.now().Sub(info.ModTime()) > l.staleAfter
}

type fileLease struct {
	path  string
	token string
	now   func() time.Time
}

// Refresh bumps the lock file's mtime so other runs keep treating it as live.
func (f *fileLease) Refresh(context.Context) error {
	if err := f.owned(); err != nil {
		return err
	}
	now := f.now()
	if err := os.Chtimes(f.path, now, now); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrLost
		}
		return fmt.Errorf("touch lock file: %w", err)
	}
	return nil
}

func (f *fileLease) owned() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrLost
	}
	if err != nil {
		return fmt.Errorf("read lock file: %w", err)
	}
	if first, _, _ := strings.Cut(string(data), "\n"); first != f.token {
		return ErrLost
	}
	return nil
}

// Release removes the lock file if it still carries this lease's token.
func (f *fileLease) Release(context.Context) error {
	if err := f.owned(); err != nil {
		if errors.Is(err, ErrLost) {
			return nil
		}
		return err
	}
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock file: %w", err)
	}
	return nil
}
