// Package runlock provides host-local mutual exclusion between runs of the
// same feeder identity. The lock is a file whose exclusive creation is the
// lock; the file body records the holder so an abandoned lock (holder
// process died without releasing) can be reclaimed instead of blocking
// forever.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

// ErrBusy reports that another live run holds the identity's lock. It is a
// normal outcome, not a failure.
var ErrBusy = errors.New("another run is already in progress")

// Handle is an acquired lock. Release it on every exit path.
type Handle struct {
	// Identity is the locked identity.
	Identity feed.Identity

	// HolderPID is the acquiring process.
	HolderPID int

	// Hostname is where the holder runs, recorded for operators reading
	// the lock file; staleness detection is same-host only.
	Hostname string

	// AcquiredAt is when the lock was taken.
	AcquiredAt time.Time

	path     string
	released bool
}

// Store acquires and releases lock files under Dir.
type Store struct {
	Dir string

	// alive overrides process liveness probing in tests.
	alive func(pid int) bool
}

// Path returns the lock file for the identity.
func (s *Store) Path(id feed.Identity) string {
	return filepath.Join(s.Dir, id.Slug()+id.TagSuffix()+".lock")
}

// Acquire takes the identity's lock. It returns ErrBusy when a live holder
// exists. A lock whose recorded holder process is no longer alive is treated
// as abandoned: it is removed and acquisition is retried once.
func (s *Store) Acquire(id feed.Identity) (*Handle, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating locks dir: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		handle, err := s.tryCreate(id)
		if err == nil {
			return handle, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("creating lock file: %w", err)
		}

		stale, err := s.holderDead(id)
		if err != nil {
			return nil, err
		}
		if !stale {
			return nil, ErrBusy
		}
		// Reclaim the abandoned lock and retry the exclusive create. A
		// concurrent reclaimer may beat us to the create; the second
		// attempt then reports ErrBusy.
		if err := os.Remove(s.Path(id)); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reclaiming stale lock: %w", err)
		}
	}
	return nil, ErrBusy
}

func (s *Store) tryCreate(id feed.Identity) (*Handle, error) {
	path := s.Path(id)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	handle := &Handle{
		Identity:   id,
		HolderPID:  os.Getpid(),
		Hostname:   hostname,
		AcquiredAt: time.Now().UTC(),
		path:       path,
	}

	body, err := json.Marshal(map[string]any{
		"pid":         handle.HolderPID,
		"hostname":    handle.Hostname,
		"acquired_at": handle.AcquiredAt.Format(time.RFC3339),
	})
	if err == nil {
		_, err = file.Write(append(body, '\n'))
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing lock file: %w", err)
	}
	return handle, nil
}

// holderDead reads the existing lock file and probes its recorded pid. A
// lock file that vanished while we looked, or that we cannot parse, is
// treated as stale: an unreadable lock would otherwise wedge the feeder
// until someone deletes it by hand.
func (s *Store) holderDead(id feed.Identity) (bool, error) {
	raw, err := os.ReadFile(s.Path(id))
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading lock file: %w", err)
	}

	var body struct {
		PID int `json:"pid"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.PID <= 0 {
		return true, nil
	}

	if s.alive != nil {
		return !s.alive(body.PID), nil
	}
	return !processAlive(body.PID), nil
}

// Release removes the lock file. Releasing an already-released handle is a
// no-op, never an error, so cleanup-on-exit paths stay simple.
func (s *Store) Release(handle *Handle) error {
	if handle == nil || handle.released {
		return nil
	}
	handle.released = true
	if err := os.Remove(handle.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing lock file: %w", err)
	}
	return nil
}
