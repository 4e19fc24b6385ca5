// Package checkpoint persists the last-processed event timestamp for each
// feeder identity. One plain-text file per identity keeps the state
// human-inspectable: operators can cat, edit, or delete a checkpoint to
// replay or skip data.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixnotka/logfeeder/pkg/feed"
)

// Store reads and writes checkpoint files under Dir. It does not lock
// anything itself; callers hold the identity's run lock while using it.
type Store struct {
	Dir string
}

// Path returns the checkpoint file for the identity. The name embeds the
// feeder, sub-API, account and optional tag so parallel instances never
// collide.
func (s *Store) Path(id feed.Identity) string {
	return filepath.Join(s.Dir, id.Slug()+"_last_timestamp"+id.TagSuffix()+".txt")
}

// Load returns the stored timestamp for the identity. ok is false when no
// checkpoint exists yet.
func (s *Store) Load(id feed.Identity) (ts time.Time, ok bool, err error) {
	raw, err := os.ReadFile(s.Path(id))
	if os.IsNotExist(err) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading checkpoint: %w", err)
	}

	ts, err = time.Parse(time.RFC3339Nano, strings.TrimSpace(string(raw)))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing checkpoint %s: %w", s.Path(id), err)
	}
	return ts, true, nil
}

// Save persists ts as the identity's checkpoint. Saves that would move the
// checkpoint backwards are silently dropped; checkpoints only advance. The
// write goes through a temporary file and rename so a crash mid-write never
// corrupts the previous checkpoint.
func (s *Store) Save(id feed.Identity, ts time.Time) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}

	if current, ok, err := s.Load(id); err != nil {
		return err
	} else if ok && ts.Before(current) {
		return nil
	}

	path := s.Path(id)
	tmp, err := os.CreateTemp(s.Dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating checkpoint temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(ts.UTC().Format(time.RFC3339Nano) + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}
