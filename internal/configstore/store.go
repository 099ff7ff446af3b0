// Package configstore is the Config Store (component C1): it loads and
// saves per-family endpoint pools from on-disk YAML text files, holding a
// copy-on-write in-memory snapshot that is cheap for the hot path to read
// and safe to read concurrently with a save in progress.
//
// Persistence lives on disk as human-editable YAML because operators hand
// edit it; the store tolerates external edits (it re-reads on Load) but
// does not itself watch the filesystem for changes.
package configstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/relaymesh/paf/internal/profile"
)

// Store holds one atomically-persisted snapshot per family.
type Store struct {
	dir    string
	logger *slog.Logger

	mu   sync.Mutex // serializes writers; readers never block on this
	snap map[profile.Family]*atomic.Pointer[profile.FamilyState]
}

// New creates a Store rooted at dir. dir is created if missing.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("configstore: creating data dir %s: %w", dir, err)
	}

	s := &Store{
		dir:    dir,
		logger: logger,
		snap:   make(map[profile.Family]*atomic.Pointer[profile.FamilyState]),
	}
	for _, f := range profile.Families() {
		s.snap[f] = &atomic.Pointer[profile.FamilyState]{}
	}
	return s, nil
}

// path returns the on-disk path for a family's pool file.
func (s *Store) path(family profile.Family) string {
	return filepath.Join(s.dir, string(family)+".yaml")
}

// LoadAll loads every known family from disk into the in-memory snapshot,
// writing a default (empty, manual-mode) file for any family that is
// missing. A missing file is not fatal; a malformed file, any other read
// error, or a failure to write the default file is returned.
func (s *Store) LoadAll() error {
	for _, family := range profile.Families() {
		_, err := s.Load(family)
		if err == nil {
			continue
		}
		if !isMissing(err) {
			return err
		}
		if err := s.Save(family, profile.FamilyState{Mode: profile.ModeManual}); err != nil {
			return fmt.Errorf("configstore: writing default for family %q: %w", family, err)
		}
		s.logger.Info("wrote default family config", "family", family)
	}
	return nil
}

// Load reads a single family's file from disk, parses it, and publishes it
// as the new in-memory snapshot. A missing file returns ErrConfigMissing; a
// malformed file returns ErrConfigInvalid.
func (s *Store) Load(family profile.Family) (profile.FamilyState, error) {
	if _, ok := s.snap[family]; !ok {
		return profile.FamilyState{}, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	raw, err := os.ReadFile(s.path(family))
	if err != nil {
		if os.IsNotExist(err) {
			return profile.FamilyState{}, fmt.Errorf("%w: %s", ErrConfigMissing, s.path(family))
		}
		return profile.FamilyState{}, fmt.Errorf("configstore: reading %s: %w", s.path(family), err)
	}

	var state profile.FamilyState
	if err := yaml.Unmarshal(raw, &state); err != nil {
		return profile.FamilyState{}, fmt.Errorf("%w: %s: %v", ErrConfigInvalid, s.path(family), err)
	}

	normalise(&state)
	s.snap[family].Store(&state)
	return state.Clone(), nil
}

// Save normalises state, writes it to disk atomically (tempfile then
// rename), and — only on success — replaces the in-memory snapshot.
func (s *Store) Save(family profile.Family, state profile.FamilyState) error {
	if _, ok := s.snap[family]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}

	state = state.Clone()
	normalise(&state)

	raw, err := yaml.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: marshalling %q: %v", ErrPersist, family, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.path(family), raw); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}

	s.snap[family].Store(&state)
	return nil
}

// Snapshot returns a cheap, consistent read of the latest fully-committed
// family state. Concurrent saves never produce a blended read: Snapshot
// either observes the complete prior state or the complete new one.
func (s *Store) Snapshot(family profile.Family) (profile.FamilyState, error) {
	ptr, ok := s.snap[family]
	if !ok {
		return profile.FamilyState{}, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	cur := ptr.Load()
	if cur == nil {
		return profile.FamilyState{}, fmt.Errorf("%w: %q not loaded", ErrConfigMissing, family)
	}
	return cur.Clone(), nil
}

// EligiblePool returns the slice of endpoints the Selector may consider
// for family, per the latest committed snapshot.
func (s *Store) EligiblePool(family profile.Family) ([]profile.Endpoint, error) {
	snap, err := s.Snapshot(family)
	if err != nil {
		return nil, err
	}
	return snap.EligiblePool(), nil
}

// normalise fills default values and repairs an invalid active-name: mode
// defaults to manual, strategy to weighted, an endpoint weight of 0 becomes
// 1, and an active-name that does not refer to an enabled profile is reset
// to the first enabled profile's name, else cleared. Enabled is not
// defaulted here: an endpoint decoded with enabled false (or absent) stays
// disabled.
func normalise(state *profile.FamilyState) {
	if state.Mode == "" {
		state.Mode = profile.ModeManual
	}
	if state.LoadBalancer.Strategy == "" {
		state.LoadBalancer.Strategy = profile.StrategyWeighted
	}

	for i := range state.Endpoints {
		e := &state.Endpoints[i]
		if e.Weight == 0 {
			e.Weight = 1
		}
	}
	// Note: "enabled defaults true" cannot be distinguished from an
	// explicit false using a plain bool field decoded from YAML, so new
	// endpoints are expected to be constructed with Enabled already set
	// by the caller (the REST create handler defaults it before Save).

	if e, ok := state.Active(); ok {
		state.ActiveName = e.Name
		return
	}
	for _, e := range state.Endpoints {
		if e.Enabled {
			state.ActiveName = e.Name
			return
		}
	}
	state.ActiveName = ""
}

func isMissing(err error) bool {
	return errors.Is(err, ErrConfigMissing)
}

// writeFileAtomic writes data to a temp file in the same directory as path
// and renames it into place, so concurrent readers never observe a
// partially-written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}
