package config

import (
	"sync"

	"todaywhat/internal/model"
)

// Store owns the config file at runtime. Readers get value snapshots;
// writers go through Update* which persist before returning.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg Config
}

// NewStore wraps an already loaded config. path may be empty for tests, in
// which case updates stay in memory.
func NewStore(path string, cfg *Config) *Store {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.Normalize()
	return &Store{path: path, cfg: clone(cfg)}
}

// Snapshot returns a deep-enough copy of the current config.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(&s.cfg)
}

// Preferences returns the current preference record.
func (s *Store) Preferences() Preferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Preferences
}

// School returns the selected school identity.
func (s *Store) School() model.SchoolIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.School
}

// UpdatePreferences applies fn to the preferences and saves the file.
// On a save error the in-memory value is left unchanged.
func (s *Store) UpdatePreferences(fn func(*Preferences)) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := clone(&s.cfg)
	fn(&next.Preferences)
	if err := s.persist(&next); err != nil {
		return s.cfg.Preferences, err
	}
	s.cfg = next
	return next.Preferences, nil
}

// UpdateSchool replaces the school identity and saves the file.
func (s *Store) UpdateSchool(id model.SchoolIdentity) (model.SchoolIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := clone(&s.cfg)
	next.School = id
	if err := s.persist(&next); err != nil {
		return s.cfg.School, err
	}
	s.cfg = next
	return next.School, nil
}

func (s *Store) persist(cfg *Config) error {
	if s.path == "" {
		cfg.Normalize()
		return nil
	}
	return Save(s.path, cfg)
}

func clone(c *Config) Config {
	out := *c
	if c.ITunes.AppIDs != nil {
		out.ITunes.AppIDs = make(map[string]string, len(c.ITunes.AppIDs))
		for k, v := range c.ITunes.AppIDs {
			out.ITunes.AppIDs[k] = v
		}
	}
	if c.BasicAuth != nil {
		ba := *c.BasicAuth
		out.BasicAuth = &ba
	}
	return out
}
