// Package store provides JSON-document persistence for GateClaw's stateful
// engines. Every document is a single human-readable JSON file that is
// rewritten whole on each mutation; the engines re-derive their in-memory
// state from these files on start, so the files are safe to hand-edit
// between runs.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store reads and writes JSON documents under a data directory.
// Writers are serialized per document so interleaved handlers cannot
// corrupt a file.
type Store struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.With("component", "store"),
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// lockFor returns the per-document mutex, creating it on first use.
func (s *Store) lockFor(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}

// Load reads the named document into v. A missing file leaves v untouched
// and returns nil. A corrupt file is logged and also leaves v untouched:
// the engines fall back to their empty defaults rather than failing
// startup.
func (s *Store) Load(name string, v any) error {
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("corrupt document, starting from defaults",
			"document", name, "error", err)
		return nil
	}
	return nil
}

// Save rewrites the named document with the JSON encoding of v.
// The write goes to a temp file first and is renamed into place so a
// crash mid-write leaves the prior document intact.
func (s *Store) Save(name string, v any) error {
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", name, err)
	}
	return nil
}
