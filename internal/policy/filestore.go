package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jszach/conductor/internal/errors"
)

// FileStore is a Store that keeps one JSON file per user under a base
// directory, so policies survive process restarts. Writes are atomic:
// a temp file is written and renamed into place.
type FileStore struct {
	mu      sync.Mutex
	baseDir string

	// now is overridable for tests.
	now func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore rooted at baseDir, creating the
// directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create policy directory: %w", err)
	}
	return &FileStore{baseDir: baseDir, now: time.Now}, nil
}

// Get returns the user's policy, creating and persisting the default on
// first access.
func (s *FileStore) Get(userID string) (*Policy, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user ID must not be empty").WithField("user_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = Default(userID)
		if err := s.save(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Update applies a partial update to the user's policy and persists it.
func (s *FileStore) Update(userID string, update Update) (*Policy, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user ID must not be empty").WithField("user_id")
	}
	if err := update.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.load(userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		p = Default(userID)
	}

	if update.Enabled != nil {
		p.Enabled = *update.Enabled
	}
	if update.Mode != nil {
		p.Mode = *update.Mode
	}
	for cat, setting := range update.Categories {
		p.Categories[cat] = setting
	}
	p.UpdatedAt = s.now()

	if err := s.save(p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Reset restores the user's policy to the default and persists it.
func (s *FileStore) Reset(userID string) (*Policy, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user ID must not be empty").WithField("user_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := Default(userID)
	if err := s.save(p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// load reads the user's policy file, returning nil when absent.
// Caller holds the lock.
func (s *FileStore) load(userID string) (*Policy, error) {
	data, err := os.ReadFile(s.path(userID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy for %s: %w", userID, err)
	}
	return &p, nil
}

// save writes the policy atomically. Caller holds the lock.
func (s *FileStore) save(p *Policy) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode policy: %w", err)
	}
	path := s.path(p.UserID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write policy: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace policy: %w", err)
	}
	return nil
}

// path maps a user ID to its policy file, sanitizing path separators.
func (s *FileStore) path(userID string) string {
	safe := strings.NewReplacer("/", "_", string(filepath.Separator), "_").Replace(userID)
	return filepath.Join(s.baseDir, safe+".json")
}
