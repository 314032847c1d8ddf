package policy

import (
	"sync"
	"time"

	"github.com/jszach/conductor/internal/errors"
)

// Store provides read/update access to per-user policies.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the user's policy, creating the default policy on first
	// access so evaluation always has a record to work from.
	Get(userID string) (*Policy, error)

	// Update applies a partial update to the user's policy and returns the
	// updated record. Updates carrying no recognized field are rejected
	// with a validation error rather than silently accepted.
	Update(userID string, update Update) (*Policy, error)

	// Reset restores the user's policy to the default.
	Reset(userID string) (*Policy, error)
}

// Update is a partial policy change. Nil fields are left untouched.
type Update struct {
	// Enabled toggles the master switch.
	Enabled *bool

	// Mode changes the execution mode.
	Mode *Mode

	// Categories changes individual category settings.
	Categories map[Category]Setting
}

// isEmpty reports whether the update carries no field at all.
func (u Update) isEmpty() bool {
	return u.Enabled == nil && u.Mode == nil && len(u.Categories) == 0
}

// validate rejects updates with no recognized field or invalid values.
func (u Update) validate() error {
	if u.isEmpty() {
		return errors.NewValidationError("policy update contains no recognized field")
	}
	if u.Mode != nil && !u.Mode.IsValid() {
		return errors.NewValidationError("invalid execution mode").
			WithField("mode").WithValue(string(*u.Mode))
	}
	for cat, setting := range u.Categories {
		if !cat.IsValid() {
			return errors.NewValidationError("unrecognized risk category").
				WithField("categories").WithValue(string(cat))
		}
		if !setting.IsValid() {
			return errors.NewValidationError("invalid category setting").
				WithField(string(cat)).WithValue(string(setting))
		}
	}
	return nil
}

// MemoryStore is an in-memory Store implementation.
// Policies are scoped to the store instance, not process-wide, so multiple
// engines (e.g. in tests) never share state unintentionally.
type MemoryStore struct {
	mu       sync.RWMutex
	policies map[string]*Policy

	// now is overridable for tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory policy store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*Policy),
		now:      time.Now,
	}
}

// Get returns the user's policy, creating the default on first access.
func (s *MemoryStore) Get(userID string) (*Policy, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user ID must not be empty").WithField("user_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[userID]
	if !ok {
		p = Default(userID)
		s.policies[userID] = p
	}
	return p.Clone(), nil
}

// Update applies a partial update to the user's policy.
func (s *MemoryStore) Update(userID string, update Update) (*Policy, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user ID must not be empty").WithField("user_id")
	}
	if err := update.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.policies[userID]
	if !ok {
		p = Default(userID)
		s.policies[userID] = p
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

	return p.Clone(), nil
}

// Reset restores the user's policy to the default.
func (s *MemoryStore) Reset(userID string) (*Policy, error) {
	if userID == "" {
		return nil, errors.NewValidationError("user ID must not be empty").WithField("user_id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := Default(userID)
	s.policies[userID] = p
	return p.Clone(), nil
}
