package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jszach/conductor/internal/policy"
)

// Resolution is the outcome delivered on a request's wait handle.
type Resolution int

const (
	// ResolutionApproved means a human approved the action.
	ResolutionApproved Resolution = iota
	// ResolutionRejected means a human rejected the action.
	ResolutionRejected
	// ResolutionExpired means the request's TTL elapsed unresolved.
	ResolutionExpired
)

// String returns the string representation of the resolution.
func (r Resolution) String() string {
	switch r {
	case ResolutionApproved:
		return "approved"
	case ResolutionRejected:
		return "rejected"
	case ResolutionExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Request is one outstanding approval request.
type Request struct {
	// ID is the opaque identifier used to resolve the request.
	ID string `json:"id"`

	// UserID is the user whose policy prompted the request.
	UserID string `json:"user_id"`

	// PlanID is the plan whose step is suspended, if any.
	PlanID string `json:"plan_id,omitempty"`

	// Category is the risk category requiring sign-off.
	Category policy.Category `json:"category"`

	// Description explains the pending action to the approver.
	Description string `json:"description"`

	// CreatedAt is when the request was created.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the request expires if unresolved.
	ExpiresAt time.Time `json:"expires_at"`
}

// pending pairs a request with its single-use wait handle.
type pending struct {
	req  Request
	done chan Resolution // buffered(1); closed after the single send
}

// Registry tracks outstanding approval requests. All methods are safe for
// concurrent use. Expiry is enforced both lazily, on every lookup, and
// eagerly by the Sweep loop, so an expired request is never resolvable and
// its waiter is always released even if nobody polls.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pending

	// now is overridable for tests.
	now func() time.Time
}

// NewRegistry creates an empty approval registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*pending),
		now:     time.Now,
	}
}

// Create allocates a request with the given TTL and returns it together
// with its wait handle. The handle receives exactly one Resolution: from
// Resolve, or ResolutionExpired when the TTL elapses first.
func (r *Registry) Create(userID, planID string, category policy.Category, description string, ttl time.Duration) (Request, <-chan Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	p := &pending{
		req: Request{
			ID:          uuid.NewString(),
			UserID:      userID,
			PlanID:      planID,
			Category:    category,
			Description: description,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		},
		done: make(chan Resolution, 1),
	}
	r.pending[p.req.ID] = p
	return p.req, p.done
}

// Resolve completes the pending request with the human's decision.
// Returns false, with no side effect on the waiter, when the ID is
// unknown, already resolved, or expired; an expired entry found here is
// released with ResolutionExpired as part of the lookup.
func (r *Registry) Resolve(id string, approved bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return false
	}
	if r.now().After(p.req.ExpiresAt) {
		r.complete(p, ResolutionExpired)
		return false
	}

	if approved {
		r.complete(p, ResolutionApproved)
	} else {
		r.complete(p, ResolutionRejected)
	}
	return true
}

// Discard removes a pending request without resolving its waiter.
// Used when the waiting step's context is canceled and the waiter has
// already stopped listening. Returns true if the request was present.
func (r *Registry) Discard(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return false
	}
	close(p.done)
	delete(r.pending, id)
	return true
}

// Get returns the pending request by ID. An entry past its expiry is
// released with ResolutionExpired and reported as absent.
func (r *Registry) Get(id string) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok {
		return Request{}, false
	}
	if r.now().After(p.req.ExpiresAt) {
		r.complete(p, ResolutionExpired)
		return Request{}, false
	}
	return p.req, true
}

// List returns a snapshot of all pending, unexpired requests.
func (r *Registry) List() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	reqs := make([]Request, 0, len(r.pending))
	for _, p := range r.pending {
		if now.After(p.req.ExpiresAt) {
			r.complete(p, ResolutionExpired)
			continue
		}
		reqs = append(reqs, p.req)
	}
	return reqs
}

// ExpireStale releases every request past its expiry, completing the
// waiters with ResolutionExpired. Returns the IDs of expired requests.
func (r *Registry) ExpireStale() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var expired []string
	for id, p := range r.pending {
		if now.After(p.req.ExpiresAt) {
			r.complete(p, ResolutionExpired)
			expired = append(expired, id)
		}
	}
	return expired
}

// Sweep runs ExpireStale on the given interval until ctx is canceled.
// Intended to run on its own goroutine for the lifetime of the engine.
func (r *Registry) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ExpireStale()
		}
	}
}

// Len returns the number of pending requests, including any not yet
// released by expiry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// complete delivers the resolution and removes the entry.
// The caller must hold the mutex.
func (r *Registry) complete(p *pending, res Resolution) {
	p.done <- res
	close(p.done)
	delete(r.pending, p.req.ID)
}
