package approval

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jszach/conductor/internal/errors"
	"github.com/jszach/conductor/internal/event"
	"github.com/jszach/conductor/internal/logging"
	"github.com/jszach/conductor/internal/policy"
)

// DefaultTTL is the approval request lifetime used when the caller does
// not configure one.
const DefaultTTL = 5 * time.Minute

// Outcome is the final result of an authorization.
type Outcome int

const (
	// OutcomeAllowed permits the step to run.
	OutcomeAllowed Outcome = iota
	// OutcomeDenied rejects the step.
	OutcomeDenied
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Denial reasons produced by the gate for prompted categories.
const (
	ReasonRejected = "approval rejected"
	ReasonExpired  = "approval request expired"
)

// Decision is the gate's answer for one step.
type Decision struct {
	// Outcome is the final allow/deny result.
	Outcome Outcome

	// Reason is the human-readable denial reason. Empty for allowed.
	Reason string

	// ApprovalID is set when the decision went through a human approval,
	// whatever the outcome.
	ApprovalID string
}

// Allowed is a convenience accessor for Outcome == OutcomeAllowed.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}

// Gate composes the policy store with the approval registry. It makes
// immediate allow/deny decisions for configured categories and suspends
// the calling step on a wait handle for prompted ones.
type Gate struct {
	policies policy.Store
	registry *Registry
	bus      *event.Bus
	log      *logging.Logger
	ttl      atomic.Int64
}

// NewGate creates a Gate over the given policy store and registry.
// Approval request notifications are published on bus for the external
// notification transport to pick up; a nil bus disables publication. A
// zero ttl falls back to DefaultTTL.
func NewGate(policies policy.Store, registry *Registry, bus *event.Bus, log *logging.Logger, ttl time.Duration) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logging.NopLogger()
	}
	g := &Gate{
		policies: policies,
		registry: registry,
		bus:      bus,
		log:      log.WithComponent("gate"),
	}
	g.ttl.Store(int64(ttl))
	return g
}

// TTL returns how long new approval requests stay actionable.
func (g *Gate) TTL() time.Duration {
	return time.Duration(g.ttl.Load())
}

// SetTTL changes the TTL for requests created after the call. In-flight
// requests keep their original expiry. A non-positive ttl is ignored.
func (g *Gate) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		g.ttl.Store(int64(ttl))
	}
}

func (g *Gate) publish(ev event.Event) {
	if g.bus != nil {
		g.bus.Publish(ev)
	}
}

// Registry exposes the gate's approval registry for external resolution.
func (g *Gate) Registry() *Registry {
	return g.registry
}

// Authorize decides whether a step in the given risk category may run for
// the given user. For prompted categories it creates an approval request,
// publishes an approval.requested event for the external notifier, and
// blocks the calling goroutine until the request is resolved, expires, or
// ctx is canceled. Only the calling step suspends; the executor's other
// plans keep making progress.
//
// Cancellation returns a wrapped errors.ErrCanceled; every other path
// returns a Decision with a nil error.
func (g *Gate) Authorize(ctx context.Context, userID, planID string, category policy.Category, description string) (Decision, error) {
	pol, err := g.policies.Get(userID)
	if err != nil {
		return Decision{}, errors.NewPolicyError("failed to load policy", err).WithUserID(userID)
	}

	verdict, reason := policy.Evaluate(pol, category)
	switch verdict {
	case policy.VerdictAllow:
		return Decision{Outcome: OutcomeAllowed}, nil
	case policy.VerdictDeny:
		g.log.Info("permission denied", "user_id", userID, "category", category.String(), "reason", reason)
		return Decision{Outcome: OutcomeDenied, Reason: reason}, nil
	}

	// Prompted: suspend until a human resolves the request or it expires.
	req, done := g.registry.Create(userID, planID, category, description, g.TTL())
	g.log.Info("approval requested",
		"approval_id", req.ID, "user_id", userID, "category", category.String())
	g.publish(event.NewApprovalRequestedEvent(
		req.ID, userID, planID, category.String(), description, req.ExpiresAt))

	select {
	case res := <-done:
		return g.decide(req, res), nil
	case <-ctx.Done():
		// The step is being aborted; drop the request so a later resolve
		// is a clean no-op.
		g.registry.Discard(req.ID)
		g.log.Info("approval wait canceled", "approval_id", req.ID)
		return Decision{}, errors.NewApprovalError("authorization canceled", errors.ErrCanceled).
			WithApprovalID(req.ID).WithCategory(category.String())
	}
}

// decide converts a registry resolution into a final Decision and
// publishes the matching approval.resolved event.
func (g *Gate) decide(req Request, res Resolution) Decision {
	switch res {
	case ResolutionApproved:
		g.log.Info("approval granted", "approval_id", req.ID)
		g.publish(event.NewApprovalResolvedEvent(req.ID, true, false))
		return Decision{Outcome: OutcomeAllowed, ApprovalID: req.ID}
	case ResolutionExpired:
		g.log.Warn("approval expired", "approval_id", req.ID)
		g.publish(event.NewApprovalResolvedEvent(req.ID, false, true))
		return Decision{Outcome: OutcomeDenied, Reason: ReasonExpired, ApprovalID: req.ID}
	default:
		g.log.Info("approval rejected", "approval_id", req.ID)
		g.publish(event.NewApprovalResolvedEvent(req.ID, false, false))
		return Decision{Outcome: OutcomeDenied, Reason: ReasonRejected, ApprovalID: req.ID}
	}
}
