// Package approval implements human sign-off for risk-classified plan steps.
//
// The Registry tracks outstanding approval requests keyed by an opaque ID.
// Each request carries a TTL and a single-use wait handle; resolving or
// expiring a request removes it, and late resolutions are no-ops that
// report failure rather than errors.
//
// The Gate composes a policy store with the Registry: Authorize evaluates
// the user's permission policy for a category and either returns an
// immediate verdict or suspends the calling step on the request's wait
// handle until a human resolves it, the TTL elapses, or the step's context
// is canceled. Suspension happens on the calling goroutine only; the
// executor's other plans are unaffected.
package approval
