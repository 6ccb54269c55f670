package pulling

import (
	"sync"
	"time"
)

// EntryState is a ScheduledEntry's lifecycle state (spec.md §3).
type EntryState int

// Registry entry states.
const (
	StatePending EntryState = iota
	StateInFlight
	StateCooldown
	StateCancelled
)

func (s EntryState) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateInFlight:
		return "IN_FLIGHT"
	case StateCooldown:
		return "COOLDOWN"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// AdmitOutcome is the result of RequestRegistry.Admit.
type AdmitOutcome int

// Admission outcomes.
const (
	Admitted AdmitOutcome = iota
	DuplicateDrop
	CooldownDefer
)

// ScheduledEntry is the registry's record for one fingerprint (spec.md §3).
type ScheduledEntry struct {
	Fingerprint   string
	State         EntryState
	AttemptCount  int
	LastAttempt   time.Time
	NextEligible  time.Time
	Request       FeedRequest
}

// RequestRegistry is the single source of truth for request identity: it
// must be consulted before any HTTP work is scheduled (spec.md §4.2).
type RequestRegistry struct {
	mu       sync.Mutex
	entries  map[string]*ScheduledEntry
	handles  map[Handle]string
}

// NewRequestRegistry constructs an empty registry.
func NewRequestRegistry() *RequestRegistry {
	return &RequestRegistry{
		entries: make(map[string]*ScheduledEntry),
		handles: make(map[Handle]string),
	}
}

// RegisterHandle records the opaque Handle issued for a periodic
// fingerprint, so Cancel can later resolve it without the caller holding
// any reference into the engine (spec.md §9).
func (r *RequestRegistry) RegisterHandle(h Handle, fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h] = fingerprint
}

// ResolveHandle looks up the fingerprint a Handle was issued for.
func (r *RequestRegistry) ResolveHandle(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fp, ok := r.handles[h]
	return fp, ok
}

// Admit applies the de-duplication policy from spec.md §4.2: PENDING/
// IN_FLIGHT is a DUPLICATE_DROP, COOLDOWN before nextEligible is a
// COOLDOWN_DEFER(t), anything else (unseen fingerprint, or COOLDOWN past
// nextEligible) is ADMITTED and transitions/creates the entry as PENDING.
func (r *RequestRegistry) Admit(req FeedRequest, now time.Time) (AdmitOutcome, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fp := req.Fingerprint()
	entry, ok := r.entries[fp]
	if !ok {
		r.entries[fp] = &ScheduledEntry{
			Fingerprint: fp,
			State:       StatePending,
			Request:     req,
		}
		return Admitted, time.Time{}
	}

	switch entry.State {
	case StatePending, StateInFlight:
		return DuplicateDrop, time.Time{}
	case StateCooldown:
		if now.Before(entry.NextEligible) {
			return CooldownDefer, entry.NextEligible
		}
		entry.State = StatePending
		entry.Request = req
		return Admitted, time.Time{}
	case StateCancelled:
		entry.State = StatePending
		entry.Request = req
		entry.AttemptCount = 0
		return Admitted, time.Time{}
	default:
		return DuplicateDrop, time.Time{}
	}
}

// MarkInFlight transitions an entry to IN_FLIGHT and bumps its attempt
// count and last-attempt timestamp.
func (r *RequestRegistry) MarkInFlight(fingerprint string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[fingerprint]
	if !ok {
		return
	}
	entry.State = StateInFlight
	entry.AttemptCount++
	entry.LastAttempt = now
}

// CompletionOutcome describes how an in-flight attempt ended, for
// MarkCompleted.
type CompletionOutcome struct {
	Success bool
	// Retry, if set (Success == false), is consulted to place the entry in
	// COOLDOWN with the given delay. A nil Retry, or a GiveUp decision, with
	// Success == false means the retries are exhausted: the entry is
	// removed (one-shot) or moved to COOLDOWN until its next tick
	// (periodic; failed periodic pulls stay scheduled and are never
	// CANCELLED by a give-up).
	Retry *RetryDecision
}

// MarkCompleted applies the outcome of one attempt: on success, a one-shot
// entry is removed and a periodic entry moves to COOLDOWN until its next
// tick; on failure, the entry moves to COOLDOWN per the retry decision, or
// is removed/kept scheduled once retries are exhausted (spec.md §4.5,
// §4.2).
func (r *RequestRegistry) MarkCompleted(fingerprint string, outcome CompletionOutcome, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[fingerprint]
	if !ok {
		return
	}

	if outcome.Success {
		if entry.Request.IsPeriodic() {
			entry.State = StateCooldown
			entry.NextEligible = now.Add(entry.Request.Schedule().Interval)
			entry.AttemptCount = 0
		} else {
			delete(r.entries, fingerprint)
		}
		return
	}

	if outcome.Retry != nil && !outcome.Retry.GiveUp {
		entry.State = StateCooldown
		entry.NextEligible = now.Add(outcome.Retry.After)
		return
	}

	// Retries exhausted.
	if entry.Request.IsPeriodic() {
		entry.State = StateCooldown
		entry.NextEligible = now.Add(entry.Request.Schedule().Interval)
		entry.AttemptCount = 0
	} else {
		delete(r.entries, fingerprint)
	}
}

// Cancel marks an entry CANCELLED. The caller is responsible for aborting
// any in-flight transport request.
func (r *RequestRegistry) Cancel(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[fingerprint]; ok {
		entry.State = StateCancelled
	}
}

// Lookup returns a copy of the entry for fingerprint, if present.
func (r *RequestRegistry) Lookup(fingerprint string) (ScheduledEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[fingerprint]
	if !ok {
		return ScheduledEntry{}, false
	}
	return *entry, true
}

// DueRequests returns the FeedRequests for entries in COOLDOWN whose
// NextEligible has passed: periodic entries awaiting their next tick and
// entries (one-shot or periodic) awaiting a retry (spec.md §4.2).
func (r *RequestRegistry) DueRequests(now time.Time) []FeedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []FeedRequest
	for _, entry := range r.entries {
		if entry.State == StateCooldown && !now.Before(entry.NextEligible) {
			due = append(due, entry.Request)
		}
	}
	return due
}
