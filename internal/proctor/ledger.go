package proctor

import "time"

// DebounceWindow is the per-type duplicate suppression window.
const DebounceWindow = 3000 * time.Millisecond

// InitialTrustScore is the trust score every session starts with.
const InitialTrustScore = 100

// Ledger decides whether a candidate becomes an accepted violation and
// applies its trust score penalty. The debounce window is per-type, so two
// different violation types can be accepted in the same millisecond.
//
// Not safe for concurrent use; the owning session serializes access.
type Ledger struct {
	lastAccepted map[ViolationType]time.Time
	log          []Violation
	trust        int
}

// NewLedger creates an empty ledger with a full trust score.
func NewLedger() *Ledger {
	return &Ledger{
		lastAccepted: make(map[ViolationType]time.Time),
		trust:        InitialTrustScore,
	}
}

// Submit runs the debounce check for a candidate arriving at time now.
// If accepted it appends the violation to the log, deducts the severity
// penalty (floored at 0), and returns it with ok=true. Discarded
// candidates leave no trace.
//
// Tab-switch candidates bypass debouncing: a session can only terminate
// once, so suppressing a repeat would change nothing but hide the event.
func (l *Ledger) Submit(c Candidate, now time.Time) (Violation, bool) {
	if c.Type != ViolationTabSwitch {
		if prev, ok := l.lastAccepted[c.Type]; ok && now.Sub(prev) < DebounceWindow {
			return Violation{}, false
		}
	}

	v := Violation{
		Type:      c.Type,
		Severity:  c.Severity,
		Timestamp: now,
		Evidence:  c.Evidence,
	}
	l.log = append(l.log, v)
	l.lastAccepted[c.Type] = now

	l.trust -= c.Severity.Penalty()
	if l.trust < 0 {
		l.trust = 0
	}

	return v, true
}

// TrustScore returns the current trust score in [0,100]. It never
// increases over the ledger's lifetime.
func (l *Ledger) TrustScore() int {
	return l.trust
}

// Count returns the number of accepted violations.
func (l *Ledger) Count() int {
	return len(l.log)
}

// Violations returns a copy of the accepted violation log in acceptance
// order.
func (l *Ledger) Violations() []Violation {
	out := make([]Violation, len(l.log))
	copy(out, l.log)
	return out
}
