package proctor

// ViolationLimit is the count of accepted violations, regardless of
// severity, at which a session is terminated.
const ViolationLimit = 8

// Termination reasons surfaced in the final result record.
const (
	ReasonCriticalViolation = "critical violation"
	ReasonViolationLimit    = "violation limit reached"
	ReasonLeftCameraFrame   = "left camera frame"
)

// Verdict is the outcome of a termination policy evaluation.
type Verdict struct {
	Terminate bool
	Reason    string
}

// Continue is the non-terminating verdict.
var Continue = Verdict{}

// Decide evaluates the termination policy after an accepted violation.
// It is a pure function of the most recent violation and the total
// accepted count; rules are checked in order:
//
//  1. A critical violation disqualifies immediately. This covers multiple
//     faces, detected objects, and tab switches.
//  2. Reaching the violation limit terminates regardless of severity mix.
//  3. A high-severity no-face violation terminates on its own. No-face
//     candidates inside the grace period never reach the ledger, so in
//     practice this fires on the first post-grace absence.
func Decide(last Violation, totalAccepted int) Verdict {
	if last.Severity == SeverityCritical {
		return Verdict{Terminate: true, Reason: ReasonCriticalViolation}
	}
	if totalAccepted >= ViolationLimit {
		return Verdict{Terminate: true, Reason: ReasonViolationLimit}
	}
	if last.Type == ViolationNoFace && last.Severity == SeverityHigh {
		return Verdict{Terminate: true, Reason: ReasonLeftCameraFrame}
	}
	return Continue
}
