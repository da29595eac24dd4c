package proctor

import "testing"

func TestDecideCriticalTerminatesImmediately(t *testing.T) {
	for _, vt := range []ViolationType{ViolationMultipleFaces, ViolationPhoneDetected, ViolationTabSwitch} {
		t.Run(string(vt), func(t *testing.T) {
			v := Violation{Type: vt, Severity: SeverityCritical}
			// Regardless of how many violations came before.
			for _, total := range []int{1, 3, 100} {
				verdict := Decide(v, total)
				if !verdict.Terminate {
					t.Fatalf("critical %s with total %d should terminate", vt, total)
				}
				if verdict.Reason != ReasonCriticalViolation {
					t.Fatalf("reason = %q, want %q", verdict.Reason, ReasonCriticalViolation)
				}
			}
		})
	}
}

func TestDecideViolationLimit(t *testing.T) {
	v := Violation{Type: ViolationAudioDetected, Severity: SeverityLow}

	if verdict := Decide(v, 7); verdict.Terminate {
		t.Fatal("7 violations should not terminate")
	}
	verdict := Decide(v, 8)
	if !verdict.Terminate || verdict.Reason != ReasonViolationLimit {
		t.Fatalf("8th violation: got %+v, want limit termination", verdict)
	}
}

func TestDecideNoFaceTerminates(t *testing.T) {
	verdict := Decide(Violation{Type: ViolationNoFace, Severity: SeverityHigh}, 1)
	if !verdict.Terminate || verdict.Reason != ReasonLeftCameraFrame {
		t.Fatalf("got %+v, want %q", verdict, ReasonLeftCameraFrame)
	}
}

func TestDecideCriticalOutranksLimit(t *testing.T) {
	// When the critical violation is also the 8th, rule 1 wins.
	verdict := Decide(Violation{Type: ViolationTabSwitch, Severity: SeverityCritical}, 8)
	if verdict.Reason != ReasonCriticalViolation {
		t.Fatalf("reason = %q, want %q", verdict.Reason, ReasonCriticalViolation)
	}
}

func TestDecideContinue(t *testing.T) {
	tests := []struct {
		name  string
		last  Violation
		total int
	}{
		{"first looking_away", Violation{Type: ViolationLookingAway, Severity: SeverityMedium}, 1},
		{"high eye movement", Violation{Type: ViolationEyeMovement, Severity: SeverityHigh}, 3},
		{"low audio", Violation{Type: ViolationAudioDetected, Severity: SeverityLow}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verdict := Decide(tt.last, tt.total); verdict.Terminate {
				t.Fatalf("expected continue, got terminate(%s)", verdict.Reason)
			}
		})
	}
}
