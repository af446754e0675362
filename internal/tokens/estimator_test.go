package tokens

import "testing"

func TestCharacterFallback(t *testing.T) {
	var e *Estimator
	if got := e.Count("abcdefgh"); got != 2 {
		t.Errorf("nil estimator = %d, want 2", got)
	}
	empty := &Estimator{}
	if got := empty.Count("abcde"); got != 2 {
		t.Errorf("no encoding = %d, want 2", got)
	}
}

func TestEstimateIsPositive(t *testing.T) {
	// Get falls back to the character estimate when the encoding cannot be
	// loaded offline, so only check the result is sane.
	if got := Estimate("Transcribe this audio exactly as spoken."); got <= 0 {
		t.Errorf("Estimate = %d", got)
	}
}
