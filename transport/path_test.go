package transport

import "testing"

func TestPathValidatorChallengeResponse(t *testing.T) {
	var p pathValidator
	f, err := p.challenge()
	if err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if !p.pending {
		t.Fatal("pending should be true after challenge()")
	}
	if !p.onResponse(f.data) {
		t.Fatal("onResponse should accept the matching challenge data")
	}
	if p.pending {
		t.Fatal("pending should be false once validated")
	}
	if !p.validated {
		t.Fatal("validated should be true after a matching response")
	}
}

func TestPathValidatorMismatchedResponse(t *testing.T) {
	var p pathValidator
	if _, err := p.challenge(); err != nil {
		t.Fatalf("challenge: %v", err)
	}
	if p.onResponse([8]byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatal("onResponse should reject data that doesn't match the outstanding challenge")
	}
	if !p.pending {
		t.Fatal("pending should remain true after a mismatched response")
	}
}

func TestPathValidatorNoOutstandingChallenge(t *testing.T) {
	var p pathValidator
	if p.onResponse([8]byte{}) {
		t.Fatal("onResponse should reject a response when no challenge is pending")
	}
}

func TestPathValidatorAmplificationLimit(t *testing.T) {
	var p pathValidator
	p.addReceived(100)
	if got := p.amplificationAvailable(); got != 300 {
		t.Fatalf("amplificationAvailable = %d, want 300", got)
	}
	p.addSent(250)
	if got := p.amplificationAvailable(); got != 50 {
		t.Fatalf("amplificationAvailable after sending = %d, want 50", got)
	}
	p.addSent(50)
	if got := p.amplificationAvailable(); got != 0 {
		t.Fatalf("amplificationAvailable once exhausted = %d, want 0", got)
	}
}

func TestPathValidatorAmplificationUnlimitedOnceValidated(t *testing.T) {
	var p pathValidator
	f, _ := p.challenge()
	p.onResponse(f.data)
	if got := p.amplificationAvailable(); got != -1 {
		t.Fatalf("amplificationAvailable once validated = %d, want -1 (unlimited)", got)
	}
}

func TestPathValidatorInitClientIsAlwaysValidated(t *testing.T) {
	var p pathValidator
	p.initClient()
	if got := p.amplificationAvailable(); got != -1 {
		t.Fatalf("a client's own path should never be amplification-limited, got %d", got)
	}
}

func TestPathValidatorMigrateResetsState(t *testing.T) {
	var p pathValidator
	f, _ := p.challenge()
	p.onResponse(f.data)
	p.addReceived(1000)
	p.addSent(1000)
	p.migrate()
	if p.validated {
		t.Fatal("migrate should reset validated so the new path is re-proven")
	}
	if got := p.amplificationAvailable(); got != 0 {
		t.Fatalf("amplificationAvailable right after migrate = %d, want 0 (no bytes received yet on the new path)", got)
	}
}
