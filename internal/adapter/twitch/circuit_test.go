package twitch

import (
	"testing"
	"time"
)

func TestCircuitAllowsWhenClosed(t *testing.T) {
	c := newCircuit(time.Minute)
	if !c.Allow() {
		t.Fatal("a fresh circuit should allow calls")
	}
}

func TestCircuitOpensAfterFiveFailures(t *testing.T) {
	c := newCircuit(time.Minute)
	for i := 0; i < 4; i++ {
		c.RecordFailure()
		if !c.Allow() {
			t.Fatalf("circuit should stay closed before the 5th failure (i=%d)", i)
		}
	}
	c.RecordFailure()
	if c.Allow() {
		t.Fatal("circuit should open on the 5th consecutive failure")
	}
}

func TestCircuitSuccessResetsFailureCount(t *testing.T) {
	c := newCircuit(time.Minute)
	for i := 0; i < 4; i++ {
		c.RecordFailure()
	}
	c.RecordSuccess()
	for i := 0; i < 4; i++ {
		c.RecordFailure()
		if !c.Allow() {
			t.Fatalf("failure count should have reset after RecordSuccess (i=%d)", i)
		}
	}
}

func TestCircuitHalfOpenAfterCooldown(t *testing.T) {
	c := newCircuit(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		c.RecordFailure()
	}
	if c.Allow() {
		t.Fatal("circuit should be open immediately after tripping")
	}
	time.Sleep(20 * time.Millisecond)
	if !c.Allow() {
		t.Fatal("circuit should allow a trial call once the cooldown elapses (half-open)")
	}
}

func TestCircuitHalfOpenFailureReopens(t *testing.T) {
	c := newCircuit(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		c.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	if !c.Allow() {
		t.Fatal("expected half-open trial to be allowed")
	}
	c.RecordFailure()
	if c.Allow() {
		t.Fatal("a failed half-open trial should reopen the circuit")
	}
}

func TestCircuitHalfOpenSuccessCloses(t *testing.T) {
	c := newCircuit(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		c.RecordFailure()
	}
	time.Sleep(20 * time.Millisecond)
	if !c.Allow() {
		t.Fatal("expected half-open trial to be allowed")
	}
	c.RecordSuccess()
	if !c.Allow() {
		t.Fatal("a successful half-open trial should close the circuit")
	}
}
