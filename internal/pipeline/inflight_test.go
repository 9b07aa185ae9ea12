package pipeline

import (
	"testing"
	"time"
)

func TestInflightSetRejectsDuplicatesAndOverflow(t *testing.T) {
	t.Parallel()

	set := newInflightSet(2, 0)
	if !set.TryAcquire("intent:a") {
		t.Fatalf("expected first acquire to succeed")
	}
	if set.TryAcquire("intent:a") {
		t.Fatalf("expected duplicate acquire to fail")
	}
	if !set.TryAcquire("intent:b") {
		t.Fatalf("expected second key to fit")
	}
	if set.TryAcquire("intent:c") {
		t.Fatalf("expected full set to reject")
	}

	set.Release("intent:a")
	if !set.TryAcquire("intent:c") {
		t.Fatalf("expected immediate release without grace")
	}
}

func TestInflightSetHoldsKeyForGrace(t *testing.T) {
	t.Parallel()

	set := newInflightSet(8, 20*time.Millisecond)
	if !set.TryAcquire("intent:a") {
		t.Fatalf("expected acquire to succeed")
	}
	set.Release("intent:a")
	if set.TryAcquire("intent:a") {
		t.Fatalf("expected key to stay reserved during grace")
	}

	deadline := time.Now().Add(2 * time.Second)
	for set.Len() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("grace period never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !set.TryAcquire("intent:a") {
		t.Fatalf("expected key to be free after grace")
	}

	set.Close()
	if set.TryAcquire("intent:b") || set.Len() != 0 {
		t.Fatalf("expected closed set to reject and be empty")
	}
}
