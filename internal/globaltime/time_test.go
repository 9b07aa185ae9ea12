package globaltime

import (
	"testing"
	"time"
)

func TestFreezeAndRestore(t *testing.T) {
	frozen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("UTC+3", 3*3600))
	restore := Freeze(frozen)

	if got := Now(); !got.Equal(frozen) {
		t.Fatalf("unexpected frozen time: got %v want %v", got, frozen)
	}
	if got := UTC(); got.Location() != time.UTC || !got.Equal(frozen) {
		t.Fatalf("unexpected utc time: got %v", got)
	}
	if got := SinceMs(frozen.Add(-1500 * time.Millisecond)); got != 1500 {
		t.Fatalf("unexpected elapsed ms: got %d want 1500", got)
	}

	restore()
	if got := Now(); got.Equal(frozen) {
		t.Fatalf("clock still frozen after restore")
	}
}
