package db

import "testing"

func TestTextArrayLiteralEscapes(t *testing.T) {
	t.Parallel()

	if got := textArrayLiteral(nil); got != "{}" {
		t.Fatalf("unexpected empty literal: %q", got)
	}
	got := textArrayLiteral([]string{"u1", `we"ird\id`})
	want := `{"u1","we\"ird\\id"}`
	if got != want {
		t.Fatalf("unexpected literal: got %s want %s", got, want)
	}
}

func TestDecodeTextArrayJSON(t *testing.T) {
	t.Parallel()

	values, err := decodeTextArrayJSON(`["u1","u2"]`)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(values) != 2 || values[0] != "u1" || values[1] != "u2" {
		t.Fatalf("unexpected values: %v", values)
	}

	values, err = decodeTextArrayJSON("")
	if err != nil || len(values) != 0 {
		t.Fatalf("expected empty array for blank input, got %v (%v)", values, err)
	}

	if _, err := decodeTextArrayJSON("{u1}"); err == nil {
		t.Fatalf("expected non-json input to fail")
	}
}
