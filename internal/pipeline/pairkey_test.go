package pipeline

import "testing"

func TestPairKeyIsSymmetric(t *testing.T) {
	t.Parallel()

	forward := PairKey("u1", "u2", "intent-a", "intent-b")
	reverse := PairKey("u2", "u1", "intent-b", "intent-a")
	if forward != reverse {
		t.Fatalf("unexpected asymmetric pair key: got %q and %q", forward, reverse)
	}
	if forward != "16a59c57e5373ee6" {
		t.Fatalf("unexpected pair key: got %q want %q", forward, "16a59c57e5373ee6")
	}
	if other := PairKey("u1", "u3", "intent-a", "intent-b"); other == forward {
		t.Fatalf("expected different owners to produce a different key")
	}
}

func TestFingerprintChangesWithText(t *testing.T) {
	t.Parallel()

	if Fingerprint("sell my car") == Fingerprint("sell my car ") {
		t.Fatalf("expected whitespace change to alter fingerprint")
	}
	if got := len(Fingerprint("")); got != 64 {
		t.Fatalf("unexpected fingerprint length: got %d want 64", got)
	}
}

func TestCategories(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		want string
	}{
		{text: "I want to sell my car", want: "auto"},
		{text: "Продаю машину", want: "auto"},
		{text: "learn guitar and meet friends", want: "learning,social"},
		{text: "Trip to the mountains", want: "travel"},
		{text: "quiet evening", want: "general"},
	}
	for _, tc := range cases {
		if got := joined(Categories(tc.text)); got != tc.want {
			t.Fatalf("unexpected categories for %q: got %q want %q", tc.text, got, tc.want)
		}
	}
}

func TestLabelAndMatchedText(t *testing.T) {
	t.Parallel()

	if got := Label(CategoryAuto); got != "market" {
		t.Fatalf("unexpected label: got %q want market", got)
	}
	if got := Label("unknown"); got != "magic" {
		t.Fatalf("unexpected fallback label: got %q want magic", got)
	}
	if got := MatchedText("I want to sell my car", CategoryAuto); got != "Interested in cars: I want" {
		t.Fatalf("unexpected matched text: %q", got)
	}
	if got := MatchedText("  ", CategoryGeneral); got != "I'm also interested in: interest" {
		t.Fatalf("unexpected empty matched text: %q", got)
	}
}

func TestKeywordScore(t *testing.T) {
	t.Parallel()

	cases := []struct {
		source    string
		candidate string
		want      float64
	}{
		{source: "guitar lessons", candidate: "cheap guitar lessons downtown", want: 0.9},
		{source: "продаю машину", candidate: "куплю машины", want: 0.78},
		{source: "sell my car", candidate: "buy a car", want: 0.78},
		{source: "sell my car", candidate: "cars wanted", want: 0.78},
		{source: "авто в аренду", candidate: "ищу автомобиль", want: 0.78},
		{source: "greeting card", candidate: "car wash", want: 0},
		{source: "scar treatment", candidate: "skin care for a car", want: 0},
		{source: "evening walks", candidate: "walks in the park", want: 0.75},
		{source: "chess club", candidate: "pottery class", want: 0},
	}
	for _, tc := range cases {
		if got := keywordScore(tc.source, tc.candidate); got != tc.want {
			t.Fatalf("unexpected score for %q vs %q: got %v want %v", tc.source, tc.candidate, got, tc.want)
		}
	}
}
