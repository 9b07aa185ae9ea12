package language

import "testing"

func TestNormalizeTag(t *testing.T) {
	t.Parallel()

	if got := NormalizeTag(" EN_us "); got != "en-us" {
		t.Fatalf("unexpected normalized tag: %q", got)
	}
	if got := NormalizeTag("zh-Hans"); got != "zh-hans" {
		t.Fatalf("unexpected normalized tag: %q", got)
	}
	if got := NormalizeTag("en--US"); got != "en-us" {
		t.Fatalf("unexpected collapsed tag: %q", got)
	}
	if got := NormalizeTag("en_123"); got != "" {
		t.Fatalf("expected invalid tag to normalize to empty string, got %q", got)
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	if got := NormalizeCode(" EN-us "); got != "en" {
		t.Fatalf("unexpected normalized code: %q", got)
	}
	if got := NormalizeCode("zh"); got != "zh" {
		t.Fatalf("unexpected normalized code: %q", got)
	}
	if got := NormalizeCode(" "); got != "" {
		t.Fatalf("expected empty code for blank input, got %q", got)
	}
}

func TestDeclared(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"ru-RU": "ru",
		"auto":  "",
		"und":   "",
		"":      "",
		"e1":    "",
		" EN ":  "en",
	}
	for in, want := range cases {
		if got := Declared(in); got != want {
			t.Fatalf("unexpected declared code for %q: got %q want %q", in, got, want)
		}
	}
}

func TestSameLanguage(t *testing.T) {
	t.Parallel()

	if !SameLanguage("en-GB", "en") {
		t.Fatalf("expected en-GB and en to share a primary subtag")
	}
	if SameLanguage("und", "und") {
		t.Fatalf("did not expect undetermined codes to match")
	}
	if got := OrUndetermined(""); got != Undetermined {
		t.Fatalf("unexpected fallback code: %q", got)
	}
}
