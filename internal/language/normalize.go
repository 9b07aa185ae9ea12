package language

import "strings"

const (
	// Undetermined is the ISO 639-2 code used whenever detection gives up.
	Undetermined = "und"
	// Auto marks a declared language that should be detected instead.
	Auto = "auto"
)

// NormalizeTag normalizes a language tag to lowercase and "-" separators.
// Returns an empty string when the value is blank or contains invalid characters.
func NormalizeTag(raw string) string {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" {
		return ""
	}

	trimmed = strings.ReplaceAll(trimmed, "_", "-")
	parts := strings.Split(trimmed, "-")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !isAlphaLower(part) {
			return ""
		}
		normalized = append(normalized, part)
	}

	if len(normalized) == 0 {
		return ""
	}
	return strings.Join(normalized, "-")
}

// NormalizeCode returns the primary language subtag (for example, "en" from "en-US").
func NormalizeCode(raw string) string {
	tag := NormalizeTag(raw)
	if tag == "" {
		return ""
	}
	if dash := strings.IndexByte(tag, '-'); dash >= 0 {
		return tag[:dash]
	}
	return tag
}

// Declared returns the usable primary code of a publisher-declared language.
// "auto", "und" and malformed values yield "", meaning the text must be detected.
func Declared(raw string) string {
	code := NormalizeCode(raw)
	switch code {
	case "", Auto, Undetermined:
		return ""
	}
	return code
}

// OrUndetermined maps an empty code to Undetermined.
func OrUndetermined(code string) string {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return Undetermined
	}
	return normalized
}

// IsUndetermined reports whether code carries no usable language.
func IsUndetermined(code string) bool {
	normalized := NormalizeCode(code)
	return normalized == "" || normalized == Undetermined || normalized == Auto
}

// SameLanguage compares two codes by primary subtag. Undetermined codes never match.
func SameLanguage(a, b string) bool {
	if IsUndetermined(a) || IsUndetermined(b) {
		return false
	}
	return NormalizeCode(a) == NormalizeCode(b)
}

func isAlphaLower(value string) bool {
	for _, r := range value {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
