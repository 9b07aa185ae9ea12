package db

import (
	"encoding/json"
	"fmt"
	"strings"
)

// textArrayLiteral renders values as a Postgres text[] literal so slices can
// travel as one bind parameter instead of being expanded by gorm.
func textArrayLiteral(values []string) string {
	var builder strings.Builder
	builder.WriteByte('{')
	for i, value := range values {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteByte('"')
		for _, r := range value {
			if r == '"' || r == '\\' {
				builder.WriteByte('\\')
			}
			builder.WriteRune(r)
		}
		builder.WriteByte('"')
	}
	builder.WriteByte('}')
	return builder.String()
}

// decodeTextArrayJSON parses the output of array_to_json(text[])::text.
func decodeTextArrayJSON(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
		return nil, fmt.Errorf("decode text array: %w", err)
	}
	return values, nil
}
