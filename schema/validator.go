package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skypol2113/magic-worker/internal/language"
)

const intentSchemaName = "intent.schema.json"

//go:embed intent.schema.json
var intentSchemaJSON string

// IntentPayload is a request to publish one intent or wish.
type IntentPayload struct {
	ID      string `json:"id,omitempty"`
	OwnerID string `json:"owner_id"`
	Kind    string `json:"kind,omitempty"`
	Text    string `json:"text"`
	Lang    string `json:"lang,omitempty"`
	Status  string `json:"status,omitempty"`
}

// PayloadError lists every rejected field. The key "payload" stands for the
// document root, where missing and unknown properties are reported.
type PayloadError struct {
	Fields map[string]string
}

func (e *PayloadError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, message := range e.Fields {
		parts = append(parts, field+": "+message)
	}
	slices.Sort(parts)
	return "invalid intent payload: " + strings.Join(parts, "; ")
}

var intentSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(intentSchemaName, strings.NewReader(intentSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(intentSchemaName)
})

// ValidateIntentPayload checks payload against the intent schema and returns
// it with owner trimmed and lang normalized. Rejections are *PayloadError.
func ValidateIntentPayload(payload json.RawMessage) (*IntentPayload, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, &PayloadError{Fields: map[string]string{"payload": err.Error()}}
	}

	schema, err := intentSchema()
	if err != nil {
		return nil, fmt.Errorf("load intent schema: %w", err)
	}
	if err := schema.Validate(value); err != nil {
		var validationErr *jsonschema.ValidationError
		if errors.As(err, &validationErr) {
			return nil, &PayloadError{Fields: fieldErrors(validationErr)}
		}
		return nil, fmt.Errorf("validate intent payload: %w", err)
	}

	var item IntentPayload
	if err := json.Unmarshal(bytes.TrimSpace(payload), &item); err != nil {
		return nil, fmt.Errorf("unmarshal intent payload: %w", err)
	}
	if fields := validateSemantics(&item); len(fields) > 0 {
		return nil, &PayloadError{Fields: fields}
	}
	return &item, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("malformed JSON: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

// fieldErrors flattens the schema error tree into one message per field.
func fieldErrors(root *jsonschema.ValidationError) map[string]string {
	fields := make(map[string]string)
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			field := strings.TrimPrefix(e.InstanceLocation, "/")
			if field == "" {
				field = "payload"
			}
			if _, seen := fields[field]; !seen {
				fields[field] = e.Message
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(root)
	return fields
}

func validateSemantics(item *IntentPayload) map[string]string {
	fields := make(map[string]string)

	item.OwnerID = strings.TrimSpace(item.OwnerID)
	if item.OwnerID == "" {
		fields["owner_id"] = "must not be blank"
	}
	if strings.TrimSpace(item.Text) == "" {
		fields["text"] = "must not be blank"
	}

	lang := strings.TrimSpace(item.Lang)
	item.Lang = language.NormalizeTag(lang)
	if lang != "" && item.Lang == "" {
		fields["lang"] = "must be a language tag or auto"
	}
	return fields
}
