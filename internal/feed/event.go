// Package feed turns intent changes in Postgres into engine events. A trigger
// publishes row changes with pg_notify; Listener consumes them on a dedicated
// connection and Router forwards them to the engine.
package feed

import (
	"encoding/json"
	"fmt"
	"strings"
)

const Channel = "intent_events"

type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventRemoved  EventType = "removed"
)

// Event is one change to the intents table.
type Event struct {
	Type     EventType `json:"type"`
	Kind     string    `json:"kind"`
	IntentID string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
}

// ParseEvent decodes a notification payload.
func ParseEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, fmt.Errorf("decode intent event: %w", err)
	}

	event.Type = EventType(strings.ToLower(strings.TrimSpace(string(event.Type))))
	event.IntentID = strings.TrimSpace(event.IntentID)
	event.Kind = strings.ToLower(strings.TrimSpace(event.Kind))

	switch event.Type {
	case EventAdded, EventModified, EventRemoved:
	default:
		return Event{}, fmt.Errorf("unknown intent event type %q", event.Type)
	}
	if event.IntentID == "" {
		return Event{}, fmt.Errorf("intent event is missing an id")
	}
	return event, nil
}
