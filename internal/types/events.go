package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names an entry of a session's turn audit log.
type EventType string

const (
	EventSessionCreated   EventType = "session_created"
	EventUserMessage      EventType = "user_message"
	EventAssistantMessage EventType = "assistant_message"
	EventTurnFailed       EventType = "turn_failed"
	EventTopicChanged     EventType = "topic_changed"
)

// Event is one entry of a session's audit log.
type Event struct {
	ID        EventID         `json:"id"`
	SessionID SessionID       `json:"session_id"`
	RunID     RunID           `json:"run_id,omitempty"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	Source    string          `json:"source"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload"`
}

// MessagePayload records a customer message or an assistant reply.
type MessagePayload struct {
	Text      string `json:"text"`
	Key       string `json:"key,omitempty"`
	StagePath string `json:"stage_path,omitempty"`
	Category  string `json:"category,omitempty"`
	// RetryOf is the run whose failure this message retries.
	RetryOf RunID `json:"retry_of,omitempty"`
}

// FailurePayload records why a turn was abandoned.
type FailurePayload struct {
	Error string `json:"error"`
	Stage Stage  `json:"stage"`
}

// TopicPayload records a committed category switch.
type TopicPayload struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Confidence float64 `json:"confidence"`
}

// NewEvent builds an event stamped now, with payload encoded as JSON.
func NewEvent(sessionID SessionID, runID RunID, typ EventType, source string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return &Event{
		ID:        NewEventID(),
		SessionID: sessionID,
		RunID:     runID,
		Type:      typ,
		Source:    source,
		At:        time.Now(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
