package types

import (
	"time"
)

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Turn is one message in a session's history.
type Turn struct {
	Sender     Sender    `json:"sender"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Unanswered bool      `json:"unanswered,omitempty"`
}

// Session is one customer's conversation and the state accumulated from it.
type Session struct {
	ID            SessionID         `json:"id"`
	Key           SessionKey        `json:"key,omitempty"`
	History       []Turn            `json:"history"`
	Category      string            `json:"category,omitempty"`
	ExtractedData map[string]string `json:"extracted_data"`
	Stage         Stage             `json:"stage"`
	CreatedAt     time.Time         `json:"created_at"`
	LastActiveAt  time.Time         `json:"last_active_at"`
}

// Clone returns a deep copy of the session. The pipeline mutates clones only,
// so an aborted turn never leaves a half-updated record behind.
func (s *Session) Clone() *Session {
	c := *s
	c.History = append([]Turn(nil), s.History...)
	c.ExtractedData = make(map[string]string, len(s.ExtractedData))
	for k, v := range s.ExtractedData {
		c.ExtractedData[k] = v
	}
	return &c
}

// LastTurn returns the most recent turn, if any.
func (s *Session) LastTurn() (Turn, bool) {
	if len(s.History) == 0 {
		return Turn{}, false
	}
	return s.History[len(s.History)-1], true
}

// Info is the externally visible view of a session's state.
type Info struct {
	SessionID     SessionID         `json:"session_id"`
	Category      string            `json:"category,omitempty"`
	ExtractedData map[string]string `json:"extracted_data"`
	Stage         Stage             `json:"stage"`
	MessageCount  int               `json:"message_count"`
}

// Info builds the externally visible view of the session.
func (s *Session) Info() *Info {
	data := make(map[string]string, len(s.ExtractedData))
	for k, v := range s.ExtractedData {
		data[k] = v
	}
	return &Info{
		SessionID:     s.ID,
		Category:      s.Category,
		ExtractedData: data,
		Stage:         s.Stage,
		MessageCount:  len(s.History),
	}
}

// Summary is a row of the session listing.
type Summary struct {
	SessionID    SessionID `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Category     string    `json:"category,omitempty"`
}

// Summary builds the listing row for the session.
func (s *Session) Summary() Summary {
	return Summary{
		SessionID:    s.ID,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		Category:     s.Category,
	}
}

// IntermediateOutputs are the per-stage results of one turn, returned for
// diagnostics and never persisted on the session.
type IntermediateOutputs struct {
	Intent             string     `json:"intent"`
	CategoryCandidates []string   `json:"category_candidates"`
	SelectedCategory   string     `json:"selected_category,omitempty"`
	Confidence         float64    `json:"confidence"`
	TopicChanged       bool       `json:"topic_changed"`
	ExtractionSummary  string     `json:"extraction_summary,omitempty"`
	ExtractionArtifact ArtifactID `json:"extraction_artifact,omitempty"`
	RequestedFields    []string   `json:"requested_fields"`
	StagePath          StagePath  `json:"stage_path"`
}

// TurnResult is what a processed user message produces.
type TurnResult struct {
	SessionID    SessionID           `json:"session_id"`
	Response     string              `json:"response"`
	Timestamp    time.Time           `json:"timestamp"`
	Intermediate IntermediateOutputs `json:"intermediate_outputs"`
}

// ArtifactMeta describes a stored artifact.
type ArtifactMeta struct {
	ID        ArtifactID `json:"id"`
	SessionID SessionID  `json:"session_id"`
	RunID     RunID      `json:"run_id"`
	Stage     string     `json:"stage"`
	CreatedAt time.Time  `json:"created_at"`
	MimeType  string     `json:"mime_type,omitempty"`
}

// InboundMessage is a customer message arriving from any channel.
type InboundMessage struct {
	Source    string    `json:"source"`
	SessionID SessionID `json:"session_id"`
	Text      string    `json:"text"`
}
