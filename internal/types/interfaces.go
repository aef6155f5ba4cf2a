package types

import (
	"context"
	"encoding/json"
)

// SessionStore owns session records. Implementations return copies, never
// shared pointers, and report unknown identifiers with ErrSessionNotFound.
type SessionStore interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id SessionID) (*Session, error)
	FindByKey(ctx context.Context, key SessionKey) (*Session, error)
	Update(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id SessionID) error
	List(ctx context.Context) ([]*Session, error)
}

// EventStore keeps the per-session turn audit log. Append assigns Seq.
type EventStore interface {
	Append(ctx context.Context, event *Event) error
	Tail(ctx context.Context, sessionID SessionID, limit int, kinds ...EventType) ([]*Event, error)
	LastFailure(ctx context.Context, sessionID SessionID) (*Event, error)
	Purge(ctx context.Context, sessionID SessionID) error
}

type ArtifactStore interface {
	Put(ctx context.Context, sessionID SessionID, runID RunID, stage string, data any) (ArtifactID, error)
	Get(ctx context.Context, id ArtifactID) (json.RawMessage, error)
	GetMeta(ctx context.Context, id ArtifactID) (*ArtifactMeta, error)
	Purge(ctx context.Context, sessionID SessionID) error
}
