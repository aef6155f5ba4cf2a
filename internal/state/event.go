package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/user/bankdesk/internal/types"
)

// maxEventLine bounds a single JSONL entry; customer messages can be long.
const maxEventLine = 1 << 20

// EventStore keeps each session's turn audit log as JSON lines in
// sessions/<id>/events.jsonl, next to the session record.
type EventStore struct {
	root string
	mu   sync.Mutex
	logs map[types.SessionID]*eventLog
}

// eventLog serializes access to one session's file and caches its last
// sequence number once the file has been read.
type eventLog struct {
	mu     sync.Mutex
	seq    int64
	loaded bool
}

// NewEventStore creates a file-backed EventStore rooted at root.
func NewEventStore(root string) *EventStore {
	return &EventStore{
		root: root,
		logs: make(map[types.SessionID]*eventLog),
	}
}

func (e *EventStore) log(sessionID types.SessionID) *eventLog {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.logs[sessionID]
	if !ok {
		l = &eventLog{}
		e.logs[sessionID] = l
	}
	return l
}

func (e *EventStore) eventsPath(sessionID types.SessionID) string {
	return filepath.Join(e.root, "sessions", string(sessionID), "events.jsonl")
}

// scan decodes the session's events in order and hands each to fn. A
// missing log is empty. Caller must hold the log lock.
func (e *EventStore) scan(sessionID types.SessionID, fn func(*types.Event)) error {
	f, err := os.Open(e.eventsPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		var event types.Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		fn(&event)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan events file: %w", err)
	}
	return nil
}

// Append writes event to the end of its session's log and assigns the next
// sequence number.
func (e *EventStore) Append(_ context.Context, event *types.Event) error {
	l := e.log(event.SessionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		err := e.scan(event.SessionID, func(existing *types.Event) {
			l.seq = max(l.seq, existing.Seq)
		})
		if err != nil {
			return err
		}
		l.loaded = true
	}

	path := e.eventsPath(event.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	event.Seq = l.seq + 1
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	l.seq = event.Seq
	return nil
}

// Tail returns up to limit of the session's latest events, oldest first.
// With kinds given, only events of those types count.
func (e *EventStore) Tail(_ context.Context, sessionID types.SessionID, limit int, kinds ...types.EventType) ([]*types.Event, error) {
	l := e.log(sessionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	var events []*types.Event
	err := e.scan(sessionID, func(event *types.Event) {
		if len(kinds) > 0 && !slices.Contains(kinds, event.Type) {
			return
		}
		events = append(events, event)
		if limit > 0 && len(events) > limit {
			events = events[1:]
		}
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// LastFailure returns the latest turn_failed event that no assistant reply
// has settled since, or nil when the conversation has no pending failure.
func (e *EventStore) LastFailure(_ context.Context, sessionID types.SessionID) (*types.Event, error) {
	l := e.log(sessionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	var pending *types.Event
	err := e.scan(sessionID, func(event *types.Event) {
		switch event.Type {
		case types.EventTurnFailed:
			pending = event
		case types.EventAssistantMessage:
			pending = nil
		}
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// Purge removes the session's event log.
func (e *EventStore) Purge(_ context.Context, sessionID types.SessionID) error {
	l := e.log(sessionID)
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.Remove(e.eventsPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove events file: %w", err)
	}

	e.mu.Lock()
	delete(e.logs, sessionID)
	e.mu.Unlock()
	return nil
}
