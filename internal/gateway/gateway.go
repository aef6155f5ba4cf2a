package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/bankdesk/internal/prompt"
	"github.com/user/bankdesk/internal/types"
)

// ErrEmptyMessage is returned by PostMessage for blank text.
var ErrEmptyMessage = errors.New("message is empty")

// Gateway is the session-facing service used by every channel. It owns
// session lifecycle and routes each inbound message through the session's
// lane, so at most one turn per session is in flight.
type Gateway struct {
	sessions  types.SessionStore
	events    types.EventStore
	artifacts types.ArtifactStore
	Queue     *Queue

	// keyMu serializes ResolveOrCreate so one key never yields two sessions
	keyMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway wired to the provided stores with the given
// concurrency limit for simultaneous turn processing.
func New(sessions types.SessionStore, events types.EventStore, artifacts types.ArtifactStore, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 4
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	return &Gateway{
		sessions:  sessions,
		events:    events,
		artifacts: artifacts,
		Queue:     NewQueue(concurrency),
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
}

func (g *Gateway) record(ctx context.Context, sessionID types.SessionID, typ types.EventType, payload any) {
	event, err := types.NewEvent(sessionID, "", typ, "gateway", payload)
	if err == nil {
		err = g.events.Append(ctx, event)
	}
	if err != nil {
		slog.Warn("failed to record event", "session_id", string(sessionID), "type", string(typ), "error", err)
	}
}

// CreateSession starts a new conversation whose history holds only the
// assistant greeting. key may be empty.
func (g *Gateway) CreateSession(ctx context.Context, key types.SessionKey) (*types.Session, error) {
	now := time.Now()
	session := &types.Session{
		ID:  types.NewSessionID(),
		Key: key,
		History: []types.Turn{
			{Sender: types.SenderAssistant, Text: prompt.Greeting, Timestamp: now},
		},
		ExtractedData: make(map[string]string),
		Stage:         types.StageGreeting,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	if err := g.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	g.record(ctx, session.ID, types.EventSessionCreated, types.MessagePayload{Text: prompt.Greeting, Key: string(key)})
	slog.Info("session created", "session_id", string(session.ID), "key", string(key))
	return session, nil
}

// ResolveOrCreate returns the session owning key, creating one if needed.
// created reports whether a new session was made.
func (g *Gateway) ResolveOrCreate(ctx context.Context, key types.SessionKey) (session *types.Session, created bool, err error) {
	g.keyMu.Lock()
	defer g.keyMu.Unlock()

	session, err = g.sessions.FindByKey(ctx, key)
	if err == nil {
		return session, false, nil
	}
	if !errors.Is(err, types.ErrSessionNotFound) {
		return nil, false, fmt.Errorf("resolve session: %w", err)
	}

	session, err = g.CreateSession(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return session, true, nil
}

// PostMessage runs one conversation turn and waits for its outcome. On a
// failed turn the returned result carries an apology reply alongside the
// error; callers must still surface the error.
func (g *Gateway) PostMessage(ctx context.Context, id types.SessionID, text string) (*types.TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := g.sessions.Get(ctx, id); err != nil {
		return nil, err
	}

	type outcome struct {
		result *types.TurnResult
		err    error
	}
	done := make(chan outcome, 1)

	run := NewRun(id, &types.InboundMessage{SessionID: id, Text: text})
	run.Ctx = ctx
	run.OnComplete = func(result *types.TurnResult, err error) {
		done <- outcome{result: result, err: err}
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, err
	}

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for turn: %w", ctx.Err())
	case <-g.Queue.Done():
		return nil, fmt.Errorf("gateway stopped: %w", context.Canceled)
	}
}

// SessionInfo returns the externally visible state of a session.
func (g *Gateway) SessionInfo(ctx context.Context, id types.SessionID) (*types.Info, error) {
	session, err := g.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return session.Info(), nil
}

// Session returns the full session record, history included.
func (g *Gateway) Session(ctx context.Context, id types.SessionID) (*types.Session, error) {
	return g.sessions.Get(ctx, id)
}

// Timeline returns up to limit of the session's latest turn events, oldest
// first.
func (g *Gateway) Timeline(ctx context.Context, id types.SessionID, limit int) ([]*types.Event, error) {
	if _, err := g.sessions.Get(ctx, id); err != nil {
		return nil, err
	}
	return g.events.Tail(ctx, id, limit,
		types.EventUserMessage,
		types.EventAssistantMessage,
		types.EventTurnFailed,
		types.EventTopicChanged,
	)
}

// DeleteSession removes the session, its lane, its event log and its
// artifacts.
func (g *Gateway) DeleteSession(ctx context.Context, id types.SessionID) error {
	if err := g.sessions.Delete(ctx, id); err != nil {
		return err
	}
	g.Queue.Drop(id)

	if err := g.events.Purge(ctx, id); err != nil {
		slog.Warn("failed to purge events", "session_id", string(id), "error", err)
	}
	if err := g.artifacts.Purge(ctx, id); err != nil {
		slog.Warn("failed to purge artifacts", "session_id", string(id), "error", err)
	}
	slog.Info("session deleted", "session_id", string(id))
	return nil
}

// ListSessions returns a summary of every session, most recently active first.
func (g *Gateway) ListSessions(ctx context.Context) ([]types.Summary, error) {
	sessions, err := g.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActiveAt.After(sessions[j].LastActiveAt)
	})

	out := make([]types.Summary, len(sessions))
	for i, s := range sessions {
		out[i] = s.Summary()
	}
	return out, nil
}

// EvictIdle deletes every session inactive for longer than ttl and returns
// the evicted records.
func (g *Gateway) EvictIdle(ctx context.Context, ttl time.Duration) ([]*types.Session, error) {
	sessions, err := g.sessions.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	cutoff := time.Now().Add(-ttl)
	var evicted []*types.Session
	for _, s := range sessions {
		if !s.LastActiveAt.Before(cutoff) {
			continue
		}
		if err := g.DeleteSession(ctx, s.ID); err != nil {
			if errors.Is(err, types.ErrSessionNotFound) {
				continue
			}
			return evicted, fmt.Errorf("evict session %s: %w", s.ID, err)
		}
		evicted = append(evicted, s)
	}
	return evicted, nil
}
