package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/user/bankdesk/internal/types"
)

func newSession(key types.SessionKey) *types.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &types.Session{
		ID:  types.NewSessionID(),
		Key: key,
		History: []types.Turn{
			{Sender: types.SenderAssistant, Text: "Hello! How can I help?", Timestamp: now},
		},
		ExtractedData: map[string]string{},
		Stage:         types.StageGreeting,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
}

// sessionStoreContract runs the behaviour every SessionStore backend must share.
func sessionStoreContract(t *testing.T, store types.SessionStore) {
	t.Helper()
	ctx := context.Background()

	key := types.NewSessionKey("test", "123")
	session := newSession(key)
	if err := store.Create(ctx, session); err != nil {
		t.Fatal(err)
	}

	// Test get
	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Key != key || got.Stage != types.StageGreeting || len(got.History) != 1 {
		t.Errorf("unexpected session: %+v", got)
	}

	// Test key lookup and uniqueness
	byKey, err := store.FindByKey(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if byKey.ID != session.ID {
		t.Errorf("expected %s for key, got %s", session.ID, byKey.ID)
	}
	if err := store.Create(ctx, newSession(key)); !errors.Is(err, ErrKeyInUse) {
		t.Errorf("expected ErrKeyInUse for duplicate key, got %v", err)
	}
	if _, err := store.FindByKey(ctx, "test:missing"); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound for unknown key, got %v", err)
	}

	// Test update
	got.Category = "Account Opening"
	got.ExtractedData["full_name"] = "Jane Doe"
	got.Stage = types.StageCollecting
	got.History = append(got.History, types.Turn{Sender: types.SenderUser, Text: "I want to open an account", Timestamp: time.Now()})
	if err := store.Update(ctx, got); err != nil {
		t.Fatal(err)
	}
	updated, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Category != "Account Opening" || updated.ExtractedData["full_name"] != "Jane Doe" || len(updated.History) != 2 {
		t.Errorf("update not persisted: %+v", updated)
	}

	// Test list
	other := newSession("")
	if err := store.Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(list))
	}

	// Test delete
	if err := store.Delete(ctx, session.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, session.ID); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, session.ID); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound deleting twice, got %v", err)
	}
	if err := store.Update(ctx, session); !errors.Is(err, types.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound updating deleted session, got %v", err)
	}
	list, err = store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range list {
		if s.ID == session.ID {
			t.Error("deleted session still listed")
		}
	}

	// The key is free again
	if err := store.Create(ctx, newSession(key)); err != nil {
		t.Errorf("expected key reusable after delete: %v", err)
	}
}

func TestSessionStore(t *testing.T) {
	sessionStoreContract(t, NewSessionStore(t.TempDir()))
}

func TestSessionStoreSkipsOrphanDirs(t *testing.T) {
	dir := t.TempDir()
	store := NewSessionStore(dir)
	events := NewEventStore(dir)
	ctx := context.Background()

	// An event log without a session record must not show up as a session
	orphan := types.NewSessionID()
	if err := events.Append(ctx, &types.Event{ID: types.NewEventID(), SessionID: orphan, Type: "x", At: time.Now()}); err != nil {
		t.Fatal(err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Errorf("expected no sessions, got %d", len(list))
	}
}
