// Package scheduler evicts idle sessions on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/bankdesk/internal/delivery"
	"github.com/user/bankdesk/internal/types"
)

// EvictionNotice is sent to channels whose session was evicted.
const EvictionNotice = "Your conversation was closed after a period of inactivity. Send a new message whenever you need help again."

// Evictor deletes sessions idle for longer than ttl. It is satisfied by
// *gateway.Gateway.
type Evictor interface {
	EvictIdle(ctx context.Context, ttl time.Duration) ([]*types.Session, error)
}

// Notifier delivers a message to the channel owning a session key. It is
// satisfied by *delivery.Registry.
type Notifier interface {
	Deliver(ctx context.Context, key types.SessionKey, message string) error
}

// Scheduler runs the eviction sweep on a cron schedule.
type Scheduler struct {
	evictor  Evictor
	notifier Notifier
	schedule string
	ttl      time.Duration
	cron     *cron.Cron

	// running guards against overlapping sweeps
	running sync.Mutex
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus descriptors such as
// "@every 5m".
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidSchedule reports whether spec is a schedule the sweep accepts.
func ValidSchedule(spec string) error {
	if _, err := cronParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// New creates a Scheduler that evicts sessions idle longer than ttl.
// notifier may be nil.
func New(evictor Evictor, notifier Notifier, schedule string, ttl time.Duration) *Scheduler {
	return &Scheduler{
		evictor:  evictor,
		notifier: notifier,
		schedule: schedule,
		ttl:      ttl,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep and starts the cron ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		if !s.running.TryLock() {
			slog.Warn("eviction sweep still running, skipping")
			return
		}
		defer s.running.Unlock()

		if _, err := s.Sweep(ctx); err != nil {
			slog.Error("eviction sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	slog.Info("eviction scheduled", "schedule", s.schedule, "idle_ttl", s.ttl)
	return nil
}

// Stop stops the cron ticker and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep evicts idle sessions once and notifies their channels. It returns
// the number of evicted sessions.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	evicted, err := s.evictor.EvictIdle(ctx, s.ttl)
	for _, session := range evicted {
		slog.Info("session evicted", "session_id", string(session.ID), "key", string(session.Key), "last_active_at", session.LastActiveAt)
		s.notify(ctx, session)
	}
	return len(evicted), err
}

func (s *Scheduler) notify(ctx context.Context, session *types.Session) {
	if s.notifier == nil || session.Key == "" {
		return
	}
	err := s.notifier.Deliver(ctx, session.Key, EvictionNotice)
	switch {
	case err == nil:
	case errors.Is(err, delivery.ErrNoHandler):
		slog.Debug("no channel for eviction notice", "key", string(session.Key))
	default:
		slog.Warn("failed to deliver eviction notice", "key", string(session.Key), "error", err)
	}
}
