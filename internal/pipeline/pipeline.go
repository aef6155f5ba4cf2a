// Package pipeline runs one conversation turn: it interprets the customer's
// message, settles the inquiry category, collects the category's details
// and writes the reply, then commits the session in a single update.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/user/bankdesk/internal/gateway"
	"github.com/user/bankdesk/internal/prompt"
	"github.com/user/bankdesk/internal/schema"
	"github.com/user/bankdesk/internal/types"
	"github.com/user/bankdesk/pkg/llm"
)

// DefaultAcceptanceThreshold is the confidence a category selection needs
// before the conversation moves on to collecting details.
const DefaultAcceptanceThreshold = 0.6

const summaryLength = 200

// Options tunes a Pipeline. Zero values select defaults.
type Options struct {
	AcceptanceThreshold float64
	Retry               *gateway.RetryPolicy
}

// Pipeline implements the per-turn conversation process.
type Pipeline struct {
	completer llm.Completer
	engine    *prompt.Engine
	registry  *schema.Registry
	sessions  types.SessionStore
	events    types.EventStore
	artifacts types.ArtifactStore
	retry     *gateway.RetryPolicy
	threshold float64
	now       func() time.Time
}

// New creates a Pipeline with the given dependencies.
func New(
	completer llm.Completer,
	engine *prompt.Engine,
	registry *schema.Registry,
	sessions types.SessionStore,
	events types.EventStore,
	artifacts types.ArtifactStore,
	opts Options,
) *Pipeline {
	if opts.AcceptanceThreshold <= 0 {
		opts.AcceptanceThreshold = DefaultAcceptanceThreshold
	}
	if opts.Retry == nil {
		opts.Retry = gateway.DefaultRetryPolicy()
	}
	return &Pipeline{
		completer: completer,
		engine:    engine,
		registry:  registry,
		sessions:  sessions,
		events:    events,
		artifacts: artifacts,
		retry:     opts.Retry,
		threshold: opts.AcceptanceThreshold,
		now:       time.Now,
	}
}

// ProcessRun processes the run's message and stores the outcome on the run.
// This is the function passed to Queue.SetProcessor.
func (p *Pipeline) ProcessRun(run *gateway.Run) error {
	ctx := run.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	result, err := p.Process(ctx, run.ID, run.SessionID, run.Message.Text)
	run.Result = result
	return err
}

// Process runs one turn for the session. The caller must guarantee that no
// other turn for the same session runs concurrently.
//
// On success the session is committed with the new history, category,
// extracted data and stage. On failure only the user's message is kept,
// marked unanswered, and the returned result carries an apology next to the
// error. Re-posting the same text retries the unanswered turn.
func (p *Pipeline) Process(ctx context.Context, runID types.RunID, id types.SessionID, text string) (*types.TurnResult, error) {
	// Store writes must land even when the caller has gone away
	persist := context.WithoutCancel(ctx)

	session, err := p.sessions.Get(persist, id)
	if err != nil {
		return nil, err
	}

	now := p.now()
	work := session.Clone()
	message := types.MessagePayload{Text: text}
	if addUserTurn(work, text, now) {
		message.RetryOf = p.pendingFailure(persist, id)
	}
	p.record(persist, id, runID, types.EventUserMessage, message)

	t := &turn{
		session: work,
		message: text,
		runID:   runID,
		path:    types.StagePath{work.Stage},
	}
	if err := p.run(ctx, t); err != nil {
		return p.fail(persist, session, t, err)
	}

	reply := t.reply
	work.History[len(work.History)-1].Unanswered = false
	work.History = append(work.History, types.Turn{Sender: types.SenderAssistant, Text: reply, Timestamp: p.now()})
	work.Stage = t.path.Current()
	work.LastActiveAt = now

	if t.rawExtraction != "" {
		artifactID, err := p.artifacts.Put(persist, id, runID, "extract", map[string]any{
			"raw":    t.rawExtraction,
			"merge":  t.merge,
			"result": work.ExtractedData,
		})
		if err != nil {
			slog.Warn("failed to store extraction artifact", "session_id", string(id), "run_id", string(runID), "error", err)
		} else {
			t.out.ExtractionArtifact = artifactID
		}
	}

	if err := p.sessions.Update(persist, work); err != nil {
		return p.fail(persist, session, t, fmt.Errorf("commit session: %w", err))
	}

	t.out.StagePath = t.path
	result := &types.TurnResult{
		SessionID:    id,
		Response:     reply,
		Timestamp:    p.now(),
		Intermediate: t.out,
	}
	if t.out.TopicChanged {
		p.record(persist, id, runID, types.EventTopicChanged, types.TopicPayload{
			From:       session.Category,
			To:         work.Category,
			Confidence: t.out.Confidence,
		})
	}
	p.record(persist, id, runID, types.EventAssistantMessage, types.MessagePayload{
		Text:      reply,
		StagePath: t.path.String(),
		Category:  work.Category,
	})
	slog.Info("turn completed",
		"session_id", string(id),
		"run_id", string(runID),
		"stage_path", t.path.String(),
		"category", work.Category,
		"missing", len(t.out.RequestedFields),
	)
	return result, nil
}

// addUserTurn appends the customer's message, or reuses the last turn when
// it is the same message left unanswered by a failed attempt. It reports
// whether the turn was reused.
func addUserTurn(session *types.Session, text string, at time.Time) bool {
	if last, ok := session.LastTurn(); ok && last.Sender == types.SenderUser && last.Unanswered && last.Text == text {
		return true
	}
	session.History = append(session.History, types.Turn{Sender: types.SenderUser, Text: text, Timestamp: at})
	return false
}

// fail persists the user's message on top of the untouched original record
// and returns the apology result.
func (p *Pipeline) fail(ctx context.Context, original *types.Session, t *turn, cause error) (*types.TurnResult, error) {
	slog.Error("turn failed",
		"session_id", string(original.ID),
		"run_id", string(t.runID),
		"stage_path", t.path.String(),
		"error", cause,
	)

	pending := original.Clone()
	addUserTurn(pending, t.message, p.now())
	pending.History[len(pending.History)-1].Unanswered = true
	pending.LastActiveAt = p.now()
	if err := p.sessions.Update(ctx, pending); err != nil {
		slog.Error("failed to keep unanswered message", "session_id", string(original.ID), "error", err)
	}
	p.record(ctx, original.ID, t.runID, types.EventTurnFailed, types.FailurePayload{
		Error: cause.Error(),
		Stage: t.path.Current(),
	})

	t.out.StagePath = types.StagePath{original.Stage}
	return &types.TurnResult{
		SessionID:    original.ID,
		Response:     prompt.Apology,
		Timestamp:    p.now(),
		Intermediate: t.out,
	}, fmt.Errorf("process turn: %w", cause)
}

func (p *Pipeline) record(ctx context.Context, sessionID types.SessionID, runID types.RunID, typ types.EventType, payload any) {
	event, err := types.NewEvent(sessionID, runID, typ, "pipeline", payload)
	if err == nil {
		event.At = p.now()
		err = p.events.Append(ctx, event)
	}
	if err != nil {
		slog.Warn("failed to record event", "session_id", string(sessionID), "type", string(typ), "error", err)
	}
}

// pendingFailure returns the run whose failure left the last message
// unanswered, or "" when the log has none.
func (p *Pipeline) pendingFailure(ctx context.Context, sessionID types.SessionID) types.RunID {
	failure, err := p.events.LastFailure(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to read turn log", "session_id", string(sessionID), "error", err)
		return ""
	}
	if failure == nil {
		return ""
	}
	return failure.RunID
}

// complete calls the completion service for one stage, retrying while the
// service is unavailable.
func (p *Pipeline) complete(ctx context.Context, stage, text string, history []llm.Message) (string, error) {
	var out string
	err := p.retry.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		out, err = p.completer.Complete(ctx, text, history)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s stage: %w", stage, err)
	}
	slog.Debug("stage completed", "stage", stage, "chars", len(out))
	return out, nil
}
