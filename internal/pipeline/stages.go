package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/bankdesk/internal/prompt"
	"github.com/user/bankdesk/internal/schema"
	"github.com/user/bankdesk/internal/types"
)

// turn is the working state of one pipeline invocation. Each stage reads
// the outputs of the stages before it.
type turn struct {
	session *types.Session
	message string
	runID   types.RunID
	path    types.StagePath
	out     types.IntermediateOutputs

	category      *schema.Category
	rawExtraction string
	merge         mergeResult
	reply         string
}

// run executes the five stages against the working copy in t.
func (p *Pipeline) run(ctx context.Context, t *turn) error {
	if t.path.Current() == types.StageGreeting {
		t.path.Advance(types.StageCategorizing)
	}

	steps := []struct {
		name string
		fn   func(context.Context, *turn) error
	}{
		{prompt.Intent, p.interpret},
		{prompt.Suggest, p.suggest},
		{prompt.Select, p.selectCategory},
		{prompt.Extract, p.extract},
		{prompt.Respond, p.respond},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("before %s stage: %w", step.name, err)
		}
		if err := step.fn(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// interpret summarizes what the customer wants. It is recomputed every turn.
func (p *Pipeline) interpret(ctx context.Context, t *turn) error {
	text, err := p.engine.Render(prompt.Intent, prompt.IntentData{Message: t.message})
	if err != nil {
		return err
	}
	intent, err := p.complete(ctx, prompt.Intent, text, p.engine.History(t.session.History, true))
	if err != nil {
		return err
	}
	t.out.Intent = intent
	return nil
}

// suggest maps the intent onto candidate categories.
func (p *Pipeline) suggest(ctx context.Context, t *turn) error {
	text, err := p.engine.Render(prompt.Suggest, prompt.SuggestData{
		Intent:     t.out.Intent,
		Categories: p.registry.List(),
	})
	if err != nil {
		return err
	}
	reply, err := p.complete(ctx, prompt.Suggest, text, nil)
	if err != nil {
		return err
	}

	candidates := p.registry.Match(reply)
	if len(candidates) == 0 {
		candidates = []string{schema.Fallback}
	}
	t.out.CategoryCandidates = candidates
	return nil
}

// selectCategory settles the category. An existing category is kept unless
// switchRequested says the customer moved on and the replacement clears
// the acceptance bar. A switch discards the details collected for the old
// category.
func (p *Pipeline) selectCategory(ctx context.Context, t *turn) error {
	current := t.session.Category
	text, err := p.engine.Render(prompt.Select, prompt.SelectData{
		Intent:     t.out.Intent,
		Message:    t.message,
		Candidates: t.out.CategoryCandidates,
		Current:    current,
	})
	if err != nil {
		return err
	}
	reply, err := p.complete(ctx, prompt.Select, text, p.engine.History(t.session.History, true))
	if err != nil {
		return err
	}

	sel := parseSelection(reply, p.registry, t.out.CategoryCandidates)
	t.out.Confidence = sel.Confidence
	accepted := sel.Confidence >= p.threshold

	switch {
	case current == "":
		if accepted {
			p.assign(t, sel.Category)
			t.path.Advance(types.StageCollecting)
		}

	case accepted && switchRequested(sel, current, t.out.CategoryCandidates, t.message):
		if t.path.Current() == types.StageResolved {
			t.path.Advance(types.StageReopened)
		} else {
			t.path.Advance(types.StageCategorizing)
		}
		p.assign(t, sel.Category)
		t.path.Advance(types.StageCollecting)
		t.out.TopicChanged = true
		slog.Info("topic changed",
			"session_id", string(t.session.ID),
			"from", current,
			"to", sel.Category,
			"confidence", sel.Confidence,
		)
	}

	t.out.SelectedCategory = t.session.Category
	if t.session.Category != "" {
		category, err := p.registry.Lookup(t.session.Category)
		if err != nil {
			return fmt.Errorf("%s stage: %w", prompt.Select, err)
		}
		t.category = category
	}
	return nil
}

func (p *Pipeline) assign(t *turn, category string) {
	t.session.Category = category
	t.session.ExtractedData = make(map[string]string)
}

// extract collects category details from the conversation. It is skipped
// while no category is assigned. An unreadable extraction yields nothing
// and does not fail the turn.
func (p *Pipeline) extract(ctx context.Context, t *turn) error {
	if t.category == nil {
		return nil
	}
	data := t.session.ExtractedData

	text, err := p.engine.Render(prompt.Extract, prompt.ExtractData{
		Category: t.category.Name,
		Intent:   t.out.Intent,
		Message:  t.message,
		Known:    knownValues(t.category, data),
		Missing:  t.category.Missing(data),
	})
	if err != nil {
		return err
	}
	raw, err := p.complete(ctx, prompt.Extract, text, p.engine.History(t.session.History, true))
	if err != nil {
		return err
	}
	t.rawExtraction = raw
	t.out.ExtractionSummary = truncate(raw, summaryLength)

	parsed, err := parseExtraction(raw)
	if err != nil {
		slog.Warn("unreadable extraction, nothing collected",
			"session_id", string(t.session.ID),
			"run_id", string(t.runID),
			"error", err,
		)
	} else {
		t.merge = merge(t.category, data, parsed, t.message)
		if len(t.merge.Dropped) > 0 {
			slog.Debug("dropped fields outside category", "category", t.category.Name, "fields", t.merge.Dropped)
		}
	}

	if len(t.category.Missing(data)) == 0 {
		t.path.Advance(types.StageResolved)
	}
	return nil
}

// respond writes the reply. The prompt names the fields already known as
// off limits and the missing ones as the only ones to ask for.
func (p *Pipeline) respond(ctx context.Context, t *turn) error {
	var name string
	var data prompt.RespondData

	switch {
	case t.category == nil:
		name = prompt.Clarify
		data = prompt.RespondData{
			Intent:     t.out.Intent,
			Message:    t.message,
			Categories: p.registry.List(),
		}
	default:
		missing := t.category.Missing(t.session.ExtractedData)
		name = prompt.Respond
		t.out.RequestedFields = []string{}
		if len(missing) == 0 {
			name = prompt.Resolved
		}
		data = prompt.RespondData{
			Category: t.category.Name,
			Intent:   t.out.Intent,
			Message:  t.message,
			Known:    knownValues(t.category, t.session.ExtractedData),
			Missing:  missing,
		}
		for _, f := range missing {
			t.out.RequestedFields = append(t.out.RequestedFields, f.Key)
		}
	}

	text, err := p.engine.Render(name, data)
	if err != nil {
		return err
	}
	reply, err := p.complete(ctx, prompt.Respond, text, p.engine.History(t.session.History, true))
	if err != nil {
		return err
	}
	t.reply = reply
	return nil
}

func knownValues(category *schema.Category, data map[string]string) []prompt.FieldValue {
	known := category.Known(data)
	out := make([]prompt.FieldValue, len(known))
	for i, f := range known {
		out[i] = prompt.FieldValue{Key: f.Key, Hint: f.Hint, Value: data[f.Key]}
	}
	return out
}
