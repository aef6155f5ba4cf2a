package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/bankdesk/internal/schema"
	"github.com/user/bankdesk/internal/types"
)

func newTestEngine(t *testing.T, maxTokens, reserve int) *Engine {
	t.Helper()
	e, err := New("gpt-4", maxTokens, reserve)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestNewEngine(t *testing.T) {
	e := newTestEngine(t, 128000, 4096)
	if e == nil {
		t.Fatal("expected non-nil engine")
	}
}

func TestNewEngineUnknownModelFallsBack(t *testing.T) {
	e, err := New("gemini-2.5-flash-lite", 128000, 4096)
	if err != nil {
		t.Fatal(err)
	}
	if e.CountTokens("hello world") == 0 {
		t.Error("expected fallback tokenizer to count tokens")
	}
}

func TestTokenizerVocabularyIsEmbedded(t *testing.T) {
	ranks, err := bpeLoader.LoadTiktokenBpe("https://openaipublic.blob.core.windows.net/encodings/cl100k_base.tiktoken")
	if err != nil {
		t.Fatalf("embedded cl100k_base: %v", err)
	}
	if len(ranks) == 0 {
		t.Fatal("embedded cl100k_base is empty")
	}
}

func TestHistoryRoles(t *testing.T) {
	e := newTestEngine(t, 128000, 4096)
	now := time.Now()
	turns := []types.Turn{
		{Sender: types.SenderAssistant, Text: "Hello! How can I help?", Timestamp: now},
		{Sender: types.SenderUser, Text: "I want to open an account", Timestamp: now},
		{Sender: types.SenderAssistant, Text: "What is your full name?", Timestamp: now},
		{Sender: types.SenderUser, Text: "Jane Doe", Timestamp: now},
	}

	messages := e.History(turns, false)
	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Role != "assistant" || messages[1].Role != "user" {
		t.Errorf("unexpected roles: %q, %q", messages[0].Role, messages[1].Role)
	}

	messages = e.History(turns, true)
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages with skipLast, got %d", len(messages))
	}
	if messages[2].Content != "What is your full name?" {
		t.Errorf("expected last message to be the assistant question, got %q", messages[2].Content)
	}
}

func TestHistoryWindowKeepsNewest(t *testing.T) {
	// A budget that fits only a few short turns
	e := newTestEngine(t, 120, 100)

	var turns []types.Turn
	for i := 0; i < 50; i++ {
		turns = append(turns, types.Turn{Sender: types.SenderUser, Text: "turn number " + strings.Repeat("x", i%3+1)})
	}
	turns = append(turns, types.Turn{Sender: types.SenderUser, Text: "newest"})

	messages := e.History(turns, false)
	if len(messages) == 0 {
		t.Fatal("expected some messages within budget")
	}
	if len(messages) >= len(turns) {
		t.Fatalf("expected history to be windowed, got %d of %d", len(messages), len(turns))
	}
	if messages[len(messages)-1].Content != "newest" {
		t.Errorf("expected newest turn kept, got %q", messages[len(messages)-1].Content)
	}
	if len(turns) != 51 {
		t.Error("history slice must not be modified")
	}
}

func TestRenderRespondSeparatesKnownAndMissing(t *testing.T) {
	e := newTestEngine(t, 128000, 4096)

	out, err := e.Render(Respond, RespondData{
		Category: "Account Opening",
		Message:  "my ID is a passport",
		Known: []FieldValue{
			{Key: "full_name", Hint: "full legal name", Value: "Jane Doe"},
			{Key: "id_type", Hint: "type of identification", Value: "passport"},
		},
		Missing: []schema.Field{{Key: "employment_status", Hint: "current employment status"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	known, needed, ok := strings.Cut(out, "Details still needed")
	if !ok {
		t.Fatalf("missing section not rendered:\n%s", out)
	}
	if !strings.Contains(known, "do not ask") || !strings.Contains(known, "Jane Doe") {
		t.Errorf("known section should list collected values as do-not-ask:\n%s", known)
	}
	if strings.Contains(needed, "full legal name") {
		t.Errorf("needed section must not contain a known field:\n%s", needed)
	}
	if !strings.Contains(needed, "current employment status") {
		t.Errorf("needed section should contain the missing field:\n%s", needed)
	}
}

func TestRenderAllTemplates(t *testing.T) {
	e := newTestEngine(t, 128000, 4096)
	reg := schema.MustDefault()

	cases := map[string]any{
		Intent:   IntentData{Message: "I lost my card"},
		Suggest:  SuggestData{Intent: "lost card", Categories: reg.List()},
		Select:   SelectData{Intent: "lost card", Message: "I lost my card", Candidates: []string{"Card Services"}, Current: "Billing Issue"},
		Extract:  ExtractData{Category: "Card Services", Message: "my debit card", Missing: []schema.Field{{Key: "card_type", Hint: "debit or credit"}}},
		Respond:  RespondData{Category: "Card Services", Missing: []schema.Field{{Key: "card_type", Hint: "debit or credit"}}},
		Resolved: RespondData{Category: "Card Services", Known: []FieldValue{{Key: "card_type", Hint: "debit or credit", Value: "debit"}}},
		Clarify:  RespondData{Message: "hmm", Categories: reg.List()},
	}
	for name, data := range cases {
		out, err := e.Render(name, data)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if strings.TrimSpace(out) == "" {
			t.Errorf("%s: rendered empty prompt", name)
		}
	}

	out, _ := e.Render(Select, cases[Select])
	if !strings.Contains(out, "currently about: Billing Issue") {
		t.Errorf("select prompt should mention the current category:\n%s", out)
	}
	out, _ = e.Render(Clarify, cases[Clarify])
	for _, name := range reg.Names() {
		if !strings.Contains(out, name) {
			t.Errorf("clarify prompt should list %q", name)
		}
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	e := newTestEngine(t, 128000, 4096)
	if _, err := e.Render("nope", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestLoadSystemPrompt(t *testing.T) {
	got, err := LoadSystemPrompt("")
	if err != nil {
		t.Fatal(err)
	}
	if got != DefaultSystemPrompt {
		t.Error("expected default system prompt for empty path")
	}

	path := filepath.Join(t.TempDir(), "system.md")
	os.WriteFile(path, []byte("custom prompt"), 0o644)
	got, err = LoadSystemPrompt(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "custom prompt" {
		t.Errorf("expected custom prompt, got %q", got)
	}

	if _, err := LoadSystemPrompt(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Error("expected error for missing file")
	}
}
