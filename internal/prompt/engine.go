// Package prompt renders the stage prompts of a conversation turn and fits
// session history into the model's context window.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/user/bankdesk/internal/types"
	"github.com/user/bankdesk/pkg/llm"
)

// bpeLoader serves the tokenizer vocabularies from files embedded in the
// binary, so building an Engine never touches the network.
var bpeLoader = tiktoken_loader.NewOfflineLoader()

func init() {
	tiktoken.SetBpeLoader(bpeLoader)
}

// Engine assembles token-budgeted prompts for the LLM.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
	templates *template.Template
}

// New creates a prompt engine with the specified token budget.
// model is used to select the appropriate tokenizer (e.g. "gpt-4").
// maxTokens is the model's context window size.
// reserve is the number of tokens to reserve for the stage prompt and the
// model's response.
func New(model string, maxTokens, reserve int) (*Engine, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Gemini and other non-OpenAI models fall back to cl100k_base
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}

	tmpl := template.New("stages")
	for name, text := range stageTemplates {
		if _, err := tmpl.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
	}

	return &Engine{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
		templates: tmpl,
	}, nil
}

// CountTokens returns the token count for a string.
func (e *Engine) CountTokens(text string) int {
	return len(e.tokenizer.Encode(text, nil, nil))
}

// History converts session turns into chat messages. When the turns do not
// fit the budget the oldest ones are left out of the request; the session
// itself is never modified. skipLast drops the final turn, which the stage
// prompt already quotes.
func (e *Engine) History(turns []types.Turn, skipLast bool) []llm.Message {
	if skipLast && len(turns) > 0 {
		turns = turns[:len(turns)-1]
	}
	budget := e.maxTokens - e.reserve

	// Walk backwards so the most recent turns win the budget
	start := len(turns)
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := e.CountTokens(turns[i].Text)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	messages := make([]llm.Message, 0, len(turns)-start)
	for _, turn := range turns[start:] {
		role := llm.RoleUser
		if turn.Sender == types.SenderAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: turn.Text})
	}
	return messages
}

// Render executes the named stage template with data.
func (e *Engine) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", name, err)
	}
	return buf.String(), nil
}

// LoadSystemPrompt returns the contents of path, or DefaultSystemPrompt when
// path is empty.
func LoadSystemPrompt(path string) (string, error) {
	if path == "" {
		return DefaultSystemPrompt, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}
