package llm

import (
	"context"
	"fmt"
	"strings"
)

// Completer is the capability the conversation pipeline consumes: complete
// a prompt given the prior turns of the conversation.
type Completer interface {
	Complete(ctx context.Context, prompt string, history []Message) (string, error)
}

// Adapter turns a Provider into a Completer. It is stateless and never
// retries; generation parameters live in the provider's Config.
type Adapter struct {
	provider Provider
	system   string
}

// NewAdapter wraps provider. system, when non-empty, is sent as the first
// message of every request.
func NewAdapter(provider Provider, system string) *Adapter {
	return &Adapter{provider: provider, system: system}
}

// Complete sends history followed by prompt as the final user message and
// returns the trimmed completion text.
func (a *Adapter) Complete(ctx context.Context, prompt string, history []Message) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	if a.system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: a.system})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: RoleUser, Content: prompt})

	resp, err := a.provider.Complete(ctx, messages)
	if err != nil {
		return "", Classify(err)
	}
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", ErrUpstreamRejected)
	}
	if resp.Blocked {
		return "", fmt.Errorf("%w: response blocked", ErrUpstreamRejected)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUpstreamRejected)
	}
	return text, nil
}
