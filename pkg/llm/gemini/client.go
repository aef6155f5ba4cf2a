// Package gemini implements llm.Provider on top of the Google Gen AI SDK.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/user/bankdesk/pkg/llm"
)

// DefaultModel is used when the configuration names no model.
const DefaultModel = "gemini-2.5-flash-lite"

// Client implements the llm.Provider interface for Gemini models.
type Client struct {
	config *llm.Config
	client *genai.Client
}

// New creates a Gemini client. The API key comes from config.APIKey.
func New(ctx context.Context, config *llm.Config) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Client{config: config, client: client}, nil
}

// Complete sends the conversation to GenerateContent and returns the
// concatenated text of the first candidate.
func (c *Client) Complete(ctx context.Context, messages []llm.Message) (*llm.Response, error) {
	model := c.config.Model
	if model == "" {
		model = DefaultModel
	}

	contents, system := toContents(messages)
	resp, err := c.client.Models.GenerateContent(ctx, model, contents, c.generateConfig(system))
	if err != nil {
		return nil, llm.Classify(fmt.Errorf("generating content: %w", err))
	}
	return fromResponse(resp), nil
}

func (c *Client) generateConfig(system string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if c.config.Temperature != 0 {
		cfg.Temperature = genai.Ptr(c.config.Temperature)
	}
	if c.config.TopP != 0 {
		cfg.TopP = genai.Ptr(c.config.TopP)
	}
	if c.config.TopK != 0 {
		cfg.TopK = genai.Ptr(c.config.TopK)
	}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	return cfg
}

// toContents maps chat messages to genai contents. System messages are
// lifted out and joined into a single system instruction.
func toContents(messages []llm.Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}

func fromResponse(resp *genai.GenerateContentResponse) *llm.Response {
	out := &llm.Response{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		out.Blocked = true
		return out
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		out.Blocked = true
		return out
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	out.Content = sb.String()
	return out
}
