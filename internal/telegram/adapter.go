// Package telegram connects Telegram chats to the banking assistant.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/bankdesk/internal/gateway"
	"github.com/user/bankdesk/internal/prompt"
	"github.com/user/bankdesk/internal/types"
)

const maxTelegramMessage = 4096

// Channel is the session key prefix of Telegram conversations.
const Channel = "telegram"

// Service is the part of the gateway the adapter drives.
type Service interface {
	ResolveOrCreate(ctx context.Context, key types.SessionKey) (*types.Session, bool, error)
	PostMessage(ctx context.Context, id types.SessionID, text string) (*types.TurnResult, error)
	SessionInfo(ctx context.Context, id types.SessionID) (*types.Info, error)
	DeleteSession(ctx context.Context, id types.SessionID) error
}

// sender is the subset of *tgbotapi.BotAPI used to reply.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Adapter bridges Telegram to the gateway.
type Adapter struct {
	bot     *tgbotapi.BotAPI
	send    sender
	service Service
}

// New creates a Telegram adapter.
func New(token string, service Service) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:     bot,
		send:    bot,
		service: service,
	}, nil
}

// Start begins long-polling for Telegram updates and blocks until ctx is
// cancelled.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)
	slog.Info("telegram channel started", "bot", a.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

// Deliver sends an out-of-band message to the chat encoded in key. It is
// registered with the delivery registry for the telegram channel.
func (a *Adapter) Deliver(_ context.Context, key types.SessionKey, message string) error {
	chatID, err := chatIDFromKey(key)
	if err != nil {
		return err
	}
	a.sendResponse(chatID, message)
	return nil
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	// Handle commands
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, chatID)
	session, _, err := a.service.ResolveOrCreate(ctx, key)
	if err != nil {
		slog.Error("resolve telegram session", "key", string(key), "error", err)
		a.sendResponse(chatID, prompt.Apology)
		return
	}

	result, err := a.service.PostMessage(ctx, session.ID, msg.Text)
	if err != nil {
		slog.Error("telegram turn failed", "session_id", string(session.ID), "error", err)
		a.sendResponse(chatID, failureReply(result, err))
		return
	}
	a.sendResponse(chatID, result.Response)
}

// failureReply picks what the customer sees when a turn fails.
func failureReply(result *types.TurnResult, err error) string {
	switch {
	case errors.Is(err, gateway.ErrBusy):
		return "I'm still working on your previous messages. Please wait a moment."
	case result != nil && result.Response != "":
		return result.Response
	default:
		return prompt.Apology
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	key := buildSessionKey(msg.From.ID, chatID)

	switch msg.Command() {
	case "start":
		session, _, err := a.service.ResolveOrCreate(ctx, key)
		if err != nil {
			a.sendResponse(chatID, prompt.Apology)
			return
		}
		a.sendResponse(chatID, greetingOf(session))

	case "new":
		session, created, err := a.service.ResolveOrCreate(ctx, key)
		if err == nil && !created {
			if err := a.service.DeleteSession(ctx, session.ID); err != nil && !errors.Is(err, types.ErrSessionNotFound) {
				slog.Error("delete telegram session", "session_id", string(session.ID), "error", err)
			}
			session, _, err = a.service.ResolveOrCreate(ctx, key)
		}
		if err != nil {
			a.sendResponse(chatID, prompt.Apology)
			return
		}
		a.sendResponse(chatID, "Starting a new conversation.\n\n"+greetingOf(session))

	case "status":
		session, _, err := a.service.ResolveOrCreate(ctx, key)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		info, err := a.service.SessionInfo(ctx, session.ID)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		a.sendResponse(chatID, formatStatus(info))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status")
	}
}

func greetingOf(session *types.Session) string {
	if len(session.History) > 0 && session.History[0].Sender == types.SenderAssistant {
		return session.History[0].Text
	}
	return prompt.Greeting
}

func formatStatus(info *types.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Stage: %s\n", info.Stage)
	category := info.Category
	if category == "" {
		category = "not yet determined"
	}
	fmt.Fprintf(&b, "Topic: %s\n", category)
	fmt.Fprintf(&b, "Messages: %d", info.MessageCount)

	if len(info.ExtractedData) > 0 {
		keys := make([]string, 0, len(info.ExtractedData))
		for k := range info.ExtractedData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nCollected:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, info.ExtractedData[k])
		}
	}
	return b.String()
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	parts := splitMessage(text)
	for _, part := range parts {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = "Markdown"
		if _, err := a.send.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := a.send.Send(msg); err != nil {
				slog.Error("send telegram message", "chat_id", chatID, "error", err)
			}
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}

func buildSessionKey(userID, chatID int64) types.SessionKey {
	return types.NewSessionKey(Channel,
		strconv.FormatInt(userID, 10),
		strconv.FormatInt(chatID, 10),
	)
}

// chatIDFromKey extracts the chat from a "telegram:<user>:<chat>" key.
func chatIDFromKey(key types.SessionKey) (int64, error) {
	parts := strings.Split(string(key), ":")
	if len(parts) != 3 || parts[0] != Channel {
		return 0, fmt.Errorf("not a telegram session key: %s", key)
	}
	chatID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse chat id from %s: %w", key, err)
	}
	return chatID, nil
}
