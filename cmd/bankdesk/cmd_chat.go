package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/user/bankdesk/internal/types"
)

var chatSessionID string

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "resume an existing session")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant in the terminal",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

// replyRenderer renders assistant replies as markdown on a terminal and
// passes them through unchanged otherwise.
type replyRenderer struct {
	renderer *glamour.TermRenderer
}

func newReplyRenderer() *replyRenderer {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return &replyRenderer{}
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width < 40 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return &replyRenderer{}
	}
	return &replyRenderer{renderer: renderer}
}

func (r *replyRenderer) render(text string) string {
	if r.renderer == nil {
		return text + "\n"
	}
	out, err := r.renderer.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	gw := a.gateway
	gw.Start(ctx)
	defer gw.Stop()

	var session *types.Session
	if chatSessionID != "" {
		session, err = gw.Session(ctx, types.SessionID(chatSessionID))
	} else {
		session, err = gw.CreateSession(ctx, types.NewSessionKey("cli", string(types.NewSessionID())))
	}
	if err != nil {
		return err
	}

	out := newReplyRenderer()
	fmt.Printf("Session %s. Type /info for its state, /exit to leave.\n\n", session.ID)
	if last, ok := session.LastTurn(); ok && last.Sender == types.SenderAssistant {
		fmt.Print(out.render(last.Text))
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())

		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/info":
			info, err := gw.SessionInfo(ctx, session.ID)
			if err != nil {
				return err
			}
			fmt.Printf("stage=%s category=%q collected=%v messages=%d\n\n",
				info.Stage, info.Category, info.ExtractedData, info.MessageCount)
			continue
		}

		result, err := gw.PostMessage(ctx, session.ID, text)
		if err != nil {
			if result == nil || errors.Is(err, types.ErrSessionNotFound) {
				return err
			}
			fmt.Fprintf(os.Stderr, "(turn failed: %v)\n", err)
		}
		fmt.Print(out.render(result.Response))
	}
}
