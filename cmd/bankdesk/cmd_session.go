package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/bankdesk/internal/gateway"
	"github.com/user/bankdesk/internal/types"
)

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd)
	sessionShowCmd.Flags().IntVar(&showEvents, "events", 0, "also print the latest N turn events")
}

var showEvents int

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage sessions",
}

// withGateway runs fn against a gateway over the configured stores. No
// completion service is needed for session management.
func withGateway(fn func(ctx context.Context, gw *gateway.Gateway) error) error {
	cfg := loadConfig()
	setupLogging(cfg)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	return fn(context.Background(), gateway.New(st.sessions, st.events, st.artifacts))
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sessions, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(func(ctx context.Context, gw *gateway.Gateway) error {
			list, err := gw.ListSessions(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No sessions found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tLAST ACTIVE\tCREATED")
			for _, s := range list {
				category := s.Category
				if category == "" {
					category = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					s.SessionID,
					category,
					s.LastActiveAt.Format("2006-01-02 15:04:05"),
					s.CreatedAt.Format("2006-01-02 15:04:05"),
				)
			}
			return w.Flush()
		})
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session's state and history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(func(ctx context.Context, gw *gateway.Gateway) error {
			session, err := gw.Session(ctx, types.SessionID(args[0]))
			if err != nil {
				return err
			}
			printSession(session)
			if showEvents <= 0 {
				return nil
			}

			timeline, err := gw.Timeline(ctx, session.ID, showEvents)
			if err != nil {
				return err
			}
			fmt.Println()
			printTimeline(os.Stdout, timeline)
			return nil
		})
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGateway(func(ctx context.Context, gw *gateway.Gateway) error {
			if err := gw.DeleteSession(ctx, types.SessionID(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Session %s deleted.\n", args[0])
			return nil
		})
	},
}

func printSession(s *types.Session) {
	fmt.Printf("Session:  %s\n", s.ID)
	if s.Key != "" {
		fmt.Printf("Key:      %s\n", s.Key)
	}
	fmt.Printf("Stage:    %s\n", s.Stage)
	if s.Category != "" {
		fmt.Printf("Category: %s\n", s.Category)
	}
	if len(s.ExtractedData) > 0 {
		keys := make([]string, 0, len(s.ExtractedData))
		for k := range s.ExtractedData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Println("Collected:")
		for _, k := range keys {
			fmt.Printf("  %s: %s\n", k, s.ExtractedData[k])
		}
	}

	fmt.Println()
	for _, turn := range s.History {
		marker := ""
		if turn.Unanswered {
			marker = " (unanswered)"
		}
		fmt.Printf("[%s] %s%s: %s\n", turn.Timestamp.Format("15:04:05"), turn.Sender, marker, turn.Text)
	}
}

// printTimeline writes one line per turn event.
func printTimeline(w io.Writer, events []*types.Event) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tDETAIL")
	for _, event := range events {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", event.Seq, event.At.Format("15:04:05"), event.Type, eventDetail(event))
	}
	tw.Flush()
}

func eventDetail(event *types.Event) string {
	switch event.Type {
	case types.EventTurnFailed:
		var p types.FailurePayload
		if event.Decode(&p) == nil {
			return fmt.Sprintf("at %s: %s", p.Stage, p.Error)
		}
	case types.EventTopicChanged:
		var p types.TopicPayload
		if event.Decode(&p) == nil {
			return fmt.Sprintf("%s -> %s (%.2f)", p.From, p.To, p.Confidence)
		}
	default:
		var p types.MessagePayload
		if event.Decode(&p) == nil {
			detail := p.Text
			if p.StagePath != "" {
				detail = fmt.Sprintf("[%s] %s", p.StagePath, detail)
			}
			if p.RetryOf != "" {
				detail += " (retry of " + string(p.RetryOf) + ")"
			}
			return detail
		}
	}
	return string(event.Payload)
}
