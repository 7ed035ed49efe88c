package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/campusmate/campusmate/internal/session"
)

func newSessionsCmd() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage chat sessions",
	}
	sessionsCmd.AddCommand(
		newSessionsListCmd(),
		newSessionsShowCmd(),
		newSessionsDeleteCmd(),
	)
	return sessionsCmd
}

func newSessionsListCmd() *cobra.Command {
	var limit int32
	cmd := &cobra.Command{
		Use:   "list <user-id>",
		Short: "List a user's sessions, most recently active first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
				sessions, err := store.ListSessions(ctx, args[0], limit)
				if err != nil {
					return fmt.Errorf("listing sessions: %w", err)
				}
				if len(sessions) == 0 {
					fmt.Println("no sessions")
					return nil
				}
				for _, s := range sessions {
					title := s.Title
					if title == "" {
						title = "(untitled)"
					}
					fmt.Printf("%s  %s  updated %s\n", s.ID, title, formatTime(s.UpdatedAt))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int32Var(&limit, "limit", 50, "maximum number of sessions")
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session's messages in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session ID %q: %w", args[0], err)
			}
			return withSessionStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
				sess, err := store.GetSession(ctx, id)
				if err != nil {
					return fmt.Errorf("getting session: %w", err)
				}
				messages, err := store.History(ctx, id, 0)
				if err != nil {
					return fmt.Errorf("loading messages: %w", err)
				}

				fmt.Printf("Session: %s\n", sess.ID)
				if sess.Title != "" {
					fmt.Printf("Title:   %s\n", sess.Title)
				}
				fmt.Printf("User:    %s\n", sess.UserID)
				fmt.Printf("Created: %s\n", formatTime(sess.CreatedAt))
				fmt.Printf("Messages: %d\n\n", len(messages))
				for _, m := range messages {
					fmt.Printf("%3d %s> %s\n", m.Seq, m.Role, m.Content)
				}
				return nil
			})
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and all its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid session ID %q: %w", args[0], err)
			}
			return withSessionStore(cmd.Context(), func(ctx context.Context, store *session.Store) error {
				if err := store.DeleteSession(ctx, id); err != nil {
					return fmt.Errorf("deleting session: %w", err)
				}
				fmt.Printf("session %s deleted\n", id)
				return nil
			})
		},
	}
}

// withSessionStore runs fn with a connected session store and tears the
// pool down afterwards.
func withSessionStore(ctx context.Context, fn func(context.Context, *session.Store) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	pool, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, session.New(pool, logger.With("component", "session")))
}

// formatTime renders a timestamp relative to now for recent activity.
func formatTime(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(diff.Hours()))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	default:
		return t.Format("2006-01-02 15:04")
	}
}
