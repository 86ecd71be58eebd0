package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"liahona/internal/app"
	"liahona/internal/domain"
	"liahona/internal/engine"
)

func sessionCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "session",
		Short: "Manage action sessions",
		Long:  "A session is an agent's checkout of a task. Exclusive sessions block every other checkout; leases expire unless heartbeated.",
	}
	s.AddCommand(sessionCheckoutCmd())
	s.AddCommand(sessionUpdateCmd())
	s.AddCommand(sessionHeartbeatCmd())
	s.AddCommand(sessionReleaseCmd())
	s.AddCommand(sessionListCmd())
	return s
}

func sessionCheckoutCmd() *cobra.Command {
	var exclusive bool
	var ttl time.Duration
	var note string
	var files []string
	cmd := &cobra.Command{
		Use:   "checkout <task-id>",
		Short: "Open a session on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts := engine.CheckoutOptions{
					TaskID:    args[0],
					AgentID:   actorID(),
					TTL:       a.Config.DefaultTTL(),
					Note:      note,
					FilePaths: files,
				}
				if cmd.Flags().Changed("exclusive") {
					opts.Exclusive = &exclusive
				}
				if cmd.Flags().Changed("ttl") {
					opts.TTL = ttl
				}
				s, err := a.Engine.Checkout(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().BoolVar(&exclusive, "exclusive", true, "block other checkouts (defaults to config)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "lease length; 0 disables expiry (defaults to config)")
	cmd.Flags().StringVar(&note, "note", "", "note")
	cmd.Flags().StringArrayVar(&files, "file", nil, "file path being worked on (repeatable)")
	return cmd
}

func sessionUpdateCmd() *cobra.Command {
	var status, note string
	var files []string
	var pct int
	cmd := &cobra.Command{
		Use:   "update <session-id>",
		Short: "Report progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.SessionUpdateOptions{SessionID: args[0], ActorID: actorID(), FilePaths: files}
			if cmd.Flags().Changed("status") {
				st := domain.SessionStatus(status)
				opts.Status = &st
			}
			if cmd.Flags().Changed("note") {
				opts.Note = &note
			}
			if cmd.Flags().Changed("percentage") {
				opts.Percentage = &pct
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.UpdateSession(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "session status (action, submitted, confirmed, sealed, released)")
	cmd.Flags().StringVar(&note, "note", "", "note")
	cmd.Flags().StringArrayVar(&files, "file", nil, "replace file paths (repeatable)")
	cmd.Flags().IntVar(&pct, "percentage", 0, "progress percentage 0-100")
	return cmd
}

func sessionHeartbeatCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "heartbeat <session-id>",
		Short: "Extend a session lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				d := a.Config.HeartbeatTTL()
				if cmd.Flags().Changed("ttl") {
					d = ttl
				}
				s, err := a.Engine.Heartbeat(ctx, args[0], actorID(), d)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "new lease length (defaults to config)")
	return cmd
}

func sessionReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <session-id>",
		Short: "Release a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				s, err := a.Engine.Release(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sessionListCmd() *cobra.Command {
	var active bool
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List a task's sessions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListSessions(ctx, args[0], active)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Status", "Exclusive", "Progress", "Expires"})
				for _, s := range items {
					progress := ""
					if s.Percentage != nil {
						progress = fmt.Sprintf("%d%%", *s.Percentage)
					}
					expires := ""
					if s.ExpiresAt != nil {
						expires = s.ExpiresAt.Format(time.RFC3339)
					}
					tw.AppendRow(table.Row{s.ID, s.AgentID, s.Status, s.Exclusive, progress, expires})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", false, "only sessions that are not released")
	return cmd
}

func commentCmd() *cobra.Command {
	c := &cobra.Command{Use: "comment", Short: "Comment on tasks"}

	var pinned bool
	add := &cobra.Command{
		Use:   "add <task-id> <body>",
		Short: "Add a comment; @user mentions notify, #id refs link tasks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				out, err := a.Engine.AddComment(ctx, engine.CommentOptions{
					TaskID:   args[0],
					AuthorID: actorID(),
					Body:     args[1],
					Pinned:   pinned,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	add.Flags().BoolVar(&pinned, "pinned", false, "pin the comment")

	list := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListComments(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	c.AddCommand(add, list)
	return c
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{Use: "notify", Short: "Read mention notifications"}

	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListNotifications(ctx, actorID(), unread)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Task", "Created", "Read"})
				for _, item := range items {
					tw.AppendRow(table.Row{item.ID, item.Type, item.TaskID, item.CreatedAt.Format(time.RFC3339), item.Read})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread notifications")

	read := &cobra.Command{
		Use:   "read <notification-id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.MarkNotificationRead(ctx, args[0])
			})
		},
	}
	n.AddCommand(list, read)
	return n
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue sessions and SLAs once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Sweep(ctx)
				if perr := printJSONOrTable(res); perr != nil {
					return perr
				}
				return err
			})
		},
	}
}
