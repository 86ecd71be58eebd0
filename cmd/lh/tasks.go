package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"liahona/internal/app"
	"liahona/internal/domain"
	"liahona/internal/engine"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks move activity -> accepted -> action -> submitted -> confirmed -> sealed. Approval seals the task; a change request reopens it and spawns a fix task.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskTreeCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskAcceptCmd())
	task.AddCommand(taskActionCmd())
	task.AddCommand(taskSubmitCmd())
	task.AddCommand(taskConfirmCmd())
	task.AddCommand(taskSealCmd())
	task.AddCommand(taskExtendCmd())
	task.AddCommand(taskVerifyCmd())
	task.AddCommand(taskLogCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = actorID()
			opts.ProjectID = viper.GetString("project")
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (derived from project and title if omitted)")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent task id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.AcceptanceCriteria, "criteria", "", "acceptance criteria")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.ListTasks(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				if status != "" {
					filtered := tasks[:0]
					for _, t := range tasks {
						if string(t.Status) == status {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Owner", "Phase", "Due"})
				for _, t := range tasks {
					due := ""
					if t.SLA.DueAt != nil {
						due = t.SLA.DueAt.Format("2006-01-02 15:04")
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, derefString(t.OwnerID), t.SLA.Phase, due})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get task with deliverables, comments and activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Show the project's task tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				nodes, err := a.Engine.TaskTree(ctx, viper.GetString("project"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(nodes)
				}
				for i, n := range nodes {
					printTaskTree(n, "", i == len(nodes)-1)
				}
				return nil
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var title, criteria, parent string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Edit title, criteria or parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{ID: args[0], ActorID: actorID()}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("criteria") {
				opts.AcceptanceCriteria = &criteria
			}
			if cmd.Flags().Changed("parent") {
				opts.SetParent = &parent
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&criteria, "criteria", "", "new acceptance criteria")
	cmd.Flags().StringVar(&parent, "parent", "", "new parent id (empty to detach)")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task; children are detached",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteTask(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

// transitionCmd builds a command that applies one lifecycle operation to <id>.
func transitionCmd(use, short string, apply func(ctx context.Context, e engine.Engine, id string) (domain.Task, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := apply(ctx, a.Engine, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskAcceptCmd() *cobra.Command {
	return transitionCmd("accept", "Claim a task and start the accepted SLA", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.Accept(ctx, id, actorID())
	})
}

func taskActionCmd() *cobra.Command {
	var note string
	cmd := transitionCmd("action", "Record that work has started", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.Action(ctx, id, actorID(), note)
	})
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func taskSubmitCmd() *cobra.Command {
	var links, files, texts []string
	var note string
	cmd := transitionCmd("submit", "Submit deliverables for review", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		var items []domain.Deliverable
		for _, group := range []struct {
			kind string
			urls []string
		}{{"link", links}, {"file", files}, {"text", texts}} {
			for _, u := range group.urls {
				items = append(items, domain.Deliverable{Type: group.kind, URL: u})
			}
		}
		return e.Submit(ctx, engine.SubmitOptions{TaskID: id, ActorID: actorID(), Deliverables: items, Note: note})
	})
	cmd.Flags().StringArrayVar(&links, "link", nil, "link deliverable (repeatable)")
	cmd.Flags().StringArrayVar(&files, "file", nil, "file deliverable (repeatable)")
	cmd.Flags().StringArrayVar(&texts, "text", nil, "text deliverable (repeatable)")
	cmd.Flags().StringVar(&note, "note", "", "note")
	return cmd
}

func taskConfirmCmd() *cobra.Command {
	var decision, comment string
	cmd := transitionCmd("confirm", "Review a submission", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.Confirm(ctx, engine.ConfirmOptions{TaskID: id, ReviewerID: actorID(), Decision: decision, Comment: comment})
	})
	cmd.Flags().StringVar(&decision, "decision", engine.DecisionApproved, "approved or changes_requested")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func taskSealCmd() *cobra.Command {
	return transitionCmd("seal", "Seal a confirmed task", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.Seal(ctx, id, actorID())
	})
}

func taskExtendCmd() *cobra.Command {
	var days int
	cmd := transitionCmd("extend", "Extend the current SLA phase once", func(ctx context.Context, e engine.Engine, id string) (domain.Task, error) {
		return e.ExtendSLA(ctx, id, actorID(), days)
	})
	cmd.Flags().IntVar(&days, "days", 3, "extension length in days")
	return cmd
}

func taskVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <id>",
		Short: "Recompute a task's seal hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				v, err := a.Engine.VerifySeal(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSONOrTable(v); err != nil {
					return err
				}
				if v.Sealed && !v.Valid {
					return fmt.Errorf("seal mismatch for %s", v.TaskID)
				}
				return nil
			})
		},
	}
}

func taskLogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log <id>",
		Short: "Show a task's activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Activity(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Event", "By"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS.Format("2006-01-02 15:04:05"), evt.Event, evt.By})
				}
				tw.Render()
				return nil
			})
		},
	}
}
