package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"liahona/internal/app"
	"liahona/internal/db"
	"liahona/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "lh",
	Short: "Liahona CLI",
	Long: `Liahona moves tasks through a fixed lifecycle and tracks who is working on them.
- Lifecycle: activity -> accepted -> action -> submitted -> confirmed -> sealed.
- SLA: accepted and submitted phases carry a deadline; the sweeper reopens overdue tasks.
- Sessions: agents check out a task to work on it; leases expire unless heartbeated.
- Events: every change is logged and fanned out to websocket and webhook subscribers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if db.IsPostgresURL(viper.GetString("database-url")) {
			return nil
		}
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LIAHONA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (defaults to the workspace SQLite database)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "default", "project id")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "database-url", "json", "actor-id", "project", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(notifyCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func newLogger(jsonOutput bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if jsonOutput {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func openApp(logger *slog.Logger) (*app.App, error) {
	return app.Open(app.Options{
		Workspace:   viper.GetString("workspace"),
		DatabaseURL: viper.GetString("database-url"),
		Logger:      logger,
	})
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := openApp(newLogger(false))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func actorID() string {
	return viper.GetString("actor-id")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	out, ok := renderFields(v)
	if !ok {
		return printJSON(v)
	}
	fmt.Println(out)
	return nil
}

// renderFields lays out a JSON object as a field/value table. Values that
// are not strings are shown as compact JSON.
func renderFields(v any) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return "", false
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		raw := fields[k]
		var s string
		if json.Unmarshal(raw, &s) == nil {
			tw.AppendRow(table.Row{k, s})
			continue
		}
		tw.AppendRow(table.Row{k, string(raw)})
	}
	return tw.Render(), true
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTaskTree(n domain.TaskNode, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s %s [%s]\n", prefix, connector, n.Task.ID, n.Task.Title, n.Task.Status)
	for i, c := range n.Children {
		printTaskTree(c, newPrefix, i == len(n.Children)-1)
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
