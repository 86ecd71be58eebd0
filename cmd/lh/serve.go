package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"liahona/internal/app"
	"liahona/internal/config"
	"liahona/internal/realtime"
	"liahona/internal/server"
)

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the sweeper and event fan-out",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(true)
			a, err := openApp(logger)
			if err != nil {
				return err
			}
			defer a.Close()

			auth := server.AuthConfig{
				JWTSecret:        viper.GetString("jwt-secret"),
				AllowActorHeader: allowActorHeader,
			}
			if auth.JWTSecret == "" && !auth.AllowActorHeader {
				return fmt.Errorf("LIAHONA_JWT_SECRET is required unless --allow-actor-header is set")
			}
			handler, err := a.Handler(basePath, auth)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			a.Start(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
				defer stop()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving liahona api", "addr", addr, "base_path", basePath, "docs", "/docs", "metrics", "/metrics")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			cancel()
			a.Wait()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without a token (local use only)")
	cmd.Flags().String("jwt-secret", "", "HS256 secret for bearer tokens")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Read the event log"}

	var limit int
	var cursor int64
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the project's latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAppEvents(cmd.Context(), limit, cursor)
		},
	}
	tail.Flags().IntVar(&limit, "n", 20, "number of events")
	tail.Flags().Int64Var(&cursor, "before", 0, "only events with an id below this cursor")

	var serverURL, basePath, token string
	var all bool
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream live events from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := streamURL(serverURL, basePath, viper.GetString("project"), all)
			if err != nil {
				return err
			}
			header := http.Header{}
			if token != "" {
				header.Set("Authorization", "Bearer "+token)
			} else {
				header.Set("X-Actor-Id", actorID())
			}
			conn, res, err := websocket.DefaultDialer.DialContext(cmd.Context(), target, header)
			if err != nil {
				if res != nil {
					return fmt.Errorf("dial %s: %w (status %d)", target, err, res.StatusCode)
				}
				return fmt.Errorf("dial %s: %w", target, err)
			}
			defer conn.Close()
			go func() {
				<-cmd.Context().Done()
				conn.Close()
			}()
			for {
				var evt realtime.Event
				if err := conn.ReadJSON(&evt); err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return err
				}
				if viper.GetBool("json") {
					if err := printJSON(evt); err != nil {
						return err
					}
					continue
				}
				fmt.Printf("%s %-26s %-12s %s\n", evt.Timestamp.Format(time.RFC3339), evt.Type, evt.Actor, evt.TaskID)
			}
		},
	}
	watch.Flags().StringVar(&serverURL, "server", "http://127.0.0.1:8080", "server URL")
	watch.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	watch.Flags().StringVar(&token, "token", os.Getenv("LIAHONA_TOKEN"), "bearer token")
	watch.Flags().BoolVar(&all, "all", false, "watch every project")

	ev.AddCommand(tail, watch)
	return ev
}

func streamURL(serverURL, basePath, projectID string, all bool) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	if all {
		u.Path = path.Join("/", basePath, "stream")
	} else {
		u.Path = path.Join("/", basePath, "projects", projectID, "stream")
	}
	return u.String(), nil
}

func authCmd() *cobra.Command {
	a := &cobra.Command{Use: "auth", Short: "Manage API credentials"}
	var ttl time.Duration
	token := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			tok, err := server.MintToken(secret, actorID(), ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"token": tok, "subject": actorID()})
			}
			fmt.Println(tok)
			return nil
		},
	}
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 for no expiry")
	a.AddCommand(token)
	return a
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "liahona.yml holds SLA lengths, session defaults, sweeper cadence, fan-out sizing and webhooks. Missing keys keep their defaults.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(c)
			}
			out, err := yaml.Marshal(c)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default liahona.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(p); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", p)
			}
			if err := os.WriteFile(p, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate liahona.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				msg := ""
				if err != nil {
					msg = strings.TrimSpace(err.Error())
				}
				return printJSON(map[string]any{"ok": err == nil, "error": msg})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func withAppEvents(ctx context.Context, limit int, cursor int64) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		items, err := a.Engine.ProjectEvents(ctx, viper.GetString("project"), cursor, limit)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return printJSON(items)
		}
		for _, evt := range items {
			fmt.Printf("%d %s %-26s %-12s %s\n", evt.ID, evt.TS.Format(time.RFC3339), evt.Event, evt.By, evt.TaskID)
		}
		return nil
	})
}
