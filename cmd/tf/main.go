package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskflow/internal/app"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/domain"
	"taskflow/internal/engine"
	tfmcp "taskflow/internal/mcp"
	"taskflow/internal/migrate"
	"taskflow/internal/repo"
	"taskflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tf",
	Short: "Taskflow CLI",
	Long: `Taskflow is a Kanban board where "done" has to be earned.
Core concepts:
- Board: ordered columns. Backlog is where new work lands, Review and Done are gated, custom columns sit in between.
- Tasks: cards with a priority, tags, an optional deadline and a checklist of subtasks.
- Gating: a task may only enter Review or Done once every required subtask is complete. Toggling a subtask never moves the task.
- Links: "A blocks B" edges between tasks; spawn creates a follow-up already linked.
- Locks: a locked task only accepts field edits from its creator; notes stay open to everyone.
- Activity: every change is logged with its actor, view it with 'tf log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(columnCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(subtaskCmd())
	rootCmd.AddCommand(linkCmd())
	rootCmd.AddCommand(noteCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
}

func initCmd() *cobra.Command {
	var boardID string
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create taskflow.yml and the board database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(boardID)), 0o644); err != nil {
				return err
			}
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				fmt.Printf("Initialized board %s in %s\n", svc.BoardID, db.Path(workspace))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&boardID, "board", "default", "board id")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect taskflow.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate taskflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Collaboration log",
		Long:  "Every change to the board with who made it: task moves, checklist updates, notes, column edits.",
	}
	log.AddCommand(logTailCmd())
	log.AddCommand(logRecordCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, taskID, actor string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent activity, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				events, err := svc.Repo.LatestEvents(ctx, n, 0, repo.EventFilter{BoardID: svc.BoardID, Type: evtType, TaskID: taskID, ActorID: actor})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "When", "Actor", "Type", "Text"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.At.Local().Format(time.DateTime), e.ActorID, e.Type, e.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&taskID, "task", "", "task id filter")
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func logRecordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "record <text>",
		Short: "Add a free-text entry to the log",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				a, err := app.Do(ctx, svc, func(e *engine.Engine) (domain.Activity, error) {
					return e.RecordActivity(viper.GetString("actor-id"), strings.Join(args, " "))
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func keyCmd() *cobra.Command {
	key := &cobra.Command{Use: "key", Short: "Manage API keys for the HTTP API"}

	var name, actor string
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a key; the raw value is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				k, raw, err := r.CreateAPIKey(ctx, actor, name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"key": k, "api_key": raw})
				}
				fmt.Printf("API key for %s (id %s):\n%s\n", k.ActorID, k.ID, raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as (defaults to --actor-id)")

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "actor filter")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	key.AddCommand(create, list, revoke)
	return key
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var legacy, devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withService(ctx, func(ctx context.Context, svc *app.Service) error {
				if !cmd.Flags().Changed("addr") {
					addr = svc.Config.Server.Addr
				}
				if !cmd.Flags().Changed("base-path") {
					basePath = svc.Config.Server.BasePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:              viper.GetString("jwt-secret"),
					AllowLegacyActorHeader: legacy || svc.Config.Server.AllowLegacyActorHeader,
					EnableDevLogin:         devLogin,
				}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("TASKFLOW_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Service: svc, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				server.StartWebhooks(ctx, svc)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Taskflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&legacy, "allow-legacy-actor-header", false, "accept unauthenticated X-Actor-Id headers")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "DEV ONLY: expose /auth/dev/login to mint tokens")
	return cmd
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the board to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				return tfmcp.Serve(tfmcp.NewServer(svc, viper.GetString("actor-id")))
			})
		},
	}
}

// --- helpers ---

func withService(ctx context.Context, fn func(context.Context, *app.Service) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	svc, err := app.Open(ctx, conn, cfg, app.Options{})
	if err != nil {
		return err
	}
	return fn(ctx, svc)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
