package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"leadline/internal/config"
	"leadline/internal/db"
	"leadline/internal/dispatch"
	"leadline/internal/handlers"
	"leadline/internal/migrate"
	"leadline/internal/notify"
	"leadline/internal/orchestrator"
	"leadline/internal/planner"
	"leadline/internal/repo"
	"leadline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ll",
	Short: "Leadline CLI",
	Long: `Leadline turns natural-language prospecting instructions into tracked,
confirmable action runs against your lead base.
- Workspace: the .leadline directory holding the database.
- Run: one assistant invocation against one prompt; its plan is persisted
  as ordered actions.
- Safe actions execute immediately when auto-confirm is on; destructive
  ones always wait for 'll assistant confirm'.
- Event log: diary of every change, view with 'll log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	_ = godotenv.Load()
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("LEADLINE")
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
	rootCmd.AddCommand(assistantCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(leadCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
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
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", cfgPath)
			}
			fmt.Println("workspace ready:", db.Path(workspace))
			return nil
		},
	}
}

func assistantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "assistant", Short: "Run the prospecting assistant"}
	cmd.AddCommand(assistantRunCmd())
	cmd.AddCommand(assistantConfirmCmd())
	cmd.AddCommand(assistantRejectCmd())
	return cmd
}

func assistantRunCmd() *cobra.Command {
	var maxLeads int
	var source string
	var autoConfirm bool
	cmd := &cobra.Command{
		Use:   "run <prompt>",
		Short: "Plan and execute actions for a prompt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				opts := orchestrator.StartOptions{
					Prompt:   args[0],
					ActorID:  viper.GetString("actor-id"),
					MaxLeads: maxLeads,
					Source:   source,
				}
				if cmd.Flags().Changed("auto-confirm") {
					opts.AutoConfirm = &autoConfirm
				}
				run, actions, err := o.Start(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"run": run, "actions": actions})
				}
				fmt.Printf("run %s  status=%s\n%s\n", run.ID, run.Status, run.Summary)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Action ID", "Type", "Status", "Confirm"})
				for _, a := range actions {
					tw.AppendRow(table.Row{a.Position, a.ID, a.ActionType, a.Status, a.RequiresConfirm})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&maxLeads, "max-leads", 0, "cap on sourced leads (0 = config default)")
	cmd.Flags().StringVar(&source, "source", "", "lead source override")
	cmd.Flags().BoolVar(&autoConfirm, "auto-confirm", false, "let safe actions run unattended")
	return cmd
}

func assistantConfirmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "confirm <action-id>...",
		Short: "Approve pending actions and execute them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				results, err := o.ExecuteConfirmed(ctx, args, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if len(results) == 0 {
					fmt.Println("no eligible actions (already resolved or not gated)")
					return nil
				}
				return printJSONOrTable(results)
			})
		},
	}
}

func assistantRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <action-id>...",
		Short: "Reject pending actions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				count, err := o.Reject(ctx, args, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("rejected %d of %d\n", count, len(args))
				return nil
			})
		},
	}
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "run", Short: "Inspect assistant runs"}
	cmd.AddCommand(runListCmd())
	cmd.AddCommand(runShowCmd())
	cmd.AddCommand(runDeleteCmd())
	return cmd
}

func runListCmd() *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, repo.RunFilters{Status: status, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Status", "Prompt", "Created"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.Status, truncate(run.Prompt, 48), run.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().IntVar(&limit, "limit", 20, "max runs")
	return cmd
}

func runShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				actions, err := r.ListRunActions(ctx, run.ID)
				if err != nil {
					return err
				}
				counts, err := r.CountActionsByStatus(ctx, run.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"run": run, "actions": actions, "action_counts": counts})
			})
		},
	}
}

func runDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a run and its actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteRun(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted run %s\n", args[0])
				return nil
			})
		},
	}
}

func leadCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "lead", Short: "Inspect leads"}
	cmd.AddCommand(leadListCmd())
	cmd.AddCommand(leadShowCmd())
	return cmd
}

func leadListCmd() *cobra.Command {
	var status, source string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List leads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				leads, err := r.ListLeads(ctx, repo.LeadFilters{Status: status, Source: source, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(leads)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Company", "Score", "Status"})
				for _, l := range leads {
					tw.AppendRow(table.Row{l.ID, l.Email, l.Name, l.Company, l.Score, l.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&source, "source", "", "source filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max leads")
	return cmd
}

func leadShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a lead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				lead, err := r.GetLead(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(lead)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if err := printJSONOrTable(events); err != nil {
					return err
				}
				if !follow {
					return nil
				}
				cursor, err := r.LatestEventID(ctx)
				if err != nil {
					return err
				}
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					fresh, err := r.EventsAfter(ctx, 100, cursor)
					if err != nil {
						return err
					}
					for _, evt := range fresh {
						if err := printJSONOrTable(evt); err != nil {
							return err
						}
						cursor = evt.ID
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().BoolVar(&follow, "follow", false, "keep polling for new events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowActorHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOrchestrator(cmd.Context(), func(ctx context.Context, o *orchestrator.Orchestrator) error {
				authCfg := server.AuthConfig{
					JWTSecret:              os.Getenv("LEADLINE_JWT_SECRET"),
					AllowLegacyActorHeader: allowActorHeader,
				}
				if authCfg.JWTSecret == "" && !allowActorHeader {
					return fmt.Errorf("LEADLINE_JWT_SECRET is required for bearer auth (or pass --allow-actor-header)")
				}
				handler, err := server.New(server.Config{Orch: o, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Leadline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8787", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "accept unauthenticated X-Actor-Id (dev only)")
	return cmd
}

// --- helpers ---

func withOrchestrator(ctx context.Context, fn func(context.Context, *orchestrator.Orchestrator) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	registry := dispatch.NewRegistry()
	handlers.New(r, cfg).Register(registry)
	source := planner.New(planner.Config{
		Provider: cfg.Assistant.Provider,
		Model:    cfg.Assistant.Model,
		Timeout:  time.Duration(cfg.Assistant.PlanTimeoutSeconds) * time.Second,
	})
	o := orchestrator.New(conn, cfg, registry, source, notify.FromConfig(cfg))
	return fn(ctx, o)
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

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
