package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"phaseline/internal/app"
	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/engine"
	"phaseline/internal/migrate"
	"phaseline/internal/notify"
	"phaseline/internal/repo"
	"phaseline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Phaseline CLI",
	Long: `Phaseline schedules phased weekly work and validates it.
Core concepts:
- Workspace: your .phaseline directory with the database; config lives in phaseline.yml and is mirrored into the DB.
- Org: the company whose phases, areas, users, and leaders the config describes.
- Catalog: per-phase task list generated from area templates; regenerating creates a new immutable version and repoints the active one.
- Schedule: a user's phase tasks spread evenly across the phase weeks; tasks from past weeks without a completion show as carried over.
- Completion: marking a task done records insights (and an impact report in gated areas); collaborative tasks then wait for leader validation.
- Swaps: each user has a per-phase budget for replacing a task's content.
- Objectives: one active weekly objective per user with key results; unfinished objectives carry into the current week on reconcile.
- Alerts and events: alerts notify people, the outbox event log feeds webhooks and the audit tail.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("PHASELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user", "", "acting user id")
	rootCmd.PersistentFlags().String("org", "", "org id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
	_ = viper.BindPFlag("org", rootCmd.PersistentFlags().Lookup("org"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(orgCmd())
	rootCmd.AddCommand(configCommand())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(swapsCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(okrCmd())
	rootCmd.AddCommand(alertsCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var orgID, name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		Long:  "Writes a starter phaseline.yml and creates the org in the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org-id required")
			}
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("%s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault(orgID)), 0o644); err != nil {
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
			cfg := config.Default(orgID)
			e := engine.New(conn, cfg)
			if name == "" {
				name = orgID
			}
			o, err := e.InitOrg(cmd.Context(), orgID, name, viper.GetString("user"))
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", cfgPath)
			return printJSONOrTable(o)
		},
	}
	cmd.Flags().StringVar(&orgID, "org-id", "", "org id")
	cmd.Flags().StringVar(&name, "name", "", "org display name")
	_ = cmd.MarkFlagRequired("org-id")
	return cmd
}

func orgCmd() *cobra.Command {
	org := &cobra.Command{Use: "org", Short: "Inspect the org"}
	org.AddCommand(orgShowCmd())
	return org
}

func orgShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active org",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.Repo.GetOrg(ctx, e.Config.Org.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func configCommand() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect org config",
		Long:  "Config describes phases, areas, users, leaders, task templates, swap budgets, and notification sinks. The DB copy is authoritative; import from phaseline.yml when it changes.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import org config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			if filePath == "" {
				filePath = config.Path(viper.GetString("workspace"))
			}
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			orgID := cfg.Org.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if orgID == "" {
					orgID = e.Config.Org.ID
				}
				if err := e.Repo.UpsertOrgConfig(ctx, orgID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config (defaults to workspace phaseline.yml)")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func generateCmd() *cobra.Command {
	var phase int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate the task catalog for a phase",
		Long:  "Creates tasks from the area templates for every user, as a new immutable catalog version, and makes it the active one. Earlier versions stay readable.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.GenerateCatalog(ctx, e.Config.Org.ID, phase, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 1, "phase number")
	return cmd
}

func scheduleCmd() *cobra.Command {
	var phase int
	var userID string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show a user's weekly schedule for a phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if userID == "" {
					userID = viper.GetString("user")
				}
				if userID == "" {
					return fmt.Errorf("--user required")
				}
				view, err := e.Schedule(ctx, e.Config.Org.ID, userID, phase)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				fmt.Printf("Phase %d, week %d of %d: %d/%d tasks done (%d%%)\n",
					view.Phase, view.CurrentWeek, view.TotalWeeks, view.CompletedTasks, view.TotalTasks, view.ProgressPercent)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Week", "Task", "Area", "State", "Carried"})
				for _, week := range view.Weeks {
					marker := strconv.Itoa(week.Number)
					if week.Current {
						marker += " *"
					}
					for _, st := range week.Tasks {
						state := "pending"
						if st.Completion != nil {
							state = st.Completion.State
						}
						carried := ""
						if st.IsCarriedOver {
							carried = "yes"
						}
						tw.AppendRow(table.Row{marker, st.Task.Title, st.Task.Area, state, carried})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 1, "phase number")
	cmd.Flags().StringVar(&userID, "for", "", "user id (defaults to --user)")
	return cmd
}

func swapsCmd() *cobra.Command {
	var phase int
	var userID string
	cmd := &cobra.Command{
		Use:   "swaps",
		Short: "Show swap quota for a user and phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if userID == "" {
					userID = viper.GetString("user")
				}
				if userID == "" {
					return fmt.Errorf("--user required")
				}
				q, err := e.SwapStatus(ctx, e.Config.Org.ID, userID, phase)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(q)
				}
				fmt.Printf("Phase %d swaps for %s: %d used of %d (%d left)\n", phase, userID, q.UsedSwaps, q.TotalSwaps, q.Remaining())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&phase, "phase", 1, "phase number")
	cmd.Flags().StringVar(&userID, "for", "", "user id (defaults to --user)")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Complete, validate, unmark, and swap tasks",
		Long:  "Tasks come from the generated catalog. Completing a leaderless task validates it immediately; collaborative tasks wait for the area leader. Unmark deletes the completion so the task is pending again.",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskValidateCmd())
	task.AddCommand(taskUnmarkCmd())
	task.AddCommand(taskSwapCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks in the active catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.OrgID == "" {
					f.OrgID = e.Config.Org.ID
				}
				if f.CatalogVersionID == "" && f.Phase > 0 {
					versionID, err := e.Repo.ActiveCatalogVersion(ctx, f.OrgID, f.Phase)
					if err != nil {
						return err
					}
					f.CatalogVersionID = versionID
				}
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Area", "Owner", "Leader"})
				for _, t := range tasks {
					leader := ""
					if t.LeaderID != nil {
						leader = *t.LeaderID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Area, t.OwnerUserID, leader})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OrgID, "org", "", "org id")
	cmd.Flags().IntVar(&f.Phase, "phase", 1, "phase number")
	cmd.Flags().StringVar(&f.OwnerUserID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.Area, "area", "", "area filter")
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	var insights, impactJSON string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a task complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var impact *engine.ImpactReport
			if impactJSON != "" {
				impact = &engine.ImpactReport{}
				if err := json.Unmarshal([]byte(impactJSON), impact); err != nil {
					return fmt.Errorf("invalid --impact-json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CompleteTask(ctx, engine.CompleteTaskOptions{
					TaskID:   args[0],
					UserID:   viper.GetString("user"),
					Insights: insights,
					Impact:   impact,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&insights, "insights", "", "what you learned doing the task")
	cmd.Flags().StringVar(&impactJSON, "impact-json", "", "impact report JSON (required in gated areas)")
	return cmd
}

func taskValidateCmd() *cobra.Command {
	var fb engine.LeaderFeedback
	cmd := &cobra.Command{
		Use:   "validate <id>",
		Short: "Validate a completed task as area leader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.ValidateTask(ctx, args[0], viper.GetString("user"), fb)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&fb.WhatWentWell, "went-well", "", "what went well")
	cmd.Flags().StringVar(&fb.WhatToImprove, "improve", "", "what to improve")
	cmd.Flags().StringVar(&fb.AdditionalComments, "comments", "", "additional comments")
	cmd.Flags().IntVar(&fb.Rating, "rating", 0, "rating 1-5")
	_ = cmd.MarkFlagRequired("went-well")
	_ = cmd.MarkFlagRequired("improve")
	_ = cmd.MarkFlagRequired("rating")
	return cmd
}

func taskUnmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmark <id>",
		Short: "Unmark a task (back to pending)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.UnmarkTask(ctx, args[0], viper.GetString("user"))
			})
		},
	}
	return cmd
}

func taskSwapCmd() *cobra.Command {
	var opts engine.SwapOptions
	cmd := &cobra.Command{
		Use:   "swap <id>",
		Short: "Swap a task's content within the phase quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.TaskID = args[0]
			opts.UserID = viper.GetString("user")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.SwapTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "replacement title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "replacement description")
	cmd.Flags().StringVar(&opts.Area, "area", "", "replacement area (optional)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func okrCmd() *cobra.Command {
	okr := &cobra.Command{
		Use:   "okr",
		Short: "Weekly objectives and key results",
		Long:  "One active objective per user at a time. Key results auto-complete the objective when all targets are reached. Reconcile carries unfinished objectives into the current week.",
	}
	okr.AddCommand(okrNewCmd())
	okr.AddCommand(okrListCmd())
	okr.AddCommand(okrProgressCmd())
	okr.AddCommand(okrCompleteCmd())
	okr.AddCommand(okrReconcileCmd())
	return okr
}

// parseKeyResult accepts "title:target" or "title:target:unit".
func parseKeyResult(s string) (engine.KeyResultOptions, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return engine.KeyResultOptions{}, fmt.Errorf("key result %q must be title:target[:unit]", s)
	}
	target, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return engine.KeyResultOptions{}, fmt.Errorf("key result %q: bad target: %w", s, err)
	}
	kr := engine.KeyResultOptions{Title: parts[0], TargetValue: target}
	if len(parts) > 2 {
		kr.Unit = parts[2]
	}
	return kr, nil
}

func okrNewCmd() *cobra.Command {
	var title string
	var krSpecs []string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a weekly objective",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ObjectiveOptions{
				UserID: viper.GetString("user"),
				Title:  title,
			}
			for _, s := range krSpecs {
				kr, err := parseKeyResult(s)
				if err != nil {
					return err
				}
				opts.KeyResults = append(opts.KeyResults, kr)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.OrgID = e.Config.Org.ID
				o, err := e.CreateObjective(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "objective title")
	cmd.Flags().StringArrayVar(&krSpecs, "kr", []string{}, "key result as title:target[:unit] (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func okrListCmd() *cobra.Command {
	var f repo.ObjectiveFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List objectives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.OrgID == "" {
					f.OrgID = e.Config.Org.ID
				}
				items, err := e.Repo.ListObjectives(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "User", "Title", "Week", "Status"})
				for _, o := range items {
					tw.AppendRow(table.Row{o.ID, o.UserID, o.Title, o.WeekStart, o.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.UserID, "for", "", "user filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter (active, completed)")
	return cmd
}

func okrProgressCmd() *cobra.Command {
	var krID string
	var value float64
	cmd := &cobra.Command{
		Use:   "progress <objective-id>",
		Short: "Update a key result's current value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.UpdateKeyResult(ctx, args[0], krID, value, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	cmd.Flags().StringVar(&krID, "kr", "", "key result id")
	cmd.Flags().Float64Var(&value, "value", 0, "current value")
	_ = cmd.MarkFlagRequired("kr")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func okrCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <objective-id>",
		Short: "Mark an objective completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CompleteObjective(ctx, args[0], viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	return cmd
}

func okrReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Carry unfinished objectives into the current week",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ReconcileObjectives(ctx, e.Config.Org.ID, viper.GetString("user"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Week %s: %d objective(s) carried over\n", res.WeekStart, len(res.Carried))
				for _, o := range res.Carried {
					fmt.Printf("  %s (%s): %s\n", o.ID, o.UserID, o.Title)
				}
				return nil
			})
		},
	}
	return cmd
}

func alertsCmd() *cobra.Command {
	var f repo.AlertFilters
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.OrgID == "" {
					f.OrgID = e.Config.Org.ID
				}
				items, err := e.Repo.ListAlerts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Severity", "User", "Title"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.CreatedAt, a.Severity, a.TargetUserID, a.Title})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TargetUserID, "for", "", "target user filter")
	cmd.Flags().StringVar(&f.Severity, "severity", "", "severity filter")
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of alerts")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit tail of everything that happened: catalog generations, completions, validations, swaps, objective changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Org.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and outbox dispatcher",
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
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveOrgAndConfig(cmd.Context(), workspace, viper.GetString("org"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()
			authCfg := server.AuthConfig{
				JWTSecret:       os.Getenv("PHASELINE_JWT_SECRET"),
				DevLoginEnabled: devLogin,
				AllowUserHeader: devLogin,
				Logger:          logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PHASELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			dispatcher := &notify.Dispatcher{
				Repo:   r,
				Sinks:  notify.SinksFromConfig(cfg, logger),
				Logger: logger,
			}
			go dispatcher.Run(cmd.Context())
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Phaseline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable /auth/dev/login and X-User-Id header auth")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveOrgAndConfig(ctx, workspace, viper.GetString("org"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
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
