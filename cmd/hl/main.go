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

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"habitline/internal/config"
	"habitline/internal/db"
	"habitline/internal/domain"
	"habitline/internal/engine"
	"habitline/internal/migrate"
	"habitline/internal/server"
	"habitline/internal/telegram"
)

var rootCmd = &cobra.Command{
	Use:   "hl",
	Short: "Habitline CLI",
	Long: `Habitline tracks daily and weekly tasks with monetary penalties for failures.
- Workspace: your .habitline directory holding the database; settings live in habitline.yml.
- Tasks: daily, weekly, or backlog items; templates, not occurrences.
- Sessions: one day track and one week track, each with at most one open session.
- Instances: the occurrences of tasks inside a session; fail one and its penalty freezes.
- Settlement: closing a session sums frozen penalties into the amount to transfer.`,
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
	viper.SetEnvPrefix("HABITLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("telegram-user", 0, "telegram user id for CLI operations")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("telegram-user", rootCmd.PersistentFlags().Lookup("telegram-user"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(botCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(statsCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create workspace, config and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config %s already exists", cfgPath)
			}
			if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
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
			fmt.Printf("Initialized workspace in %s (config at %s)\n", workspace, cfgPath)
			return nil
		},
	}
}

func loadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	// environment wins over file for secrets
	if v := viper.GetString("bot-token"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	return cfg, nil
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig(workspace)
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
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				BotToken:           cfg.Telegram.BotToken,
				JWTSecret:          cfg.Auth.JWTSecret,
				DebugAllowFakeAuth: cfg.Auth.DebugAllowFakeAuth,
			}
			if authCfg.BotToken == "" && authCfg.JWTSecret == "" && !authCfg.DebugAllowFakeAuth {
				return fmt.Errorf("configure telegram.bot_token, auth.jwt_secret or auth.debug_allow_fake_auth before serving")
			}
			var notifier telegram.Notifier
			if cfg.Telegram.BotToken != "" {
				api, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
				if err != nil {
					return fmt.Errorf("create bot api: %w", err)
				}
				notifier = telegram.Notifier{API: api}
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Notifier: notifier})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Habitline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

func botCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the companion Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := loadConfig(workspace)
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
			b, err := telegram.NewBot(engine.New(conn, cfg), cfg)
			if err != nil {
				return err
			}
			if err := b.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := loadConfig(workspace)
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
	return fn(ctx, engine.New(conn, cfg))
}

// withUser resolves the CLI user from --telegram-user.
func withUser(ctx context.Context, fn func(context.Context, engine.Engine, int64) error) error {
	telegramUserID := viper.GetInt64("telegram-user")
	if telegramUserID <= 0 {
		return fmt.Errorf("--telegram-user is required")
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		u, err := e.GetOrCreateUser(ctx, engine.TelegramProfile{TelegramUserID: telegramUserID})
		if err != nil {
			return err
		}
		return fn(ctx, e, u.ID)
	})
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskReorderCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var kind string
	var includeInactive bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				var kindPtr *domain.TaskKind
				if kind != "" {
					k := domain.TaskKind(kind)
					kindPtr = &k
				}
				tasks, err := e.ListTasks(ctx, userID, kindPtr, includeInactive)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Kind", "Active", "Penalty", "Order"})
				for _, t := range tasks {
					penalty := ""
					if t.PenaltyAmount != nil {
						penalty = t.PenaltyAmount.String()
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Kind, t.IsActive, penalty, t.OrderIndex})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "filter by kind (daily, weekly, backlog)")
	cmd.Flags().BoolVar(&includeInactive, "all", false, "include inactive tasks")
	return cmd
}

func taskAddCmd() *cobra.Command {
	var title, kind, penalty string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				opts := engine.TaskCreateOptions{
					UserID: userID,
					Title:  title,
					Kind:   domain.TaskKind(kind),
				}
				if penalty != "" {
					d, err := decimal.NewFromString(penalty)
					if err != nil {
						return fmt.Errorf("invalid --penalty %q", penalty)
					}
					opts.PenaltyAmount = &d
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&kind, "kind", "daily", "task kind (daily, weekly, backlog)")
	cmd.Flags().StringVar(&penalty, "penalty", "", "penalty override amount")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var id int64
	var title, kind, penalty string
	var active bool
	var clearPenalty bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				var opts engine.TaskUpdateOptions
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("kind") {
					k := domain.TaskKind(kind)
					opts.Kind = &k
				}
				if cmd.Flags().Changed("active") {
					opts.IsActive = &active
				}
				if clearPenalty {
					opts.SetPenalty = true
				} else if cmd.Flags().Changed("penalty") {
					d, err := decimal.NewFromString(penalty)
					if err != nil {
						return fmt.Errorf("invalid --penalty %q", penalty)
					}
					opts.SetPenalty = true
					opts.PenaltyAmount = &d
				}
				t, err := e.UpdateTask(ctx, userID, id, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "task id")
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&kind, "kind", "", "task kind")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	cmd.Flags().StringVar(&penalty, "penalty", "", "penalty override amount")
	cmd.Flags().BoolVar(&clearPenalty, "clear-penalty", false, "remove the penalty override")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	var id int64
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				return e.DeleteTask(ctx, userID, id)
			})
		},
	}
	cmd.Flags().Int64Var(&id, "id", 0, "task id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func taskReorderCmd() *cobra.Command {
	var order []int64
	cmd := &cobra.Command{
		Use:   "reorder",
		Short: "Reorder all tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				return e.ReorderTasks(ctx, userID, order)
			})
		},
	}
	cmd.Flags().Int64SliceVar(&order, "order", nil, "every task id in desired order")
	_ = cmd.MarkFlagRequired("order")
	return cmd
}

func settingsCmd() *cobra.Command {
	settings := &cobra.Command{Use: "settings", Short: "Manage settings"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				s, err := e.Settings(ctx, userID)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}

	var currency, daily, weekly string
	set := &cobra.Command{
		Use:   "set",
		Short: "Update settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				var opts engine.SettingsUpdateOptions
				if cmd.Flags().Changed("currency") {
					opts.Currency = &currency
				}
				if cmd.Flags().Changed("penalty-daily") {
					d, err := decimal.NewFromString(daily)
					if err != nil {
						return fmt.Errorf("invalid --penalty-daily %q", daily)
					}
					opts.PenaltyDaily = &d
				}
				if cmd.Flags().Changed("penalty-weekly") {
					d, err := decimal.NewFromString(weekly)
					if err != nil {
						return fmt.Errorf("invalid --penalty-weekly %q", weekly)
					}
					opts.PenaltyWeekly = &d
				}
				s, err := e.UpdateSettings(ctx, userID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	set.Flags().StringVar(&currency, "currency", "", "3-letter currency code")
	set.Flags().StringVar(&daily, "penalty-daily", "", "default daily penalty")
	set.Flags().StringVar(&weekly, "penalty-weekly", "", "default weekly penalty")

	settings.AddCommand(show, set)
	return settings
}

func sessionCmd() *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "Manage sessions"}
	session.AddCommand(sessionStartCmd())
	session.AddCommand(sessionCloseCmd())
	session.AddCommand(sessionListCmd())
	return session
}

func sessionStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <day|week>",
		Short: "Start a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				s, instances, err := e.StartSession(ctx, userID, domain.SessionScope(args[0]))
				if err != nil {
					return err
				}
				fmt.Printf("Started %s session %d with %d planned instances\n", s.Scope, s.ID, len(instances))
				return nil
			})
		},
	}
	return cmd
}

func sessionCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <day|week>",
		Short: "Close the open session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				st, err := e.CloseSession(ctx, userID, domain.SessionScope(args[0]))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Closed %s session %d: done=%d canceled=%d failed=%d, to transfer %s %s\n",
					st.Scope, st.SessionID, st.DoneCount, st.CanceledCount, st.FailedCount,
					st.AmountToTransfer.StringFixed(2), st.Currency)
				return nil
			})
		},
	}
	return cmd
}

func sessionListCmd() *cobra.Command {
	var scope string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				var scopePtr *domain.SessionScope
				if scope != "" {
					s := domain.SessionScope(scope)
					scopePtr = &s
				}
				items, err := e.ListSessions(ctx, userID, scopePtr, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Scope", "Status", "Started", "Closed"})
				for _, s := range items {
					closed := ""
					if s.ClosedAt != nil {
						closed = *s.ClosedAt
					}
					tw.AppendRow(table.Row{s.ID, s.Scope, s.Status, s.StartedAt, closed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "filter by scope (day, week)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum sessions to list")
	return cmd
}

func instanceCmd() *cobra.Command {
	instance := &cobra.Command{Use: "instance", Short: "Manage task instances"}

	var scope string
	list := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				items, err := e.ListInstances(ctx, userID, engine.InstanceScope(scope))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Task", "Kind", "Status", "Penalty"})
				for _, in := range items {
					penalty := ""
					if in.PenaltyApplied != nil {
						penalty = in.PenaltyApplied.String()
					}
					tw.AppendRow(table.Row{in.ID, in.TaskTitle, in.TaskKind, in.Status, penalty})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&scope, "scope", "today", "instance scope (today, week, history)")

	var id int64
	var status string
	set := &cobra.Command{
		Use:   "set-status",
		Short: "Set instance status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				in, err := e.SetInstanceStatus(ctx, userID, id, domain.InstanceStatus(status))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	set.Flags().Int64Var(&id, "id", 0, "instance id")
	set.Flags().StringVar(&status, "status", "", "new status (planned, done, canceled, failed)")
	_ = set.MarkFlagRequired("id")
	_ = set.MarkFlagRequired("status")

	var taskID int64
	var backlogScope string
	backlog := &cobra.Command{
		Use:   "backlog",
		Short: "Pull a backlog task into an open session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				in, err := e.AddBacklogInstance(ctx, userID, taskID, domain.SessionScope(backlogScope))
				if err != nil {
					return err
				}
				return printJSONOrTable(in)
			})
		},
	}
	backlog.Flags().Int64Var(&taskID, "task", 0, "backlog task id")
	backlog.Flags().StringVar(&backlogScope, "session", "day", "target session scope (day, week)")
	_ = backlog.MarkFlagRequired("task")

	instance.AddCommand(list, set, backlog)
	return instance
}

func statsCmd() *cobra.Command {
	stats := &cobra.Command{Use: "stats", Short: "Failure statistics"}

	var period string
	show := &cobra.Command{
		Use:   "show",
		Short: "Aggregate failed count and penalty",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				s, err := e.Stats(ctx, userID, domain.StatsPeriod(period))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	show.Flags().StringVar(&period, "period", "days", "aggregation period (days, weeks, months)")

	var detailsPeriod string
	details := &cobra.Command{
		Use:   "details",
		Short: "Per-instance stats rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				d, err := e.StatsDetails(ctx, userID, domain.StatsPeriod(detailsPeriod))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Task", "Status", "Started", "Penalty"})
				for _, row := range d.Rows {
					tw.AppendRow(table.Row{row.TaskTitle, row.Status, row.StartedAt, row.TotalPenalty.String()})
				}
				tw.Render()
				fmt.Printf("Total penalty: %s\n", d.TotalPenalty.String())
				return nil
			})
		},
	}
	details.Flags().StringVar(&detailsPeriod, "period", "days", "aggregation period (days, weeks, months)")

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Delete all sessions and instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUser(cmd.Context(), func(ctx context.Context, e engine.Engine, userID int64) error {
				removed, err := e.ClearStats(ctx, userID)
				if err != nil {
					return err
				}
				fmt.Printf("Removed %d instances\n", removed)
				return nil
			})
		},
	}

	stats.AddCommand(show, details, clear)
	return stats
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
