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
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"servicetag/internal/activity"
	"servicetag/internal/app"
	"servicetag/internal/config"
	"servicetag/internal/db"
	"servicetag/internal/domain"
	"servicetag/internal/logging"
	"servicetag/internal/migrate"
	"servicetag/internal/repo"
	"servicetag/internal/serial"
	"servicetag/internal/server"
	servicetagsdk "servicetag/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "servicetag",
	Short: "Dell service tag sync for Freshservice",
	Long: `servicetag finds Dell assets in Freshservice by their serial number and sets
each asset tag to the Dell service tag.
- Discovery: auto-detect scans every asset page and keeps serials shaped like a
  service tag or express service code; otherwise the configured asset type ids
  are queried, and with neither a single unfiltered page is used.
- Reconciliation: assets without a serial, already matching, or not in Dell
  format are skipped; the rest get asset_tag = serial and a "Service Tag:" line
  appended to their description.
- History: every run is summarized in the activity log (last 50 runs) and the
  event log, view them with 'servicetag activity' and 'servicetag log tail'.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SERVICETAG")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("domain", "", "Freshservice domain (the <domain> in <domain>.freshservice.com)")
	pf.String("api-key", "", "Freshservice API key")
	pf.Bool("auto-detect", true, "detect Dell assets by serial number format")
	pf.String("asset-type-ids", "", "comma-separated Dell asset type ids, used when auto-detect is off")
	pf.String("sync-schedule", "", "hours between scheduled syncs")
	pf.Int("workers", config.DefaultWorkers, "concurrent asset updates")
	pf.String("log-level", "", "log level (debug, info, warn, error)")
	pf.String("log-format", "", "log format (console, json)")
	for _, name := range []string{
		"workspace", "json", "domain", "api-key", "auto-detect", "asset-type-ids",
		"sync-schedule", "workers", "log-level", "log-format",
	} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(estimateCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create servicetag.yml and the local database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			domainName := viper.GetString("domain")
			if domainName == "" {
				domainName = "yourcompany"
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(domainName)), 0o600); err != nil {
				return err
			}
			if err := withRepo(cmd.Context(), func(context.Context, repo.Repo) error { return nil }); err != nil {
				return err
			}
			fmt.Printf("wrote %s and %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective config",
		Long:  "The effective config is servicetag.yml with flags and SERVICETAG_* environment variables applied on top.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			if shown.Freshservice.APIKey != "" {
				shown.Freshservice.APIKey = "********"
			}
			if shown.API.JWTSecret != "" {
				shown.API.JWTSecret = "********"
			}
			if viper.GetBool("json") {
				return printJSON(shown)
			}
			out, err := yaml.Marshal(&shown)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err == nil {
				err = cfg.Validate()
			}
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

func syncCmd() *cobra.Command {
	var serverURL, token string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run dell_asset_sync now",
		Long:  "Runs the sync in this process, or on a running server with --server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var res servicetagsdk.JobResult
			if serverURL != "" {
				c := servicetagsdk.New(serverURL)
				c.BearerToken = token
				var err error
				if res, err = c.ExecuteJob(cmd.Context(), config.JobName); err != nil {
					return err
				}
			} else {
				err := withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
					r := svc.Trigger.ExecuteJob(ctx, config.JobName)
					res = servicetagsdk.JobResult(r)
					return nil
				})
				if err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			if !res.Success {
				return errors.New(res.Error)
			}
			fmt.Printf("Dell Asset Sync: %d/%d assets updated\n", res.UpdatedAssets, res.TotalAssets)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "servicetag API URL, e.g. http://127.0.0.1:8080")
	cmd.Flags().StringVar(&token, "token", os.Getenv("SERVICETAG_TOKEN"), "bearer token for --server")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var noSchedule bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the sync scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				cfg := svc.Config
				if cmd.Flags().Changed("addr") {
					cfg.API.Addr = addr
				}
				if cmd.Flags().Changed("base-path") {
					cfg.API.BasePath = basePath
				}
				if secret := os.Getenv("SERVICETAG_JWT_SECRET"); secret != "" {
					cfg.API.JWTSecret = secret
				}
				handler, err := server.New(server.Config{
					Trigger:  svc.Trigger,
					Fetcher:  svc.Fetcher,
					Repo:     svc.Repo,
					Sync:     cfg.SyncConfiguration(),
					BasePath: cfg.API.BasePath,
					Auth:     server.AuthConfig{JWTSecret: cfg.API.JWTSecret},
					Logger:   svc.Logger.Named("server"),
				})
				if err != nil {
					return err
				}
				schedDone := make(chan struct{})
				if noSchedule {
					close(schedDone)
				} else {
					sched := svc.NewScheduler()
					if _, err := app.Install(sched, cfg, time.Now()); err != nil {
						return err
					}
					go func() {
						defer close(schedDone)
						sched.Start(ctx)
					}()
				}
				srv := &http.Server{Addr: cfg.API.Addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				svc.Logger.Info("serving servicetag API",
					zap.String("url", "http://"+cfg.API.Addr+cfg.API.BasePath),
					zap.String("docs", "/docs"),
					zap.Bool("auth", cfg.API.JWTSecret != ""))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				<-schedDone
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "serve the API without the recurring sync")
	return cmd
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify <serial>...",
		Short: "Check serial numbers against the Dell service tag formats",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]serial.Result, 0, len(args))
			for _, a := range args {
				results = append(results, serial.Classify(a))
			}
			if viper.GetBool("json") {
				return printJSON(results)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Input", "Normalized", "Dell", "Express", "Reason"})
			for _, r := range results {
				tw.AppendRow(table.Row{r.Input, r.Normalized, r.Match, r.Express, r.Reason})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func estimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the Dell assets from the first page",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, svc *app.Service) error {
				est, err := svc.Fetcher.Estimate(ctx, svc.Config.SyncConfiguration())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(est)
				}
				fmt.Printf("Strategy: %s\nDell assets: %d (of %d sampled)\n", est.Strategy, est.Count, est.Sampled)
				return nil
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	var serverURL, token string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the last sync and recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				c := servicetagsdk.New(serverURL)
				c.BearerToken = token
				st, err := c.Status(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("State: %s\nLast sync: %s\nStrategy: %s\nSchedule: every %dh\n", st.State, orNever(st.LastSyncTime), st.Strategy, st.ScheduleHours)
				if st.LastError != "" {
					fmt.Printf("Last error: %s\n", st.LastError)
				}
				return nil
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				last, err := r.LastSyncTime(ctx)
				if err != nil && !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				runs, err := r.ListRuns(ctx, 5)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"last_sync_time": last,
						"schedule_hours": cfg.IntervalHours(),
						"runs":           runs,
					})
				}
				fmt.Printf("Last sync: %s\nSchedule: every %dh\n", orNever(last), cfg.IntervalHours())
				if len(runs) == 0 {
					return nil
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Run", "Time", "Source", "Strategy", "Updated", "Total"})
				for _, s := range runs {
					tw.AppendRow(table.Row{s.ID, s.Timestamp, s.Source, s.Strategy, s.UpdatedAssets, s.TotalAssets})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "servicetag API URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("SERVICETAG_TOKEN"), "bearer token for --server")
	return cmd
}

func activityCmd() *cobra.Command {
	var n int
	var runID string
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent sync activity",
		Long:  "Lists the activity log newest first. With --run, shows the per-asset outcomes of one run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if runID != "" {
					s, err := r.GetRun(ctx, runID)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(s)
					}
					printOutcomes(s)
					return nil
				}
				history, err := r.RecentActivity(ctx)
				if err != nil {
					return err
				}
				items := activity.Tail(history, n)
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Message", "Run"})
				for _, e := range items {
					id := ""
					if e.Details != nil {
						id = e.Details.ID
					}
					tw.AppendRow(table.Row{e.Timestamp, e.Message, id})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 5, "number of entries (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail: one event per run and per updated or failed asset.",
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
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind (run, asset)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := cfg.API.JWTSecret
			if env := os.Getenv("SERVICETAG_JWT_SECRET"); env != "" {
				secret = env
			}
			tok, err := server.IssueToken(secret, subject)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "local-user", "token subject")
	return cmd
}

// --- helpers ---

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg)
	return cfg, nil
}

func applyOverrides(cfg *config.Config) {
	if viper.IsSet("domain") {
		cfg.Freshservice.Domain = viper.GetString("domain")
	}
	if viper.IsSet("api-key") {
		cfg.Freshservice.APIKey = viper.GetString("api-key")
	}
	if viper.IsSet("auto-detect") {
		cfg.Sync.AutoDetectDell = viper.GetBool("auto-detect")
	}
	if viper.IsSet("asset-type-ids") {
		cfg.Sync.DellAssetTypeIDs = viper.GetString("asset-type-ids")
	}
	if viper.IsSet("sync-schedule") {
		cfg.Sync.SyncSchedule = viper.GetString("sync-schedule")
	}
	if viper.IsSet("workers") {
		cfg.Sync.Workers = viper.GetInt("workers")
	}
	if viper.IsSet("log-level") {
		cfg.Logging.Level = viper.GetString("log-level")
	}
	if viper.IsSet("log-format") {
		cfg.Logging.Format = viper.GetString("log-format")
	}
}

func withService(ctx context.Context, fn func(context.Context, *app.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()
	svc, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()
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
	return fn(ctx, repo.New(conn))
}

func printOutcomes(s domain.RunSummary) {
	fmt.Printf("Run %s at %s (%s, %s): %d/%d updated\n", s.ID, s.Timestamp, s.Source, s.Strategy, s.UpdatedAssets, s.TotalAssets)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Asset", "Name", "Outcome", "New tag", "Detail"})
	for _, o := range s.Results {
		detail := o.Error
		if detail == "" {
			detail = o.Reason()
		}
		tw.AppendRow(table.Row{o.AssetID, o.AssetName, o.Outcome, o.NewTag, detail})
	}
	tw.Render()
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

func orNever(ts string) string {
	if ts == "" {
		return "never"
	}
	return ts
}
