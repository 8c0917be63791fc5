// Command run-lease-renewal-job evaluates the reminder rules once and
// schedules the notifications due today. It is meant to be run daily by cron
// or a Kubernetes CronJob; a non-zero exit status means the run aborted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"reminder-engine/internal/common/config"
	"reminder-engine/internal/common/database"
	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/common/metrics"
	"reminder-engine/internal/common/observability"
	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/dispatch"
	"reminder-engine/internal/reminders/jobrunner"
)

type options struct {
	ConfigPath string
	JobRunID   string
	Date       string
	EventTypes []string
	Migrate    bool
	Dispatch   bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "run-lease-renewal-job",
		Short: "Evaluate reminder rules and schedule today's notifications",
		Long: `Evaluate every active reminder rule against today's date and schedule
one notification per matched entity. Re-running on the same day is safe:
triggers already recorded are skipped.

Example:
  run-lease-renewal-job --config ./configs/config.yaml
  run-lease-renewal-job --date 2024-06-01 --job-run-id backfill-0601`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to a config file (default: configs/config.yaml)")
	cmd.Flags().StringVar(&opts.JobRunID, "job-run-id", "", "identifier stamped on scheduled notifications (default: random)")
	cmd.Flags().StringVar(&opts.Date, "date", "", "evaluate as if today were this YYYY-MM-DD date")
	cmd.Flags().StringSliceVar(&opts.EventTypes, "event-type", nil, "event types to evaluate (overrides config)")
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply pending schema migrations before running")
	cmd.Flags().BoolVar(&opts.Dispatch, "dispatch", false, "dispatch due notifications after scheduling")

	return cmd
}

func loadConfig(opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.ConfigPath != "" {
		cfg, err = config.LoadFromFile(opts.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if len(opts.EventTypes) > 0 {
		for _, et := range opts.EventTypes {
			if !models.EventType(et).Valid() {
				return nil, fmt.Errorf("--event-type: unknown event type %q", et)
			}
		}
		cfg.Reminders.EventTypes = opts.EventTypes
	}
	return cfg, nil
}

// parseToday resolves --date in loc; an empty value means now.
func parseToday(date string, loc *time.Location, now time.Time) (time.Time, error) {
	if date == "" {
		return now.In(loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date: %w", err)
	}
	return t, nil
}

func run(ctx context.Context, opts *options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}

	zapLog, err := logger.Build(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	today, err := parseToday(opts.Date, cfg.Reminders.Location(), time.Now())
	if err != nil {
		return err
	}
	jobRunID := opts.JobRunID
	if jobRunID == "" {
		jobRunID = uuid.NewString()
	}

	shutdownTracing, err := observability.InitTracerProvider(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint)
	if err != nil {
		zapLog.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(sctx)
		}()
	}
	defer pushMetrics(cfg, jobRunID, zapLog)

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return err
	}
	defer pg.Close()
	if err := pg.Ping(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}

	if opts.Migrate {
		applied, err := database.Migrate(ctx, pg.DB)
		if err != nil {
			return err
		}
		zapLog.Info("migrations applied", zap.Strings("versions", applied))
	}

	var rdb *database.RedisClient
	if cfg.Reminders.Lock.Enabled {
		rdb = database.NewRedis(cfg.Database.Redis)
		defer rdb.Close()
	}

	runner := newRunner(pg, rdb, cfg, log)
	sum, err := runner.RunFor(ctx, jobRunID, today)
	if err != nil {
		return fmt.Errorf("reminder job %s failed: %w", jobRunID, err)
	}
	printSummary(sum)

	if opts.Dispatch {
		return dispatchDue(ctx, pg, cfg, log)
	}
	return nil
}

func newRunner(pg *database.PostgresClient, rdb *database.RedisClient, cfg *config.Config, log logger.Logger) *jobrunner.Runner {
	if rdb == nil {
		return jobrunner.NewPostgres(pg.DB, nil, cfg, log)
	}
	return jobrunner.NewPostgres(pg.DB, rdb.Client, cfg, log)
}

func dispatchDue(ctx context.Context, pg *database.PostgresClient, cfg *config.Config, log logger.Logger) error {
	senders, err := dispatch.NewSenders(ctx, cfg)
	if err != nil {
		return err
	}
	d := dispatch.NewPostgres(pg.DB, senders, cfg, log)
	for {
		sum, err := d.RunOnce(ctx)
		if err != nil {
			return fmt.Errorf("dispatch failed: %w", err)
		}
		if sum.Claimed < cfg.Dispatch.BatchSize {
			return nil
		}
	}
}

func printSummary(sum *jobrunner.Summary) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(sum)
}

// pushMetrics sends this run's counters to the Pushgateway, if configured.
// A short-lived job has no scrape window of its own.
func pushMetrics(cfg *config.Config, jobRunID string, log *zap.Logger) {
	if cfg.Observability.PushgatewayURL == "" {
		return
	}
	pusher := push.New(cfg.Observability.PushgatewayURL, cfg.Observability.ServiceName).
		Grouping("job_run_id", jobRunID)
	for _, c := range metrics.Collectors() {
		pusher = pusher.Collector(c)
	}
	if err := pusher.Push(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("pushgateway push failed", zap.Error(err))
	}
}
