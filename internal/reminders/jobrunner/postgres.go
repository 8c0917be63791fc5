package jobrunner

import (
	"database/sql"

	"github.com/redis/go-redis/v9"

	"reminder-engine/internal/common/config"
	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/reminders/ledger"
	"reminder-engine/internal/reminders/matcher"
	"reminder-engine/internal/reminders/recipient"
	"reminder-engine/internal/reminders/render"
	"reminder-engine/internal/reminders/runlock"
	"reminder-engine/internal/reminders/scheduler"
	"reminder-engine/internal/store"
)

// NewPostgres wires a Runner to the Postgres repositories. rdb may be nil;
// the run lock is only used when enabled in cfg and rdb is set.
func NewPostgres(db *sql.DB, rdb redis.Cmdable, cfg *config.Config, log logger.Logger) *Runner {
	users := store.NewUserRepository(db)

	deps := Dependencies{
		Rules:     store.NewRuleRepository(db),
		Matcher:   matcher.New(db),
		Ledger:    ledger.New(db),
		Resolver:  recipient.New(users, cfg.Reminders.DefaultLanguage, log),
		Renderer:  render.New(cfg.Reminders.DefaultLanguage),
		Scheduler: scheduler.New(store.NewPostgres(db)),
		Users:     users,
		Logger:    log,
	}
	if cfg.Reminders.Lock.Enabled && rdb != nil {
		deps.Lock = runlock.New(rdb, cfg.Reminders.Lock.Key, config.GetDuration(cfg.Reminders.Lock.TTL))
	}

	return New(deps, Options{
		EventTypes: cfg.EventTypes(),
		Location:   cfg.Reminders.Location(),
		DateFormat: cfg.Reminders.DateFormat,
		Timeout:    config.GetDuration(cfg.Reminders.JobTimeout),
	})
}
