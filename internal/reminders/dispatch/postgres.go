package dispatch

import (
	"database/sql"

	"reminder-engine/internal/common/config"
	"reminder-engine/internal/common/logger"
	"reminder-engine/internal/models"
	"reminder-engine/internal/reminders/render"
	"reminder-engine/internal/store"
)

// NewPostgres wires a Dispatcher onto the Postgres repositories.
func NewPostgres(db *sql.DB, senders map[models.Channel]Sender, cfg *config.Config, log logger.Logger) *Dispatcher {
	rules := store.NewRuleRepository(db)
	return New(
		store.NewNotificationRepository(db),
		rules,
		store.NewUserRepository(db),
		render.New(cfg.Reminders.DefaultLanguage),
		senders,
		Options{
			BatchSize:    cfg.Dispatch.BatchSize,
			ClaimTimeout: config.GetDuration(cfg.Dispatch.Timeout),
		},
		log,
	)
}
