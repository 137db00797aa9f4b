package verify

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Cleaner runs the periodic expired-token cleanup pass.
type Cleaner struct {
	cron     *cron.Cron
	service  *Service
	schedule string
	logger   *slog.Logger
}

// NewCleaner creates a cleanup job on the given cron schedule
// (e.g. "@every 10m").
func NewCleaner(log *slog.Logger, service *Service, schedule string) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{
		cron:     cron.New(),
		service:  service,
		schedule: schedule,
		logger:   log.With(slog.String("component", "verify_cleaner")),
	}
}

// Start schedules the cleanup pass and begins running it.
func (c *Cleaner) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, c.run); err != nil {
		return err
	}
	c.cron.Start()
	return nil
}

// Stop halts the schedule; a pass already running completes.
func (c *Cleaner) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

func (c *Cleaner) run() {
	count, err := c.service.Cleanup(context.Background())
	if err != nil {
		c.logger.Warn("token cleanup failed", slog.String("error", err.Error()))
		return
	}
	if count > 0 {
		c.logger.Info("expired tokens removed", slog.Int64("count", count))
	}
}
