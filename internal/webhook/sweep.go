package webhook

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSweepSchedule reports whether expr is a usable sweep schedule.
func ValidateSweepSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("webhook: sweep schedule %q: %w", expr, err)
	}
	return nil
}

// RunSweeper sweeps d on the cron schedule expr until ctx is cancelled.
func RunSweeper(ctx context.Context, d *Deduplicator, expr string) error {
	c := cron.New(cron.WithParser(cronParser))
	_, err := c.AddFunc(expr, func() {
		if n := d.Sweep(); n > 0 {
			log.Debug().Int("removed", n).Int("remaining", d.Len()).Msg("dedup sweep")
		}
	})
	if err != nil {
		return fmt.Errorf("webhook: sweep schedule %q: %w", expr, err)
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
