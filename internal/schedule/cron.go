package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/rashmirrout/pilotdesk/internal/config"
)

// CronInjector evaluates cron-scheduled instruction rules once a minute and
// injects due instructions into the running office exactly as if a user had
// posted them.
type CronInjector struct {
	rules  []config.CronInjection
	inject func(instruction string)
	gron   *gronx.Gronx
}

// NewCronInjector creates an injector over the configured rules.
func NewCronInjector(rules []config.CronInjection, inject func(string)) *CronInjector {
	return &CronInjector{
		rules:  rules,
		inject: inject,
		gron:   gronx.New(),
	}
}

// Run ticks once a minute until ctx is cancelled. A bad expression is
// logged and skipped; the loop never dies.
func (ci *CronInjector) Run(ctx context.Context) {
	if len(ci.rules) == 0 {
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ci.tick(now)
		}
	}
}

func (ci *CronInjector) tick(now time.Time) {
	for _, rule := range ci.rules {
		due, err := ci.gron.IsDue(rule.Schedule, now)
		if err != nil {
			slog.Warn("cron injection: bad expression", "schedule", rule.Schedule, "error", err)
			continue
		}
		if due {
			slog.Info("cron injection due", "schedule", rule.Schedule)
			ci.inject(rule.Instruction)
		}
	}
}
