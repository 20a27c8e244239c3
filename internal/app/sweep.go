package app

import (
	"context"

	"oracle-resolver/internal/service"
)

// Sweep runs a single settlement pass, the same one the scheduler runs on every tick.
func (a *App) Sweep(opts SweepOptions) OperationFunc {
	return func(ctx context.Context, c *Components) (any, error) {
		if opts.DryRun {
			a.Logger.Warn().Msg("sweep dry-run：不会结算任何市场")
		}
		if !c.Persistent {
			a.Logger.Warn().Msg("database.dsn 未配置，扫描只覆盖本进程内的请求")
		}

		svc := service.New(a.Config, nil, c.Coordinator, c.Locker, a.Logger)
		bucket := a.clock.Now().Truncate(a.Config.Scheduler.Interval)
		return svc.Sweep(ctx, bucket, opts.DryRun)
	}
}
