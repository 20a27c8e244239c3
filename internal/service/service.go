package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"oracle-resolver/internal/config"
	"oracle-resolver/internal/optimistic"
	"oracle-resolver/internal/scheduler"
	"oracle-resolver/internal/storage"
)

// Settler is the part of the optimistic coordinator the sweeper drives.
type Settler interface {
	ListRequests(ctx context.Context, states ...optimistic.State) ([]optimistic.OracleRequest, error)
	Settleable(req optimistic.OracleRequest) bool
	SettleMarket(ctx context.Context, marketID string) (optimistic.OracleRequest, error)
}

// Report summarises one sweep.
type Report struct {
	Bucket    time.Time         `json:"bucket"`
	Skipped   bool              `json:"skipped,omitempty"`
	DryRun    bool              `json:"dryRun,omitempty"`
	Scanned   int               `json:"scanned"`
	Escalated []string          `json:"escalated"`
	Settled   []string          `json:"settled"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// Service periodically escalates expired disputes and settles requests whose
// waiting period is over.
type Service struct {
	scheduler *scheduler.Scheduler
	settler   Settler
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
}

// New constructs the settlement sweeper. locker may be nil when no database is configured.
func New(cfg *config.Config, sched *scheduler.Scheduler, settler Settler, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	return &Service{
		scheduler: sched,
		settler:   settler,
		locker:    locker,
		lockKey:   cfg.Scheduler.AdvisoryLockKey,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the periodic sweep loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的结算扫描。
func (s *Service) ProcessBucket(ctx context.Context, bucket time.Time) error {
	_, err := s.Sweep(ctx, bucket, false)
	return err
}

// Sweep runs one pass under the advisory lock. With dryRun it reports what
// would settle without settling.
func (s *Service) Sweep(ctx context.Context, bucket time.Time, dryRun bool) (Report, error) {
	report := Report{Bucket: bucket, DryRun: dryRun, Escalated: []string{}, Settled: []string{}}

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return report, err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		report.Skipped = true
		return report, nil
	}
	if unlock != nil {
		defer unlock()
	}

	return s.executeBucket(ctx, report)
}

func (s *Service) executeBucket(ctx context.Context, report Report) (Report, error) {
	reqs, err := s.settler.ListRequests(ctx, optimistic.StateProposed, optimistic.StateEscalated)
	if err != nil {
		return report, fmt.Errorf("list open requests: %w", err)
	}
	report.Scanned = len(reqs)

	for _, req := range reqs {
		if req.State == optimistic.StateEscalated && !req.ArbitrationPrice.Valid {
			report.Escalated = append(report.Escalated, req.MarketID)
			continue
		}
		if !s.settler.Settleable(req) {
			continue
		}
		if report.DryRun {
			report.Settled = append(report.Settled, req.MarketID)
			continue
		}

		settled, err := s.settler.SettleMarket(ctx, req.MarketID)
		if err != nil {
			s.logger.Error().Err(err).Str("market", req.MarketID).Msg("failed to settle market")
			if report.Failed == nil {
				report.Failed = make(map[string]string)
			}
			report.Failed[req.MarketID] = err.Error()
			continue
		}
		report.Settled = append(report.Settled, settled.MarketID)
		s.logger.Info().Str("market", settled.MarketID).
			Str("outcome", settled.FinalOutcome).
			Str("tx", settled.LastTxHash).
			Msg("market settled")
	}

	s.logger.Info().Time("bucket", report.Bucket).
		Int("scanned", report.Scanned).
		Int("settled", len(report.Settled)).
		Int("awaiting_arbitration", len(report.Escalated)).
		Int("failed", len(report.Failed)).
		Msg("sweep complete")
	return report, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
