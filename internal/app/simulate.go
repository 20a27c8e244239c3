package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"oracle-resolver/internal/alerting"
	"oracle-resolver/internal/clock"
	"oracle-resolver/internal/ledger"
	"oracle-resolver/internal/optimistic"
)

// SimulationStep is one transition of a simulated lifecycle.
type SimulationStep struct {
	Event  string           `json:"event"`
	At     time.Time        `json:"at"`
	State  optimistic.State `json:"state"`
	TxHash string           `json:"txHash,omitempty"`
}

// SimulationReport is the outcome of Simulate.
type SimulationReport struct {
	Steps       []SimulationStep         `json:"steps"`
	Final       optimistic.OracleRequest `json:"final"`
	Submissions []ledger.Submission      `json:"submissions"`
}

type stepRecorder struct {
	mu    sync.Mutex
	steps []SimulationStep
}

func (r *stepRecorder) OnTransition(_ context.Context, evt optimistic.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, SimulationStep{
		Event:  evt.Type,
		At:     evt.At,
		State:  evt.Request.State,
		TxHash: evt.Request.LastTxHash,
	})
	return nil
}

// Simulate 在内存中模拟一次完整的乐观预言机流程，并经由已配置的告警通道推送事件。
// The clock is advanced past liveness and the dispute window instead of waiting.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) (SimulationReport, error) {
	if strings.TrimSpace(opts.MarketID) == "" || strings.TrimSpace(opts.Question) == "" {
		return SimulationReport{}, errors.New("--market 与 --question 必须提供")
	}
	if opts.Dispute && opts.Arbitration == "" {
		return SimulationReport{}, errors.New("--arbitration is required with --dispute")
	}

	clk := clock.NewManual(a.clock.Now())
	submissions := ledger.NewMemoryStore()
	journal, err := a.newJournal(submissions, clk)
	if err != nil {
		return SimulationReport{}, err
	}

	recorder := &stepRecorder{}
	observers := []optimistic.Observer{recorder}
	notifiers := map[string]alerting.Notifier{"log": alerting.NewLogNotifier(a.Logger)}
	if a.Config.Alerting.Enabled {
		for name, n := range a.newNotifiers() {
			notifiers[name] = n
		}
	}
	observers = append(observers, alerting.NewDispatcher(a.Config.Alerting.Events, notifiers, a.Logger))

	cfg := a.optimisticConfig()
	coord := optimistic.New(cfg, optimistic.NewMemoryStore(), journal, clk, a.Logger, observers...)

	if _, err := coord.RequestMarketResolution(ctx, opts.MarketID, opts.Question, clk.Now().Add(time.Hour)); err != nil {
		return SimulationReport{}, err
	}
	if _, err := coord.ProposeMarketOutcome(ctx, opts.MarketID, opts.Outcome, "simulated proposal"); err != nil {
		return SimulationReport{}, err
	}

	if opts.Dispute {
		if _, err := coord.DisputeMarketOutcome(ctx, opts.MarketID, "simulated dispute"); err != nil {
			return SimulationReport{}, err
		}
		clk.Advance(cfg.DisputeWindow)
		if _, err := coord.DeliverArbitrationResult(ctx, opts.MarketID, opts.Arbitration); err != nil {
			return SimulationReport{}, err
		}
	} else {
		clk.Advance(cfg.Liveness)
	}

	final, err := coord.SettleMarket(ctx, opts.MarketID)
	if err != nil {
		return SimulationReport{}, err
	}
	subs, err := submissions.ListSubmissions(ctx, opts.MarketID)
	if err != nil {
		return SimulationReport{}, err
	}

	recorder.mu.Lock()
	steps := append([]SimulationStep(nil), recorder.steps...)
	recorder.mu.Unlock()

	a.Logger.Info().Str("market", final.MarketID).
		Str("outcome", final.FinalOutcome).
		Int("steps", len(steps)).
		Msg("simulation complete")
	return SimulationReport{Steps: steps, Final: final, Submissions: subs}, nil
}
