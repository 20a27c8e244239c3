package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"oracle-resolver/internal/optimistic"
)

// Dispatcher turns optimistic oracle transitions into notifications for the
// configured events and fans them out to every channel in name order.
type Dispatcher struct {
	events    map[string]struct{}
	channels  []string
	notifiers map[string]Notifier
	logger    zerolog.Logger
}

// NewDispatcher builds a dispatcher. An empty events list forwards every event.
func NewDispatcher(events []string, notifiers map[string]Notifier, logger zerolog.Logger) *Dispatcher {
	set := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			set[e] = struct{}{}
		}
	}
	channels := make([]string, 0, len(notifiers))
	for name := range notifiers {
		channels = append(channels, name)
	}
	sort.Strings(channels)
	return &Dispatcher{
		events:    set,
		channels:  channels,
		notifiers: notifiers,
		logger:    logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// OnTransition implements optimistic.Observer.
func (d *Dispatcher) OnTransition(ctx context.Context, evt optimistic.Event) error {
	if len(d.events) > 0 {
		if _, ok := d.events[evt.Type]; !ok {
			return nil
		}
	}

	note := FromEvent(evt)
	note.Channels = d.channels

	var errs []error
	for _, name := range d.channels {
		if err := d.notifiers[name].Notify(ctx, note); err != nil {
			d.logger.Warn().Err(err).Str("channel", name).Str("market", note.MarketID).Msg("告警发送失败")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// FromEvent renders a transition as a notification.
func FromEvent(evt optimistic.Event) Notification {
	req := evt.Request
	note := Notification{
		Event:    evt.Type,
		MarketID: req.MarketID,
		State:    string(req.State),
		Question: req.Question,
		TxHash:   req.LastTxHash,
		At:       evt.At,
	}

	switch {
	case req.FinalOutcome != "":
		note.Outcome = req.FinalOutcome
		note.Price = req.ResolvedPrice.Decimal.String()
	case req.ArbitrationPrice.Valid:
		note.Outcome = "ARBITRATED"
		note.Price = req.ArbitrationPrice.Decimal.String()
	case req.ProposedOutcome != "":
		note.Outcome = req.ProposedOutcome
		note.Price = req.ProposedPrice.Decimal.String()
	}
	if req.DisputeReason != "" {
		note.Reason = req.DisputeReason
	}
	return note
}

var _ optimistic.Observer = (*Dispatcher)(nil)
