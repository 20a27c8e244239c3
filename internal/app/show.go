package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// Show prints open and recent oracle requests followed by the latest resolutions.
func (a *App) Show(ctx context.Context, w io.Writer, opts ShowOptions) error {
	comps, err := a.Components(ctx)
	if err != nil {
		return err
	}
	if !comps.Persistent {
		return errors.New("database not configured; cannot show history")
	}

	requests, err := comps.Coordinator.ListRequests(ctx)
	if err != nil {
		return err
	}
	if len(requests) > opts.Limit {
		requests = requests[len(requests)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Market\tState\tProposed\tFinal\tRequested (UTC)\tSettleable\tQuestion")
	for i := len(requests) - 1; i >= 0; i-- {
		req := requests[i]
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			req.MarketID,
			req.State,
			dash(req.ProposedOutcome),
			dash(req.FinalOutcome),
			req.RequestedAt.UTC().Format(time.RFC3339),
			comps.Coordinator.Settleable(req),
			sanitizeInline(req.Question),
		)
	}
	writer.Flush()

	entries, err := comps.Outcomes.ListRecentOutcomes(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "\nno resolutions found")
		return nil
	}

	fmt.Fprintln(w)
	writer = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tMarket\tSymbol\tCondition\tPrice\tOutcome\tReason")
	for _, e := range entries {
		price := "-"
		if e.FinalPrice.Valid {
			price = formatDecimal(e.FinalPrice.Decimal, 2)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s %s\t%s\t%s\t%s\n",
			e.RecordedAt.UTC().Format(time.RFC3339),
			e.MarketID,
			e.Symbol,
			e.Comparison,
			formatDecimal(e.TargetPrice, 2),
			price,
			e.Outcome.Outcome,
			sanitizeInline(e.Reason),
		)
	}

	writer.Flush()
	return nil
}

func dash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
