package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"oracle-resolver/internal/resolver"
)

// Export renders the resolution log as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	comps, err := a.Components(ctx)
	if err != nil {
		return err
	}
	if !comps.Persistent {
		return errors.New("database not configured; cannot export")
	}

	to := a.clock.Now()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	entries, err := comps.Outcomes.ListOutcomesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		a.Logger.Info().Msg("no resolutions found for export window")
		return nil
	}

	downsampled := downsampleEntries(entries, opts.MaxPoints)
	a.Logger.Info().Int("total", len(entries)).Int("exported", len(downsampled)).Msg("exporting resolutions")

	if opts.CSVPath != "" {
		if err := writeEntriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeEntriesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleEntries(entries []resolver.LogEntry, max int) []resolver.LogEntry {
	if max <= 0 || len(entries) <= max {
		return entries
	}
	if max == 1 {
		return entries[len(entries)-1:]
	}

	result := make([]resolver.LogEntry, 0, max)
	step := float64(len(entries)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(entries) {
			idx = len(entries) - 1
		}
		result = append(result, entries[idx])
	}
	return result
}

func writeEntriesCSV(path string, entries []resolver.LogEntry) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"recorded_at", "market_id", "symbol", "comparison", "target_price", "final_price", "resolved", "outcome", "resolved_at", "reason"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, e := range entries {
		finalPrice := ""
		if e.FinalPrice.Valid {
			finalPrice = e.FinalPrice.Decimal.String()
		}
		resolvedAt := ""
		if e.ResolvedAt != nil {
			resolvedAt = e.ResolvedAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			e.RecordedAt.UTC().Format(time.RFC3339),
			e.MarketID,
			e.Symbol,
			string(e.Comparison),
			e.TargetPrice.String(),
			finalPrice,
			boolString(e.Resolved),
			string(e.Outcome.Outcome),
			resolvedAt,
			e.Reason,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

// writeEntriesPNG plots observed prices against targets. Entries without a
// price (time gate hits) are skipped.
func writeEntriesPNG(path string, entries []resolver.LogEntry) error {
	x := make([]time.Time, 0, len(entries))
	final := make([]float64, 0, len(entries))
	target := make([]float64, 0, len(entries))

	for _, e := range entries {
		if !e.FinalPrice.Valid {
			continue
		}
		x = append(x, e.RecordedAt)
		final = append(final, e.FinalPrice.Decimal.InexactFloat64())
		target = append(target, e.TargetPrice.InexactFloat64())
	}
	if len(x) < 2 {
		return errors.New("need at least two priced resolutions to draw a chart")
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price (USD)",
			ValueFormatter: priceFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Observed",
				XValues: x,
				YValues: final,
			},
			chart.TimeSeries{
				Name:    "Target",
				XValues: x,
				YValues: target,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func boolString(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
