package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"oracle-resolver/internal/ledger"
	"oracle-resolver/internal/optimistic"
	"oracle-resolver/internal/resolver"
)

// OutcomeStore is the resolution audit log.
type OutcomeStore interface {
	resolver.OutcomeLog
	ListOutcomesBetween(ctx context.Context, from, to time.Time) ([]resolver.LogEntry, error)
	ListRecentOutcomes(ctx context.Context, limit int) ([]resolver.LogEntry, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

var (
	_ optimistic.RequestStore = (*Store)(nil)
	_ ledger.SubmissionStore  = (*Store)(nil)
	_ OutcomeStore            = (*Store)(nil)
	_ AdvisoryLocker          = (*Store)(nil)
)

func nullDecimalParam(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func nullStringParam(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullTimeParam(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func parseNullDecimal(field string, v sql.NullString) (decimal.NullDecimal, error) {
	if !v.Valid {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(v.String)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return decimal.NewNullDecimal(d), nil
}

func parseDecimal(field, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
