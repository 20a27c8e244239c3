package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"oracle-resolver/internal/ledger"
	"oracle-resolver/internal/optimistic"
	"oracle-resolver/internal/pricefeed"
	"oracle-resolver/internal/resolver"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const requestColumns = `
        market_id,
        identifier,
        resolution_ts,
        question,
        ancillary_data,
        currency,
        reward::text,
        proposer_bond::text,
        disputer_bond::text,
        state,
        proposed_outcome,
        proposed_price::text,
        evidence,
        dispute_reason,
        arbitration_price::text,
        resolved_price::text,
        final_outcome,
        requested_at,
        proposed_at,
        disputed_at,
        escalated_at,
        settled_at,
        last_tx_hash,
        version`

const (
	insertRequestSQL = `INSERT INTO oracle_requests (
        market_id,
        identifier,
        resolution_ts,
        question,
        ancillary_data,
        currency,
        reward,
        proposer_bond,
        disputer_bond,
        state,
        proposed_outcome,
        proposed_price,
        evidence,
        dispute_reason,
        arbitration_price,
        resolved_price,
        final_outcome,
        requested_at,
        proposed_at,
        disputed_at,
        escalated_at,
        settled_at,
        last_tx_hash,
        version
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24
    )
    ON CONFLICT (market_id, identifier, resolution_ts) DO NOTHING;`

	updateRequestSQL = `UPDATE oracle_requests
    SET
        state             = $4,
        proposed_outcome  = $5,
        proposed_price    = $6,
        evidence          = $7,
        dispute_reason    = $8,
        arbitration_price = $9,
        resolved_price    = $10,
        final_outcome     = $11,
        proposed_at       = $12,
        disputed_at       = $13,
        escalated_at      = $14,
        settled_at        = $15,
        last_tx_hash      = $16,
        version           = $17
    WHERE market_id = $1
      AND identifier = $2
      AND resolution_ts = $3
      AND version = $18;`

	getRequestSQL = `SELECT` + requestColumns + `
    FROM oracle_requests
    WHERE market_id = $1
      AND identifier = $2
      AND resolution_ts = $3;`

	latestRequestSQL = `SELECT` + requestColumns + `
    FROM oracle_requests
    WHERE market_id = $1
    ORDER BY seq DESC
    LIMIT 1;`

	listRequestsByStateSQL = `SELECT` + requestColumns + `
    FROM oracle_requests
    WHERE cardinality($1::text[]) = 0 OR state = ANY($1::text[])
    ORDER BY seq;`

	insertOutcomeSQL = `INSERT INTO resolution_log (
        market_id,
        symbol,
        resolved,
        outcome,
        final_price,
        target_price,
        comparison,
        resolved_at,
        reason,
        recorded_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
    );`

	outcomeColumns = `
        market_id,
        symbol,
        resolved,
        outcome,
        final_price::text,
        target_price::text,
        comparison,
        resolved_at,
        reason,
        recorded_at`

	listOutcomesBetweenSQL = `SELECT` + outcomeColumns + `
    FROM resolution_log
    WHERE recorded_at >= $1
      AND recorded_at < $2
    ORDER BY recorded_at, id;`

	listRecentOutcomesSQL = `SELECT` + outcomeColumns + `
    FROM resolution_log
    ORDER BY recorded_at DESC, id DESC
    LIMIT $1;`

	insertSubmissionSQL = `INSERT INTO ledger_submissions (
        action,
        market_id,
        request_key,
        to_address,
        call_data,
        tx_handle,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    );`

	listSubmissionsSQL = `SELECT
        id,
        action,
        market_id,
        request_key,
        to_address,
        call_data,
        tx_handle,
        created_at
    FROM ledger_submissions
    WHERE $1 = '' OR market_id = $1
    ORDER BY id;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store persists oracle requests, the resolution log and ledger submissions.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// The session lock also goes away with the connection, so a failed
		// unlock is dropped.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetRequest loads one request by its key.
func (s *Store) GetRequest(ctx context.Context, key optimistic.Key) (optimistic.OracleRequest, error) {
	pool, err := s.getPool()
	if err != nil {
		return optimistic.OracleRequest{}, err
	}
	req, err := scanRequest(pool.QueryRow(ctx, getRequestSQL, key.MarketID, key.Identifier, key.ResolutionTime))
	if errors.Is(err, pgx.ErrNoRows) {
		return optimistic.OracleRequest{}, fmt.Errorf("%w: %s", optimistic.ErrNotFound, key)
	}
	if err != nil {
		return optimistic.OracleRequest{}, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// LatestRequest loads the most recently created request of a market.
func (s *Store) LatestRequest(ctx context.Context, marketID string) (optimistic.OracleRequest, error) {
	pool, err := s.getPool()
	if err != nil {
		return optimistic.OracleRequest{}, err
	}
	req, err := scanRequest(pool.QueryRow(ctx, latestRequestSQL, marketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return optimistic.OracleRequest{}, fmt.Errorf("%w: market %s", optimistic.ErrNotFound, marketID)
	}
	if err != nil {
		return optimistic.OracleRequest{}, fmt.Errorf("latest request: %w", err)
	}
	return req, nil
}

// SaveRequest inserts (expectedVersion 0) or updates a request guarded by its version.
func (s *Store) SaveRequest(ctx context.Context, req optimistic.OracleRequest, expectedVersion int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	if expectedVersion == 0 {
		tag, execErr := pool.Exec(ctx, insertRequestSQL,
			req.MarketID,
			req.Identifier,
			req.ResolutionTime.Unix(),
			req.Question,
			req.AncillaryData,
			req.Currency,
			req.Reward.String(),
			req.ProposerBond.String(),
			req.DisputerBond.String(),
			string(req.State),
			nullStringParam(req.ProposedOutcome),
			nullDecimalParam(req.ProposedPrice),
			nullStringParam(req.Evidence),
			nullStringParam(req.DisputeReason),
			nullDecimalParam(req.ArbitrationPrice),
			nullDecimalParam(req.ResolvedPrice),
			nullStringParam(req.FinalOutcome),
			req.RequestedAt.UTC(),
			nullTimeParam(req.ProposedAt),
			nullTimeParam(req.DisputedAt),
			nullTimeParam(req.EscalatedAt),
			nullTimeParam(req.SettledAt),
			nullStringParam(req.LastTxHash),
			req.Version,
		)
		if execErr != nil {
			return fmt.Errorf("insert request: %w", execErr)
		}
		if tag.RowsAffected() == 0 {
			return optimistic.ErrVersionConflict
		}
		return nil
	}

	tag, execErr := pool.Exec(ctx, updateRequestSQL,
		req.MarketID,
		req.Identifier,
		req.ResolutionTime.Unix(),
		string(req.State),
		nullStringParam(req.ProposedOutcome),
		nullDecimalParam(req.ProposedPrice),
		nullStringParam(req.Evidence),
		nullStringParam(req.DisputeReason),
		nullDecimalParam(req.ArbitrationPrice),
		nullDecimalParam(req.ResolvedPrice),
		nullStringParam(req.FinalOutcome),
		nullTimeParam(req.ProposedAt),
		nullTimeParam(req.DisputedAt),
		nullTimeParam(req.EscalatedAt),
		nullTimeParam(req.SettledAt),
		nullStringParam(req.LastTxHash),
		req.Version,
		expectedVersion,
	)
	if execErr != nil {
		return fmt.Errorf("update request: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return optimistic.ErrVersionConflict
	}
	return nil
}

// ListRequestsByState lists requests in any of states; no states lists all.
func (s *Store) ListRequestsByState(ctx context.Context, states ...optimistic.State) ([]optimistic.OracleRequest, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(states))
	for _, st := range states {
		names = append(names, string(st))
	}

	rows, queryErr := pool.Query(ctx, listRequestsByStateSQL, names)
	if queryErr != nil {
		return nil, fmt.Errorf("list requests: %w", queryErr)
	}
	defer rows.Close()

	out := make([]optimistic.OracleRequest, 0)
	for rows.Next() {
		req, scanErr := scanRequest(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		out = append(out, req)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// AppendOutcome records one resolution attempt.
func (s *Store) AppendOutcome(ctx context.Context, entry resolver.LogEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var resolvedAt interface{}
	if entry.ResolvedAt != nil {
		resolvedAt = entry.ResolvedAt.UTC()
	}

	_, execErr := pool.Exec(ctx, insertOutcomeSQL,
		entry.MarketID,
		entry.Symbol,
		entry.Resolved,
		string(entry.Outcome.Outcome),
		nullDecimalParam(entry.FinalPrice),
		entry.TargetPrice.String(),
		string(entry.Comparison),
		resolvedAt,
		entry.Reason,
		entry.RecordedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("append outcome: %w", execErr)
	}
	return nil
}

// ListOutcomesBetween lists log entries recorded in [from, to).
func (s *Store) ListOutcomesBetween(ctx context.Context, from, to time.Time) ([]resolver.LogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listOutcomesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list outcomes between: %w", queryErr)
	}
	return collectOutcomes(rows)
}

// ListRecentOutcomes lists the newest log entries first.
func (s *Store) ListRecentOutcomes(ctx context.Context, limit int) ([]resolver.LogEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rows, queryErr := pool.Query(ctx, listRecentOutcomesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent outcomes: %w", queryErr)
	}
	return collectOutcomes(rows)
}

// AppendSubmission journals a ledger submission.
func (s *Store) AppendSubmission(ctx context.Context, sub ledger.Submission) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, insertSubmissionSQL,
		sub.Action,
		sub.MarketID,
		sub.RequestKey,
		sub.To,
		sub.CallData,
		sub.TxHandle,
		sub.CreatedAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("append submission: %w", execErr)
	}
	return nil
}

// ListSubmissions lists the journal of a market; an empty id lists everything.
func (s *Store) ListSubmissions(ctx context.Context, marketID string) ([]ledger.Submission, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSubmissionsSQL, marketID)
	if queryErr != nil {
		return nil, fmt.Errorf("list submissions: %w", queryErr)
	}
	defer rows.Close()

	out := make([]ledger.Submission, 0)
	for rows.Next() {
		var sub ledger.Submission
		if err := rows.Scan(
			&sub.ID,
			&sub.Action,
			&sub.MarketID,
			&sub.RequestKey,
			&sub.To,
			&sub.CallData,
			&sub.TxHandle,
			&sub.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanRequest(row pgx.Row) (optimistic.OracleRequest, error) {
	var (
		req                                 optimistic.OracleRequest
		resolutionTS                        int64
		state                               string
		rewardStr, proposerStr, disputerStr string
		proposedOutcome, evidence, reason   sql.NullString
		finalOutcome, lastTx                sql.NullString
		proposedPrice, arbitration, settled sql.NullString
		proposedAt, disputedAt              sql.NullTime
		escalatedAt, settledAt              sql.NullTime
	)

	if err := row.Scan(
		&req.MarketID,
		&req.Identifier,
		&resolutionTS,
		&req.Question,
		&req.AncillaryData,
		&req.Currency,
		&rewardStr,
		&proposerStr,
		&disputerStr,
		&state,
		&proposedOutcome,
		&proposedPrice,
		&evidence,
		&reason,
		&arbitration,
		&settled,
		&finalOutcome,
		&req.RequestedAt,
		&proposedAt,
		&disputedAt,
		&escalatedAt,
		&settledAt,
		&lastTx,
		&req.Version,
	); err != nil {
		return optimistic.OracleRequest{}, err
	}

	var err error
	if req.Reward, err = parseDecimal("reward", rewardStr); err != nil {
		return optimistic.OracleRequest{}, err
	}
	if req.ProposerBond, err = parseDecimal("proposer bond", proposerStr); err != nil {
		return optimistic.OracleRequest{}, err
	}
	if req.DisputerBond, err = parseDecimal("disputer bond", disputerStr); err != nil {
		return optimistic.OracleRequest{}, err
	}
	if req.ProposedPrice, err = parseNullDecimal("proposed price", proposedPrice); err != nil {
		return optimistic.OracleRequest{}, err
	}
	if req.ArbitrationPrice, err = parseNullDecimal("arbitration price", arbitration); err != nil {
		return optimistic.OracleRequest{}, err
	}
	if req.ResolvedPrice, err = parseNullDecimal("resolved price", settled); err != nil {
		return optimistic.OracleRequest{}, err
	}

	req.ResolutionTime = time.Unix(resolutionTS, 0).UTC()
	req.RequestedAt = req.RequestedAt.UTC()
	req.State = optimistic.State(state)
	req.ProposedOutcome = proposedOutcome.String
	req.Evidence = evidence.String
	req.DisputeReason = reason.String
	req.FinalOutcome = finalOutcome.String
	req.LastTxHash = lastTx.String
	req.ProposedAt = timePtr(proposedAt)
	req.DisputedAt = timePtr(disputedAt)
	req.EscalatedAt = timePtr(escalatedAt)
	req.SettledAt = timePtr(settledAt)
	return req, nil
}

func collectOutcomes(rows pgx.Rows) ([]resolver.LogEntry, error) {
	defer rows.Close()

	out := make([]resolver.LogEntry, 0)
	for rows.Next() {
		var (
			entry        resolver.LogEntry
			outcome, cmp string
			finalStr     sql.NullString
			targetStr    string
			resolvedAt   sql.NullTime
		)
		if err := rows.Scan(
			&entry.MarketID,
			&entry.Symbol,
			&entry.Resolved,
			&outcome,
			&finalStr,
			&targetStr,
			&cmp,
			&resolvedAt,
			&entry.Reason,
			&entry.RecordedAt,
		); err != nil {
			return nil, err
		}

		var err error
		if entry.FinalPrice, err = parseNullDecimal("final price", finalStr); err != nil {
			return nil, err
		}
		if entry.TargetPrice, err = parseDecimal("target price", targetStr); err != nil {
			return nil, err
		}
		entry.Outcome.Outcome = resolver.Verdict(outcome)
		entry.Comparison = pricefeed.Comparison(cmp)
		entry.ResolvedAt = timePtr(resolvedAt)
		entry.RecordedAt = entry.RecordedAt.UTC()
		out = append(out, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
