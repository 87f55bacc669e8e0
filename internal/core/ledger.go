package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"labsales/internal/logger"
)

// BalanceFlow is the direction of a partner balance mutation.
type BalanceFlow string

const (
	FlowIn  BalanceFlow = "IN"
	FlowOut BalanceFlow = "OUT"
)

// BalanceMutation is an immutable entry in a partner's balance log.
type BalanceMutation struct {
	ID        uuid.UUID       `json:"id"`
	PartnerID int64           `json:"partner_id"`
	Flow      BalanceFlow     `json:"flow"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

// Signed returns the amount with OUT mutations negated.
func (m BalanceMutation) Signed() decimal.Decimal {
	if m.Flow == FlowOut {
		return m.Amount.Neg()
	}
	return m.Amount
}

// ReconcileResult compares the stored snapshot with the log.
type ReconcileResult struct {
	PartnerID int64           `json:"partner_id"`
	Stored    decimal.Decimal `json:"stored"`
	Computed  decimal.Decimal `json:"computed"`
	Drift     decimal.Decimal `json:"drift"`
}

// BalanceLedger is the append-only partner balance log. PostTx only appends; the
// balance is always the sum of the log. partners.balance is a snapshot written by
// Reconcile and is never read as the source of truth.
type BalanceLedger interface {
	// PostTx appends a mutation inside the caller's transaction.
	PostTx(ctx context.Context, tx pgx.Tx, partnerID int64, flow BalanceFlow, amount decimal.Decimal, reference, note string) (*BalanceMutation, error)
	GetMutations(ctx context.Context, partnerID int64) ([]BalanceMutation, error)
	GetBalance(ctx context.Context, partnerID int64) (decimal.Decimal, error)
	Reconcile(ctx context.Context, partnerID int64) (*ReconcileResult, error)
}

type balanceLedger struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewBalanceLedger(pool *pgxpool.Pool) BalanceLedger {
	return &balanceLedger{pool: pool, log: logger.WithComponent("balance")}
}

func (l *balanceLedger) PostTx(ctx context.Context, tx pgx.Tx, partnerID int64, flow BalanceFlow, amount decimal.Decimal, reference, note string) (*BalanceMutation, error) {
	if flow != FlowIn && flow != FlowOut {
		return nil, outOfRange("flow", fmt.Sprintf("must be %s or %s, got %q", FlowIn, FlowOut, flow))
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	if err := l.partnerExists(ctx, tx, partnerID); err != nil {
		return nil, err
	}

	m := BalanceMutation{
		ID:        uuid.New(),
		PartnerID: partnerID,
		Flow:      flow,
		Amount:    amount,
		Reference: reference,
		Note:      note,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO balance_mutations (id, partner_id, flow, amount, reference, note)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, m.ID, partnerID, string(flow), amount, reference, note).Scan(&m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert balance mutation: %w", classifyPgError(err))
	}

	l.log.Info().
		Int64("partner_id", partnerID).
		Str("flow", string(flow)).
		Str("amount", amount.StringFixed(2)).
		Str("reference", reference).
		Msg("balance mutation posted")
	return &m, nil
}

func (l *balanceLedger) GetMutations(ctx context.Context, partnerID int64) ([]BalanceMutation, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT id, partner_id, flow, amount, reference, note, created_at
		FROM balance_mutations
		WHERE partner_id = $1
		ORDER BY created_at, id
	`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance mutations: %w", err)
	}
	defer rows.Close()

	var out []BalanceMutation
	for rows.Next() {
		var m BalanceMutation
		var flow string
		if err := rows.Scan(&m.ID, &m.PartnerID, &flow, &m.Amount, &m.Reference, &m.Note, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance mutation: %w", err)
		}
		m.Flow = BalanceFlow(flow)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetBalance sums the log. It does not read the stored snapshot.
func (l *balanceLedger) GetBalance(ctx context.Context, partnerID int64) (decimal.Decimal, error) {
	if err := l.partnerExists(ctx, l.pool, partnerID); err != nil {
		return decimal.Zero, err
	}
	return sumMutations(ctx, l.pool, partnerID)
}

// Reconcile rebuilds partners.balance from the log under a row lock and reports any
// drift it corrected.
func (l *balanceLedger) Reconcile(ctx context.Context, partnerID int64) (*ReconcileResult, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	res := ReconcileResult{PartnerID: partnerID}
	err = tx.QueryRow(ctx, `SELECT balance FROM partners WHERE id = $1 FOR UPDATE`, partnerID).Scan(&res.Stored)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("partner", partnerID)
		}
		return nil, fmt.Errorf("failed to lock partner %d: %w", partnerID, classifyPgError(err))
	}

	res.Computed, err = sumMutations(ctx, tx, partnerID)
	if err != nil {
		return nil, err
	}
	res.Drift = res.Stored.Sub(res.Computed)

	if !res.Drift.IsZero() {
		if _, err := tx.Exec(ctx, `UPDATE partners SET balance = $1 WHERE id = $2`, res.Computed, partnerID); err != nil {
			return nil, fmt.Errorf("failed to rewrite partner balance: %w", classifyPgError(err))
		}
		l.log.Warn().
			Int64("partner_id", partnerID).
			Str("stored", res.Stored.StringFixed(2)).
			Str("computed", res.Computed.StringFixed(2)).
			Msg("partner balance drift corrected")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}
	return &res, nil
}

func (l *balanceLedger) partnerExists(ctx context.Context, q pgxQuerier, partnerID int64) error {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM partners WHERE id = $1)`, partnerID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to look up partner %d: %w", partnerID, err)
	}
	if !exists {
		return notFound("partner", partnerID)
	}
	return nil
}

func sumMutations(ctx context.Context, q pgxQuerier, partnerID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(CASE WHEN flow = 'IN' THEN amount ELSE -amount END), 0)
		FROM balance_mutations
		WHERE partner_id = $1
	`, partnerID).Scan(&balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum balance mutations: %w", err)
	}
	return balance, nil
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, enabling shared query helpers.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgxRowQuerier is the multi-row counterpart of pgxQuerier.
type pgxRowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}
