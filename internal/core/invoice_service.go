package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"labsales/internal/logger"
)

// InvoiceService reads invoices and applies payments to them. Invoices are created
// by OrderService.Validate.
type InvoiceService interface {
	GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error)
	GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error)
	GetInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error)
	GetReceivable(ctx context.Context, invoiceID int64) (decimal.Decimal, error)

	// Pay applies a payment in its own transaction. Use for standalone calls.
	Pay(ctx context.Context, invoiceID int64, amount, refund decimal.Decimal) (*Invoice, error)
	// PayTx applies a payment inside the caller's transaction and approves the order
	// when the payment changed the invoice.
	PayTx(ctx context.Context, tx pgx.Tx, invoiceID int64, amount, refund decimal.Decimal) (*Invoice, bool, error)
	// LockTx reads the invoice with a row lock inside the caller's transaction.
	LockTx(ctx context.Context, tx pgx.Tx, invoiceID int64) (*Invoice, error)
}

type invoiceService struct {
	pool   *pgxpool.Pool
	orders OrderService
	log    zerolog.Logger
}

func NewInvoiceService(pool *pgxpool.Pool, orders OrderService) InvoiceService {
	return &invoiceService{pool: pool, orders: orders, log: logger.WithComponent("invoices")}
}

const invoiceColumns = `id, order_id, invoice_number, partner_id, due_date,
	subtotal, discount_percent, discount_amount, grand_total, paid, receivable, refund,
	status, version, created_at, paid_at, closed_at, trashed_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	var status string
	err := row.Scan(&inv.ID, &inv.OrderID, &inv.InvoiceNumber, &inv.PartnerID, &inv.DueDate,
		&inv.Subtotal, &inv.DiscountPercent, &inv.DiscountAmount, &inv.GrandTotal, &inv.Paid, &inv.Receivable, &inv.Refund,
		&status, &inv.Version, &inv.CreatedAt, &inv.PaidAt, &inv.ClosedAt, &inv.TrashedAt)
	if err != nil {
		return nil, err
	}
	inv.Status = Status(status)
	return &inv, nil
}

func getInvoice(ctx context.Context, q pgxQuerier, invoiceID int64, forUpdate bool) (*Invoice, error) {
	query := "SELECT " + invoiceColumns + " FROM invoices WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	inv, err := scanInvoice(q.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("invoice", invoiceID)
		}
		return nil, fmt.Errorf("failed to read invoice %d: %w", invoiceID, classifyPgError(err))
	}
	return inv, nil
}

// lockInvoiceByOrderTx returns the order's invoice under a row lock, or nil when the
// order has never been validated.
func lockInvoiceByOrderTx(ctx context.Context, tx pgx.Tx, orderID int64) (*Invoice, error) {
	inv, err := scanInvoice(tx.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE order_id = $1 FOR UPDATE", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock invoice of order %d: %w", orderID, classifyPgError(err))
	}
	return inv, nil
}

// generateInvoiceTx creates the order's single invoice, or revives and re-snapshots
// the trashed one left behind when the order went back to draft.
func generateInvoiceTx(ctx context.Context, tx pgx.Tx, docs DocumentService, o *Order, dueDays int) (*Invoice, error) {
	existing, err := lockInvoiceByOrderTx(ctx, tx, o.ID)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		next, _, err := InvoiceMachine.Fire(ActionRevive, existing.Status)
		if err != nil {
			return nil, precondition("order %s already has invoice %s", o.OrderNumber, existing.InvoiceNumber)
		}
		existing.snapshot(o)
		existing.Status = next
		inv, err := scanInvoice(tx.QueryRow(ctx, `
			UPDATE invoices
			SET subtotal = $1, discount_percent = $2, discount_amount = $3, grand_total = $4,
			    receivable = $5, status = $6, due_date = CURRENT_DATE + $7::int,
			    trashed_at = NULL, version = version + 1
			WHERE id = $8 AND version = $9
			RETURNING `+invoiceColumns,
			existing.Subtotal, existing.DiscountPercent, existing.DiscountAmount, existing.GrandTotal,
			existing.Receivable, string(existing.Status), dueDays, existing.ID, existing.Version))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, fmt.Errorf("invoice %s: %w", existing.InvoiceNumber, ErrConcurrencyConflict)
			}
			return nil, fmt.Errorf("failed to revive invoice: %w", classifyPgError(err))
		}
		return inv, nil
	}

	number, err := docs.NextNumberTx(ctx, tx, PrefixInvoice, time.Now().Year())
	if err != nil {
		return nil, err
	}
	var draft Invoice
	draft.snapshot(o)
	inv, err := scanInvoice(tx.QueryRow(ctx, `
		INSERT INTO invoices (order_id, invoice_number, partner_id, due_date, subtotal, discount_percent,
		                      discount_amount, grand_total, receivable, status)
		VALUES ($1, $2, $3, CURRENT_DATE + $4::int, $5, $6, $7, $8, $9, $10)
		RETURNING `+invoiceColumns,
		o.ID, number, draft.PartnerID, dueDays, draft.Subtotal, draft.DiscountPercent,
		draft.DiscountAmount, draft.GrandTotal, draft.Receivable, string(InvoicePending)))
	if err != nil {
		return nil, fmt.Errorf("failed to create invoice: %w", classifyPgError(err))
	}
	return inv, nil
}

func trashInvoiceTx(ctx context.Context, tx pgx.Tx, inv *Invoice) error {
	next, changed, err := InvoiceMachine.Fire(ActionTrash, inv.Status)
	if err != nil || !changed {
		return err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE invoices SET status = $1, trashed_at = NOW(), version = version + 1
		WHERE id = $2 AND version = $3
	`, string(next), inv.ID, inv.Version)
	if err != nil {
		return fmt.Errorf("failed to trash invoice: %w", classifyPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %s: %w", inv.InvoiceNumber, ErrConcurrencyConflict)
	}
	inv.Status = next
	inv.Version++
	return nil
}

// ── Payment ──────────────────────────────────────────────────────────────────

func (s *invoiceService) Pay(ctx context.Context, invoiceID int64, amount, refund decimal.Decimal) (*Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inv, _, err := s.PayTx(ctx, tx, invoiceID, amount, refund)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}
	return inv, nil
}

func (s *invoiceService) PayTx(ctx context.Context, tx pgx.Tx, invoiceID int64, amount, refund decimal.Decimal) (*Invoice, bool, error) {
	inv, err := getInvoice(ctx, tx, invoiceID, true)
	if err != nil {
		return nil, false, err
	}

	from := inv.Status
	changed, err := inv.Pay(amount, refund, time.Now())
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return inv, false, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE invoices
		SET paid = $1, receivable = $2, refund = $3, status = $4, paid_at = $5, closed_at = $6, version = version + 1
		WHERE id = $7 AND version = $8
	`, inv.Paid, inv.Receivable, inv.Refund, string(inv.Status), inv.PaidAt, inv.ClosedAt, inv.ID, inv.Version)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record invoice payment: %w", classifyPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return nil, false, fmt.Errorf("invoice %s: %w", inv.InvoiceNumber, ErrConcurrencyConflict)
	}
	inv.Version++

	if _, err := s.orders.ApproveTx(ctx, tx, inv.OrderID); err != nil {
		return nil, false, fmt.Errorf("invoice %s paid but order approval failed: %w", inv.InvoiceNumber, err)
	}

	s.log.Info().
		Str("invoice", inv.InvoiceNumber).
		Str("from", string(from)).
		Str("to", string(inv.Status)).
		Str("amount", amount.StringFixed(2)).
		Str("receivable", inv.Receivable.StringFixed(2)).
		Msg("invoice payment applied")
	return inv, true, nil
}

func (s *invoiceService) LockTx(ctx context.Context, tx pgx.Tx, invoiceID int64) (*Invoice, error) {
	return getInvoice(ctx, tx, invoiceID, true)
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *invoiceService) GetInvoice(ctx context.Context, invoiceID int64) (*Invoice, error) {
	return getInvoice(ctx, s.pool, invoiceID, false)
}

func (s *invoiceService) GetInvoiceByOrder(ctx context.Context, orderID int64) (*Invoice, error) {
	inv, err := scanInvoice(s.pool.QueryRow(ctx, "SELECT "+invoiceColumns+" FROM invoices WHERE order_id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice for order %d: %w", orderID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read invoice of order %d: %w", orderID, err)
	}
	return inv, nil
}

func (s *invoiceService) GetReceivable(ctx context.Context, invoiceID int64) (decimal.Decimal, error) {
	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return decimal.Zero, err
	}
	return inv.Receivable, nil
}

func (s *invoiceService) GetInvoices(ctx context.Context, filter InvoiceFilter) ([]Invoice, error) {
	var conds []string
	var args []any
	if filter.PartnerID != 0 {
		args = append(args, filter.PartnerID)
		conds = append(conds, fmt.Sprintf("partner_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := "SELECT " + invoiceColumns + " FROM invoices"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}
