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

// CashFlowService records receipts and payments and drives their status machine.
// Confirming a receipt pays its invoice and credits any overpayment to the partner
// balance in the same transaction.
type CashFlowService interface {
	CreateReceipt(ctx context.Context, in ReceiptInput) (*CashFlow, error)
	CreatePayment(ctx context.Context, in PaymentInput) (*CashFlow, error)
	// UpdateAmount changes the amount of a waiting cash flow.
	UpdateAmount(ctx context.Context, cashFlowID int64, amount decimal.Decimal) (*CashFlow, error)

	Confirm(ctx context.Context, cashFlowID int64) (*CashFlow, error)
	Reject(ctx context.Context, cashFlowID int64) (*CashFlow, error)
	Refund(ctx context.Context, cashFlowID int64) (*CashFlow, error)

	GetCashFlow(ctx context.Context, cashFlowID int64) (*CashFlow, error)
	GetCashFlows(ctx context.Context, filter CashFlowFilter) ([]CashFlow, error)

	CreatePaymentMethod(ctx context.Context, m PaymentMethod) (*PaymentMethod, error)
	GetPaymentMethods(ctx context.Context) ([]PaymentMethod, error)
}

type cashFlowService struct {
	pool     *pgxpool.Pool
	docs     DocumentService
	invoices InvoiceService
	balances BalanceLedger
	partners PartnerDirectory
	notifier Notifier
	log      zerolog.Logger
}

func NewCashFlowService(pool *pgxpool.Pool, docs DocumentService, invoices InvoiceService, balances BalanceLedger, partners PartnerDirectory, notifier Notifier) CashFlowService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &cashFlowService{
		pool:     pool,
		docs:     docs,
		invoices: invoices,
		balances: balances,
		partners: partners,
		notifier: notifier,
		log:      logger.WithComponent("cashflows"),
	}
}

const cashFlowColumns = `id, flow_type, number, partner_id, invoice_id, payment_method_id, amount, transfer_fee,
	excess, status, memo, created_at, date_confirmed, date_rejected, date_refunded`

func scanCashFlow(row pgx.Row) (*CashFlow, error) {
	var cf CashFlow
	var flowType, status string
	err := row.Scan(&cf.ID, &flowType, &cf.Number, &cf.PartnerID, &cf.InvoiceID, &cf.PaymentMethodID, &cf.Amount, &cf.TransferFee,
		&cf.Excess, &status, &cf.Memo, &cf.CreatedAt, &cf.DateConfirmed, &cf.DateRejected, &cf.DateRefunded)
	if err != nil {
		return nil, err
	}
	cf.FlowType = FlowType(flowType)
	cf.Status = Status(status)
	return &cf, nil
}

func getCashFlow(ctx context.Context, q pgxQuerier, cashFlowID int64, forUpdate bool) (*CashFlow, error) {
	query := "SELECT " + cashFlowColumns + " FROM cash_flows WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	cf, err := scanCashFlow(q.QueryRow(ctx, query, cashFlowID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("cash flow", cashFlowID)
		}
		return nil, fmt.Errorf("failed to read cash flow %d: %w", cashFlowID, classifyPgError(err))
	}
	return cf, nil
}

func getPaymentMethod(ctx context.Context, q pgxQuerier, id int64) (*PaymentMethod, error) {
	var m PaymentMethod
	err := q.QueryRow(ctx, `
		SELECT id, name, rate_method, transfer_fee, auto_confirm FROM payment_methods WHERE id = $1
	`, id).Scan(&m.ID, &m.Name, &m.RateMethod, &m.TransferFee, &m.AutoConfirm)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("payment method", id)
		}
		return nil, fmt.Errorf("failed to read payment method %d: %w", id, err)
	}
	return &m, nil
}

// ── Creation ─────────────────────────────────────────────────────────────────

func (s *cashFlowService) CreateReceipt(ctx context.Context, in ReceiptInput) (*CashFlow, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	inv, err := getInvoice(ctx, tx, in.InvoiceID, false)
	if err != nil {
		return nil, err
	}
	if inv.Status == InvoiceTrash {
		return nil, precondition("invoice %s is trashed", inv.InvoiceNumber)
	}
	var orderStatus string
	if err := tx.QueryRow(ctx, `SELECT status FROM sales_orders WHERE id = $1`, inv.OrderID).Scan(&orderStatus); err != nil {
		return nil, fmt.Errorf("failed to read order of invoice %s: %w", inv.InvoiceNumber, err)
	}
	if Status(orderStatus) == OrderTrash {
		return nil, precondition("invoice %s belongs to a trashed order", inv.InvoiceNumber)
	}
	if in.PartnerID == 0 {
		in.PartnerID = inv.PartnerID
	}
	if in.PartnerID != inv.PartnerID {
		return nil, precondition("receipt partner %d does not match invoice %s partner %d", in.PartnerID, inv.InvoiceNumber, inv.PartnerID)
	}

	cf, method, err := s.insertTx(ctx, tx, FlowReceipt, PrefixReceipt, in.PartnerID, &inv.ID, in.PaymentMethodID, in.Amount, in.Memo)
	if err != nil {
		return nil, err
	}

	var events []Event
	if method != nil && method.AutoConfirm {
		if events, err = s.confirmTx(ctx, tx, cf); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}

	s.log.Info().Str("receipt", cf.Number).Str("invoice", inv.InvoiceNumber).Str("amount", cf.Amount.StringFixed(2)).Str("status", string(cf.Status)).Msg("receipt created")
	s.publish(ctx, events)
	return cf, nil
}

func (s *cashFlowService) CreatePayment(ctx context.Context, in PaymentInput) (*CashFlow, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if _, err := s.partners.GetPartner(ctx, in.PartnerID); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cf, method, err := s.insertTx(ctx, tx, FlowPayment, PrefixPayment, in.PartnerID, nil, in.PaymentMethodID, in.Amount, in.Memo)
	if err != nil {
		return nil, err
	}

	var events []Event
	if method != nil && method.AutoConfirm {
		if events, err = s.confirmTx(ctx, tx, cf); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}

	s.log.Info().Str("payment", cf.Number).Int64("partner_id", cf.PartnerID).Str("amount", cf.Amount.StringFixed(2)).Msg("payment created")
	s.publish(ctx, events)
	return cf, nil
}

func (s *cashFlowService) insertTx(ctx context.Context, tx pgx.Tx, flow FlowType, prefix string, partnerID int64, invoiceID, methodID *int64, amount decimal.Decimal, memo string) (*CashFlow, *PaymentMethod, error) {
	var method *PaymentMethod
	fee := decimal.Zero
	if methodID != nil {
		m, err := getPaymentMethod(ctx, tx, *methodID)
		if err != nil {
			return nil, nil, err
		}
		method = m
		fee = m.FeeFor(amount)
	}

	number, err := s.docs.NextNumberTx(ctx, tx, prefix, time.Now().Year())
	if err != nil {
		return nil, nil, err
	}

	cf, err := scanCashFlow(tx.QueryRow(ctx, `
		INSERT INTO cash_flows (flow_type, number, partner_id, invoice_id, payment_method_id, amount, transfer_fee, status, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+cashFlowColumns,
		string(flow), number, partnerID, invoiceID, methodID, amount, fee, string(CashFlowWaiting), memo))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", flow, classifyPgError(err))
	}
	return cf, method, nil
}

func (s *cashFlowService) UpdateAmount(ctx context.Context, cashFlowID int64, amount decimal.Decimal) (*CashFlow, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cf, err := getCashFlow(ctx, tx, cashFlowID, true)
	if err != nil {
		return nil, err
	}
	switch cf.Status {
	case CashFlowWaiting:
	case CashFlowConfirmed, CashFlowRefunded:
		return nil, immutableField("amount", fmt.Sprintf("%s is %s, its amount can no longer change", cf.Number, cf.Status))
	default:
		return nil, precondition("%s cannot be changed: status is %s", cf.Number, cf.Status)
	}

	fee := decimal.Zero
	if cf.PaymentMethodID != nil {
		m, err := getPaymentMethod(ctx, tx, *cf.PaymentMethodID)
		if err != nil {
			return nil, err
		}
		fee = m.FeeFor(amount)
	}

	updated, err := scanCashFlow(tx.QueryRow(ctx, `
		UPDATE cash_flows SET amount = $1, transfer_fee = $2
		WHERE id = $3 AND status = $4
		RETURNING `+cashFlowColumns,
		amount, fee, cf.ID, string(CashFlowWaiting)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", cf.Number, ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("failed to update amount: %w", classifyPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}
	return updated, nil
}

// ── Transitions ──────────────────────────────────────────────────────────────

func (s *cashFlowService) Confirm(ctx context.Context, cashFlowID int64) (*CashFlow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cf, err := getCashFlow(ctx, tx, cashFlowID, true)
	if err != nil {
		return nil, err
	}
	events, err := s.confirmTx(ctx, tx, cf)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}
	s.publish(ctx, events)
	return cf, nil
}

// confirmTx confirms a locked cash flow and applies its side effects. Confirming an
// already confirmed cash flow does nothing.
func (s *cashFlowService) confirmTx(ctx context.Context, tx pgx.Tx, cf *CashFlow) ([]Event, error) {
	next, changed, err := CashFlowMachine.Fire(ActionConfirm, cf.Status)
	if err != nil || !changed {
		return nil, err
	}

	excess := decimal.Zero
	if cf.FlowType == FlowReceipt {
		if excess, err = s.applyReceiptTx(ctx, tx, cf); err != nil {
			return nil, err
		}
	}

	err = tx.QueryRow(ctx, `
		UPDATE cash_flows SET status = $1, excess = $2, date_confirmed = NOW()
		WHERE id = $3 AND status = $4
		RETURNING date_confirmed
	`, string(next), excess, cf.ID, string(CashFlowWaiting)).Scan(&cf.DateConfirmed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", cf.Number, ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("failed to confirm %s: %w", cf.Number, classifyPgError(err))
	}
	cf.Status = next
	cf.Excess = excess

	s.log.Info().Str("cash_flow", cf.Number).Str("flow_type", string(cf.FlowType)).Str("amount", cf.Amount.StringFixed(2)).Str("excess", excess.StringFixed(2)).Msg("cash flow confirmed")
	return []Event{newEvent(EventCashFlowConfirmed, cf.Number, cf.PartnerID, cf.Amount)}, nil
}

// applyReceiptTx pays the receipt's invoice up to its receivable and credits the rest
// to the partner balance. It returns the credited excess.
func (s *cashFlowService) applyReceiptTx(ctx context.Context, tx pgx.Tx, cf *CashFlow) (decimal.Decimal, error) {
	if cf.InvoiceID == nil {
		return decimal.Zero, precondition("receipt %s has no invoice", cf.Number)
	}
	inv, err := s.invoices.LockTx(ctx, tx, *cf.InvoiceID)
	if err != nil {
		return decimal.Zero, err
	}

	applied, excess := Apportion(cf.Amount, inv.Receivable)
	if _, _, err := s.invoices.PayTx(ctx, tx, inv.ID, applied, excess); err != nil {
		return decimal.Zero, err
	}

	if excess.IsPositive() {
		note := "overpayment on " + inv.InvoiceNumber
		if _, err := s.balances.PostTx(ctx, tx, cf.PartnerID, FlowIn, excess, cf.Number, note); err != nil {
			return decimal.Zero, err
		}
	}
	return excess, nil
}

func (s *cashFlowService) Reject(ctx context.Context, cashFlowID int64) (*CashFlow, error) {
	return s.transition(ctx, cashFlowID, ActionReject, "date_rejected", nil)
}

// Refund reverses a confirmed cash flow. A receipt refund debits the full amount from
// the partner balance; the paid invoice stays as it is.
func (s *cashFlowService) Refund(ctx context.Context, cashFlowID int64) (*CashFlow, error) {
	return s.transition(ctx, cashFlowID, ActionRefund, "date_refunded", func(ctx context.Context, tx pgx.Tx, cf *CashFlow) error {
		if cf.FlowType != FlowReceipt {
			return nil
		}
		_, err := s.balances.PostTx(ctx, tx, cf.PartnerID, FlowOut, cf.Amount, cf.Number, "refund of "+cf.Number)
		return err
	})
}

func (s *cashFlowService) transition(ctx context.Context, cashFlowID int64, action, stampColumn string, hook func(context.Context, pgx.Tx, *CashFlow) error) (*CashFlow, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	cf, err := getCashFlow(ctx, tx, cashFlowID, true)
	if err != nil {
		return nil, err
	}
	from := cf.Status
	next, changed, err := CashFlowMachine.Fire(action, from)
	if err != nil {
		return nil, err
	}
	if !changed {
		return cf, nil
	}

	if hook != nil {
		if err := hook(ctx, tx, cf); err != nil {
			return nil, err
		}
	}

	updated, err := scanCashFlow(tx.QueryRow(ctx, `
		UPDATE cash_flows SET status = $1, `+stampColumn+` = NOW()
		WHERE id = $2 AND status = $3
		RETURNING `+cashFlowColumns,
		string(next), cf.ID, string(from)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", cf.Number, ErrConcurrencyConflict)
		}
		return nil, fmt.Errorf("failed to %s %s: %w", action, cf.Number, classifyPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}
	s.log.Info().Str("cash_flow", cf.Number).Str("from", string(from)).Str("to", string(next)).Msg("cash flow transition")
	return updated, nil
}

func (s *cashFlowService) publish(ctx context.Context, events []Event) {
	for _, e := range events {
		s.notifier.Notify(ctx, e)
	}
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *cashFlowService) GetCashFlow(ctx context.Context, cashFlowID int64) (*CashFlow, error) {
	return getCashFlow(ctx, s.pool, cashFlowID, false)
}

func (s *cashFlowService) GetCashFlows(ctx context.Context, filter CashFlowFilter) ([]CashFlow, error) {
	var conds []string
	var args []any
	if filter.FlowType != "" {
		args = append(args, string(filter.FlowType))
		conds = append(conds, fmt.Sprintf("flow_type = $%d", len(args)))
	}
	if filter.PartnerID != 0 {
		args = append(args, filter.PartnerID)
		conds = append(conds, fmt.Sprintf("partner_id = $%d", len(args)))
	}
	if filter.InvoiceID != 0 {
		args = append(args, filter.InvoiceID)
		conds = append(conds, fmt.Sprintf("invoice_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := "SELECT " + cashFlowColumns + " FROM cash_flows"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cash flows: %w", err)
	}
	defer rows.Close()

	var out []CashFlow
	for rows.Next() {
		cf, err := scanCashFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cash flow: %w", err)
		}
		out = append(out, *cf)
	}
	return out, rows.Err()
}

// ── Payment methods ──────────────────────────────────────────────────────────

func (s *cashFlowService) CreatePaymentMethod(ctx context.Context, m PaymentMethod) (*PaymentMethod, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO payment_methods (name, rate_method, transfer_fee, auto_confirm)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, m.Name, m.RateMethod, m.TransferFee, m.AutoConfirm).Scan(&m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment method: %w", classifyPgError(err))
	}
	return &m, nil
}

func (s *cashFlowService) GetPaymentMethods(ctx context.Context) ([]PaymentMethod, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, rate_method, transfer_fee, auto_confirm FROM payment_methods ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query payment methods: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (PaymentMethod, error) {
		var m PaymentMethod
		err := row.Scan(&m.ID, &m.Name, &m.RateMethod, &m.TransferFee, &m.AutoConfirm)
		return m, err
	})
}
