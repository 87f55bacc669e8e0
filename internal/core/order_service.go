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

// OrderService manages the sales order header and its status transitions.
// Line and fee edits live in LineService.
type OrderService interface {
	CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error)
	UpdateOrder(ctx context.Context, orderID int64, upd OrderUpdate) (*Order, error)
	// SetDiscount changes the discount percentage of a draft order and recomputes totals.
	SetDiscount(ctx context.Context, orderID int64, percent decimal.Decimal) (*Order, error)

	// Lifecycle
	Draft(ctx context.Context, orderID int64) (*Order, error)
	// Validate freezes the totals and generates the order's invoice.
	Validate(ctx context.Context, orderID int64) (*Order, error)
	Reject(ctx context.Context, orderID int64) (*Order, error)
	Trash(ctx context.Context, orderID int64) (*Order, error)
	Process(ctx context.Context, orderID int64) (*Order, error)
	Complete(ctx context.Context, orderID int64) (*Order, error)
	// ApproveTx approves the order inside the caller's transaction. It is driven by
	// invoice payment and reports whether the status changed.
	ApproveTx(ctx context.Context, tx pgx.Tx, orderID int64) (bool, error)

	// Queries
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error)
	GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// OrderUpdate changes header fields of a draft order. Nil means unchanged.
// CustomerID is present so that an attempt to change it can be rejected explicitly.
type OrderUpdate struct {
	CustomerID  *int64
	ContractRef *string
	CustomerPO  *string
	Note        *string
}

type orderService struct {
	pool           *pgxpool.Pool
	kinds          *KindRegistry
	partners       PartnerDirectory
	docs           DocumentService
	notifier       Notifier
	invoiceDueDays int
	log            zerolog.Logger
}

func NewOrderService(pool *pgxpool.Pool, kinds *KindRegistry, partners PartnerDirectory, docs DocumentService, notifier Notifier, invoiceDueDays int) OrderService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &orderService{
		pool:           pool,
		kinds:          kinds,
		partners:       partners,
		docs:           docs,
		notifier:       notifier,
		invoiceDueDays: invoiceDueDays,
		log:            logger.WithComponent("orders"),
	}
}

const orderColumns = `id, kind, order_number, customer_id, contract_ref, customer_po, status,
	subtotal, discount_percent, discount_amount, grand_total, note, version,
	created_at, updated_at, validated_at, approved_at, rejected_at, processed_at, completed_at, trashed_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var kind, status string
	err := row.Scan(&o.ID, &kind, &o.OrderNumber, &o.CustomerID, &o.ContractRef, &o.CustomerPO, &status,
		&o.Subtotal, &o.DiscountPercent, &o.DiscountAmount, &o.GrandTotal, &o.Note, &o.Version,
		&o.CreatedAt, &o.UpdatedAt, &o.ValidatedAt, &o.ApprovedAt, &o.RejectedAt, &o.ProcessedAt, &o.CompletedAt, &o.TrashedAt)
	if err != nil {
		return nil, err
	}
	o.Kind = OrderKind(kind)
	o.Status = Status(status)
	return &o, nil
}

// lockOrderTx reads the order header with a row lock. Every child mutation takes this
// lock first, which serialises recomputation per order.
func lockOrderTx(ctx context.Context, tx pgx.Tx, orderID int64) (*Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, "SELECT "+orderColumns+" FROM sales_orders WHERE id = $1 FOR UPDATE", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("order", orderID)
		}
		return nil, fmt.Errorf("failed to lock order %d: %w", orderID, classifyPgError(err))
	}
	return o, nil
}

// loadOrderChildren fills Lines (with their parameters) and Fees.
func loadOrderChildren(ctx context.Context, q pgxRowQuerier, o *Order) error {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, name, quantity, unit_price, parameters_total, total, note, created_at
		FROM order_lines
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to query order lines: %w", err)
	}
	o.Lines = nil
	index := make(map[int64]int)
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice,
			&l.ParametersTotal, &l.Total, &l.Note, &l.CreatedAt); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan order line: %w", err)
		}
		index[l.ID] = len(o.Lines)
		o.Lines = append(o.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read order lines: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT p.id, p.line_id, p.parameter_id, p.name, p.price, p.date_effective
		FROM order_line_parameters p
		JOIN order_lines l ON l.id = p.line_id
		WHERE l.order_id = $1
		ORDER BY p.id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to query line parameters: %w", err)
	}
	for rows.Next() {
		var p OrderLineParameter
		if err := rows.Scan(&p.ID, &p.LineID, &p.ParameterID, &p.Name, &p.Price, &p.DateEffective); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan line parameter: %w", err)
		}
		if i, ok := index[p.LineID]; ok {
			o.Lines[i].Parameters = append(o.Lines[i].Parameters, p)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read line parameters: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT id, order_id, fee_id, name, quantity, amount, total, note, created_at
		FROM order_fees
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to query order fees: %w", err)
	}
	defer rows.Close()
	o.Fees = nil
	for rows.Next() {
		var f OrderFee
		if err := rows.Scan(&f.ID, &f.OrderID, &f.FeeID, &f.Name, &f.Quantity, &f.Amount, &f.Total, &f.Note, &f.CreatedAt); err != nil {
			return fmt.Errorf("failed to scan order fee: %w", err)
		}
		o.Fees = append(o.Fees, f)
	}
	return rows.Err()
}

// recomputeOrderTx reloads the full child set, recomputes the totals and writes them
// together with the discount percentage. The caller must hold the order lock.
func recomputeOrderTx(ctx context.Context, tx pgx.Tx, o *Order) error {
	if err := loadOrderChildren(ctx, tx, o); err != nil {
		return err
	}
	o.Recompute()

	err := tx.QueryRow(ctx, `
		UPDATE sales_orders
		SET subtotal = $1, discount_percent = $2, discount_amount = $3, grand_total = $4,
		    version = version + 1, updated_at = NOW()
		WHERE id = $5 AND version = $6
		RETURNING version, updated_at
	`, o.Subtotal, o.DiscountPercent, o.DiscountAmount, o.GrandTotal, o.ID, o.Version).Scan(&o.Version, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %s totals: %w", o.OrderNumber, ErrConcurrencyConflict)
		}
		return fmt.Errorf("failed to write order totals: %w", classifyPgError(err))
	}
	return nil
}

// statusTimestampColumn names the column stamped when an order enters a status.
var statusTimestampColumn = map[Status]string{
	OrderValid:     "validated_at",
	OrderApproved:  "approved_at",
	OrderRejected:  "rejected_at",
	OrderProcessed: "processed_at",
	OrderComplete:  "completed_at",
	OrderTrash:     "trashed_at",
}

func writeOrderStatusTx(ctx context.Context, tx pgx.Tx, o *Order, next Status) error {
	set := "status = $1, version = version + 1, updated_at = NOW()"
	if col, ok := statusTimestampColumn[next]; ok {
		set += ", " + col + " = NOW()"
	}
	tag, err := tx.Exec(ctx, "UPDATE sales_orders SET "+set+" WHERE id = $2 AND version = $3", string(next), o.ID, o.Version)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", classifyPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s status: %w", o.OrderNumber, ErrConcurrencyConflict)
	}
	o.Version++
	o.Status = next
	return nil
}

// ── Header ───────────────────────────────────────────────────────────────────

func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	if in.Kind == "" {
		in.Kind = KindCommon
	}
	h, err := s.kinds.Lookup(in.Kind)
	if err != nil {
		return nil, err
	}
	if err := ValidateDiscount(in.DiscountPercent); err != nil {
		return nil, err
	}

	partner, err := s.partners.GetPartner(ctx, in.CustomerID)
	if err != nil {
		return nil, err
	}
	if !partner.IsCustomer {
		return nil, precondition("partner %s is not a customer", partner.Name)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	number, err := s.docs.NextNumberTx(ctx, tx, h.Prefix(), time.Now().Year())
	if err != nil {
		return nil, err
	}

	o, err := scanOrder(tx.QueryRow(ctx, `
		INSERT INTO sales_orders (kind, order_number, customer_id, contract_ref, customer_po, status, discount_percent, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+orderColumns,
		string(h.Kind()), number, in.CustomerID, in.ContractRef, in.CustomerPO, string(OrderDraft), in.DiscountPercent, in.Note))
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", classifyPgError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}

	s.log.Info().Str("order", o.OrderNumber).Str("kind", string(o.Kind)).Int64("customer_id", o.CustomerID).Msg("order created")
	return o, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, orderID int64, upd OrderUpdate) (*Order, error) {
	if upd.CustomerID != nil {
		return nil, immutableField("customer_id", "customer can't be changed, create a new order instead")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireEditable(o); err != nil {
		return nil, err
	}

	if upd.ContractRef != nil {
		o.ContractRef = upd.ContractRef
	}
	if upd.CustomerPO != nil {
		o.CustomerPO = upd.CustomerPO
	}
	if upd.Note != nil {
		o.Note = *upd.Note
	}

	tag, err := tx.Exec(ctx, `
		UPDATE sales_orders
		SET contract_ref = $1, customer_po = $2, note = $3, version = version + 1, updated_at = NOW()
		WHERE id = $4 AND version = $5
	`, o.ContractRef, o.CustomerPO, o.Note, o.ID, o.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", classifyPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("order %s: %w", o.OrderNumber, ErrConcurrencyConflict)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}
	return s.GetOrder(ctx, orderID)
}

func (s *orderService) SetDiscount(ctx context.Context, orderID int64, percent decimal.Decimal) (*Order, error) {
	if err := ValidateDiscount(percent); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if err := requireEditable(o); err != nil {
		return nil, err
	}

	o.DiscountPercent = percent
	if err := recomputeOrderTx(ctx, tx, o); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}

	s.log.Info().Str("order", o.OrderNumber).Str("discount_percent", percent.String()).Str("grand_total", o.GrandTotal.StringFixed(2)).Msg("order discount set")
	return o, nil
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// transitionHook runs inside the transition's transaction after the guard passed and
// before the new status is written. Returned events are published after commit.
type transitionHook func(ctx context.Context, tx pgx.Tx, o *Order) ([]Event, error)

func (s *orderService) transition(ctx context.Context, orderID int64, action string, hook transitionHook) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	h, err := s.kinds.Lookup(o.Kind)
	if err != nil {
		return nil, err
	}

	from := o.Status
	next, changed, err := h.Machine().Fire(action, from)
	if err != nil {
		return nil, err
	}
	if !changed {
		if err := loadOrderChildren(ctx, tx, o); err != nil {
			return nil, err
		}
		return o, nil
	}

	var events []Event
	if hook != nil {
		if events, err = hook(ctx, tx, o); err != nil {
			return nil, err
		}
	}
	if err := writeOrderStatusTx(ctx, tx, o, next); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}

	s.log.Info().Str("order", o.OrderNumber).Str("from", string(from)).Str("to", string(next)).Msg("order transition")
	for _, e := range events {
		s.notifier.Notify(ctx, e)
	}
	return s.GetOrder(ctx, orderID)
}

// Draft sends the order back for editing. The order's invoice must not carry any
// payment; an unpaid invoice is trashed and revived on the next Validate.
func (s *orderService) Draft(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, ActionDraft, func(ctx context.Context, tx pgx.Tx, o *Order) ([]Event, error) {
		inv, err := lockInvoiceByOrderTx(ctx, tx, o.ID)
		if err != nil || inv == nil {
			return nil, err
		}
		if inv.Paid.IsPositive() {
			return nil, precondition("order %s cannot return to draft: invoice %s has payments of %s", o.OrderNumber, inv.InvoiceNumber, inv.Paid.StringFixed(2))
		}
		return nil, trashInvoiceTx(ctx, tx, inv)
	})
}

func (s *orderService) Validate(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, ActionValidate, func(ctx context.Context, tx pgx.Tx, o *Order) ([]Event, error) {
		if err := recomputeOrderTx(ctx, tx, o); err != nil {
			return nil, err
		}
		if !o.HasItems() {
			return nil, precondition("order %s cannot be validated: it has no lines or fees", o.OrderNumber)
		}
		inv, err := generateInvoiceTx(ctx, tx, s.docs, o, s.invoiceDueDays)
		if err != nil {
			return nil, err
		}
		s.log.Info().Str("order", o.OrderNumber).Str("invoice", inv.InvoiceNumber).Str("grand_total", inv.GrandTotal.StringFixed(2)).Msg("invoice generated")
		return []Event{newEvent(EventInvoiceGenerated, inv.InvoiceNumber, inv.PartnerID, inv.GrandTotal)}, nil
	})
}

// Reject declines a validated order. Its unpaid invoice is trashed so that no
// receipt can be booked against it.
func (s *orderService) Reject(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, ActionReject, s.trashUnpaidInvoice)
}

// Trash retires the order. An unpaid invoice goes with it; a paid one is kept.
func (s *orderService) Trash(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, ActionTrash, s.trashUnpaidInvoice)
}

func (s *orderService) Process(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, ActionProcess, nil)
}

func (s *orderService) Complete(ctx context.Context, orderID int64) (*Order, error) {
	return s.transition(ctx, orderID, ActionComplete, nil)
}

func (s *orderService) trashUnpaidInvoice(ctx context.Context, tx pgx.Tx, o *Order) ([]Event, error) {
	inv, err := lockInvoiceByOrderTx(ctx, tx, o.ID)
	if err != nil || inv == nil {
		return nil, err
	}
	if inv.Paid.IsPositive() || inv.Status == InvoiceTrash {
		return nil, nil
	}
	return nil, trashInvoiceTx(ctx, tx, inv)
}

func (s *orderService) ApproveTx(ctx context.Context, tx pgx.Tx, orderID int64) (bool, error) {
	o, err := lockOrderTx(ctx, tx, orderID)
	if err != nil {
		return false, err
	}
	h, err := s.kinds.Lookup(o.Kind)
	if err != nil {
		return false, err
	}
	next, changed, err := h.Machine().Fire(ActionApprove, o.Status)
	if err != nil || !changed {
		return false, err
	}
	if err := writeOrderStatusTx(ctx, tx, o, next); err != nil {
		return false, err
	}
	s.log.Info().Str("order", o.OrderNumber).Str("to", string(next)).Msg("order approved by payment")
	return true, nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *orderService) GetOrder(ctx context.Context, orderID int64) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, "SELECT "+orderColumns+" FROM sales_orders WHERE id = $1", orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("order", orderID)
		}
		return nil, fmt.Errorf("failed to get order %d: %w", orderID, err)
	}
	if err := loadOrderChildren(ctx, s.pool, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*Order, error) {
	var id int64
	err := s.pool.QueryRow(ctx, "SELECT id FROM sales_orders WHERE order_number = $1", orderNumber).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("order", orderNumber)
		}
		return nil, fmt.Errorf("failed to look up order %s: %w", orderNumber, err)
	}
	return s.GetOrder(ctx, id)
}

// GetOrders returns order headers without lines or fees, newest first.
func (s *orderService) GetOrders(ctx context.Context, filter OrderFilter) ([]Order, error) {
	var conds []string
	var args []any
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.CustomerID != 0 {
		args = append(args, filter.CustomerID)
		conds = append(conds, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	query := "SELECT " + orderColumns + " FROM sales_orders"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}
