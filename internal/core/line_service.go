package core

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"labsales/internal/logger"
)

// LineService edits the lines, fees and line parameters of draft orders. Every
// mutation locks the order, writes the child row and recomputes the order totals in
// one transaction.
type LineService interface {
	AddLine(ctx context.Context, orderID, productID int64, quantity int, note string) (*OrderLine, error)
	UpdateLine(ctx context.Context, lineID int64, upd LineUpdate) (*OrderLine, error)
	RemoveLine(ctx context.Context, lineID int64) error
	GetLine(ctx context.Context, lineID int64) (*OrderLine, error)

	AddFee(ctx context.Context, orderID, feeID int64, quantity int, note string) (*OrderFee, error)
	UpdateFee(ctx context.Context, orderFeeID int64, upd FeeUpdate) (*OrderFee, error)
	RemoveFee(ctx context.Context, orderFeeID int64) error

	AddLineParameter(ctx context.Context, lineID, parameterID int64) (*OrderLineParameter, error)
	RemoveLineParameter(ctx context.Context, lineParameterID int64) error
}

type lineService struct {
	pool    *pgxpool.Pool
	kinds   *KindRegistry
	catalog Catalog
	log     zerolog.Logger
}

func NewLineService(pool *pgxpool.Pool, kinds *KindRegistry, catalog Catalog) LineService {
	return &lineService{pool: pool, kinds: kinds, catalog: catalog, log: logger.WithComponent("lines")}
}

// lockedOrderTx begins a transaction, locks the order and checks it is still a draft.
// On success the caller owns tx and must roll it back or commit it.
func (s *lineService) lockedOrderTx(ctx context.Context, orderID int64) (pgx.Tx, *Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	o, err := lockOrderTx(ctx, tx, orderID)
	if err == nil {
		err = requireEditable(o)
	}
	if err != nil {
		tx.Rollback(ctx)
		return nil, nil, err
	}
	return tx, o, nil
}

func (s *lineService) commitRecompute(ctx context.Context, tx pgx.Tx, o *Order) error {
	if err := recomputeOrderTx(ctx, tx, o); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", classifyPgError(err))
	}
	s.log.Debug().Str("order", o.OrderNumber).Str("subtotal", o.Subtotal.StringFixed(2)).Str("grand_total", o.GrandTotal.StringFixed(2)).Int("version", o.Version).Msg("order recomputed")
	return nil
}

const lineColumns = `id, order_id, product_id, name, quantity, unit_price, parameters_total, total, note, created_at`

func scanLine(row pgx.Row) (*OrderLine, error) {
	var l OrderLine
	err := row.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.Name, &l.Quantity, &l.UnitPrice, &l.ParametersTotal, &l.Total, &l.Note, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func getLine(ctx context.Context, q pgxQuerier, lineID int64) (*OrderLine, error) {
	l, err := scanLine(q.QueryRow(ctx, "SELECT "+lineColumns+" FROM order_lines WHERE id = $1", lineID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("order line", lineID)
		}
		return nil, fmt.Errorf("failed to read order line %d: %w", lineID, err)
	}
	return l, nil
}

// ── Lines ────────────────────────────────────────────────────────────────────

func (s *lineService) AddLine(ctx context.Context, orderID, productID int64, quantity int, note string) (*OrderLine, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	price, err := s.catalog.ProductPrice(ctx, productID)
	if err != nil {
		return nil, err
	}

	tx, o, err := s.lockedOrderTx(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	h, err := s.kinds.Lookup(o.Kind)
	if err != nil {
		return nil, err
	}
	if err := h.AcceptProduct(*price); err != nil {
		return nil, err
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_lines WHERE order_id = $1 AND product_id = $2)`, orderID, productID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check existing lines: %w", err)
	}
	if exists {
		return nil, precondition("product %s is already on order %s", price.Name, o.OrderNumber)
	}

	line := OrderLine{OrderID: orderID, ProductID: productID, Name: price.Name, Quantity: quantity, UnitPrice: price.UnitPrice(), Note: note}
	line.RecomputeTotal()
	l, err := scanLine(tx.QueryRow(ctx, `
		INSERT INTO order_lines (order_id, product_id, name, quantity, unit_price, parameters_total, total, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+lineColumns,
		line.OrderID, line.ProductID, line.Name, line.Quantity, line.UnitPrice, line.ParametersTotal, line.Total, line.Note))
	if err != nil {
		return nil, fmt.Errorf("failed to insert order line: %w", classifyPgError(err))
	}

	if err := s.commitRecompute(ctx, tx, o); err != nil {
		return nil, err
	}
	s.log.Info().Str("order", o.OrderNumber).Int64("product_id", productID).Int("quantity", quantity).Str("unit_price", l.UnitPrice.StringFixed(2)).Msg("line added")
	return l, nil
}

func (s *lineService) UpdateLine(ctx context.Context, lineID int64, upd LineUpdate) (*OrderLine, error) {
	if upd.ProductID != nil {
		return nil, immutableField("product", "product can't be changed, remove the line instead")
	}
	if upd.Quantity != nil {
		if err := ValidateQuantity(*upd.Quantity); err != nil {
			return nil, err
		}
	}

	current, err := getLine(ctx, s.pool, lineID)
	if err != nil {
		return nil, err
	}
	tx, o, err := s.lockedOrderTx(ctx, current.OrderID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	l, err := getLine(ctx, tx, lineID)
	if err != nil {
		return nil, err
	}
	if upd.Quantity != nil {
		l.Quantity = *upd.Quantity
	}
	if upd.Note != nil {
		l.Note = *upd.Note
	}
	l.RecomputeTotal()

	if _, err := tx.Exec(ctx, `UPDATE order_lines SET quantity = $1, note = $2, total = $3 WHERE id = $4`, l.Quantity, l.Note, l.Total, l.ID); err != nil {
		return nil, fmt.Errorf("failed to update order line: %w", classifyPgError(err))
	}

	if err := s.commitRecompute(ctx, tx, o); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *lineService) GetLine(ctx context.Context, lineID int64) (*OrderLine, error) {
	return getLine(ctx, s.pool, lineID)
}

func (s *lineService) RemoveLine(ctx context.Context, lineID int64) error {
	current, err := getLine(ctx, s.pool, lineID)
	if err != nil {
		return err
	}
	tx, o, err := s.lockedOrderTx(ctx, current.OrderID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM order_lines WHERE id = $1`, lineID)
	if err != nil {
		return fmt.Errorf("failed to delete order line: %w", classifyPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return notFound("order line", lineID)
	}

	if err := s.commitRecompute(ctx, tx, o); err != nil {
		return err
	}
	s.log.Info().Str("order", o.OrderNumber).Int64("line_id", lineID).Msg("line removed")
	return nil
}

// ── Fees ─────────────────────────────────────────────────────────────────────

const feeColumns = `id, order_id, fee_id, name, quantity, amount, total, note, created_at`

func scanFee(row pgx.Row) (*OrderFee, error) {
	var f OrderFee
	if err := row.Scan(&f.ID, &f.OrderID, &f.FeeID, &f.Name, &f.Quantity, &f.Amount, &f.Total, &f.Note, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func getFee(ctx context.Context, q pgxQuerier, orderFeeID int64) (*OrderFee, error) {
	f, err := scanFee(q.QueryRow(ctx, "SELECT "+feeColumns+" FROM order_fees WHERE id = $1", orderFeeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("order fee", orderFeeID)
		}
		return nil, fmt.Errorf("failed to read order fee %d: %w", orderFeeID, err)
	}
	return f, nil
}

func (s *lineService) AddFee(ctx context.Context, orderID, feeID int64, quantity int, note string) (*OrderFee, error) {
	if err := ValidateQuantity(quantity); err != nil {
		return nil, err
	}
	price, err := s.catalog.FeePrice(ctx, feeID)
	if err != nil {
		return nil, err
	}

	tx, o, err := s.lockedOrderTx(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_fees WHERE order_id = $1 AND fee_id = $2)`, orderID, feeID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check existing fees: %w", err)
	}
	if exists {
		return nil, precondition("fee %s is already on order %s", price.Name, o.OrderNumber)
	}

	fee := OrderFee{OrderID: orderID, FeeID: feeID, Name: price.Name, Quantity: quantity, Amount: price.Amount, Note: note}
	fee.RecomputeTotal()
	f, err := scanFee(tx.QueryRow(ctx, `
		INSERT INTO order_fees (order_id, fee_id, name, quantity, amount, total, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+feeColumns,
		fee.OrderID, fee.FeeID, fee.Name, fee.Quantity, fee.Amount, fee.Total, fee.Note))
	if err != nil {
		return nil, fmt.Errorf("failed to insert order fee: %w", classifyPgError(err))
	}

	if err := s.commitRecompute(ctx, tx, o); err != nil {
		return nil, err
	}
	s.log.Info().Str("order", o.OrderNumber).Int64("fee_id", feeID).Int("quantity", quantity).Msg("fee added")
	return f, nil
}

func (s *lineService) UpdateFee(ctx context.Context, orderFeeID int64, upd FeeUpdate) (*OrderFee, error) {
	if upd.FeeID != nil {
		return nil, immutableField("fee", "fee can't be changed, remove it instead")
	}
	if upd.Quantity != nil {
		if err := ValidateQuantity(*upd.Quantity); err != nil {
			return nil, err
		}
	}

	current, err := getFee(ctx, s.pool, orderFeeID)
	if err != nil {
		return nil, err
	}
	tx, o, err := s.lockedOrderTx(ctx, current.OrderID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	f, err := getFee(ctx, tx, orderFeeID)
	if err != nil {
		return nil, err
	}
	if upd.Quantity != nil {
		f.Quantity = *upd.Quantity
	}
	if upd.Note != nil {
		f.Note = *upd.Note
	}
	f.RecomputeTotal()

	if _, err := tx.Exec(ctx, `UPDATE order_fees SET quantity = $1, note = $2, total = $3 WHERE id = $4`, f.Quantity, f.Note, f.Total, f.ID); err != nil {
		return nil, fmt.Errorf("failed to update order fee: %w", classifyPgError(err))
	}

	if err := s.commitRecompute(ctx, tx, o); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *lineService) RemoveFee(ctx context.Context, orderFeeID int64) error {
	current, err := getFee(ctx, s.pool, orderFeeID)
	if err != nil {
		return err
	}
	tx, o, err := s.lockedOrderTx(ctx, current.OrderID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM order_fees WHERE id = $1`, orderFeeID)
	if err != nil {
		return fmt.Errorf("failed to delete order fee: %w", classifyPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return notFound("order fee", orderFeeID)
	}

	if err := s.commitRecompute(ctx, tx, o); err != nil {
		return err
	}
	s.log.Info().Str("order", o.OrderNumber).Int64("order_fee_id", orderFeeID).Msg("fee removed")
	return nil
}

// ── Line parameters ──────────────────────────────────────────────────────────

// refreshLineTx recomputes a line's parameters total and total from its parameter rows.
func refreshLineTx(ctx context.Context, tx pgx.Tx, lineID int64) error {
	l, err := getLine(ctx, tx, lineID)
	if err != nil {
		return err
	}
	rows, err := tx.Query(ctx, `
		SELECT id, line_id, parameter_id, name, price, date_effective
		FROM order_line_parameters WHERE line_id = $1 ORDER BY id
	`, lineID)
	if err != nil {
		return fmt.Errorf("failed to query line parameters: %w", err)
	}
	params, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OrderLineParameter, error) {
		var p OrderLineParameter
		err := row.Scan(&p.ID, &p.LineID, &p.ParameterID, &p.Name, &p.Price, &p.DateEffective)
		return p, err
	})
	if err != nil {
		return fmt.Errorf("failed to scan line parameters: %w", err)
	}
	l.SetParameters(params)

	if _, err := tx.Exec(ctx, `UPDATE order_lines SET parameters_total = $1, total = $2 WHERE id = $3`, l.ParametersTotal, l.Total, l.ID); err != nil {
		return fmt.Errorf("failed to update line totals: %w", classifyPgError(err))
	}
	return nil
}

func (s *lineService) AddLineParameter(ctx context.Context, lineID, parameterID int64) (*OrderLineParameter, error) {
	current, err := getLine(ctx, s.pool, lineID)
	if err != nil {
		return nil, err
	}
	product, err := s.catalog.ProductPrice(ctx, current.ProductID)
	if err != nil {
		return nil, err
	}
	if slices.Contains(product.DefaultParameterIDs, parameterID) {
		return nil, precondition("parameter %d is already included in %s", parameterID, product.Name)
	}
	param, err := s.catalog.ParameterPrice(ctx, parameterID)
	if err != nil {
		return nil, err
	}

	tx, o, err := s.lockedOrderTx(ctx, current.OrderID)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM order_line_parameters WHERE line_id = $1 AND parameter_id = $2)`, lineID, parameterID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check existing parameters: %w", err)
	}
	if exists {
		return nil, precondition("parameter %s is already on line %d", param.Name, lineID)
	}

	var p OrderLineParameter
	err = tx.QueryRow(ctx, `
		INSERT INTO order_line_parameters (line_id, parameter_id, name, price)
		VALUES ($1, $2, $3, $4)
		RETURNING id, line_id, parameter_id, name, price, date_effective
	`, lineID, parameterID, param.Name, param.Price).Scan(&p.ID, &p.LineID, &p.ParameterID, &p.Name, &p.Price, &p.DateEffective)
	if err != nil {
		return nil, fmt.Errorf("failed to insert line parameter: %w", classifyPgError(err))
	}

	if err := refreshLineTx(ctx, tx, lineID); err != nil {
		return nil, err
	}
	if err := s.commitRecompute(ctx, tx, o); err != nil {
		return nil, err
	}
	s.log.Info().Str("order", o.OrderNumber).Int64("line_id", lineID).Int64("parameter_id", parameterID).Msg("line parameter added")
	return &p, nil
}

func (s *lineService) RemoveLineParameter(ctx context.Context, lineParameterID int64) error {
	var lineID, orderID int64
	err := s.pool.QueryRow(ctx, `
		SELECT p.line_id, l.order_id
		FROM order_line_parameters p
		JOIN order_lines l ON l.id = p.line_id
		WHERE p.id = $1
	`, lineParameterID).Scan(&lineID, &orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound("line parameter", lineParameterID)
		}
		return fmt.Errorf("failed to read line parameter %d: %w", lineParameterID, err)
	}

	tx, o, err := s.lockedOrderTx(ctx, orderID)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM order_line_parameters WHERE id = $1`, lineParameterID)
	if err != nil {
		return fmt.Errorf("failed to delete line parameter: %w", classifyPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return notFound("line parameter", lineParameterID)
	}

	if err := refreshLineTx(ctx, tx, lineID); err != nil {
		return err
	}
	return s.commitRecompute(ctx, tx, o)
}
