package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Quantity bounds for order lines and fees.
const (
	MinQuantity = 1
	MaxQuantity = 500
)

var hundred = decimal.NewFromInt(100)

// Order is the sales order aggregate. Totals are derived from Lines and Fees and are
// only written by Recompute.
//
//	draft → valid → approved | rejected            (3-step kinds)
//	draft → valid → approved → processed → complete (5-step kinds)
//	any non-trash status → trash
type Order struct {
	ID              int64           `json:"id"`
	Kind            OrderKind       `json:"kind"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      int64           `json:"customer_id"`
	ContractRef     *string         `json:"contract_ref,omitempty"`
	CustomerPO      *string         `json:"customer_po,omitempty"`
	Status          Status          `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	Note            string          `json:"note"`
	Version         int             `json:"version"`
	Lines           []OrderLine     `json:"lines"`
	Fees            []OrderFee      `json:"fees"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ValidatedAt     *time.Time      `json:"validated_at,omitempty"`
	ApprovedAt      *time.Time      `json:"approved_at,omitempty"`
	RejectedAt      *time.Time      `json:"rejected_at,omitempty"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	TrashedAt       *time.Time      `json:"trashed_at,omitempty"`
}

// OrderLine is one catalog product on an order. UnitPrice is frozen at creation.
type OrderLine struct {
	ID              int64                `json:"id"`
	OrderID         int64                `json:"order_id"`
	ProductID       int64                `json:"product_id"`
	Name            string               `json:"name"`
	Quantity        int                  `json:"quantity"`
	UnitPrice       decimal.Decimal      `json:"unit_price"`
	ParametersTotal decimal.Decimal      `json:"parameters_total"`
	Total           decimal.Decimal      `json:"total"`
	Note            string               `json:"note"`
	Parameters      []OrderLineParameter `json:"parameters,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

// OrderLineParameter is an extra test parameter charged on top of a line's unit price.
type OrderLineParameter struct {
	ID            int64           `json:"id"`
	LineID        int64           `json:"line_id"`
	ParameterID   int64           `json:"parameter_id"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	DateEffective time.Time       `json:"date_effective"`
}

// OrderFee is a standalone fee charged on an order. Amount is frozen at creation.
type OrderFee struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	FeeID     int64           `json:"fee_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Amount    decimal.Decimal `json:"amount"`
	Total     decimal.Decimal `json:"total"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

// CreateOrderInput carries the header fields of a new draft order.
type CreateOrderInput struct {
	Kind            OrderKind
	CustomerID      int64
	ContractRef     *string
	CustomerPO      *string
	DiscountPercent decimal.Decimal
	Note            string
}

// LineUpdate lists the fields a caller wants to change on a line. Nil means unchanged.
// ProductID is present so that an attempt to change it can be rejected explicitly.
type LineUpdate struct {
	ProductID *int64
	Quantity  *int
	Note      *string
}

// FeeUpdate is the fee counterpart of LineUpdate.
type FeeUpdate struct {
	FeeID    *int64
	Quantity *int
	Note     *string
}

// OrderFilter narrows GetOrders. Zero values mean no filter.
type OrderFilter struct {
	Kind       OrderKind
	Status     Status
	CustomerID int64
}

// RecomputeTotal sets Total = Quantity × (UnitPrice + ParametersTotal).
func (l *OrderLine) RecomputeTotal() {
	l.Total = decimal.NewFromInt(int64(l.Quantity)).Mul(l.UnitPrice.Add(l.ParametersTotal))
}

// SetParameters replaces the extra parameters and recomputes ParametersTotal and Total.
func (l *OrderLine) SetParameters(params []OrderLineParameter) {
	sum := decimal.Zero
	for _, p := range params {
		sum = sum.Add(p.Price)
	}
	l.Parameters = params
	l.ParametersTotal = sum
	l.RecomputeTotal()
}

// RecomputeTotal sets Total = Quantity × Amount.
func (f *OrderFee) RecomputeTotal() {
	f.Total = decimal.NewFromInt(int64(f.Quantity)).Mul(f.Amount)
}

// Recompute derives Subtotal, DiscountAmount and GrandTotal from the current child set.
// It is idempotent.
func (o *Order) Recompute() {
	subtotal := decimal.Zero
	for _, l := range o.Lines {
		subtotal = subtotal.Add(l.Total)
	}
	for _, f := range o.Fees {
		subtotal = subtotal.Add(f.Total)
	}
	o.Subtotal = subtotal
	o.DiscountAmount, o.GrandTotal = applyDiscount(subtotal, o.DiscountPercent)
}

// applyDiscount returns the discount rounded to cents and the remaining grand total.
func applyDiscount(subtotal, percent decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	discount := subtotal.Mul(percent).Div(hundred).Round(2)
	return discount, subtotal.Sub(discount)
}

// HasItems reports whether the order carries at least one line or fee.
func (o *Order) HasItems() bool {
	return len(o.Lines) > 0 || len(o.Fees) > 0
}

// Editable reports whether lines, fees and the discount may still change.
func (o *Order) Editable() bool {
	return o.Status == OrderDraft
}

// ValidateQuantity enforces the [MinQuantity, MaxQuantity] range.
func ValidateQuantity(q int) error {
	if q < MinQuantity || q > MaxQuantity {
		return outOfRange("quantity", fmt.Sprintf("must be between %d and %d, got %d", MinQuantity, MaxQuantity, q))
	}
	return nil
}

// ValidateDiscount enforces 0 ≤ percent ≤ 100 with at most two decimal places,
// matching the NUMERIC(5,2) column.
func ValidateDiscount(percent decimal.Decimal) error {
	if percent.IsNegative() || percent.GreaterThan(hundred) {
		return outOfRange("discount_percent", fmt.Sprintf("must be between 0 and 100, got %s", percent))
	}
	if !percent.Equal(percent.Truncate(2)) {
		return outOfRange("discount_percent", fmt.Sprintf("at most 2 decimal places, got %s", percent))
	}
	return nil
}

func requireEditable(o *Order) error {
	if !o.Editable() {
		return precondition("order %s cannot be edited: status is %s (must be %s)", o.OrderNumber, o.Status, OrderDraft)
	}
	return nil
}
