package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is generated once per order at validation. It snapshots the order totals
// and tracks what has been paid against them.
//
//	pending → paid → closed
//	pending → closed
//	pending → trash → pending (order sent back to draft, then validated again)
type Invoice struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	InvoiceNumber   string          `json:"invoice_number"`
	PartnerID       int64           `json:"partner_id"`
	DueDate         time.Time       `json:"due_date"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	Paid            decimal.Decimal `json:"paid"`
	Receivable      decimal.Decimal `json:"receivable"`
	Refund          decimal.Decimal `json:"refund"`
	Status          Status          `json:"status"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	ClosedAt        *time.Time      `json:"closed_at,omitempty"`
	TrashedAt       *time.Time      `json:"trashed_at,omitempty"`
}

// InvoiceFilter narrows GetInvoices. Zero values mean no filter.
type InvoiceFilter struct {
	PartnerID int64
	Status    Status
}

// snapshot copies the order's totals onto the invoice and resets receivable.
func (inv *Invoice) snapshot(o *Order) {
	inv.OrderID = o.ID
	inv.PartnerID = o.CustomerID
	inv.Subtotal = o.Subtotal
	inv.DiscountPercent = o.DiscountPercent
	inv.DiscountAmount = o.DiscountAmount
	inv.GrandTotal = o.GrandTotal
	inv.recomputeReceivable()
}

func (inv *Invoice) recomputeReceivable() {
	r := inv.GrandTotal.Sub(inv.Paid)
	if r.IsNegative() {
		r = decimal.Zero
	}
	inv.Receivable = r
}

// Pay applies a payment. refund records the portion of the incoming money that was
// credited back to the partner instead of settling this invoice.
//
// Paying a closed invoice is a no-op and reports changed=false. Paying a trashed
// invoice is a *TransitionError. The invoice moves to paid, or to closed once paid
// reaches the grand total.
func (inv *Invoice) Pay(amount, refund decimal.Decimal, now time.Time) (bool, error) {
	if inv.Status == InvoiceClosed {
		return false, nil
	}
	if amount.IsNegative() {
		return false, outOfRange("amount", "must not be negative")
	}
	if refund.IsNegative() {
		return false, outOfRange("refund", "must not be negative")
	}

	action := ActionPay
	if inv.Paid.Add(amount).GreaterThanOrEqual(inv.GrandTotal) {
		action = ActionClose
	}
	next, _, err := InvoiceMachine.Fire(action, inv.Status)
	if err != nil {
		return false, err
	}
	if amount.GreaterThan(inv.Receivable) {
		return false, outOfRange("amount", "exceeds the invoice receivable "+inv.Receivable.StringFixed(2))
	}

	inv.Paid = inv.Paid.Add(amount)
	inv.Refund = inv.Refund.Add(refund)
	inv.recomputeReceivable()
	inv.Status = next
	if inv.PaidAt == nil {
		inv.PaidAt = &now
	}
	if next == InvoiceClosed {
		inv.ClosedAt = &now
	}
	return true, nil
}

// Apportion splits an incoming amount into the part that settles the receivable and
// the excess that is credited to the partner balance.
func Apportion(amount, receivable decimal.Decimal) (applied, excess decimal.Decimal) {
	if receivable.IsNegative() {
		receivable = decimal.Zero
	}
	if amount.LessThanOrEqual(receivable) {
		return amount, decimal.Zero
	}
	return receivable, amount.Sub(receivable)
}
