package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// FlowType distinguishes incoming receipts from outgoing payments.
type FlowType string

const (
	FlowReceipt FlowType = "receipt"
	FlowPayment FlowType = "payment"
)

// Number prefixes for documents allocated outside the order kinds.
const (
	PrefixInvoice = "INV"
	PrefixReceipt = "RCV"
	PrefixPayment = "PAY"
)

// CashFlow is a money movement to or from a partner.
//
//	waiting → confirmed → refunded
//	waiting → rejected
type CashFlow struct {
	ID              int64           `json:"id"`
	FlowType        FlowType        `json:"flow_type"`
	Number          string          `json:"number"`
	PartnerID       int64           `json:"partner_id"`
	InvoiceID       *int64          `json:"invoice_id,omitempty"`
	PaymentMethodID *int64          `json:"payment_method_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	TransferFee     decimal.Decimal `json:"transfer_fee"`
	Excess          decimal.Decimal `json:"excess"`
	Status          Status          `json:"status"`
	Memo            string          `json:"memo"`
	CreatedAt       time.Time       `json:"created_at"`
	DateConfirmed   *time.Time      `json:"date_confirmed,omitempty"`
	DateRejected    *time.Time      `json:"date_rejected,omitempty"`
	DateRefunded    *time.Time      `json:"date_refunded,omitempty"`
}

// ReceiptInput records money received against an invoice. PartnerID defaults to the
// invoice's partner when zero.
type ReceiptInput struct {
	InvoiceID       int64
	PartnerID       int64
	PaymentMethodID *int64
	Amount          decimal.Decimal
	Memo            string
}

// PaymentInput records money paid out to a partner.
type PaymentInput struct {
	PartnerID       int64
	PaymentMethodID *int64
	Amount          decimal.Decimal
	Memo            string
}

// CashFlowFilter narrows GetCashFlows. Zero values mean no filter.
type CashFlowFilter struct {
	FlowType  FlowType
	PartnerID int64
	InvoiceID int64
	Status    Status
}

// Transfer fee rate methods.
const (
	RatePercent = "PERCENT"
	RateNominal = "NOMINAL"
)

// PaymentMethod describes how money moves and what the transfer costs.
type PaymentMethod struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	RateMethod  string          `json:"rate_method"`
	TransferFee decimal.Decimal `json:"transfer_fee"`
	AutoConfirm bool            `json:"auto_confirm"`
}

// Validate checks the rate method and fee bounds.
func (m PaymentMethod) Validate() error {
	if m.Name == "" {
		return outOfRange("name", "is required")
	}
	if m.TransferFee.IsNegative() {
		return outOfRange("transfer_fee", "must not be negative")
	}
	switch m.RateMethod {
	case RatePercent:
		if m.TransferFee.GreaterThan(hundred) {
			return outOfRange("transfer_fee", fmt.Sprintf("percentage must not exceed 100, got %s", m.TransferFee))
		}
	case RateNominal:
	default:
		return outOfRange("rate_method", fmt.Sprintf("must be %s or %s, got %q", RatePercent, RateNominal, m.RateMethod))
	}
	return nil
}

// FeeFor returns the transfer fee charged on amount, rounded to cents.
func (m PaymentMethod) FeeFor(amount decimal.Decimal) decimal.Decimal {
	if m.RateMethod == RatePercent {
		return amount.Mul(m.TransferFee).Div(hundred).Round(2)
	}
	return m.TransferFee.Round(2)
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return outOfRange("amount", fmt.Sprintf("must be greater than zero, got %s", amount))
	}
	return nil
}
