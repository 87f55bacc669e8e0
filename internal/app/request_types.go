package app

import (
	"github.com/shopspring/decimal"

	"labsales/internal/core"
)

// ListOrdersRequest narrows ListOrders. Empty fields mean no filter.
type ListOrdersRequest struct {
	Kind       string
	Status     string
	CustomerID int64
}

// CreateOrderRequest is the input for creating a new draft order.
type CreateOrderRequest struct {
	Kind            string          `json:"kind"`
	CustomerID      int64           `json:"customer_id"`
	ContractRef     *string         `json:"contract_ref,omitempty"`
	CustomerPO      *string         `json:"customer_po,omitempty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Note            string          `json:"note"`
}

// UpdateOrderRequest changes header fields of a draft order. Nil means unchanged.
type UpdateOrderRequest struct {
	CustomerID  *int64  `json:"customer_id,omitempty"`
	ContractRef *string `json:"contract_ref,omitempty"`
	CustomerPO  *string `json:"customer_po,omitempty"`
	Note        *string `json:"note,omitempty"`
}

// AddLineRequest adds one catalog product to an order. Absent quantity means 1.
type AddLineRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  *int   `json:"quantity,omitempty"`
	Note      string `json:"note"`
}

// UpdateLineRequest changes a line. ProductID is accepted only to be refused.
type UpdateLineRequest struct {
	ProductID *int64  `json:"product_id,omitempty"`
	Quantity  *int    `json:"quantity,omitempty"`
	Note      *string `json:"note,omitempty"`
}

// AddFeeRequest adds one catalog fee to an order. Absent quantity means 1.
type AddFeeRequest struct {
	FeeID    int64  `json:"fee_id"`
	Quantity *int   `json:"quantity,omitempty"`
	Note     string `json:"note"`
}

// UpdateFeeRequest changes an order fee. FeeID is accepted only to be refused.
type UpdateFeeRequest struct {
	FeeID    *int64  `json:"fee_id,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
	Note     *string `json:"note,omitempty"`
}

// ReceiptRequest records money received against an invoice.
type ReceiptRequest struct {
	InvoiceID       int64           `json:"invoice_id"`
	PartnerID       int64           `json:"partner_id,omitempty"`
	PaymentMethodID *int64          `json:"payment_method_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Memo            string          `json:"memo"`
}

// PaymentRequest records money paid out to a partner.
type PaymentRequest struct {
	PartnerID       int64           `json:"partner_id"`
	PaymentMethodID *int64          `json:"payment_method_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Memo            string          `json:"memo"`
}

// PaymentMethodRequest is the input for creating a payment method.
type PaymentMethodRequest struct {
	Name        string          `json:"name"`
	RateMethod  string          `json:"rate_method"`
	TransferFee decimal.Decimal `json:"transfer_fee"`
	AutoConfirm bool            `json:"auto_confirm"`
}

func (r ListOrdersRequest) filter() core.OrderFilter {
	return core.OrderFilter{
		Kind:       core.OrderKind(r.Kind),
		Status:     core.Status(r.Status),
		CustomerID: r.CustomerID,
	}
}
