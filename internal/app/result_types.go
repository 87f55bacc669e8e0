package app

import (
	"github.com/shopspring/decimal"

	"labsales/internal/catalog"
	"labsales/internal/core"
)

// OrderResult is an order with its lines, fees and, once validated, its invoice.
type OrderResult struct {
	Order   *core.Order   `json:"order"`
	Invoice *core.Invoice `json:"invoice,omitempty"`
}

type OrderListResult struct {
	Orders []core.Order `json:"orders"`
}

type InvoiceResult struct {
	Invoice *core.Invoice `json:"invoice"`
}

type InvoiceListResult struct {
	Invoices []core.Invoice `json:"invoices"`
}

type CashFlowResult struct {
	CashFlow *core.CashFlow `json:"cash_flow"`
}

type CashFlowListResult struct {
	CashFlows []core.CashFlow `json:"cash_flows"`
}

type PaymentMethodListResult struct {
	PaymentMethods []core.PaymentMethod `json:"payment_methods"`
}

// BalanceResult holds a partner balance and the mutations it was summed from.
type BalanceResult struct {
	PartnerID int64                  `json:"partner_id"`
	Balance   decimal.Decimal        `json:"balance"`
	Mutations []core.BalanceMutation `json:"mutations"`
}

type ProductListResult struct {
	Products []catalog.Product `json:"products"`
}

type FeeListResult struct {
	Fees []catalog.Fee `json:"fees"`
}

type PartnerListResult struct {
	Partners []catalog.Partner `json:"partners"`
}
