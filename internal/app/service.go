package app

import (
	"context"

	"github.com/shopspring/decimal"

	"labsales/internal/core"
)

// ApplicationService is the single interface all adapters (CLI, Web) call.
// It decouples presentation from business logic. Implementations must contain
// no fmt.Println and no display logic of any kind.
//
// Order references (ref) accept either the numeric ID or the order number.
type ApplicationService interface {
	// ListProducts returns active catalog products, optionally filtered by category.
	ListProducts(ctx context.Context, category string) (*ProductListResult, error)
	ListFees(ctx context.Context) (*FeeListResult, error)
	ListPartners(ctx context.Context, customersOnly bool) (*PartnerListResult, error)

	ListOrders(ctx context.Context, req ListOrdersRequest) (*OrderListResult, error)
	GetOrder(ctx context.Context, ref string) (*OrderResult, error)
	// CreateOrder creates a new draft order. Kind defaults to common.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error)
	UpdateOrder(ctx context.Context, ref string, req UpdateOrderRequest) (*OrderResult, error)
	SetDiscount(ctx context.Context, ref string, percent decimal.Decimal) (*OrderResult, error)
	// TransitionOrder fires a lifecycle action on the order: draft, validate, reject,
	// trash, process or complete. Approval is driven by invoice payment only.
	TransitionOrder(ctx context.Context, ref, action string) (*OrderResult, error)

	AddLine(ctx context.Context, ref string, req AddLineRequest) (*OrderResult, error)
	UpdateLine(ctx context.Context, lineID int64, req UpdateLineRequest) (*OrderResult, error)
	RemoveLine(ctx context.Context, lineID int64) error
	AddFee(ctx context.Context, ref string, req AddFeeRequest) (*OrderResult, error)
	UpdateFee(ctx context.Context, orderFeeID int64, req UpdateFeeRequest) (*OrderResult, error)
	RemoveFee(ctx context.Context, orderFeeID int64) error
	AddLineParameter(ctx context.Context, lineID, parameterID int64) (*OrderResult, error)
	RemoveLineParameter(ctx context.Context, lineParameterID int64) error

	GetInvoice(ctx context.Context, invoiceID int64) (*InvoiceResult, error)
	// GetOrderInvoice returns the invoice generated for the order.
	GetOrderInvoice(ctx context.Context, ref string) (*InvoiceResult, error)
	ListInvoices(ctx context.Context, filter core.InvoiceFilter) (*InvoiceListResult, error)

	CreateReceipt(ctx context.Context, req ReceiptRequest) (*CashFlowResult, error)
	CreatePayment(ctx context.Context, req PaymentRequest) (*CashFlowResult, error)
	UpdateCashFlowAmount(ctx context.Context, cashFlowID int64, amount decimal.Decimal) (*CashFlowResult, error)
	// TransitionCashFlow fires confirm, reject or refund on a cash flow.
	TransitionCashFlow(ctx context.Context, cashFlowID int64, action string) (*CashFlowResult, error)
	GetCashFlow(ctx context.Context, cashFlowID int64) (*CashFlowResult, error)
	ListCashFlows(ctx context.Context, filter core.CashFlowFilter) (*CashFlowListResult, error)

	ListPaymentMethods(ctx context.Context) (*PaymentMethodListResult, error)
	CreatePaymentMethod(ctx context.Context, req PaymentMethodRequest) (*core.PaymentMethod, error)

	// GetPartnerBalance returns the balance summed from the mutation log, with the log.
	GetPartnerBalance(ctx context.Context, partnerID int64) (*BalanceResult, error)
	// ReconcileBalance rewrites the stored partner balance from the log.
	ReconcileBalance(ctx context.Context, partnerID int64) (*core.ReconcileResult, error)
}
