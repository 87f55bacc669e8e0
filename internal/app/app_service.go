package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"labsales/internal/catalog"
	"labsales/internal/core"
)

// CatalogBrowser lists catalog and partner records for adapters.
type CatalogBrowser interface {
	ListProducts(ctx context.Context, category string) ([]catalog.Product, error)
	ListFees(ctx context.Context) ([]catalog.Fee, error)
	ListPartners(ctx context.Context, customersOnly bool) ([]catalog.Partner, error)
}

type appService struct {
	catalog   CatalogBrowser
	orders    core.OrderService
	lines     core.LineService
	invoices  core.InvoiceService
	cashflows core.CashFlowService
	balances  core.BalanceLedger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(
	catalog CatalogBrowser,
	orders core.OrderService,
	lines core.LineService,
	invoices core.InvoiceService,
	cashflows core.CashFlowService,
	balances core.BalanceLedger,
) ApplicationService {
	return &appService{
		catalog:   catalog,
		orders:    orders,
		lines:     lines,
		invoices:  invoices,
		cashflows: cashflows,
		balances:  balances,
	}
}

// ── Catalog ──────────────────────────────────────────────────────────────────

func (s *appService) ListProducts(ctx context.Context, category string) (*ProductListResult, error) {
	products, err := s.catalog.ListProducts(ctx, category)
	if err != nil {
		return nil, err
	}
	return &ProductListResult{Products: products}, nil
}

func (s *appService) ListFees(ctx context.Context) (*FeeListResult, error) {
	fees, err := s.catalog.ListFees(ctx)
	if err != nil {
		return nil, err
	}
	return &FeeListResult{Fees: fees}, nil
}

func (s *appService) ListPartners(ctx context.Context, customersOnly bool) (*PartnerListResult, error) {
	partners, err := s.catalog.ListPartners(ctx, customersOnly)
	if err != nil {
		return nil, err
	}
	return &PartnerListResult{Partners: partners}, nil
}

// ── Orders ───────────────────────────────────────────────────────────────────

func (s *appService) ListOrders(ctx context.Context, req ListOrdersRequest) (*OrderListResult, error) {
	orders, err := s.orders.GetOrders(ctx, req.filter())
	if err != nil {
		return nil, err
	}
	return &OrderListResult{Orders: orders}, nil
}

func (s *appService) GetOrder(ctx context.Context, ref string) (*OrderResult, error) {
	order, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.orderResult(ctx, order)
}

func (s *appService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	order, err := s.orders.CreateOrder(ctx, core.CreateOrderInput{
		Kind:            core.OrderKind(req.Kind),
		CustomerID:      req.CustomerID,
		ContractRef:     req.ContractRef,
		CustomerPO:      req.CustomerPO,
		DiscountPercent: req.DiscountPercent,
		Note:            req.Note,
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order}, nil
}

func (s *appService) UpdateOrder(ctx context.Context, ref string, req UpdateOrderRequest) (*OrderResult, error) {
	order, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	order, err = s.orders.UpdateOrder(ctx, order.ID, core.OrderUpdate{
		CustomerID:  req.CustomerID,
		ContractRef: req.ContractRef,
		CustomerPO:  req.CustomerPO,
		Note:        req.Note,
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order}, nil
}

func (s *appService) SetDiscount(ctx context.Context, ref string, percent decimal.Decimal) (*OrderResult, error) {
	order, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	if order, err = s.orders.SetDiscount(ctx, order.ID, percent); err != nil {
		return nil, err
	}
	return s.refreshOrder(ctx, order.ID)
}

func (s *appService) TransitionOrder(ctx context.Context, ref, action string) (*OrderResult, error) {
	fire, err := s.orderAction(action)
	if err != nil {
		return nil, err
	}
	order, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	order, err = fire(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return s.orderResult(ctx, order)
}

func (s *appService) orderAction(action string) (func(context.Context, int64) (*core.Order, error), error) {
	switch strings.ToLower(action) {
	case core.ActionDraft:
		return s.orders.Draft, nil
	case core.ActionValidate:
		return s.orders.Validate, nil
	case core.ActionReject:
		return s.orders.Reject, nil
	case core.ActionTrash:
		return s.orders.Trash, nil
	case core.ActionProcess:
		return s.orders.Process, nil
	case core.ActionComplete:
		return s.orders.Complete, nil
	default:
		return nil, &core.FieldError{
			Field:   "action",
			Message: fmt.Sprintf("unknown order action %q", action),
			Err:     core.ErrRangeViolation,
		}
	}
}

// ── Lines & fees ─────────────────────────────────────────────────────────────

func (s *appService) AddLine(ctx context.Context, ref string, req AddLineRequest) (*OrderResult, error) {
	order, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	if _, err := s.lines.AddLine(ctx, order.ID, req.ProductID, quantityOrOne(req.Quantity), req.Note); err != nil {
		return nil, err
	}
	return s.refreshOrder(ctx, order.ID)
}

// quantityOrOne defaults an absent quantity to 1. An explicit zero is passed on
// so the line service rejects it.
func quantityOrOne(q *int) int {
	if q == nil {
		return 1
	}
	return *q
}

func (s *appService) UpdateLine(ctx context.Context, lineID int64, req UpdateLineRequest) (*OrderResult, error) {
	line, err := s.lines.UpdateLine(ctx, lineID, core.LineUpdate{
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Note:      req.Note,
	})
	if err != nil {
		return nil, err
	}
	return s.refreshOrder(ctx, line.OrderID)
}

func (s *appService) RemoveLine(ctx context.Context, lineID int64) error {
	return s.lines.RemoveLine(ctx, lineID)
}

func (s *appService) AddFee(ctx context.Context, ref string, req AddFeeRequest) (*OrderResult, error) {
	order, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	if _, err := s.lines.AddFee(ctx, order.ID, req.FeeID, quantityOrOne(req.Quantity), req.Note); err != nil {
		return nil, err
	}
	return s.refreshOrder(ctx, order.ID)
}

func (s *appService) UpdateFee(ctx context.Context, orderFeeID int64, req UpdateFeeRequest) (*OrderResult, error) {
	fee, err := s.lines.UpdateFee(ctx, orderFeeID, core.FeeUpdate{
		FeeID:    req.FeeID,
		Quantity: req.Quantity,
		Note:     req.Note,
	})
	if err != nil {
		return nil, err
	}
	return s.refreshOrder(ctx, fee.OrderID)
}

func (s *appService) RemoveFee(ctx context.Context, orderFeeID int64) error {
	return s.lines.RemoveFee(ctx, orderFeeID)
}

func (s *appService) AddLineParameter(ctx context.Context, lineID, parameterID int64) (*OrderResult, error) {
	if _, err := s.lines.AddLineParameter(ctx, lineID, parameterID); err != nil {
		return nil, err
	}
	line, err := s.lines.GetLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	return s.refreshOrder(ctx, line.OrderID)
}

func (s *appService) RemoveLineParameter(ctx context.Context, lineParameterID int64) error {
	return s.lines.RemoveLineParameter(ctx, lineParameterID)
}

// ── Invoices ─────────────────────────────────────────────────────────────────

func (s *appService) GetInvoice(ctx context.Context, invoiceID int64) (*InvoiceResult, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) GetOrderInvoice(ctx context.Context, ref string) (*InvoiceResult, error) {
	order, err := s.resolveOrder(ctx, ref)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetInvoiceByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv}, nil
}

func (s *appService) ListInvoices(ctx context.Context, filter core.InvoiceFilter) (*InvoiceListResult, error) {
	invoices, err := s.invoices.GetInvoices(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &InvoiceListResult{Invoices: invoices}, nil
}

// ── Cash flows ───────────────────────────────────────────────────────────────

func (s *appService) CreateReceipt(ctx context.Context, req ReceiptRequest) (*CashFlowResult, error) {
	cf, err := s.cashflows.CreateReceipt(ctx, core.ReceiptInput{
		InvoiceID:       req.InvoiceID,
		PartnerID:       req.PartnerID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		Memo:            req.Memo,
	})
	if err != nil {
		return nil, err
	}
	return &CashFlowResult{CashFlow: cf}, nil
}

func (s *appService) CreatePayment(ctx context.Context, req PaymentRequest) (*CashFlowResult, error) {
	cf, err := s.cashflows.CreatePayment(ctx, core.PaymentInput{
		PartnerID:       req.PartnerID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
		Memo:            req.Memo,
	})
	if err != nil {
		return nil, err
	}
	return &CashFlowResult{CashFlow: cf}, nil
}

func (s *appService) UpdateCashFlowAmount(ctx context.Context, cashFlowID int64, amount decimal.Decimal) (*CashFlowResult, error) {
	cf, err := s.cashflows.UpdateAmount(ctx, cashFlowID, amount)
	if err != nil {
		return nil, err
	}
	return &CashFlowResult{CashFlow: cf}, nil
}

func (s *appService) TransitionCashFlow(ctx context.Context, cashFlowID int64, action string) (*CashFlowResult, error) {
	var fire func(context.Context, int64) (*core.CashFlow, error)
	switch strings.ToLower(action) {
	case core.ActionConfirm:
		fire = s.cashflows.Confirm
	case core.ActionReject:
		fire = s.cashflows.Reject
	case core.ActionRefund:
		fire = s.cashflows.Refund
	default:
		return nil, &core.FieldError{
			Field:   "action",
			Message: fmt.Sprintf("unknown cash flow action %q", action),
			Err:     core.ErrRangeViolation,
		}
	}
	cf, err := fire(ctx, cashFlowID)
	if err != nil {
		return nil, err
	}
	return &CashFlowResult{CashFlow: cf}, nil
}

func (s *appService) GetCashFlow(ctx context.Context, cashFlowID int64) (*CashFlowResult, error) {
	cf, err := s.cashflows.GetCashFlow(ctx, cashFlowID)
	if err != nil {
		return nil, err
	}
	return &CashFlowResult{CashFlow: cf}, nil
}

func (s *appService) ListCashFlows(ctx context.Context, filter core.CashFlowFilter) (*CashFlowListResult, error) {
	flows, err := s.cashflows.GetCashFlows(ctx, filter)
	if err != nil {
		return nil, err
	}
	return &CashFlowListResult{CashFlows: flows}, nil
}

func (s *appService) ListPaymentMethods(ctx context.Context) (*PaymentMethodListResult, error) {
	methods, err := s.cashflows.GetPaymentMethods(ctx)
	if err != nil {
		return nil, err
	}
	return &PaymentMethodListResult{PaymentMethods: methods}, nil
}

func (s *appService) CreatePaymentMethod(ctx context.Context, req PaymentMethodRequest) (*core.PaymentMethod, error) {
	return s.cashflows.CreatePaymentMethod(ctx, core.PaymentMethod{
		Name:        req.Name,
		RateMethod:  strings.ToUpper(req.RateMethod),
		TransferFee: req.TransferFee,
		AutoConfirm: req.AutoConfirm,
	})
}

// ── Balance ──────────────────────────────────────────────────────────────────

func (s *appService) GetPartnerBalance(ctx context.Context, partnerID int64) (*BalanceResult, error) {
	balance, err := s.balances.GetBalance(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	mutations, err := s.balances.GetMutations(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	return &BalanceResult{PartnerID: partnerID, Balance: balance, Mutations: mutations}, nil
}

func (s *appService) ReconcileBalance(ctx context.Context, partnerID int64) (*core.ReconcileResult, error) {
	return s.balances.Reconcile(ctx, partnerID)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// resolveOrder looks up an order by numeric ID or order number string.
func (s *appService) resolveOrder(ctx context.Context, ref string) (*core.Order, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.orders.GetOrder(ctx, id)
	}
	return s.orders.GetOrderByNumber(ctx, strings.ToUpper(ref))
}

func (s *appService) refreshOrder(ctx context.Context, orderID int64) (*OrderResult, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.orderResult(ctx, order)
}

// orderResult attaches the order's invoice when one exists.
func (s *appService) orderResult(ctx context.Context, order *core.Order) (*OrderResult, error) {
	res := &OrderResult{Order: order}
	if order.Status == core.OrderDraft && order.ValidatedAt == nil {
		return res, nil
	}
	inv, err := s.invoices.GetInvoiceByOrder(ctx, order.ID)
	switch {
	case err == nil:
		res.Invoice = inv
	case !errors.Is(err, core.ErrNotFound):
		return nil, err
	}
	return res, nil
}
