package core_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labsales/internal/core"
)

func createOrder(t *testing.T, svc *testServices, kind core.OrderKind) *core.Order {
	t.Helper()
	o, err := svc.orders.CreateOrder(context.Background(), core.CreateOrderInput{Kind: kind, CustomerID: customerID})
	require.NoError(t, err)
	return o
}

func countInvoices(t *testing.T, svc *testServices, orderID int64) int {
	t.Helper()
	var n int
	err := svc.pool.QueryRow(context.Background(), "SELECT count(*) FROM invoices WHERE order_id = $1", orderID).Scan(&n)
	require.NoError(t, err)
	return n
}

func TestOrderLifecycle_EndToEnd(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	o := createOrder(t, svc, core.KindCommon)
	assert.Equal(t, core.OrderDraft, o.Status)
	assert.True(t, strings.HasPrefix(o.OrderNumber, "SPJ-"), "order number %s", o.OrderNumber)

	_, err := svc.lines.AddLine(ctx, o.ID, productA, 2, "")
	require.NoError(t, err)
	_, err = svc.lines.AddFee(ctx, o.ID, feeExpress, 1, "")
	require.NoError(t, err)

	o, err = svc.orders.SetDiscount(ctx, o.ID, dec("10"))
	require.NoError(t, err)
	assert.True(t, o.Subtotal.Equal(dec("110")), "subtotal %s", o.Subtotal)
	assert.True(t, o.DiscountAmount.Equal(dec("11")), "discount %s", o.DiscountAmount)
	assert.True(t, o.GrandTotal.Equal(dec("99")), "grand total %s", o.GrandTotal)

	o, err = svc.orders.Validate(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderValid, o.Status)
	require.NotNil(t, o.ValidatedAt)

	inv, err := svc.invoices.GetInvoiceByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(inv.InvoiceNumber, "INV-"))
	assert.Equal(t, core.InvoicePending, inv.Status)
	assert.Equal(t, customerID, inv.PartnerID)
	assert.True(t, inv.GrandTotal.Equal(dec("99")))
	assert.True(t, inv.Receivable.Equal(dec("99")))

	method := methodBank
	rcv, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, PaymentMethodID: &method, Amount: dec("99")})
	require.NoError(t, err)
	assert.Equal(t, core.CashFlowWaiting, rcv.Status)
	assert.True(t, strings.HasPrefix(rcv.Number, "RCV-"))

	rcv, err = svc.cashflows.Confirm(ctx, rcv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CashFlowConfirmed, rcv.Status)
	assert.True(t, rcv.Excess.IsZero())

	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceClosed, inv.Status)
	assert.True(t, inv.Paid.Equal(dec("99")))
	assert.True(t, inv.Receivable.IsZero())
	assert.NotNil(t, inv.ClosedAt)

	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderApproved, o.Status)
	assert.NotNil(t, o.ApprovedAt)

	mutations, err := svc.balances.GetMutations(ctx, customerID)
	require.NoError(t, err)
	assert.Empty(t, mutations, "exact payment must not touch the partner balance")
}

func TestOrderService_CreateOrderGuards(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	_, err := svc.orders.CreateOrder(ctx, core.CreateOrderInput{Kind: "bakery", CustomerID: customerID})
	assert.ErrorIs(t, err, core.ErrRangeViolation)

	_, err = svc.orders.CreateOrder(ctx, core.CreateOrderInput{Kind: core.KindCommon, CustomerID: supplierID})
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)

	_, err = svc.orders.CreateOrder(ctx, core.CreateOrderInput{Kind: core.KindCommon, CustomerID: 999})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.orders.CreateOrder(ctx, core.CreateOrderInput{Kind: core.KindCommon, CustomerID: customerID, DiscountPercent: dec("100.01")})
	assert.ErrorIs(t, err, core.ErrRangeViolation)

	lab, err := svc.orders.CreateOrder(ctx, core.CreateOrderInput{Kind: core.KindLaboratory, CustomerID: customerID})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(lab.OrderNumber, "LAB-"), "order number %s", lab.OrderNumber)

	found, err := svc.orders.GetOrderByNumber(ctx, lab.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, lab.ID, found.ID)

	labOrders, err := svc.orders.GetOrders(ctx, core.OrderFilter{Kind: core.KindLaboratory})
	require.NoError(t, err)
	assert.Len(t, labOrders, 1)
}

func TestOrderService_UpdateOrderCustomerIsImmutable(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindCommon)

	other := otherCustomerID
	_, err := svc.orders.UpdateOrder(ctx, o.ID, core.OrderUpdate{CustomerID: &other})
	var fe *core.FieldError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, "customer_id", fe.Field)
	assert.ErrorIs(t, err, core.ErrImmutableField)

	po := "PO-778"
	updated, err := svc.orders.UpdateOrder(ctx, o.ID, core.OrderUpdate{CustomerPO: &po})
	require.NoError(t, err)
	require.NotNil(t, updated.CustomerPO)
	assert.Equal(t, "PO-778", *updated.CustomerPO)
	assert.Equal(t, customerID, updated.CustomerID)
	assert.Greater(t, updated.Version, o.Version)
}

func TestOrderService_ValidateRequiresItems(t *testing.T) {
	svc := newTestServices(t)
	o := createOrder(t, svc, core.KindCommon)

	_, err := svc.orders.Validate(context.Background(), o.ID)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)

	o, err = svc.orders.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderDraft, o.Status)
	assert.Equal(t, 0, countInvoices(t, svc, o.ID))
}

func TestOrderService_OneInvoicePerOrder(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindCommon)

	_, err := svc.lines.AddLine(ctx, o.ID, productA, 1, "")
	require.NoError(t, err)
	_, err = svc.orders.Validate(ctx, o.ID)
	require.NoError(t, err)

	_, err = svc.orders.Validate(ctx, o.ID)
	var te *core.TransitionError
	require.True(t, errors.As(err, &te), "second validate: got %v", err)
	assert.Equal(t, core.OrderValid, te.From)
	assert.Equal(t, 1, countInvoices(t, svc, o.ID))

	first, err := svc.invoices.GetInvoiceByOrder(ctx, o.ID)
	require.NoError(t, err)

	// Back to draft trashes the unpaid invoice; the next validation revives it.
	o, err = svc.orders.Draft(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderDraft, o.Status)
	trashed, err := svc.invoices.GetInvoice(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceTrash, trashed.Status)

	_, err = svc.lines.AddLine(ctx, o.ID, productWater, 1, "")
	require.NoError(t, err)
	_, err = svc.orders.Validate(ctx, o.ID)
	require.NoError(t, err)

	revived, err := svc.invoices.GetInvoiceByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, revived.ID)
	assert.Equal(t, first.InvoiceNumber, revived.InvoiceNumber)
	assert.Equal(t, core.InvoicePending, revived.Status)
	assert.True(t, revived.GrandTotal.Equal(dec("340")), "grand total %s", revived.GrandTotal)
	assert.True(t, revived.Receivable.Equal(dec("340")))
	assert.Nil(t, revived.TrashedAt)
	assert.Equal(t, 1, countInvoices(t, svc, o.ID))
}

func TestOrderService_ConcurrentValidate(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindCommon)
	_, err := svc.lines.AddLine(ctx, o.ID, productA, 1, "")
	require.NoError(t, err)

	const workers = 5
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.orders.Validate(ctx, o.ID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, core.ErrPreconditionViolation)
	}
	assert.Equal(t, 1, ok, "exactly one validation should win")
	assert.Equal(t, 1, countInvoices(t, svc, o.ID))
}

func TestOrderService_DraftBlockedByPayment(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindCommon)
	_, err := svc.lines.AddLine(ctx, o.ID, productA, 4, "")
	require.NoError(t, err)
	_, err = svc.orders.Validate(ctx, o.ID)
	require.NoError(t, err)
	inv, err := svc.invoices.GetInvoiceByOrder(ctx, o.ID)
	require.NoError(t, err)

	rcv, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("50")})
	require.NoError(t, err)
	_, err = svc.cashflows.Confirm(ctx, rcv.ID)
	require.NoError(t, err)

	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoicePaid, inv.Status)
	assert.True(t, inv.Receivable.Equal(dec("150")))

	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderApproved, o.Status, "first payment approves the order")

	_, err = svc.orders.Draft(ctx, o.ID)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)

	// Trash keeps the paid invoice.
	o, err = svc.orders.Trash(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderTrash, o.Status)
	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoicePaid, inv.Status)
}

func TestOrderService_RejectTrashesUnpaidInvoice(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindCommon)
	_, err := svc.lines.AddLine(ctx, o.ID, productA, 1, "")
	require.NoError(t, err)

	_, err = svc.orders.Reject(ctx, o.ID)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "draft orders cannot be rejected")

	_, err = svc.orders.Validate(ctx, o.ID)
	require.NoError(t, err)
	o, err = svc.orders.Reject(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderRejected, o.Status)
	assert.NotNil(t, o.RejectedAt)

	inv, err := svc.invoices.GetInvoiceByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceTrash, inv.Status)

	_, err = svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("50")})
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "no receipts against a trashed invoice")

	again, err := svc.orders.Reject(ctx, o.ID)
	require.NoError(t, err, "rejecting twice is a no-op")
	assert.Equal(t, o.Version, again.Version)
}

func TestOrderService_FiveStepLifecycle(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindLaboratory)
	_, err := svc.lines.AddLine(ctx, o.ID, productWater, 1, "")
	require.NoError(t, err)
	_, err = svc.orders.Validate(ctx, o.ID)
	require.NoError(t, err)

	_, err = svc.orders.Process(ctx, o.ID)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "cannot process before approval")

	inv, err := svc.invoices.GetInvoiceByOrder(ctx, o.ID)
	require.NoError(t, err)
	_, err = svc.invoices.Pay(ctx, inv.ID, inv.Receivable, dec("0"))
	require.NoError(t, err)

	o, err = svc.orders.Process(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderProcessed, o.Status)
	o, err = svc.orders.Complete(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderComplete, o.Status)
	assert.NotNil(t, o.CompletedAt)

	common := createOrder(t, svc, core.KindCommon)
	_, err = svc.orders.Process(ctx, common.ID)
	var te *core.TransitionError
	assert.True(t, errors.As(err, &te), "three-step orders have no process step, got %v", err)
}

func TestLineService_PriceSnapshot(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindLaboratory)

	line, err := svc.lines.AddLine(ctx, o.ID, productWater, 2, "river sample")
	require.NoError(t, err)
	assert.True(t, line.UnitPrice.Equal(dec("290")), "unit price %s", line.UnitPrice)
	assert.True(t, line.Total.Equal(dec("580")))

	require.NoError(t, svc.catalog.UpdateProductPrice(ctx, productWater, dec("400")))

	qty := 3
	line, err = svc.lines.UpdateLine(ctx, line.ID, core.LineUpdate{Quantity: &qty})
	require.NoError(t, err)
	assert.True(t, line.UnitPrice.Equal(dec("290")), "catalog price changes must not reach existing lines")
	assert.True(t, line.Total.Equal(dec("870")))

	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, o.Subtotal.Equal(dec("870")))
}

func TestLineService_Guards(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindLaboratory)

	for _, qty := range []int{0, 501} {
		_, err := svc.lines.AddLine(ctx, o.ID, productA, qty, "")
		assert.ErrorIs(t, err, core.ErrRangeViolation, "quantity %d", qty)
	}

	line, err := svc.lines.AddLine(ctx, o.ID, productA, 500, "")
	require.NoError(t, err)

	_, err = svc.lines.AddLine(ctx, o.ID, productA, 1, "")
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "duplicate product")

	_, err = svc.lines.AddLine(ctx, o.ID, productCourse, 1, "")
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "laboratory orders veto training products")

	other := productWater
	_, err = svc.lines.UpdateLine(ctx, line.ID, core.LineUpdate{ProductID: &other})
	var fe *core.FieldError
	require.True(t, errors.As(err, &fe), "got %v", err)
	assert.Equal(t, "product", fe.Field)
	assert.ErrorIs(t, err, core.ErrImmutableField)

	otherFee := int64(2)
	fee, err := svc.lines.AddFee(ctx, o.ID, feeExpress, 1, "")
	require.NoError(t, err)
	_, err = svc.lines.UpdateFee(ctx, fee.ID, core.FeeUpdate{FeeID: &otherFee})
	assert.ErrorIs(t, err, core.ErrImmutableField)

	_, err = svc.orders.SetDiscount(ctx, o.ID, dec("101"))
	assert.ErrorIs(t, err, core.ErrRangeViolation)

	_, err = svc.orders.Validate(ctx, o.ID)
	require.NoError(t, err)

	_, err = svc.lines.AddFee(ctx, o.ID, feeExpress, 1, "")
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "validated orders are frozen")
	qty := 2
	_, err = svc.lines.UpdateLine(ctx, line.ID, core.LineUpdate{Quantity: &qty})
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)
	assert.ErrorIs(t, svc.lines.RemoveLine(ctx, line.ID), core.ErrPreconditionViolation)
	_, err = svc.orders.SetDiscount(ctx, o.ID, dec("5"))
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)
}

func TestLineService_RemoveRecomputes(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindCommon)

	line, err := svc.lines.AddLine(ctx, o.ID, productA, 3, "")
	require.NoError(t, err)
	fee, err := svc.lines.AddFee(ctx, o.ID, feeExpress, 2, "")
	require.NoError(t, err)

	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, o.Subtotal.Equal(dec("170")))

	require.NoError(t, svc.lines.RemoveLine(ctx, line.ID))
	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, o.Subtotal.Equal(dec("20")))

	require.NoError(t, svc.lines.RemoveFee(ctx, fee.ID))
	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, o.Subtotal.IsZero())
	assert.True(t, o.GrandTotal.IsZero())
	assert.False(t, o.HasItems())
}

func TestLineService_LineParameters(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindLaboratory)

	line, err := svc.lines.AddLine(ctx, o.ID, productWater, 2, "")
	require.NoError(t, err)

	_, err = svc.lines.AddLineParameter(ctx, line.ID, paramPH)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "pH is already part of the product")

	p, err := svc.lines.AddLineParameter(ctx, line.ID, paramLead)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(dec("40")))

	_, err = svc.lines.AddLineParameter(ctx, line.ID, paramLead)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "duplicate parameter")

	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, o.Lines, 1)
	assert.Len(t, o.Lines[0].Parameters, 1)
	assert.True(t, o.Lines[0].ParametersTotal.Equal(dec("40")))
	assert.True(t, o.Lines[0].Total.Equal(dec("660")), "2 × (290 + 40), got %s", o.Lines[0].Total)
	assert.True(t, o.Subtotal.Equal(dec("660")))

	require.NoError(t, svc.lines.RemoveLineParameter(ctx, p.ID))
	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, o.Lines[0].Total.Equal(dec("580")))
	assert.True(t, o.Subtotal.Equal(dec("580")))
}

func TestLineService_ConcurrentEdits(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	o := createOrder(t, svc, core.KindCommon)

	line, err := svc.lines.AddLine(ctx, o.ID, productA, 1, "")
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	errCh := make(chan error, workers+2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := svc.lines.AddLine(ctx, o.ID, productCourse, 1, ""); err != nil {
			errCh <- fmt.Errorf("add course: %w", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := svc.lines.AddFee(ctx, o.ID, feeExpress, 3, ""); err != nil {
			errCh <- fmt.Errorf("add fee: %w", err)
		}
	}()
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(qty int) {
			defer wg.Done()
			if _, err := svc.lines.UpdateLine(ctx, line.ID, core.LineUpdate{Quantity: &qty}); err != nil {
				errCh <- fmt.Errorf("update quantity %d: %w", qty, err)
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent edit error: %v", err)
	}

	o, err = svc.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, o.Lines, 2)
	require.Len(t, o.Fees, 1)

	sum := o.Fees[0].Total
	for _, l := range o.Lines {
		sum = sum.Add(l.Total)
	}
	assert.True(t, o.Subtotal.Equal(sum), "subtotal %s must equal the sum of children %s", o.Subtotal, sum)
	assert.True(t, o.GrandTotal.Equal(sum))
	assert.Equal(t, 1+1+2+workers, o.Version, "every edit bumps the version once")
}
