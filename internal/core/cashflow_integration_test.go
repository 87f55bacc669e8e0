package core_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labsales/internal/core"
)

// validatedInvoice creates a common order worth quantity × 50.00 and validates it.
func validatedInvoice(t *testing.T, svc *testServices, quantity int) *core.Invoice {
	t.Helper()
	ctx := context.Background()
	o := createOrder(t, svc, core.KindCommon)
	_, err := svc.lines.AddLine(ctx, o.ID, productA, quantity, "")
	require.NoError(t, err)
	_, err = svc.orders.Validate(ctx, o.ID)
	require.NoError(t, err)
	inv, err := svc.invoices.GetInvoiceByOrder(ctx, o.ID)
	require.NoError(t, err)
	return inv
}

func TestCashFlow_OverpaymentGoesToBalance(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	inv := validatedInvoice(t, svc, 20)
	require.True(t, inv.GrandTotal.Equal(dec("1000")))
	receivable, err := svc.invoices.GetReceivable(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, receivable.Equal(dec("1000")))

	rcv, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("1200")})
	require.NoError(t, err)
	rcv, err = svc.cashflows.Confirm(ctx, rcv.ID)
	require.NoError(t, err)
	assert.True(t, rcv.Excess.Equal(dec("200")), "excess %s", rcv.Excess)

	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceClosed, inv.Status)
	assert.True(t, inv.Paid.Equal(dec("1000")))
	assert.True(t, inv.Receivable.IsZero())
	assert.True(t, inv.Refund.Equal(dec("200")))

	mutations, err := svc.balances.GetMutations(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, mutations, 1)
	assert.Equal(t, core.FlowIn, mutations[0].Flow)
	assert.True(t, mutations[0].Amount.Equal(dec("200")))
	assert.Equal(t, rcv.Number, mutations[0].Reference)

	balance, err := svc.balances.GetBalance(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("200")))

	// A later receipt on the closed invoice is credited in full.
	late, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("30")})
	require.NoError(t, err)
	late, err = svc.cashflows.Confirm(ctx, late.ID)
	require.NoError(t, err)
	assert.True(t, late.Excess.Equal(dec("30")))

	balance, err = svc.balances.GetBalance(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("230")))
	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, inv.Paid.Equal(dec("1000")), "a closed invoice takes no further payment")
}

func TestCashFlow_TrashedOrderAfterPartialPayment(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	inv := validatedInvoice(t, svc, 4)

	first, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("50")})
	require.NoError(t, err)
	_, err = svc.cashflows.Confirm(ctx, first.ID)
	require.NoError(t, err)
	pending, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("30")})
	require.NoError(t, err)

	o, err := svc.orders.Trash(ctx, inv.OrderID)
	require.NoError(t, err)
	require.Equal(t, core.OrderTrash, o.Status)

	_, err = svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("20")})
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)

	// A receipt created before the trash still settles; the order stays trashed.
	pending, err = svc.cashflows.Confirm(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CashFlowConfirmed, pending.Status)

	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, inv.Paid.Equal(dec("80")), "paid %s", inv.Paid)
	o, err = svc.orders.GetOrder(ctx, inv.OrderID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderTrash, o.Status)
}

func TestCashFlow_ConcurrentConfirmAppliesOnce(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	inv := validatedInvoice(t, svc, 2)

	rcv, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("150")})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.cashflows.Confirm(ctx, rcv.ID); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent confirm error: %v", err)
	}

	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, inv.Paid.Equal(dec("100")), "paid %s", inv.Paid)
	assert.True(t, inv.Refund.Equal(dec("50")))

	mutations, err := svc.balances.GetMutations(ctx, customerID)
	require.NoError(t, err)
	assert.Len(t, mutations, 1, "the overpayment is credited exactly once")
}

func TestCashFlow_StatusGuards(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	inv := validatedInvoice(t, svc, 4)

	rcv, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("80")})
	require.NoError(t, err)

	_, err = svc.cashflows.Refund(ctx, rcv.ID)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "cannot refund a waiting receipt")

	updated, err := svc.cashflows.UpdateAmount(ctx, rcv.ID, dec("60"))
	require.NoError(t, err)
	assert.True(t, updated.Amount.Equal(dec("60")))

	_, err = svc.cashflows.Confirm(ctx, rcv.ID)
	require.NoError(t, err)

	_, err = svc.cashflows.Reject(ctx, rcv.ID)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "cannot reject a confirmed receipt")

	_, err = svc.cashflows.UpdateAmount(ctx, rcv.ID, dec("70"))
	assert.ErrorIs(t, err, core.ErrImmutableField)

	again, err := svc.cashflows.Confirm(ctx, rcv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CashFlowConfirmed, again.Status)
	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.True(t, inv.Paid.Equal(dec("60")), "confirming twice must not pay twice")

	other, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("10")})
	require.NoError(t, err)
	other, err = svc.cashflows.Reject(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CashFlowRejected, other.Status)
	assert.NotNil(t, other.DateRejected)

	_, err = svc.cashflows.Reject(ctx, other.ID)
	assert.NoError(t, err, "rejecting twice is a no-op")
	_, err = svc.cashflows.Confirm(ctx, other.ID)
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)
	_, err = svc.cashflows.UpdateAmount(ctx, other.ID, dec("5"))
	assert.ErrorIs(t, err, core.ErrPreconditionViolation)
}

func TestCashFlow_ReceiptGuards(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	inv := validatedInvoice(t, svc, 1)

	_, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("0")})
	assert.ErrorIs(t, err, core.ErrRangeViolation)

	_, err = svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, PartnerID: otherCustomerID, Amount: dec("10")})
	assert.ErrorIs(t, err, core.ErrPreconditionViolation, "partner must match the invoice")

	_, err = svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: 999, Amount: dec("10")})
	assert.ErrorIs(t, err, core.ErrNotFound)

	missing := int64(999)
	_, err = svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, PaymentMethodID: &missing, Amount: dec("10")})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCashFlow_AutoConfirmMethod(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	inv := validatedInvoice(t, svc, 1)

	method := methodCash
	rcv, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, PaymentMethodID: &method, Amount: dec("50")})
	require.NoError(t, err)
	assert.Equal(t, core.CashFlowConfirmed, rcv.Status)
	assert.NotNil(t, rcv.DateConfirmed)

	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceClosed, inv.Status)
	o, err := svc.orders.GetOrder(ctx, inv.OrderID)
	require.NoError(t, err)
	assert.Equal(t, core.OrderApproved, o.Status)
}

func TestCashFlow_TransferFee(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	inv := validatedInvoice(t, svc, 10)

	card, err := svc.cashflows.CreatePaymentMethod(ctx, core.PaymentMethod{Name: "Card", RateMethod: core.RatePercent, TransferFee: dec("2.5")})
	require.NoError(t, err)

	rcv, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, PaymentMethodID: &card.ID, Amount: dec("99")})
	require.NoError(t, err)
	assert.True(t, rcv.TransferFee.Equal(dec("2.48")), "fee %s", rcv.TransferFee)

	rcv, err = svc.cashflows.UpdateAmount(ctx, rcv.ID, dec("200"))
	require.NoError(t, err)
	assert.True(t, rcv.TransferFee.Equal(dec("5")))

	_, err = svc.cashflows.CreatePaymentMethod(ctx, core.PaymentMethod{Name: "Broken", RateMethod: core.RatePercent, TransferFee: dec("150")})
	assert.ErrorIs(t, err, core.ErrRangeViolation)

	methods, err := svc.cashflows.GetPaymentMethods(ctx)
	require.NoError(t, err)
	assert.Len(t, methods, 3)
}

func TestCashFlow_RefundReceipt(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()
	inv := validatedInvoice(t, svc, 2)

	rcv, err := svc.cashflows.CreateReceipt(ctx, core.ReceiptInput{InvoiceID: inv.ID, Amount: dec("100")})
	require.NoError(t, err)
	_, err = svc.cashflows.Confirm(ctx, rcv.ID)
	require.NoError(t, err)

	rcv, err = svc.cashflows.Refund(ctx, rcv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CashFlowRefunded, rcv.Status)
	assert.NotNil(t, rcv.DateRefunded)

	mutations, err := svc.balances.GetMutations(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, mutations, 1)
	assert.Equal(t, core.FlowOut, mutations[0].Flow)
	assert.True(t, mutations[0].Amount.Equal(dec("100")))

	_, err = svc.cashflows.Refund(ctx, rcv.ID)
	require.NoError(t, err, "refunding twice is a no-op")
	mutations, err = svc.balances.GetMutations(ctx, customerID)
	require.NoError(t, err)
	assert.Len(t, mutations, 1)

	inv, err = svc.invoices.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, core.InvoiceClosed, inv.Status, "refunds do not reopen the invoice")
}

func TestCashFlow_Payment(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	pay, err := svc.cashflows.CreatePayment(ctx, core.PaymentInput{PartnerID: supplierID, Amount: dec("750"), Memo: "reagents"})
	require.NoError(t, err)
	assert.Equal(t, core.FlowPayment, pay.FlowType)
	assert.Nil(t, pay.InvoiceID)

	pay, err = svc.cashflows.Confirm(ctx, pay.ID)
	require.NoError(t, err)
	assert.Equal(t, core.CashFlowConfirmed, pay.Status)

	_, err = svc.cashflows.Refund(ctx, pay.ID)
	require.NoError(t, err)

	mutations, err := svc.balances.GetMutations(ctx, supplierID)
	require.NoError(t, err)
	assert.Empty(t, mutations, "payments do not move the partner balance")

	_, err = svc.cashflows.CreatePayment(ctx, core.PaymentInput{PartnerID: 999, Amount: dec("1")})
	assert.ErrorIs(t, err, core.ErrNotFound)

	flows, err := svc.cashflows.GetCashFlows(ctx, core.CashFlowFilter{FlowType: core.FlowPayment})
	require.NoError(t, err)
	assert.Len(t, flows, 1)
}
