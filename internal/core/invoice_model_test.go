package core

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingInvoice(grandTotal string) *Invoice {
	inv := &Invoice{Status: InvoicePending, GrandTotal: dec(grandTotal), Paid: dec("0"), Refund: dec("0")}
	inv.recomputeReceivable()
	return inv
}

func TestInvoice_PayPartialThenFull(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inv := newPendingInvoice("1000")

	changed, err := inv.Pay(dec("400"), dec("0"), now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, InvoicePaid, inv.Status)
	assert.True(t, inv.Receivable.Equal(dec("600")), "receivable %s", inv.Receivable)
	assert.Nil(t, inv.ClosedAt)
	require.NotNil(t, inv.PaidAt)

	changed, err = inv.Pay(dec("600"), dec("0"), now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, InvoiceClosed, inv.Status)
	assert.True(t, inv.Paid.Equal(dec("1000")))
	assert.True(t, inv.Receivable.IsZero())
	require.NotNil(t, inv.ClosedAt)
	assert.Equal(t, now.Add(time.Hour), *inv.ClosedAt)
	assert.Equal(t, now, *inv.PaidAt, "paid_at keeps the first payment time")
}

func TestInvoice_PayClosedIsNoop(t *testing.T) {
	inv := newPendingInvoice("99")
	_, err := inv.Pay(dec("99"), dec("0"), time.Now())
	require.NoError(t, err)

	changed, err := inv.Pay(dec("10"), dec("0"), time.Now())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.True(t, inv.Paid.Equal(dec("99")))
}

func TestInvoice_PayTrashed(t *testing.T) {
	inv := newPendingInvoice("50")
	inv.Status = InvoiceTrash

	_, err := inv.Pay(dec("10"), dec("0"), time.Now())
	assert.True(t, errors.Is(err, ErrPreconditionViolation), "got %v", err)
	assert.True(t, inv.Paid.IsZero())
}

func TestInvoice_PayRejectsInvalidAmounts(t *testing.T) {
	inv := newPendingInvoice("50")

	_, err := inv.Pay(dec("-1"), dec("0"), time.Now())
	assert.ErrorIs(t, err, ErrRangeViolation)

	_, err = inv.Pay(dec("50.01"), dec("0"), time.Now())
	assert.ErrorIs(t, err, ErrRangeViolation)
	assert.Equal(t, InvoicePending, inv.Status)
}

func TestInvoice_OverpaymentApportionment(t *testing.T) {
	inv := newPendingInvoice("1000")

	applied, excess := Apportion(dec("1200"), inv.Receivable)
	assert.True(t, applied.Equal(dec("1000")))
	assert.True(t, excess.Equal(dec("200")))

	changed, err := inv.Pay(applied, excess, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, InvoiceClosed, inv.Status)
	assert.True(t, inv.Paid.Equal(dec("1000")))
	assert.True(t, inv.Receivable.IsZero())
	assert.True(t, inv.Refund.Equal(dec("200")))
}

func TestApportion(t *testing.T) {
	tests := []struct {
		amount, receivable, wantApplied, wantExcess string
	}{
		{"100", "250", "100", "0"},
		{"250", "250", "250", "0"},
		{"300", "250", "250", "50"},
		{"75", "0", "0", "75"},
		{"75", "-5", "0", "75"},
	}
	for _, tt := range tests {
		applied, excess := Apportion(dec(tt.amount), dec(tt.receivable))
		if !applied.Equal(dec(tt.wantApplied)) || !excess.Equal(dec(tt.wantExcess)) {
			t.Errorf("Apportion(%s, %s) = (%s, %s), want (%s, %s)",
				tt.amount, tt.receivable, applied, excess, tt.wantApplied, tt.wantExcess)
		}
	}
}

func TestInvoice_Snapshot(t *testing.T) {
	o := &Order{ID: 7, CustomerID: 3, Subtotal: dec("110"), DiscountPercent: dec("10"), DiscountAmount: dec("11"), GrandTotal: dec("99")}
	var inv Invoice
	inv.snapshot(o)

	assert.Equal(t, int64(7), inv.OrderID)
	assert.Equal(t, int64(3), inv.PartnerID)
	assert.True(t, inv.GrandTotal.Equal(dec("99")))
	assert.True(t, inv.Receivable.Equal(dec("99")))
}
