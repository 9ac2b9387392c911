package reconcile_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/venue-booking-payments/internal/ledger"
	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

// paid returns a fixture holding a COMPLETED payment of 100.00.
func paid(t *testing.T) (*fixture, *model.Payment) {
	t.Helper()
	f := newFixture(t)
	f.seed(1, "100.00")
	p := f.checkout(t, 1, model.ProviderPayme)
	f.open(t, p.ID, "X1", 10000)
	_, err := f.c.Confirm(context.Background(), model.ProviderPayme, "X1")
	require.NoError(t, err)
	return f, p
}

func amount(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestRefundDefaultsToRemainingBalance(t *testing.T) {
	f, p := paid(t)

	out, err := f.c.Refund(context.Background(), reconcile.RefundRequest{PaymentID: p.ID, Reason: "show cancelled"})
	require.NoError(t, err)
	assert.True(t, out.Refunded().Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, model.CancelAfterConfirm, out.CancelState)
	require.NotNil(t, out.CancelReason)
	assert.Equal(t, ledger.ReasonRefund, *out.CancelReason)
	f.assertTriple(t, p.ID, model.PaymentCancelled, model.BookingCancelled, model.SeatAvailable)

	v, err := f.c.Inspect(context.Background(), model.ProviderPayme, "X1")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateCancelledAfterConfirm, v.State)
}

func TestPartialRefundsAddUp(t *testing.T) {
	ctx := context.Background()
	split, p1 := paid(t)
	whole, p2 := paid(t)

	partial, err := split.c.Refund(ctx, reconcile.RefundRequest{PaymentID: p1.ID, Amount: amount("30.00")})
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, partial.Status)
	split.assertTriple(t, p1.ID, model.PaymentCompleted, model.BookingConfirmed, model.SeatOccupied)

	_, err = split.c.Refund(ctx, reconcile.RefundRequest{PaymentID: p1.ID, Amount: amount("70.00")})
	require.NoError(t, err)
	_, err = whole.c.Refund(ctx, reconcile.RefundRequest{PaymentID: p2.ID, Amount: amount("100.00")})
	require.NoError(t, err)

	a, _ := split.store.Payment(p1.ID)
	b, _ := whole.store.Payment(p2.ID)
	assert.Equal(t, b.Status, a.Status)
	assert.Equal(t, b.CancelState, a.CancelState)
	assert.True(t, a.Refunded().Equal(b.Refunded()))
	split.assertTriple(t, p1.ID, model.PaymentCancelled, model.BookingCancelled, model.SeatAvailable)
	assert.Equal(t, 2, split.count(model.TxnRefund, model.TxnSuccess))
}

func TestRefundRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("exceeds remaining balance", func(t *testing.T) {
		f, p := paid(t)
		_, err := f.c.Refund(ctx, reconcile.RefundRequest{PaymentID: p.ID, Amount: amount("30.00")})
		require.NoError(t, err)
		_, err = f.c.Refund(ctx, reconcile.RefundRequest{PaymentID: p.ID, Amount: amount("70.01")})
		assert.ErrorIs(t, err, reconcile.ErrRefundExceedsBalance)

		stored, _ := f.store.Payment(p.ID)
		assert.True(t, stored.Refunded().Equal(decimal.RequireFromString("30")))
	})

	t.Run("invalid amounts", func(t *testing.T) {
		f, p := paid(t)
		for _, raw := range []string{"0", "-5", "10.005"} {
			_, err := f.c.Refund(ctx, reconcile.RefundRequest{PaymentID: p.ID, Amount: amount(raw)})
			assert.ErrorIs(t, err, reconcile.ErrInvalidAmount, raw)
		}
	})

	t.Run("payment not completed", func(t *testing.T) {
		f := newFixture(t)
		f.seed(1, "100.00")
		p := f.checkout(t, 1, model.ProviderPayme)
		_, err := f.c.Refund(ctx, reconcile.RefundRequest{PaymentID: p.ID})
		assert.ErrorIs(t, err, reconcile.ErrNotRefundable)
		_, err = f.c.Refund(ctx, reconcile.RefundRequest{PaymentID: 77})
		assert.ErrorIs(t, err, reconcile.ErrPaymentNotFound)
	})
}

func TestRefundIdempotencyKey(t *testing.T) {
	f, p := paid(t)
	ctx := context.Background()
	req := reconcile.RefundRequest{PaymentID: p.ID, Amount: amount("30.00"), IdempotencyKey: "r-1"}

	first, err := f.c.Refund(ctx, req)
	require.NoError(t, err)
	second, err := f.c.Refund(ctx, req)
	require.NoError(t, err)

	assert.True(t, first.Refunded().Equal(second.Refunded()))
	assert.Equal(t, 1, f.count(model.TxnRefund, model.TxnSuccess))
	refund := f.entry(model.TxnRefund, model.TxnSuccess)
	require.NotNil(t, refund.IdempotencyKey)
	assert.Equal(t, "payme:REFUND:r-1", *refund.IdempotencyKey)
	assert.Equal(t, []reconcile.EventType{
		reconcile.EventPaymentCreated,
		reconcile.EventPaymentCompleted,
		reconcile.EventPaymentRefunded,
	}, f.events.types())
}
