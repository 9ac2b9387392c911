package reconcile_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/venue-booking-payments/internal/ledger"
	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, "100")
	f.seed(2, "200")
	f.seed(3, "300")
	abandoned := f.checkout(t, 1, model.ProviderPayme)
	active := f.checkout(t, 2, model.ProviderPayme)
	stale := f.checkout(t, 3, model.ProviderPayme)
	f.open(t, stale.ID, "X3", 30000)

	f.clock.Advance(ledger.DefaultWindow + time.Minute)
	f.open(t, active.ID, "X2", 20000)

	n, err := f.c.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f.assertTriple(t, abandoned.ID, model.PaymentCancelled, model.BookingCancelled, model.SeatAvailable)
	f.assertTriple(t, stale.ID, model.PaymentCancelled, model.BookingCancelled, model.SeatAvailable)
	f.assertTriple(t, active.ID, model.PaymentPending, model.BookingPending, model.SeatReserved)

	v, err := f.c.Inspect(ctx, model.ProviderPayme, "X3")
	require.NoError(t, err)
	assert.Equal(t, reconcile.StateCancelledBeforeConfirm, v.State)

	again, err := f.c.SweepExpired(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestSweepSkipsFreshPayments(t *testing.T) {
	f := newFixture(t)
	f.seed(1, "100")
	p := f.checkout(t, 1, model.ProviderPayme)

	f.clock.Advance(time.Hour)
	n, err := f.c.SweepExpired(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.assertTriple(t, p.ID, model.PaymentPending, model.BookingPending, model.SeatReserved)
}

func TestSweepClosesPaymentsOfSettledBookings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, "100")
	f.seed(2, "200")
	paid := f.checkout(t, 1, model.ProviderPayme)
	orphan := f.checkout(t, 1, model.ProviderClick)
	stale := f.checkout(t, 2, model.ProviderPayme)
	f.open(t, paid.ID, "X1", 10000)
	_, err := f.c.Confirm(ctx, model.ProviderPayme, "X1")
	require.NoError(t, err)

	f.clock.Advance(ledger.DefaultWindow + time.Hour)
	for _, want := range []int{1, 1, 0} {
		n, err := f.c.SweepExpired(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	f.assertTriple(t, paid.ID, model.PaymentCompleted, model.BookingConfirmed, model.SeatOccupied)
	f.assertTriple(t, stale.ID, model.PaymentCancelled, model.BookingCancelled, model.SeatAvailable)
	closed, _ := f.store.Payment(orphan.ID)
	assert.Equal(t, model.PaymentCancelled, closed.Status)
	assert.Equal(t, model.CancelBeforeConfirm, closed.CancelState)

	snap, err := f.c.Snapshot(ctx, orphan.ID)
	require.NoError(t, err)
	require.Len(t, snap.Ledger, 1)
	assert.Equal(t, model.TxnVoid, snap.Ledger[0].Type)
	assert.Equal(t, model.BookingConfirmed, snap.Booking.Status)
}

func TestSweepPagesPastSkippedPayments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(1, "100")
	f.seed(2, "200")
	busy := f.checkout(t, 1, model.ProviderPayme)
	stale := f.checkout(t, 2, model.ProviderPayme)

	f.clock.Advance(ledger.DefaultWindow + time.Minute)
	f.open(t, busy.ID, "X1", 10000)

	n, err := f.c.SweepExpired(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.assertTriple(t, busy.ID, model.PaymentPending, model.BookingPending, model.SeatReserved)
	f.assertTriple(t, stale.ID, model.PaymentCancelled, model.BookingCancelled, model.SeatAvailable)
}
