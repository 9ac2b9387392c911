package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/ledger"
	"github.com/iliyamo/venue-booking-payments/internal/model"
)

// SweepExpired cancels up to limit PENDING payments that saw no OPEN or
// PREPARE activity inside the open window, one transaction per payment.
// A stale payment whose booking no longer awaits payment is closed
// without touching the booking or seat.  Candidates are paged by id so
// rows that are skipped or fail never hide the ones behind them.  It
// returns the number of payments cancelled.
func (c *Coordinator) SweepExpired(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := c.now().Add(-c.window)
	swept := 0
	var cursor uint64
	for swept < limit {
		var page []model.Payment
		err := c.readTx(ctx, "sweep", func(tx Tx) error {
			var err error
			page, err = tx.PendingPaymentsBefore(ctx, cutoff, cursor, limit)
			return err
		})
		if err != nil {
			return swept, err
		}
		for _, candidate := range page {
			if err := ctx.Err(); err != nil {
				return swept, err
			}
			cursor = candidate.ID
			if c.sweepOne(ctx, candidate.ID) {
				swept++
				if swept == limit {
					break
				}
			}
		}
		if len(page) < limit {
			break
		}
	}
	return swept, nil
}

// sweepOne cancels payment id when it is stale and reports whether it
// did.
func (c *Coordinator) sweepOne(ctx context.Context, id uint64) bool {
	var payment model.Payment
	var ext string
	var edge *Edge
	err := c.inTx(ctx, "sweep", func(tx Tx) error {
		edge = nil
		now := c.now()
		p, err := loadPayment(ctx, tx, id)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentPending || !ledger.Expired(p.CreatedAt, now, c.window) {
			return nil
		}
		ext = ""
		if p.ExternalID != nil {
			ext = *p.ExternalID
		}
		b, err := tx.BookingByID(ctx, p.BookingID)
		if err != nil {
			return fmt.Errorf("load booking %d: %w", p.BookingID, err)
		}
		if b.Status != model.BookingPending {
			if err := c.closeOrphan(ctx, tx, p, b.Status, ext, now); err != nil {
				return err
			}
			payment, edge = *p, &EdgeOrphaned
			return nil
		}
		entries, err := tx.TransactionsByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		if last, ok := ledger.LatestActivity(entries); ok && !ledger.Expired(last, now, c.window) {
			return nil
		}
		if err := c.expire(ctx, tx, p, ext, now); err != nil {
			return err
		}
		payment, edge = *p, &EdgeTimeout
		return nil
	})
	if err != nil {
		c.log.Warn("sweep skipped payment", zap.Uint64("payment_id", id), zap.Error(err))
		return false
	}
	if edge == nil {
		return false
	}
	c.logEdge(*edge, &payment, ext)
	c.emit(EventPaymentCancelled, &payment, *payment.CancelledAt)
	return true
}

// closeOrphan cancels p after its booking was settled by another
// payment.  Only the payment row and its VOID entry are written.
func (c *Coordinator) closeOrphan(ctx context.Context, tx Tx, p *model.Payment, booking model.BookingStatus, ext string, now time.Time) error {
	reason := ledger.ReasonTimeout
	p.Status = model.PaymentCancelled
	p.CancelState = model.CancelBeforeConfirm
	p.CancelReason = &reason
	p.CancelledAt = &now
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return fmt.Errorf("update payment %d: %w", p.ID, err)
	}
	_, err := c.append(ctx, tx, ledger.Entry{
		PaymentID:  p.ID,
		Provider:   p.Provider,
		Type:       model.TxnVoid,
		Amount:     p.Amount,
		Status:     model.TxnSuccess,
		ExternalID: ext,
		Reason:     &reason,
		Note:       "booking " + string(booking),
		At:         now,
	})
	return err
}
