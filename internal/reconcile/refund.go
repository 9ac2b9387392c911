package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/ledger"
	"github.com/iliyamo/venue-booking-payments/internal/model"
)

// RefundRequest returns money of a completed payment.  A null Amount
// refunds the remaining balance.  IdempotencyKey, when set, makes
// repeated requests return the first outcome.
type RefundRequest struct {
	PaymentID      uint64
	Amount         decimal.NullDecimal
	Reason         string
	IdempotencyKey string
}

// Refund reverses part or all of a completed payment.  A refund that
// brings the refunded total to the full amount cancels the payment and
// releases the seat; a partial refund leaves booking and seat untouched.
func (c *Coordinator) Refund(ctx context.Context, req RefundRequest) (*model.Payment, error) {
	var out model.Payment
	var full, applied bool
	var refunded decimal.Decimal
	err := c.inTx(ctx, "refund", func(tx Tx) error {
		full, applied = false, false
		now := c.now()
		p, err := loadPayment(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			prior, err := tx.TransactionByKey(ctx, *ledger.Key(p.Provider, model.TxnRefund, req.IdempotencyKey))
			switch {
			case err == nil:
				if prior.PaymentID != p.ID {
					return fmt.Errorf("%w: idempotency key belongs to payment %d", ErrInvalidState, prior.PaymentID)
				}
				out = *p
				return nil
			case !errors.Is(err, ErrRecordNotFound):
				return err
			}
		}
		if p.Status != model.PaymentCompleted {
			return ErrNotRefundable
		}

		remaining := p.Amount.Sub(p.Refunded())
		amount := remaining
		if req.Amount.Valid {
			amount = req.Amount.Decimal
		}
		if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
			return ErrInvalidAmount
		}
		if amount.GreaterThan(remaining) {
			return ErrRefundExceedsBalance
		}

		total := p.Refunded().Add(amount)
		p.RefundedAmount = decimal.NewNullDecimal(total)
		p.RefundedAt = &now
		if req.Reason != "" {
			reason := req.Reason
			p.RefundReason = &reason
		}
		if total.Equal(p.Amount) {
			code := ledger.ReasonRefund
			p.CancelState = model.CancelAfterConfirm
			p.CancelReason = &code
			p.CancelledAt = &now
			if err := transition(ctx, tx, p, EdgeVoidAfterConfirm, now); err != nil {
				return err
			}
			full = true
		} else {
			p.UpdatedAt = now
			if err := tx.UpdatePayment(ctx, p); err != nil {
				return fmt.Errorf("update payment %d: %w", p.ID, err)
			}
		}

		ext := ""
		if p.ExternalID != nil {
			ext = *p.ExternalID
		}
		if _, err := c.append(ctx, tx, ledger.Entry{
			PaymentID:  p.ID,
			Provider:   p.Provider,
			Type:       model.TxnRefund,
			Amount:     amount,
			Status:     model.TxnSuccess,
			ExternalID: ext,
			Key:        req.IdempotencyKey,
			Note:       req.Reason,
			At:         now,
		}); err != nil {
			return err
		}
		out, applied, refunded = *p, true, amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	if applied {
		c.log.Info("payment refunded", zap.Uint64("payment_id", out.ID), zap.String("amount", refunded.StringFixed(2)),
			zap.Bool("full", full))
		if full {
			c.logEdge(EdgeVoidAfterConfirm, &out, "")
			c.emit(EventPaymentCancelled, &out, *out.RefundedAt)
		}
		c.emit(EventPaymentRefunded, &out, *out.RefundedAt)
	}
	return &out, nil
}
