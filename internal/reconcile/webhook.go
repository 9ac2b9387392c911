package reconcile

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/ledger"
	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/money"
)

// PrepareRequest is the quoting phase of a two-phase webhook provider.
type PrepareRequest struct {
	Provider    model.Provider
	PaymentID   uint64
	ExternalID  string
	AmountMinor int64
}

// PrepareResult carries the merchant preparation id handed back to the
// provider.  It is the id of the PREPARE ledger entry.
type PrepareResult struct {
	PrepareID uint64
	PaymentID uint64
}

// CompleteRequest is the settlement phase of a two-phase webhook
// provider.
type CompleteRequest struct {
	Provider    model.Provider
	PaymentID   uint64
	ExternalID  string
	PrepareID   uint64
	AmountMinor int64
}

// CompleteResult carries the merchant confirmation id, the id of the
// COMPLETE ledger entry.
type CompleteResult struct {
	ConfirmID uint64
	PaymentID uint64
}

// AbortRequest reports that the provider failed the payment between the
// two phases.
type AbortRequest struct {
	Provider   model.Provider
	PaymentID  uint64
	ExternalID string
	PrepareID  uint64
	Reason     int
}

// Prepare validates the order and records a PREPARE entry.  Payment,
// booking and seat are not touched.  A repeated call for the same
// provider transaction returns the original preparation id.
func (c *Coordinator) Prepare(ctx context.Context, req PrepareRequest) (PrepareResult, error) {
	return c.prepare(ctx, req, true)
}

func (c *Coordinator) prepare(ctx context.Context, req PrepareRequest, record bool) (PrepareResult, error) {
	if req.ExternalID == "" {
		return PrepareResult{}, ErrTransactionNotFound
	}
	var res PrepareResult
	var known *model.Payment
	err := c.inTx(ctx, "prepare", func(tx Tx) error {
		known = nil
		p, err := loadPayment(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		entries, err := tx.TransactionsByExternalID(ctx, req.Provider, req.ExternalID)
		if err != nil {
			return err
		}
		if prep := ledger.FindFor(entries, model.TxnPrepare, req.ExternalID); prep != nil {
			res = PrepareResult{PrepareID: prep.ID, PaymentID: prep.PaymentID}
			return nil
		}
		p, err = payable(ctx, tx, req.Provider, req.PaymentID, req.AmountMinor)
		if p != nil {
			cp := *p
			known = &cp
		}
		if err != nil {
			return err
		}
		entry, err := c.append(ctx, tx, ledger.Entry{
			PaymentID:  p.ID,
			Provider:   p.Provider,
			Type:       model.TxnPrepare,
			Amount:     p.Amount,
			Status:     model.TxnSuccess,
			ExternalID: req.ExternalID,
			At:         c.now(),
		})
		if err != nil {
			return err
		}
		res = PrepareResult{PrepareID: entry.ID, PaymentID: p.ID}
		return nil
	})
	if err != nil {
		if record && known != nil {
			c.recordFailure(ctx, known, model.TxnPrepare, req.ExternalID, req.AmountMinor, err)
		}
		return PrepareResult{}, err
	}
	return res, nil
}

// Complete settles a prepared transaction with the same edge as Confirm
// and records a COMPLETE entry.  A repeated call for the same provider
// transaction returns the original confirmation id.  A preparation older
// than the open window is cancelled and ErrTransactionExpired returned.
func (c *Coordinator) Complete(ctx context.Context, req CompleteRequest) (CompleteResult, error) {
	return c.complete(ctx, req, true)
}

func (c *Coordinator) complete(ctx context.Context, req CompleteRequest, record bool) (CompleteResult, error) {
	if req.ExternalID == "" {
		return CompleteResult{}, ErrTransactionNotFound
	}
	var res CompleteResult
	var known *model.Payment
	var payment model.Payment
	var confirmed, expired bool
	err := c.inTx(ctx, "complete", func(tx Tx) error {
		known, confirmed, expired = nil, false, false
		now := c.now()
		p, err := loadPayment(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		entries, err := tx.TransactionsByExternalID(ctx, req.Provider, req.ExternalID)
		if err != nil {
			return err
		}
		if done := ledger.FindFor(entries, model.TxnComplete, req.ExternalID); done != nil {
			res = CompleteResult{ConfirmID: done.ID, PaymentID: done.PaymentID}
			return nil
		}
		if p.Provider == req.Provider {
			cp := *p
			known = &cp
		}
		prep := ledger.FindFor(entries, model.TxnPrepare, req.ExternalID)
		if prep == nil || prep.ID != req.PrepareID || prep.PaymentID != req.PaymentID {
			return ErrTransactionNotFound
		}
		if p, err = payable(ctx, tx, req.Provider, req.PaymentID, req.AmountMinor); err != nil {
			return err
		}
		if err := c.bind(ctx, tx, p, req.ExternalID, now); err != nil {
			return err
		}
		if ledger.Expired(prep.CreatedAt, now, c.window) {
			if err := c.expire(ctx, tx, p, req.ExternalID, now); err != nil {
				return err
			}
			payment, expired = *p, true
			return nil
		}
		p.PaidAt = &now
		if err := transition(ctx, tx, p, EdgeConfirm, now); err != nil {
			return err
		}
		entry, err := c.append(ctx, tx, ledger.Entry{
			PaymentID:  p.ID,
			Provider:   p.Provider,
			Type:       model.TxnComplete,
			Amount:     p.Amount,
			Status:     model.TxnSuccess,
			ExternalID: req.ExternalID,
			At:         now,
		})
		if err != nil {
			return err
		}
		res = CompleteResult{ConfirmID: entry.ID, PaymentID: p.ID}
		payment, confirmed = *p, true
		return nil
	})
	if err == nil && expired {
		err = ErrTransactionExpired
		c.logEdge(EdgeTimeout, &payment, req.ExternalID)
		c.emit(EventPaymentCancelled, &payment, *payment.CancelledAt)
	}
	if err != nil {
		if record && known != nil {
			c.recordFailure(ctx, known, model.TxnComplete, req.ExternalID, req.AmountMinor, err)
		}
		return CompleteResult{}, err
	}
	if confirmed {
		c.logEdge(EdgeConfirm, &payment, req.ExternalID)
		c.emit(EventPaymentCompleted, &payment, *payment.PaidAt)
	}
	return res, nil
}

// Abort cancels a prepared transaction the provider reported as failed.
// When the transaction is the one bound to a pending payment the payment
// is voided before confirmation and its seat released; otherwise only
// the transaction is recorded as voided.  Repeated calls are no-ops.
func (c *Coordinator) Abort(ctx context.Context, req AbortRequest) error {
	var payment model.Payment
	var applied bool
	err := c.inTx(ctx, "abort", func(tx Tx) error {
		applied = false
		now := c.now()
		p, err := loadPayment(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		if p.Provider != req.Provider {
			return ErrPaymentNotFound
		}
		entries, err := tx.TransactionsByExternalID(ctx, req.Provider, req.ExternalID)
		if err != nil {
			return err
		}
		prep := ledger.FindFor(entries, model.TxnPrepare, req.ExternalID)
		if prep == nil || prep.ID != req.PrepareID || prep.PaymentID != p.ID {
			return ErrTransactionNotFound
		}
		if ledger.FindFor(entries, model.TxnVoid, req.ExternalID) != nil {
			return nil
		}
		if ledger.FindFor(entries, model.TxnComplete, req.ExternalID) != nil {
			return ErrAlreadyCompleted
		}
		reason := req.Reason
		entry := ledger.Entry{
			PaymentID:  p.ID,
			Provider:   p.Provider,
			Type:       model.TxnVoid,
			Amount:     p.Amount,
			Status:     model.TxnSuccess,
			ExternalID: req.ExternalID,
			Reason:     &reason,
			Note:       "aborted by provider",
			At:         now,
		}
		bound := p.ExternalID == nil || p.BoundTo(req.ExternalID)
		if p.Status == model.PaymentPending && bound {
			p.ExternalID = &req.ExternalID
			p.CancelState = model.CancelBeforeConfirm
			p.CancelReason = &reason
			p.CancelledAt = &now
			if err := transition(ctx, tx, p, EdgeVoidBeforeConfirm, now); err != nil {
				return err
			}
			payment, applied = *p, true
		}
		_, err = c.append(ctx, tx, entry)
		return err
	})
	if err != nil {
		return err
	}
	if applied {
		c.logEdge(EdgeVoidBeforeConfirm, &payment, req.ExternalID)
		c.emit(EventPaymentCancelled, &payment, *payment.CancelledAt)
	}
	return nil
}

// recordFailure appends a FAILED entry for a rejected webhook call, or an
// ERROR entry when the rejection came from the store.  It runs in its own
// transaction after the failed one rolled back and never affects the
// caller's outcome.
func (c *Coordinator) recordFailure(ctx context.Context, p *model.Payment, typ model.TransactionType, ext string, amountMinor int64, cause error) {
	status := model.TxnFailed
	if !IsDomain(cause) {
		status = model.TxnError
	}
	err := c.store.WithTx(ctx, func(tx Tx) error {
		_, err := c.append(ctx, tx, ledger.Entry{
			PaymentID:  p.ID,
			Provider:   p.Provider,
			Type:       typ,
			Amount:     money.FromMinor(amountMinor),
			Status:     status,
			ExternalID: ext,
			Note:       cause.Error(),
			At:         c.now(),
		})
		return err
	})
	if err != nil {
		c.log.Warn("failure entry not recorded", zap.Uint64("payment_id", p.ID),
			zap.String("type", string(typ)), zap.NamedError("cause", cause), zap.Error(err))
	}
}

// RetryEntry re-attempts the webhook operation of a FAILED or ERROR
// ledger entry with its original input.  Each attempt consumes one of the
// entry's retries, whatever its outcome.
func (c *Coordinator) RetryEntry(ctx context.Context, entryID uint64) (*Snapshot, error) {
	var entry model.Transaction
	err := c.inTx(ctx, "retry entry", func(tx Tx) error {
		t, err := tx.TransactionByID(ctx, entryID)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		if !t.Type.Webhook() || t.ExternalID == nil ||
			(t.Status != model.TxnFailed && t.Status != model.TxnError) {
			return ErrNotRetryable
		}
		if t.RetryCount >= t.MaxRetries {
			return ErrRetryExhausted
		}
		if err := tx.IncrementRetry(ctx, t.ID); err != nil {
			return err
		}
		entry = *t
		entry.RetryCount++
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("retrying ledger entry", zap.Uint64("entry_id", entry.ID), zap.Uint64("payment_id", entry.PaymentID),
		zap.String("type", string(entry.Type)), zap.Int("attempt", entry.RetryCount))
	amount := money.ToMinor(entry.Amount)
	switch entry.Type {
	case model.TxnPrepare:
		_, err = c.prepare(ctx, PrepareRequest{
			Provider:    entry.Provider,
			PaymentID:   entry.PaymentID,
			ExternalID:  *entry.ExternalID,
			AmountMinor: amount,
		}, false)
	case model.TxnComplete:
		var prep *model.Transaction
		err = c.readTx(ctx, "retry entry", func(tx Tx) error {
			entries, err := tx.TransactionsByExternalID(ctx, entry.Provider, *entry.ExternalID)
			if err != nil {
				return err
			}
			if found := ledger.FindFor(entries, model.TxnPrepare, *entry.ExternalID); found != nil {
				cp := *found
				prep = &cp
			}
			return nil
		})
		if err == nil && prep == nil {
			err = ErrTransactionNotFound
		}
		if err == nil {
			_, err = c.complete(ctx, CompleteRequest{
				Provider:    entry.Provider,
				PaymentID:   entry.PaymentID,
				ExternalID:  *entry.ExternalID,
				PrepareID:   prep.ID,
				AmountMinor: amount,
			}, false)
		}
	}
	if err != nil {
		return nil, err
	}
	return c.Snapshot(ctx, entry.PaymentID)
}
