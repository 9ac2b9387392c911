// Package reconcile is the payment reconciliation engine.  The
// Coordinator is the only component that mutates a Payment, its Booking
// and its Seat, and it always does so together with the ledger entry
// describing the step, inside one store transaction.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/ledger"
	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/money"
)

// Options tune a Coordinator.  Zero values select the defaults.
type Options struct {
	Window     time.Duration
	MaxRetries int
	Now        func() time.Time
	Notifier   Notifier
	Logger     *zap.Logger
}

// Coordinator performs atomic Payment × Booking × Seat transitions.
type Coordinator struct {
	store      Store
	window     time.Duration
	maxRetries int
	clock      func() time.Time
	notifier   Notifier
	log        *zap.Logger
}

// New builds a Coordinator on top of store.
func New(store Store, opts Options) *Coordinator {
	if store == nil {
		panic("nil store passed to reconcile.New")
	}
	c := &Coordinator{
		store:      store,
		window:     opts.Window,
		maxRetries: opts.MaxRetries,
		clock:      opts.Now,
		notifier:   opts.Notifier,
		log:        opts.Logger,
	}
	if c.window <= 0 {
		c.window = ledger.DefaultWindow
	}
	if c.maxRetries <= 0 {
		c.maxRetries = ledger.DefaultMaxRetries
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	if c.notifier == nil {
		c.notifier = nopNotifier{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Window returns the open transaction window.
func (c *Coordinator) Window() time.Duration { return c.window }

// now is millisecond precise so replays read back what was written.
func (c *Coordinator) now() time.Time {
	return c.clock().UTC().Truncate(time.Millisecond)
}

// inTx runs fn in a store transaction.  A duplicate idempotency key means
// a concurrent call committed the same step first; fn is run once more so
// it observes that result and short-circuits.
func (c *Coordinator) inTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	err := c.store.WithTx(ctx, fn)
	if errors.Is(err, ErrDuplicateKey) {
		c.log.Info("lost idempotency race, replaying", zap.String("op", op))
		err = c.store.WithTx(ctx, fn)
	}
	if err == nil || IsDomain(err) {
		return err
	}
	c.log.Error("transaction aborted", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Coordinator) readTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	err := c.store.WithReadTx(ctx, fn)
	if err == nil || IsDomain(err) {
		return err
	}
	c.log.Error("read failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (c *Coordinator) append(ctx context.Context, tx Tx, e ledger.Entry) (*model.Transaction, error) {
	t := ledger.New(e, c.maxRetries)
	if err := tx.AppendTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("append %s entry: %w", e.Type, err)
	}
	return t, nil
}

func (c *Coordinator) emit(typ EventType, p *model.Payment, at time.Time) {
	c.notifier.Notify(Event{
		Type:      typ,
		PaymentID: p.ID,
		BookingID: p.BookingID,
		Provider:  p.Provider,
		Amount:    p.Amount,
		At:        at,
	})
}

func (c *Coordinator) logEdge(e Edge, p *model.Payment, ext string) {
	c.log.Info("edge applied",
		zap.String("edge", e.Name),
		zap.Uint64("payment_id", p.ID),
		zap.Uint64("booking_id", p.BookingID),
		zap.String("provider", string(p.Provider)),
		zap.String("external_id", ext),
	)
}

func loadPayment(ctx context.Context, tx Tx, id uint64) (*model.Payment, error) {
	p, err := tx.PaymentByID(ctx, id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

// payable loads payment id and checks it can still be paid for amount
// through provider.  The payment is returned whenever it exists so
// callers can record the rejection against it.
func payable(ctx context.Context, tx Tx, provider model.Provider, id uint64, amountMinor int64) (*model.Payment, error) {
	p, err := loadPayment(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if p.Provider != provider {
		return nil, ErrPaymentNotFound
	}
	if !money.Matches(p.Amount, amountMinor) {
		return p, ErrAmountMismatch
	}
	switch p.Status {
	case model.PaymentCompleted:
		return p, ErrAlreadyCompleted
	case model.PaymentCancelled, model.PaymentFailed:
		return p, ErrAlreadyCancelled
	}
	b, err := tx.BookingByID(ctx, p.BookingID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return p, ErrBookingNotFound
		}
		return p, err
	}
	if b.Status != model.BookingPending {
		return p, ErrBookingState
	}
	return p, nil
}

// expire applies the timeout edge to p, bound to provider transaction
// ext, and records the forced VOID.
func (c *Coordinator) expire(ctx context.Context, tx Tx, p *model.Payment, ext string, now time.Time) error {
	reason := ledger.ReasonTimeout
	p.CancelState = model.CancelBeforeConfirm
	p.CancelReason = &reason
	p.CancelledAt = &now
	if err := transition(ctx, tx, p, EdgeTimeout, now); err != nil {
		return err
	}
	_, err := c.append(ctx, tx, ledger.Entry{
		PaymentID:  p.ID,
		Provider:   p.Provider,
		Type:       model.TxnVoid,
		Amount:     p.Amount,
		Status:     model.TxnSuccess,
		ExternalID: ext,
		Reason:     &reason,
		Note:       "open window elapsed",
		At:         now,
	})
	return err
}

// bind makes ext the provider transaction of p.  A different transaction
// already bound to p blocks the bind while it is inside the open window;
// once it has outlived the window it is recorded as voided and replaced.
func (c *Coordinator) bind(ctx context.Context, tx Tx, p *model.Payment, ext string, now time.Time) error {
	if p.BoundTo(ext) {
		return nil
	}
	if p.ExternalID != nil {
		prior := *p.ExternalID
		priorEntries, err := tx.TransactionsByExternalID(ctx, p.Provider, prior)
		if err != nil {
			return err
		}
		if open := ledger.Opening(priorEntries, prior); open != nil && !ledger.Expired(open.CreatedAt, now, c.window) {
			return ErrConcurrentOpen
		}
		reason := ledger.ReasonTimeout
		if _, err := c.append(ctx, tx, ledger.Entry{
			PaymentID:  p.ID,
			Provider:   p.Provider,
			Type:       model.TxnVoid,
			Amount:     p.Amount,
			Status:     model.TxnSuccess,
			ExternalID: prior,
			Reason:     &reason,
			Note:       "superseded by " + ext,
			At:         now,
		}); err != nil {
			return err
		}
		c.log.Info("stale transaction superseded", zap.Uint64("payment_id", p.ID),
			zap.String("external_id", prior), zap.String("replacement", ext))
	}
	p.ExternalID = &ext
	p.UpdatedAt = now
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return fmt.Errorf("bind external id: %w", err)
	}
	return nil
}

// CheckoutRequest asks for a payment of a booking through a provider.
type CheckoutRequest struct {
	BookingID uint64
	Provider  model.Provider
	OwnerID   *uint64
}

// Checkout creates the PENDING payment for a booking awaiting payment.
// When the booking already has an active payment for the provider that
// payment is returned instead.  A booking held by another user is
// reported as not found.
func (c *Coordinator) Checkout(ctx context.Context, req CheckoutRequest) (*model.Payment, error) {
	if !req.Provider.Valid() {
		return nil, ErrUnknownProvider
	}
	var out *model.Payment
	var created bool
	err := c.inTx(ctx, "checkout", func(tx Tx) error {
		out, created = nil, false
		now := c.now()
		b, err := tx.BookingByID(ctx, req.BookingID)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return ErrBookingNotFound
			}
			return err
		}
		if req.OwnerID != nil && b.UserID != nil && *b.UserID != *req.OwnerID {
			return ErrBookingNotFound
		}
		payments, err := tx.PaymentsByBooking(ctx, b.ID)
		if err != nil {
			return err
		}
		for i := range payments {
			if payments[i].Status == model.PaymentCompleted {
				return ErrAlreadyCompleted
			}
		}
		for i := range payments {
			if payments[i].Status == model.PaymentPending && payments[i].Provider == req.Provider {
				out = &payments[i]
				return nil
			}
		}
		if b.Status != model.BookingPending {
			return ErrBookingState
		}
		if !b.ExpiresAt.IsZero() && now.After(b.ExpiresAt) {
			return fmt.Errorf("%w: booking %d expired at %s", ErrBookingState, b.ID, b.ExpiresAt.Format(time.RFC3339))
		}
		if !b.TotalPrice.IsPositive() {
			return ErrInvalidAmount
		}
		s, err := tx.SeatByID(ctx, b.SeatID)
		if err != nil {
			return err
		}
		if s.Status != model.SeatReserved {
			return fmt.Errorf("%w: seat %d is %s", ErrBookingState, s.ID, s.Status)
		}
		p := &model.Payment{
			BookingID: b.ID,
			OwnerID:   req.OwnerID,
			Amount:    b.TotalPrice,
			Provider:  req.Provider,
			Status:    model.PaymentPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}
		out, created = p, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		c.log.Info("payment created", zap.Uint64("payment_id", out.ID), zap.Uint64("booking_id", out.BookingID),
			zap.String("provider", string(out.Provider)))
		c.emit(EventPaymentCreated, out, out.CreatedAt)
	}
	return out, nil
}

// ValidateRequest asks whether a payment may be paid for the given
// amount.
type ValidateRequest struct {
	Provider    model.Provider
	PaymentID   uint64
	AmountMinor int64
}

// Validate checks that the payment exists, the amount matches, the
// payment is neither completed nor cancelled and the booking still awaits
// payment.  An allowed check is recorded as an INSPECT entry.
func (c *Coordinator) Validate(ctx context.Context, req ValidateRequest) error {
	return c.inTx(ctx, "validate", func(tx Tx) error {
		p, err := payable(ctx, tx, req.Provider, req.PaymentID, req.AmountMinor)
		if err != nil {
			return err
		}
		_, err = c.append(ctx, tx, ledger.Entry{
			PaymentID: p.ID,
			Provider:  p.Provider,
			Type:      model.TxnInspect,
			Amount:    p.Amount,
			Status:    model.TxnSuccess,
			At:        c.now(),
		})
		return err
	})
}

// OpenRequest binds a provider transaction to a payment.
type OpenRequest struct {
	Provider    model.Provider
	PaymentID   uint64
	ExternalID  string
	AmountMinor int64
}

// Open binds provider transaction ExternalID to the payment.  Replaying
// an already opened transaction returns the recorded result without
// writing.  A different transaction still inside its window blocks the
// open; one that outlived the window is cancelled and replaced.
func (c *Coordinator) Open(ctx context.Context, req OpenRequest) (TxnView, error) {
	if req.ExternalID == "" {
		return TxnView{}, ErrTransactionNotFound
	}
	var view TxnView
	var opened bool
	var payment model.Payment
	err := c.inTx(ctx, "open", func(tx Tx) error {
		opened = false
		now := c.now()
		p, err := loadPayment(ctx, tx, req.PaymentID)
		if err != nil {
			return err
		}
		entries, err := tx.TransactionsByExternalID(ctx, req.Provider, req.ExternalID)
		if err != nil {
			return err
		}
		if open := ledger.FindFor(entries, model.TxnOpen, req.ExternalID); open != nil {
			owner := p
			if open.PaymentID != p.ID {
				if owner, err = loadPayment(ctx, tx, open.PaymentID); err != nil {
					return err
				}
			}
			view = viewOf(owner, req.ExternalID, entries)
			return nil
		}

		if p, err = payable(ctx, tx, req.Provider, req.PaymentID, req.AmountMinor); err != nil {
			return err
		}
		ext := req.ExternalID
		if err := c.bind(ctx, tx, p, ext, now); err != nil {
			return err
		}
		entry, err := c.append(ctx, tx, ledger.Entry{
			PaymentID:  p.ID,
			Provider:   p.Provider,
			Type:       model.TxnOpen,
			Amount:     p.Amount,
			Status:     model.TxnSuccess,
			ExternalID: ext,
			At:         now,
		})
		if err != nil {
			return err
		}
		view = viewOf(p, ext, []model.Transaction{*entry})
		payment, opened = *p, true
		return nil
	})
	if err != nil {
		return TxnView{}, err
	}
	if opened {
		c.log.Info("transaction opened", zap.Uint64("payment_id", payment.ID), zap.String("external_id", req.ExternalID))
	}
	return view, nil
}

// locate finds the payment that provider transaction ext belongs to,
// locks it and returns it with the entries carrying ext.
func locate(ctx context.Context, tx Tx, provider model.Provider, ext string) (*model.Payment, []model.Transaction, *model.Transaction, error) {
	entries, err := tx.TransactionsByExternalID(ctx, provider, ext)
	if err != nil {
		return nil, nil, nil, err
	}
	opening := ledger.Opening(entries, ext)
	if opening == nil {
		return nil, nil, nil, ErrTransactionNotFound
	}
	p, err := tx.PaymentByID(ctx, opening.PaymentID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, nil, nil, ErrTransactionNotFound
		}
		return nil, nil, nil, err
	}
	// re-read under the payment lock so a concurrent step is visible
	if entries, err = tx.TransactionsByExternalID(ctx, provider, ext); err != nil {
		return nil, nil, nil, err
	}
	return p, entries, ledger.Opening(entries, ext), nil
}

// Confirm completes the payment bound to provider transaction ext.  A
// completed payment is reported again without writing.  A transaction
// that outlived the open window is cancelled instead and
// ErrTransactionExpired is returned.
func (c *Coordinator) Confirm(ctx context.Context, provider model.Provider, ext string) (TxnView, error) {
	var view TxnView
	var payment model.Payment
	var confirmed, expired bool
	err := c.inTx(ctx, "confirm", func(tx Tx) error {
		confirmed, expired = false, false
		now := c.now()
		p, entries, opening, err := locate(ctx, tx, provider, ext)
		if err != nil {
			return err
		}
		if !p.BoundTo(ext) {
			return ErrAlreadyCancelled
		}
		switch p.Status {
		case model.PaymentCompleted:
			view = viewOf(p, ext, entries)
			return nil
		case model.PaymentCancelled, model.PaymentFailed:
			return ErrAlreadyCancelled
		}
		if ledger.Expired(opening.CreatedAt, now, c.window) {
			if err := c.expire(ctx, tx, p, ext, now); err != nil {
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
			Type:       model.TxnConfirm,
			Amount:     p.Amount,
			Status:     model.TxnSuccess,
			ExternalID: ext,
			At:         now,
		})
		if err != nil {
			return err
		}
		view = viewOf(p, ext, append(entries, *entry))
		payment, confirmed = *p, true
		return nil
	})
	if err != nil {
		return TxnView{}, err
	}
	if expired {
		c.logEdge(EdgeTimeout, &payment, ext)
		c.emit(EventPaymentCancelled, &payment, *payment.CancelledAt)
		return TxnView{}, ErrTransactionExpired
	}
	if confirmed {
		c.logEdge(EdgeConfirm, &payment, ext)
		c.emit(EventPaymentCompleted, &payment, *payment.PaidAt)
	}
	return view, nil
}

// Void cancels the payment bound to provider transaction ext.  Before
// confirmation the seat is released; after confirmation the whole amount
// is refunded as well.  Cancelled transactions are reported again
// without writing.
func (c *Coordinator) Void(ctx context.Context, provider model.Provider, ext string, reason int) (TxnView, error) {
	var view TxnView
	var payment model.Payment
	var applied *Edge
	err := c.inTx(ctx, "void", func(tx Tx) error {
		applied = nil
		now := c.now()
		p, entries, _, err := locate(ctx, tx, provider, ext)
		if err != nil {
			return err
		}
		if !p.BoundTo(ext) || p.Status == model.PaymentCancelled || p.Status == model.PaymentFailed {
			view = viewOf(p, ext, entries)
			return nil
		}
		edge := EdgeVoidBeforeConfirm
		p.CancelState = model.CancelBeforeConfirm
		if p.Status == model.PaymentCompleted {
			edge = EdgeVoidAfterConfirm
			p.CancelState = model.CancelAfterConfirm
			note := fmt.Sprintf("cancel:%d", reason)
			p.RefundedAmount.Decimal, p.RefundedAmount.Valid = p.Amount, true
			p.RefundedAt = &now
			p.RefundReason = &note
		}
		p.CancelReason = &reason
		p.CancelledAt = &now
		if err := transition(ctx, tx, p, edge, now); err != nil {
			return err
		}
		entry, err := c.append(ctx, tx, ledger.Entry{
			PaymentID:  p.ID,
			Provider:   p.Provider,
			Type:       model.TxnVoid,
			Amount:     p.Amount,
			Status:     model.TxnSuccess,
			ExternalID: ext,
			Reason:     &reason,
			At:         now,
		})
		if err != nil {
			return err
		}
		view = viewOf(p, ext, append(entries, *entry))
		payment, applied = *p, &edge
		return nil
	})
	if err != nil {
		return TxnView{}, err
	}
	if applied != nil {
		c.logEdge(*applied, &payment, ext)
		c.emit(EventPaymentCancelled, &payment, *payment.CancelledAt)
		if payment.CancelState == model.CancelAfterConfirm {
			c.emit(EventPaymentRefunded, &payment, *payment.CancelledAt)
		}
	}
	return view, nil
}

// Inspect reports provider transaction ext.  It only writes when the
// transaction is still open past its window, in which case the timeout
// edge is applied first and the cancelled state is reported.
func (c *Coordinator) Inspect(ctx context.Context, provider model.Provider, ext string) (TxnView, error) {
	var view TxnView
	var payment model.Payment
	var expired bool
	err := c.inTx(ctx, "inspect", func(tx Tx) error {
		expired = false
		now := c.now()
		p, entries, opening, err := locate(ctx, tx, provider, ext)
		if err != nil {
			return err
		}
		if p.BoundTo(ext) && p.Status == model.PaymentPending && ledger.Expired(opening.CreatedAt, now, c.window) {
			if err := c.expire(ctx, tx, p, ext, now); err != nil {
				return err
			}
			if entries, err = tx.TransactionsByExternalID(ctx, provider, ext); err != nil {
				return err
			}
			payment, expired = *p, true
		}
		view = viewOf(p, ext, entries)
		return nil
	})
	if err != nil {
		return TxnView{}, err
	}
	if expired {
		c.logEdge(EdgeTimeout, &payment, ext)
		c.emit(EventPaymentCancelled, &payment, *payment.CancelledAt)
	}
	return view, nil
}

// ListRange returns every provider transaction opened in [from, to],
// oldest first.
func (c *Coordinator) ListRange(ctx context.Context, provider model.Provider, from, to time.Time) ([]TxnView, error) {
	var views []TxnView
	err := c.readTx(ctx, "list range", func(tx Tx) error {
		views = views[:0]
		opens, err := tx.OpenedBetween(ctx, provider, from.UTC(), to.UTC())
		if err != nil {
			return err
		}
		for _, open := range opens {
			if open.ExternalID == nil {
				continue
			}
			p, err := tx.PaymentByID(ctx, open.PaymentID)
			if err != nil {
				return fmt.Errorf("load payment %d: %w", open.PaymentID, err)
			}
			entries, err := tx.TransactionsByExternalID(ctx, provider, *open.ExternalID)
			if err != nil {
				return err
			}
			views = append(views, viewOf(p, *open.ExternalID, entries))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// Snapshot returns the payment with its booking, seat and full ledger.
func (c *Coordinator) Snapshot(ctx context.Context, paymentID uint64) (*Snapshot, error) {
	var snap Snapshot
	err := c.readTx(ctx, "snapshot", func(tx Tx) error {
		p, err := loadPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		b, err := tx.BookingByID(ctx, p.BookingID)
		if err != nil {
			return fmt.Errorf("load booking %d: %w", p.BookingID, err)
		}
		s, err := tx.SeatByID(ctx, b.SeatID)
		if err != nil {
			return fmt.Errorf("load seat %d: %w", b.SeatID, err)
		}
		entries, err := tx.TransactionsByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		snap = Snapshot{Payment: *p, Booking: *b, Seat: *s, Ledger: entries}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
