package reconcile

import (
	"time"

	"github.com/iliyamo/venue-booking-payments/internal/ledger"
	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/money"
)

// State is the lifecycle code reported to providers for one provider
// transaction.  The integer values are the ones the RPC protocol uses.
type State int

const (
	StateCreated                State = 1
	StateCompleted              State = 2
	StateCancelledBeforeConfirm State = -1
	StateCancelledAfterConfirm  State = -2
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateCompleted:
		return "completed"
	case StateCancelledBeforeConfirm:
		return "cancelled-before-confirm"
	case StateCancelledAfterConfirm:
		return "cancelled-after-confirm"
	}
	return "unknown"
}

// StateOf maps a payment's status to its state code.  Cancelled payments
// use the explicit cancel state recorded at the cancel edge.
func StateOf(p *model.Payment) State {
	switch p.Status {
	case model.PaymentPending:
		return StateCreated
	case model.PaymentCompleted:
		return StateCompleted
	}
	if p.CancelState == model.CancelAfterConfirm {
		return StateCancelledAfterConfirm
	}
	return StateCancelledBeforeConfirm
}

// TxnView projects one provider transaction of a payment.
type TxnView struct {
	PaymentID   uint64
	BookingID   uint64
	OwnerID     *uint64
	ExternalID  string
	AmountMinor int64
	OpenedAt    time.Time
	ConfirmedAt *time.Time
	CancelledAt *time.Time
	State       State
	Reason      *int
}

// viewOf builds the projection of provider transaction ext of p.  entries
// are the ledger entries carrying ext.  A transaction that is no longer
// bound to the payment was superseded and is reported as cancelled.
func viewOf(p *model.Payment, ext string, entries []model.Transaction) TxnView {
	v := TxnView{
		PaymentID:   p.ID,
		BookingID:   p.BookingID,
		OwnerID:     p.OwnerID,
		ExternalID:  ext,
		AmountMinor: money.ToMinor(p.Amount),
	}
	if open := ledger.Opening(entries, ext); open != nil {
		v.OpenedAt = open.CreatedAt
	}
	if p.BoundTo(ext) {
		v.State = StateOf(p)
		v.ConfirmedAt = p.PaidAt
		v.CancelledAt = p.CancelledAt
		v.Reason = p.CancelReason
		return v
	}
	v.State = StateCancelledBeforeConfirm
	if void := ledger.FindFor(entries, model.TxnVoid, ext); void != nil {
		at := void.CreatedAt
		v.CancelledAt = &at
		v.Reason = void.Reason
	}
	return v
}

// Snapshot is the diagnostic view of a payment returned to admin
// consumers.
type Snapshot struct {
	Payment model.Payment
	Booking model.Booking
	Seat    model.Seat
	Ledger  []model.Transaction
}
