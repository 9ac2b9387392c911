package reconcile

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/venue-booking-payments/internal/model"
)

// Store is the persistence collaborator.  WithTx runs fn inside one
// transaction and commits only when fn returns nil; row reads made
// through the Tx lock the row until commit.  WithReadTx runs fn against
// a consistent read-only view without locking.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	WithReadTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of row operations the coordinator performs inside one
// transactional boundary.  Lookups that match nothing return
// ErrRecordNotFound; inserts that violate a unique index return
// ErrDuplicateKey.
type Tx interface {
	CreatePayment(ctx context.Context, p *model.Payment) error
	PaymentByID(ctx context.Context, id uint64) (*model.Payment, error)
	PaymentsByBooking(ctx context.Context, bookingID uint64) ([]model.Payment, error)
	PendingPaymentsBefore(ctx context.Context, before time.Time, afterID uint64, limit int) ([]model.Payment, error)
	UpdatePayment(ctx context.Context, p *model.Payment) error

	BookingByID(ctx context.Context, id uint64) (*model.Booking, error)
	UpdateBookingStatus(ctx context.Context, id uint64, status model.BookingStatus, at time.Time) error

	SeatByID(ctx context.Context, id uint64) (*model.Seat, error)
	UpdateSeatStatus(ctx context.Context, id uint64, status model.SeatStatus, at time.Time) error

	AppendTransaction(ctx context.Context, t *model.Transaction) error
	TransactionByID(ctx context.Context, id uint64) (*model.Transaction, error)
	TransactionByKey(ctx context.Context, key string) (*model.Transaction, error)
	TransactionsByExternalID(ctx context.Context, provider model.Provider, externalID string) ([]model.Transaction, error)
	TransactionsByPayment(ctx context.Context, paymentID uint64) ([]model.Transaction, error)
	OpenedBetween(ctx context.Context, provider model.Provider, from, to time.Time) ([]model.Transaction, error)
	IncrementRetry(ctx context.Context, id uint64) error
}

// EventType names a notification emitted after a committed edge.
type EventType string

const (
	EventPaymentCreated   EventType = "payment_created"
	EventPaymentCompleted EventType = "payment_completed"
	EventPaymentCancelled EventType = "payment_cancelled"
	EventPaymentRefunded  EventType = "payment_refunded"
)

// Event is the payload handed to the notification sink.
type Event struct {
	Type      EventType
	PaymentID uint64
	BookingID uint64
	Provider  model.Provider
	Amount    decimal.Decimal
	At        time.Time
}

// Notifier receives events after commit.  Notify must not block the
// caller and its failures never affect the edge that produced the event.
type Notifier interface {
	Notify(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}
