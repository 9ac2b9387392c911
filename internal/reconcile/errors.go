package reconcile

import "errors"

// Storage sentinels.  Store implementations translate their driver errors
// into these so the coordinator can reason about them.
var (
	// ErrRecordNotFound is returned by a Tx lookup that matched no row.
	ErrRecordNotFound = errors.New("record not found")
	// ErrDuplicateKey is returned when an insert violates the unique
	// idempotency key or external id index.
	ErrDuplicateKey = errors.New("duplicate key")
)

// Validation failures.  Terminal for the call, nothing was written, safe
// to retry with corrected input.
var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrAmountMismatch  = errors.New("amount does not match payment")
	ErrBookingState    = errors.New("booking is not awaiting payment")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrUnknownProvider = errors.New("unknown provider")
)

// State conflicts.  Terminal and not retryable; they describe a protocol
// error on the caller's side.
var (
	ErrAlreadyCompleted     = errors.New("payment already completed")
	ErrAlreadyCancelled     = errors.New("payment already cancelled")
	ErrConcurrentOpen       = errors.New("another transaction is open for this payment")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrInvalidState         = errors.New("payment, booking and seat are not in the expected state")
	ErrNotRefundable        = errors.New("only completed payments can be refunded")
	ErrRefundExceedsBalance = errors.New("refund exceeds remaining balance")
	ErrNotRetryable         = errors.New("ledger entry cannot be retried")
	ErrRetryExhausted       = errors.New("ledger entry retry limit reached")
)

// ErrTransactionExpired is returned after the coordinator itself
// cancelled a transaction whose open window had elapsed.
var ErrTransactionExpired = errors.New("transaction expired and was cancelled")

var domainErrors = []error{
	ErrPaymentNotFound, ErrBookingNotFound, ErrAmountMismatch, ErrBookingState,
	ErrInvalidAmount, ErrUnknownProvider, ErrAlreadyCompleted, ErrAlreadyCancelled,
	ErrConcurrentOpen, ErrTransactionNotFound, ErrInvalidState, ErrNotRefundable,
	ErrRefundExceedsBalance, ErrNotRetryable, ErrRetryExhausted, ErrTransactionExpired,
}

// IsDomain reports whether err is one of the engine's domain failures as
// opposed to a persistence or programming error.
func IsDomain(err error) bool {
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}
