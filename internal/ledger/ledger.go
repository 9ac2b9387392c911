// Package ledger holds the rules of the append-only payment transaction
// log: how idempotency keys are derived, how entries are built and how a
// payment's entries are searched for open transactions and their age.
// Persistence of entries belongs to the store; this package is pure.
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/venue-booking-payments/internal/model"
)

// DefaultWindow is the provider-standard open transaction window.
const DefaultWindow = 12 * time.Hour

// DefaultMaxRetries bounds manual retries of failed webhook entries.
const DefaultMaxRetries = 3

// ReasonTimeout is the cancel reason recorded when the open window
// elapses before confirmation.
const ReasonTimeout = 4

// ReasonRefund is the cancel reason recorded when a refund returns the
// whole amount.
const ReasonRefund = 5

// Key derives the idempotency key provider:type:externalId.  It returns
// nil when the external id is unknown.
func Key(provider model.Provider, typ model.TransactionType, externalID string) *string {
	if externalID == "" {
		return nil
	}
	k := strings.Join([]string{string(provider), string(typ), externalID}, ":")
	return &k
}

// Entry describes a ledger entry to be appended.
type Entry struct {
	PaymentID  uint64
	Provider   model.Provider
	Type       model.TransactionType
	Amount     decimal.Decimal
	Status     model.TransactionStatus
	ExternalID string
	// Key overrides the derived idempotency key when set.
	Key    string
	Reason *int
	Note   string
	At     time.Time
}

// New builds the record for e.  Successful entries with a known external
// id carry the derived idempotency key; failed attempts never do, so a
// corrected retry is not short-circuited by an earlier rejection.
func New(e Entry, maxRetries int) *model.Transaction {
	t := &model.Transaction{
		PaymentID:  e.PaymentID,
		Provider:   e.Provider,
		Type:       e.Type,
		Amount:     e.Amount,
		Status:     e.Status,
		Reason:     e.Reason,
		Note:       e.Note,
		MaxRetries: maxRetries,
		CreatedAt:  e.At.UTC(),
	}
	if e.ExternalID != "" {
		ext := e.ExternalID
		t.ExternalID = &ext
	}
	if e.Status != model.TxnSuccess {
		return t
	}
	key := e.Key
	// refunds repeat per external id, only a caller-supplied key dedupes them
	if key == "" && e.Type != model.TxnRefund {
		key = e.ExternalID
	}
	t.IdempotencyKey = Key(e.Provider, e.Type, key)
	return t
}

// Find returns the first successful entry of type typ in entries.
func Find(entries []model.Transaction, typ model.TransactionType) *model.Transaction {
	for i := range entries {
		if entries[i].Type == typ && entries[i].Status == model.TxnSuccess {
			return &entries[i]
		}
	}
	return nil
}

// FindFor is Find restricted to entries carrying externalID.
func FindFor(entries []model.Transaction, typ model.TransactionType, externalID string) *model.Transaction {
	for i := range entries {
		e := &entries[i]
		if e.Type == typ && e.Status == model.TxnSuccess && e.ExternalID != nil && *e.ExternalID == externalID {
			return e
		}
	}
	return nil
}

// Opening returns the successful OPEN or PREPARE entry that started the
// provider transaction externalID.
func Opening(entries []model.Transaction, externalID string) *model.Transaction {
	if e := FindFor(entries, model.TxnOpen, externalID); e != nil {
		return e
	}
	return FindFor(entries, model.TxnPrepare, externalID)
}

// LatestActivity returns the creation time of the newest successful
// OPEN or PREPARE entry, and false when there is none.
func LatestActivity(entries []model.Transaction) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, e := range entries {
		if e.Status != model.TxnSuccess || (e.Type != model.TxnOpen && e.Type != model.TxnPrepare) {
			continue
		}
		if !found || e.CreatedAt.After(latest) {
			latest = e.CreatedAt
			found = true
		}
	}
	return latest, found
}

// Expired reports whether an entry opened at openedAt has outlived the
// window at now.
func Expired(openedAt, now time.Time, window time.Duration) bool {
	return now.Sub(openedAt) > window
}
