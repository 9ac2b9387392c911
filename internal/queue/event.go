// Package queue defines message payloads exchanged over the message broker.
package queue

// PaymentEventsQueue is the durable queue payment notifications go to.
const PaymentEventsQueue = "payment.events"

// PaymentEvent is published after a payment edge commits.  It carries
// enough for downstream consumers to log, notify or reconcile without
// querying the primary database.
type PaymentEvent struct {
    Type       string `json:"type"`
    PaymentID  uint64 `json:"payment_id"`
    BookingID  uint64 `json:"booking_id"`
    Provider   string `json:"provider"`
    Amount     string `json:"amount"`
    OccurredAt string `json:"occurred_at"`
}
