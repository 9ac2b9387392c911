package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// Provider names a payment gateway.
type Provider string

const (
    ProviderPayme Provider = "payme"
    ProviderClick Provider = "click"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
    return p == ProviderPayme || p == ProviderClick
}

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
    PaymentPending   PaymentStatus = "PENDING"
    PaymentCompleted PaymentStatus = "COMPLETED"
    PaymentFailed    PaymentStatus = "FAILED"
    PaymentCancelled PaymentStatus = "CANCELLED"
)

// CancelState records which side of the confirmation a cancelled payment
// was cancelled on.  It is stored explicitly so replays never have to
// guess from PaidAt.
type CancelState string

const (
    CancelNone          CancelState = ""
    CancelBeforeConfirm CancelState = "BEFORE_CONFIRM"
    CancelAfterConfirm  CancelState = "AFTER_CONFIRM"
)

// Payment represents one attempt to collect money for a booking.
//
// Fields:
//  ID             – primary key identifier, also the merchant order ref.
//  BookingID      – booking being paid for.
//  OwnerID        – user who started the checkout (nil for guests).
//  Amount         – amount in the major currency unit.
//  Provider       – gateway handling the payment.
//  Status         – PENDING, COMPLETED, FAILED or CANCELLED.
//  ExternalID     – provider transaction id currently bound to the payment.
//  PaidAt         – when the provider confirmed funds.
//  RefundedAmount – total refunded so far (never above Amount).
//  RefundedAt     – time of the last refund.
//  RefundReason   – reason recorded with the last refund.
//  CancelState    – before/after confirm for cancelled payments.
//  CancelReason   – provider reason code for the cancellation.
//  CancelledAt    – when the payment was cancelled.
//  CreatedAt      – creation timestamp.
//  UpdatedAt      – last update timestamp.
type Payment struct {
    ID             uint64               // payments.id
    BookingID      uint64               // payments.booking_id
    OwnerID        *uint64              // payments.owner_id (nullable)
    Amount         decimal.Decimal      // payments.amount
    Provider       Provider             // payments.provider
    Status         PaymentStatus        // payments.status
    ExternalID     *string              // payments.external_id (nullable, unique)
    PaidAt         *time.Time           // payments.paid_at (nullable)
    RefundedAmount decimal.NullDecimal  // payments.refunded_amount (nullable)
    RefundedAt     *time.Time           // payments.refunded_at (nullable)
    RefundReason   *string              // payments.refund_reason (nullable)
    CancelState    CancelState          // payments.cancel_state
    CancelReason   *int                 // payments.cancel_reason (nullable)
    CancelledAt    *time.Time           // payments.cancelled_at (nullable)
    CreatedAt      time.Time            // payments.created_at
    UpdatedAt      time.Time            // payments.updated_at
}

// Refunded returns the refunded amount, zero when nothing was refunded.
func (p *Payment) Refunded() decimal.Decimal {
    if p.RefundedAmount.Valid {
        return p.RefundedAmount.Decimal
    }
    return decimal.Zero
}

// BoundTo reports whether the payment currently carries ext as its
// provider transaction id.
func (p *Payment) BoundTo(ext string) bool {
    return p.ExternalID != nil && *p.ExternalID == ext
}
