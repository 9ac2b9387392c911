package model

import (
    "time"

    "github.com/shopspring/decimal"
)

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
    BookingPending   BookingStatus = "PENDING"
    BookingConfirmed BookingStatus = "CONFIRMED"
    BookingCancelled BookingStatus = "CANCELLED"
    BookingExpired   BookingStatus = "EXPIRED"
)

// Booking records a customer's claim on one seat for one session.
// Bookings are created by the reservation flow with the seat already
// RESERVED; the payment engine moves them to CONFIRMED or CANCELLED.
//
// Fields:
//  ID         – primary key identifier.
//  SessionID  – session being booked.
//  SeatID     – seat claimed by the booking.
//  UserID     – customer who created the booking (nil for guests).
//  Status     – PENDING, CONFIRMED, CANCELLED or EXPIRED.
//  ExpiresAt  – moment after which an unpaid booking may be expired.
//  TotalPrice – price in the major currency unit.
//  CreatedAt  – creation timestamp.
//  UpdatedAt  – last update timestamp.
type Booking struct {
    ID         uint64          // bookings.id
    SessionID  uint64          // bookings.session_id
    SeatID     uint64          // bookings.seat_id
    UserID     *uint64         // bookings.user_id (nullable)
    Status     BookingStatus   // bookings.status
    ExpiresAt  time.Time       // bookings.expires_at
    TotalPrice decimal.Decimal // bookings.total_price
    CreatedAt  time.Time       // bookings.created_at
    UpdatedAt  time.Time       // bookings.updated_at
}
