package model

import "time"

// SeatStatus is the availability of a seat within one session.
type SeatStatus string

const (
    SeatAvailable SeatStatus = "AVAILABLE"
    SeatReserved  SeatStatus = "RESERVED"
    SeatOccupied  SeatStatus = "OCCUPIED"
    SeatDisabled  SeatStatus = "DISABLED"
    SeatHidden    SeatStatus = "HIDDEN"
)

// Seat describes a seat of a session.  Its layout (rows, tariffs,
// geometry) is owned by the venue service; the payment engine only
// reads and moves its status.
//
// Fields:
//  ID        – primary key identifier.
//  SessionID – session to which the seat belongs.
//  Status    – AVAILABLE, RESERVED, OCCUPIED, DISABLED or HIDDEN.
//  UpdatedAt – timestamp of last status change.
type Seat struct {
    ID        uint64     // session_seats.id
    SessionID uint64     // session_seats.session_id
    Status    SeatStatus // session_seats.status
    UpdatedAt time.Time  // session_seats.updated_at
}
