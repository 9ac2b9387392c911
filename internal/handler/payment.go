package handler

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/shopspring/decimal"
    "go.uber.org/zap"

    "github.com/iliyamo/venue-booking-payments/internal/middleware"
    "github.com/iliyamo/venue-booking-payments/internal/model"
    "github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

// PaymentEngine is the part of the coordinator the admin API drives.
type PaymentEngine interface {
    Checkout(ctx context.Context, req reconcile.CheckoutRequest) (*model.Payment, error)
    Snapshot(ctx context.Context, paymentID uint64) (*reconcile.Snapshot, error)
    Refund(ctx context.Context, req reconcile.RefundRequest) (*model.Payment, error)
    RetryEntry(ctx context.Context, entryID uint64) (*reconcile.Snapshot, error)
}

// PaymentHandler serves the authenticated payment endpoints under /v1.
type PaymentHandler struct {
    Engine PaymentEngine
    Log    *zap.Logger
}

func NewPaymentHandler(engine PaymentEngine, log *zap.Logger) *PaymentHandler {
    return &PaymentHandler{Engine: engine, Log: log}
}

type paymentJSON struct {
    ID             uint64     `json:"id"`
    BookingID      uint64     `json:"booking_id"`
    OwnerID        *uint64    `json:"owner_id,omitempty"`
    Amount         string     `json:"amount"`
    Provider       string     `json:"provider"`
    Status         string     `json:"status"`
    ExternalID     *string    `json:"external_id,omitempty"`
    PaidAt         *time.Time `json:"paid_at,omitempty"`
    RefundedAmount *string    `json:"refunded_amount,omitempty"`
    RefundedAt     *time.Time `json:"refunded_at,omitempty"`
    RefundReason   *string    `json:"refund_reason,omitempty"`
    CancelState    string     `json:"cancel_state,omitempty"`
    CancelReason   *int       `json:"cancel_reason,omitempty"`
    CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
    CreatedAt      time.Time  `json:"created_at"`
    UpdatedAt      time.Time  `json:"updated_at"`
}

func paymentView(p *model.Payment) paymentJSON {
    out := paymentJSON{
        ID: p.ID, BookingID: p.BookingID, OwnerID: p.OwnerID,
        Amount: p.Amount.StringFixed(2), Provider: string(p.Provider), Status: string(p.Status),
        ExternalID: p.ExternalID, PaidAt: p.PaidAt, RefundedAt: p.RefundedAt, RefundReason: p.RefundReason,
        CancelState: string(p.CancelState), CancelReason: p.CancelReason, CancelledAt: p.CancelledAt,
        CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
    }
    if p.RefundedAmount.Valid {
        s := p.RefundedAmount.Decimal.StringFixed(2)
        out.RefundedAmount = &s
    }
    return out
}

type entryJSON struct {
    ID         uint64    `json:"id"`
    Type       string    `json:"type"`
    Status     string    `json:"status"`
    Amount     string    `json:"amount"`
    ExternalID *string   `json:"external_id,omitempty"`
    Reason     *int      `json:"reason,omitempty"`
    Note       string    `json:"note,omitempty"`
    RetryCount int       `json:"retry_count"`
    MaxRetries int       `json:"max_retries"`
    CreatedAt  time.Time `json:"created_at"`
}

func snapshotView(s *reconcile.Snapshot) echo.Map {
    entries := make([]entryJSON, 0, len(s.Ledger))
    for _, e := range s.Ledger {
        entries = append(entries, entryJSON{
            ID: e.ID, Type: string(e.Type), Status: string(e.Status), Amount: e.Amount.StringFixed(2),
            ExternalID: e.ExternalID, Reason: e.Reason, Note: e.Note,
            RetryCount: e.RetryCount, MaxRetries: e.MaxRetries, CreatedAt: e.CreatedAt,
        })
    }
    return echo.Map{
        "payment": paymentView(&s.Payment),
        "booking": echo.Map{
            "id": s.Booking.ID, "status": s.Booking.Status, "seat_id": s.Booking.SeatID,
            "total_price": s.Booking.TotalPrice.StringFixed(2), "expires_at": s.Booking.ExpiresAt,
        },
        "seat":   echo.Map{"id": s.Seat.ID, "session_id": s.Seat.SessionID, "status": s.Seat.Status},
        "ledger": entries,
    }
}

// Checkout handles POST /v1/bookings/:id/payments.
func (h *PaymentHandler) Checkout(c echo.Context) error {
    userID, err := middleware.UserID(c)
    if err != nil {
        return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
    }
    bookingID, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || bookingID == 0 {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
    }
    var body struct {
        Provider string `json:"provider"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
    }
    p, err := h.Engine.Checkout(c.Request().Context(), reconcile.CheckoutRequest{
        BookingID: bookingID,
        Provider:  model.Provider(strings.ToLower(strings.TrimSpace(body.Provider))),
        OwnerID:   &userID,
    })
    if err != nil {
        return h.fail(c, "checkout", err)
    }
    return c.JSON(http.StatusCreated, paymentView(p))
}

// Snapshot handles GET /v1/payments/:id.
func (h *PaymentHandler) Snapshot(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
    }
    s, err := h.Engine.Snapshot(c.Request().Context(), id)
    if err != nil {
        return h.fail(c, "snapshot", err)
    }
    return c.JSON(http.StatusOK, snapshotView(s))
}

// Refund handles POST /v1/payments/:id/refund.  An omitted amount refunds
// the remaining balance.  The Idempotency-Key header makes the call safe
// to repeat.
func (h *PaymentHandler) Refund(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
    }
    var body struct {
        Amount decimal.NullDecimal `json:"amount"`
        Reason string              `json:"reason"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
    }
    key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
    if len(key) > 64 {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "idempotency key too long"})
    }
    p, err := h.Engine.Refund(c.Request().Context(), reconcile.RefundRequest{
        PaymentID:      id,
        Amount:         body.Amount,
        Reason:         strings.TrimSpace(body.Reason),
        IdempotencyKey: key,
    })
    if err != nil {
        return h.fail(c, "refund", err)
    }
    return c.JSON(http.StatusOK, paymentView(p))
}

// RetryEntry handles POST /v1/ledger/:id/retry.
func (h *PaymentHandler) RetryEntry(c echo.Context) error {
    id, err := strconv.ParseUint(c.Param("id"), 10, 64)
    if err != nil || id == 0 {
        return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid id"})
    }
    s, err := h.Engine.RetryEntry(c.Request().Context(), id)
    if err != nil {
        return h.fail(c, "retry", err)
    }
    return c.JSON(http.StatusOK, snapshotView(s))
}

// fail maps engine errors to HTTP statuses.  Anything that is not a
// domain failure is logged and reported as 500.
func (h *PaymentHandler) fail(c echo.Context, op string, err error) error {
    status := http.StatusInternalServerError
    switch {
    case errors.Is(err, reconcile.ErrPaymentNotFound), errors.Is(err, reconcile.ErrBookingNotFound),
        errors.Is(err, reconcile.ErrTransactionNotFound):
        status = http.StatusNotFound
    case errors.Is(err, reconcile.ErrInvalidAmount), errors.Is(err, reconcile.ErrAmountMismatch),
        errors.Is(err, reconcile.ErrUnknownProvider):
        status = http.StatusBadRequest
    case reconcile.IsDomain(err):
        status = http.StatusConflict
    }
    if status == http.StatusInternalServerError {
        h.Log.Error("payment api failed", zap.String("op", op), zap.Error(err),
            zap.String("request_id", middleware.GetRequestID(c)))
        return c.JSON(status, map[string]string{"error": "internal error"})
    }
    return c.JSON(status, map[string]string{"error": err.Error()})
}
