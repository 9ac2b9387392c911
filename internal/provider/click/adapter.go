// Package click adapts the two-phase merchant webhook protocol to the
// reconciliation engine.  The provider first calls Prepare (action 0)
// to quote an order and receives a merchant preparation id, then calls
// Complete (action 1) quoting that id to settle or, with a negative
// error, to abandon the payment.  Every answer has the same shape and a
// zero error code means success.
package click

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/money"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

// Error codes.
const (
	CodeSuccess             = 0
	CodeSignFailed          = -1
	CodeIncorrectAmount     = -2
	CodeActionNotFound      = -3
	CodeAlreadyPaid         = -4
	CodeOrderNotFound       = -5
	CodeTransactionNotFound = -6
	CodeUpdateFailed        = -7
	CodeBadRequest          = -8
	CodeCancelled           = -9
)

// Actions.
const (
	ActionPrepare  = "0"
	ActionComplete = "1"
)

var notes = map[int]string{
	CodeSuccess:             "Success",
	CodeSignFailed:          "SIGN CHECK FAILED!",
	CodeIncorrectAmount:     "Incorrect parameter amount",
	CodeActionNotFound:      "Action not found",
	CodeAlreadyPaid:         "Already paid",
	CodeOrderNotFound:       "User does not exist",
	CodeTransactionNotFound: "Transaction does not exist",
	CodeUpdateFailed:        "Failed to update user",
	CodeBadRequest:          "Error in request from click",
	CodeCancelled:           "Transaction cancelled",
}

// Request carries the webhook fields as received.
type Request struct {
	ClickTransID      string
	ServiceID         string
	ClickPaydocID     string
	MerchantTransID   string
	MerchantPrepareID string
	Amount            string
	Action            string
	Error             string
	ErrorNote         string
	SignTime          string
	SignString        string
}

// Response is the fixed answer shape of both phases.
type Response struct {
	ClickTransID      int64   `json:"click_trans_id"`
	MerchantTransID   string  `json:"merchant_trans_id"`
	MerchantPrepareID *uint64 `json:"merchant_prepare_id,omitempty"`
	MerchantConfirmID *uint64 `json:"merchant_confirm_id,omitempty"`
	Error             int     `json:"error"`
	ErrorNote         string  `json:"error_note"`
}

// Engine is the part of the Coordinator the adapter drives.
type Engine interface {
	Prepare(ctx context.Context, req reconcile.PrepareRequest) (reconcile.PrepareResult, error)
	Complete(ctx context.Context, req reconcile.CompleteRequest) (reconcile.CompleteResult, error)
	Abort(ctx context.Context, req reconcile.AbortRequest) error
}

// Config holds the merchant service credentials.
type Config struct {
	ServiceID string
	SecretKey string
}

// Adapter serves the two webhook endpoints.
type Adapter struct {
	engine Engine
	cfg    Config
	log    *zap.Logger
}

// New returns an Adapter.
func New(engine Engine, cfg Config, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{engine: engine, cfg: cfg, log: log}
}

// Sign computes the request signature for r.  The preparation id takes
// part only in the complete phase.
func Sign(r Request, secret string) string {
	var b strings.Builder
	b.WriteString(r.ClickTransID)
	b.WriteString(r.ServiceID)
	b.WriteString(secret)
	b.WriteString(r.MerchantTransID)
	if r.Action == ActionComplete {
		b.WriteString(r.MerchantPrepareID)
	}
	b.WriteString(r.Amount)
	b.WriteString(r.Action)
	b.WriteString(r.SignTime)
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func (a *Adapter) reply(r Request, code int) Response {
	id, _ := strconv.ParseInt(r.ClickTransID, 10, 64)
	return Response{ClickTransID: id, MerchantTransID: r.MerchantTransID, Error: code, ErrorNote: notes[code]}
}

// Busy answers a webhook that could not be served right now.  The
// provider treats the failure as transient and calls again.
func (a *Adapter) Busy(r Request) Response {
	return a.reply(r, CodeUpdateFailed)
}

// check validates the fields shared by both phases and returns the order
// reference and amount in minor units.
func (a *Adapter) check(r Request, action string) (uint64, int64, int) {
	if r.ClickTransID == "" || r.ServiceID == "" || r.MerchantTransID == "" || r.Amount == "" ||
		r.Action == "" || r.SignTime == "" || r.SignString == "" {
		return 0, 0, CodeBadRequest
	}
	if _, err := strconv.ParseInt(r.ClickTransID, 10, 64); err != nil {
		return 0, 0, CodeBadRequest
	}
	if r.Action != action {
		return 0, 0, CodeActionNotFound
	}
	want := Sign(r, a.cfg.SecretKey)
	if subtle.ConstantTimeCompare([]byte(strings.ToLower(r.SignString)), []byte(want)) != 1 ||
		subtle.ConstantTimeCompare([]byte(r.ServiceID), []byte(a.cfg.ServiceID)) != 1 {
		return 0, 0, CodeSignFailed
	}
	amount, err := money.Major.Parse(r.Amount)
	if err != nil || amount == 0 {
		return 0, 0, CodeIncorrectAmount
	}
	orderID, err := strconv.ParseUint(r.MerchantTransID, 10, 64)
	if err != nil || orderID == 0 {
		return 0, 0, CodeOrderNotFound
	}
	return orderID, amount, CodeSuccess
}

// Prepare handles the quoting phase.
func (a *Adapter) Prepare(ctx context.Context, r Request) Response {
	orderID, amount, code := a.check(r, ActionPrepare)
	if code != CodeSuccess {
		a.log.Info("click prepare rejected", zap.String("click_trans_id", r.ClickTransID), zap.Int("code", code))
		return a.reply(r, code)
	}
	res, err := a.engine.Prepare(ctx, reconcile.PrepareRequest{
		Provider: model.ProviderClick, PaymentID: orderID, ExternalID: r.ClickTransID, AmountMinor: amount,
	})
	if err != nil {
		return a.reply(r, a.mapError(err))
	}
	out := a.reply(r, CodeSuccess)
	out.MerchantPrepareID = &res.PrepareID
	return out
}

// Complete handles the settlement phase.  A negative provider error
// means the customer's payment failed and the order is abandoned.
func (a *Adapter) Complete(ctx context.Context, r Request) Response {
	orderID, amount, code := a.check(r, ActionComplete)
	if code != CodeSuccess {
		a.log.Info("click complete rejected", zap.String("click_trans_id", r.ClickTransID), zap.Int("code", code))
		return a.reply(r, code)
	}
	prepareID, err := strconv.ParseUint(r.MerchantPrepareID, 10, 64)
	if err != nil {
		return a.reply(r, CodeTransactionNotFound)
	}
	providerErr := 0
	if r.Error != "" {
		if providerErr, err = strconv.Atoi(r.Error); err != nil {
			return a.reply(r, CodeBadRequest)
		}
	}

	if providerErr < 0 {
		err := a.engine.Abort(ctx, reconcile.AbortRequest{
			Provider: model.ProviderClick, PaymentID: orderID, ExternalID: r.ClickTransID,
			PrepareID: prepareID, Reason: providerErr,
		})
		if err != nil {
			return a.reply(r, a.mapError(err))
		}
		a.log.Info("click payment abandoned", zap.String("click_trans_id", r.ClickTransID),
			zap.Int("provider_error", providerErr), zap.String("note", r.ErrorNote))
		out := a.reply(r, CodeCancelled)
		out.MerchantConfirmID = &prepareID
		return out
	}

	res, err := a.engine.Complete(ctx, reconcile.CompleteRequest{
		Provider: model.ProviderClick, PaymentID: orderID, ExternalID: r.ClickTransID,
		PrepareID: prepareID, AmountMinor: amount,
	})
	if err != nil {
		return a.reply(r, a.mapError(err))
	}
	out := a.reply(r, CodeSuccess)
	out.MerchantConfirmID = &res.ConfirmID
	return out
}

func (a *Adapter) mapError(err error) int {
	switch {
	case errors.Is(err, reconcile.ErrAmountMismatch), errors.Is(err, reconcile.ErrInvalidAmount):
		return CodeIncorrectAmount
	case errors.Is(err, reconcile.ErrPaymentNotFound), errors.Is(err, reconcile.ErrBookingNotFound):
		return CodeOrderNotFound
	case errors.Is(err, reconcile.ErrAlreadyCompleted):
		return CodeAlreadyPaid
	case errors.Is(err, reconcile.ErrTransactionNotFound):
		return CodeTransactionNotFound
	case errors.Is(err, reconcile.ErrAlreadyCancelled), errors.Is(err, reconcile.ErrBookingState),
		errors.Is(err, reconcile.ErrTransactionExpired), errors.Is(err, reconcile.ErrConcurrentOpen),
		errors.Is(err, reconcile.ErrInvalidState):
		return CodeCancelled
	}
	a.log.Error("click internal error", zap.Error(err))
	return CodeUpdateFailed
}
