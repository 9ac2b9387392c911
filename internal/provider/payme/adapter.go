// Package payme adapts the stateful JSON-RPC merchant protocol to the
// reconciliation engine.  The provider drives a transaction through
// CreateTransaction, PerformTransaction and CancelTransaction and
// identifies it by its own transaction id; the adapter maps each method
// onto one Coordinator operation and every outcome onto the provider's
// response envelope.  Calls always succeed at the transport level.
package payme

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/money"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
)

// Engine is the part of the Coordinator the adapter drives.
type Engine interface {
	Validate(ctx context.Context, req reconcile.ValidateRequest) error
	Open(ctx context.Context, req reconcile.OpenRequest) (reconcile.TxnView, error)
	Confirm(ctx context.Context, provider model.Provider, ext string) (reconcile.TxnView, error)
	Void(ctx context.Context, provider model.Provider, ext string, reason int) (reconcile.TxnView, error)
	Inspect(ctx context.Context, provider model.Provider, ext string) (reconcile.TxnView, error)
	ListRange(ctx context.Context, provider model.Provider, from, to time.Time) ([]reconcile.TxnView, error)
}

// Config holds the merchant credentials.
type Config struct {
	Login        string
	Key          string
	TestKey      string
	Sandbox      bool
	AccountField string
}

// Adapter serves the RPC endpoint.
type Adapter struct {
	engine Engine
	cfg    Config
	log    *zap.Logger
}

// New returns an Adapter.  An empty login defaults to "Paycom" and an
// empty account field to "order_id".
func New(engine Engine, cfg Config, log *zap.Logger) *Adapter {
	if cfg.Login == "" {
		cfg.Login = "Paycom"
	}
	if cfg.AccountField == "" {
		cfg.AccountField = "order_id"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{engine: engine, cfg: cfg, log: log}
}

// Authorized checks a Basic Authorization header against the login and
// the active key in constant time.
func (a *Adapter) Authorized(header string) bool {
	encoded, ok := strings.CutPrefix(header, "Basic ")
	if !ok {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return false
	}
	login, key, ok := strings.Cut(string(raw), ":")
	if !ok {
		return false
	}
	want := a.cfg.Key
	if a.cfg.Sandbox {
		want = a.cfg.TestKey
	}
	if want == "" {
		return false
	}
	loginOK := subtle.ConstantTimeCompare([]byte(login), []byte(a.cfg.Login))
	keyOK := subtle.ConstantTimeCompare([]byte(key), []byte(want))
	return loginOK&keyOK == 1
}

// Handle processes one RPC call.  Authentication is checked before the
// body is read for anything but the request id.
func (a *Adapter) Handle(ctx context.Context, authHeader string, body []byte) Response {
	if !a.Authorized(authHeader) {
		a.log.Warn("payme call rejected", zap.String("reason", "unauthorized"))
		return Response{Error: newError(CodeUnauthorized, ""), ID: requestID(body)}
	}
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Response{Error: newError(CodeInvalidRequest, ""), ID: json.RawMessage("null")}
	}
	if len(req.ID) == 0 {
		req.ID = json.RawMessage("null")
	}
	if req.Method == "" || len(req.Params) == 0 {
		return Response{Error: newError(CodeInvalidRequest, ""), ID: req.ID}
	}

	var (
		result any
		rpcErr *Error
	)
	switch req.Method {
	case MethodCheckPerformTransaction:
		result, rpcErr = a.checkPerform(ctx, req.Params)
	case MethodCreateTransaction:
		result, rpcErr = a.create(ctx, req.Params)
	case MethodPerformTransaction:
		result, rpcErr = a.perform(ctx, req.Params)
	case MethodCancelTransaction:
		result, rpcErr = a.cancel(ctx, req.Params)
	case MethodCheckTransaction:
		result, rpcErr = a.check(ctx, req.Params)
	case MethodGetStatement:
		result, rpcErr = a.statement(ctx, req.Params)
	default:
		rpcErr = newError(CodeMethodNotFound, req.Method)
	}
	if rpcErr != nil {
		a.log.Info("payme call failed", zap.String("method", req.Method), zap.Int("code", rpcErr.Code))
		return Response{Error: rpcErr, ID: req.ID}
	}
	return Response{Result: result, ID: req.ID}
}

// Busy answers a call that could not be served right now with a system
// error, echoing the request id when the body carries one.
func Busy(body []byte) Response {
	return Response{Error: newError(CodeInternal, ""), ID: requestID(body)}
}

// requestID extracts the envelope id from body, or null.
func requestID(body []byte) json.RawMessage {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil || len(req.ID) == 0 {
		return json.RawMessage("null")
	}
	return req.ID
}

// orderID reads the merchant order reference from the account object.
// The provider sends it as a string or a number.
func (a *Adapter) orderID(account map[string]json.RawMessage) (uint64, *Error) {
	raw, ok := account[a.cfg.AccountField]
	if !ok {
		return 0, newError(CodeOrderNotFound, a.cfg.AccountField)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, newError(CodeOrderNotFound, a.cfg.AccountField)
	}
	id, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil || id == 0 {
		return 0, newError(CodeOrderNotFound, a.cfg.AccountField)
	}
	return id, nil
}

func (a *Adapter) amount(n json.Number) (int64, *Error) {
	minor, err := money.Minor.Parse(n.String())
	if err != nil || minor == 0 {
		return 0, newError(CodeInvalidAmount, "amount")
	}
	return minor, nil
}

func (a *Adapter) checkPerform(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p checkPerformParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, newError(CodeInvalidRequest, "params")
	}
	orderID, rpcErr := a.orderID(p.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := a.amount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	err := a.engine.Validate(ctx, reconcile.ValidateRequest{
		Provider: model.ProviderPayme, PaymentID: orderID, AmountMinor: amount,
	})
	if err != nil {
		return nil, a.mapError(err)
	}
	return allowResult{Allow: true}, nil
}

func (a *Adapter) create(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p createParams
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, newError(CodeInvalidRequest, "params")
	}
	orderID, rpcErr := a.orderID(p.Account)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := a.amount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	v, err := a.engine.Open(ctx, reconcile.OpenRequest{
		Provider: model.ProviderPayme, PaymentID: orderID, ExternalID: p.ID, AmountMinor: amount,
	})
	if err != nil {
		return nil, a.mapError(err)
	}
	return createResult{
		CreateTime:  millis(&v.OpenedAt),
		Transaction: strconv.FormatUint(v.PaymentID, 10),
		State:       int(v.State),
	}, nil
}

func (a *Adapter) perform(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p transactionParams
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, newError(CodeInvalidRequest, "params")
	}
	v, err := a.engine.Confirm(ctx, model.ProviderPayme, p.ID)
	if err != nil {
		return nil, a.mapError(err)
	}
	return performResult{
		Transaction: strconv.FormatUint(v.PaymentID, 10),
		PerformTime: millis(v.ConfirmedAt),
		State:       int(v.State),
	}, nil
}

func (a *Adapter) cancel(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p transactionParams
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" || p.Reason == nil {
		return nil, newError(CodeInvalidRequest, "params")
	}
	v, err := a.engine.Void(ctx, model.ProviderPayme, p.ID, *p.Reason)
	if err != nil {
		return nil, a.mapError(err)
	}
	return cancelResult{
		Transaction: strconv.FormatUint(v.PaymentID, 10),
		CancelTime:  millis(v.CancelledAt),
		State:       int(v.State),
	}, nil
}

func (a *Adapter) check(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p transactionParams
	if err := json.Unmarshal(raw, &p); err != nil || p.ID == "" {
		return nil, newError(CodeInvalidRequest, "params")
	}
	v, err := a.engine.Inspect(ctx, model.ProviderPayme, p.ID)
	if err != nil {
		return nil, a.mapError(err)
	}
	return checkResult{
		CreateTime:  millis(&v.OpenedAt),
		PerformTime: millis(v.ConfirmedAt),
		CancelTime:  millis(v.CancelledAt),
		Transaction: strconv.FormatUint(v.PaymentID, 10),
		State:       int(v.State),
		Reason:      v.Reason,
	}, nil
}

func (a *Adapter) statement(ctx context.Context, raw json.RawMessage) (any, *Error) {
	var p statementParams
	if err := json.Unmarshal(raw, &p); err != nil || p.To < p.From {
		return nil, newError(CodeInvalidRequest, "params")
	}
	views, err := a.engine.ListRange(ctx, model.ProviderPayme, time.UnixMilli(p.From), time.UnixMilli(p.To))
	if err != nil {
		return nil, a.mapError(err)
	}
	out := statementResult{Transactions: make([]statementEntry, 0, len(views))}
	for _, v := range views {
		out.Transactions = append(out.Transactions, statementEntry{
			ID:          v.ExternalID,
			Time:        millis(&v.OpenedAt),
			Amount:      v.AmountMinor,
			Account:     map[string]string{a.cfg.AccountField: strconv.FormatUint(v.PaymentID, 10)},
			CreateTime:  millis(&v.OpenedAt),
			PerformTime: millis(v.ConfirmedAt),
			CancelTime:  millis(v.CancelledAt),
			Transaction: strconv.FormatUint(v.PaymentID, 10),
			State:       int(v.State),
			Reason:      v.Reason,
		})
	}
	return out, nil
}

// mapError turns a Coordinator failure into the provider's error object.
// Anything that is not a domain failure is reported as internal so the
// provider retries the identical call.
func (a *Adapter) mapError(err error) *Error {
	switch {
	case errors.Is(err, reconcile.ErrAmountMismatch), errors.Is(err, reconcile.ErrInvalidAmount):
		return newError(CodeInvalidAmount, "amount")
	case errors.Is(err, reconcile.ErrPaymentNotFound), errors.Is(err, reconcile.ErrBookingNotFound):
		return newError(CodeOrderNotFound, a.cfg.AccountField)
	case errors.Is(err, reconcile.ErrBookingState), errors.Is(err, reconcile.ErrConcurrentOpen):
		return newError(CodeInvalidOrderState, a.cfg.AccountField)
	case errors.Is(err, reconcile.ErrAlreadyCompleted):
		return newError(CodeAlreadyDone, a.cfg.AccountField)
	case errors.Is(err, reconcile.ErrTransactionNotFound):
		return newError(CodeTransactionNotFound, "id")
	case errors.Is(err, reconcile.ErrAlreadyCancelled), errors.Is(err, reconcile.ErrTransactionExpired),
		errors.Is(err, reconcile.ErrInvalidState):
		return newError(CodeCannotPerform, "")
	}
	a.log.Error("payme internal error", zap.Error(err))
	return newError(CodeInternal, "")
}
