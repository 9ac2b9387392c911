package payme_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/provider/payme"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
	"github.com/iliyamo/venue-booking-payments/internal/repository/memory"
)

var now = time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

const key = "s3cret-key"

func basic(login, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(login+":"+secret))
}

type env struct {
	store   *memory.Store
	adapter *payme.Adapter
	payment *model.Payment
}

func setup(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	store.AddSeat(model.Seat{ID: 1, SessionID: 1, Status: model.SeatReserved})
	store.AddBooking(model.Booking{
		ID: 1, SessionID: 1, SeatID: 1, Status: model.BookingPending,
		ExpiresAt: now.Add(time.Hour), TotalPrice: decimal.NewFromInt(50000),
	})
	c := reconcile.New(store, reconcile.Options{Now: func() time.Time { return now }})
	p, err := c.Checkout(context.Background(), reconcile.CheckoutRequest{BookingID: 1, Provider: model.ProviderPayme})
	require.NoError(t, err)
	return &env{
		store:   store,
		adapter: payme.New(c, payme.Config{Key: key}, nil),
		payment: p,
	}
}

type reply struct {
	Result map[string]any `json:"result"`
	Error  *struct {
		Code    int               `json:"code"`
		Message map[string]string `json:"message"`
		Data    string            `json:"data"`
	} `json:"error"`
	ID json.RawMessage `json:"id"`
}

func (e *env) call(t *testing.T, method string, params any) reply {
	t.Helper()
	body, err := json.Marshal(map[string]any{"method": method, "params": params, "id": 77})
	require.NoError(t, err)
	return roundTrip(t, e.adapter.Handle(context.Background(), basic("Paycom", key), body))
}

func roundTrip(t *testing.T, resp payme.Response) reply {
	t.Helper()
	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var r reply
	require.NoError(t, json.Unmarshal(raw, &r))
	return r
}

func TestTransactionLifecycle(t *testing.T) {
	e := setup(t)
	account := map[string]any{"order_id": e.payment.ID}

	r := e.call(t, payme.MethodCheckPerformTransaction, map[string]any{"amount": 5000000, "account": account})
	require.Nil(t, r.Error)
	assert.Equal(t, true, r.Result["allow"])
	assert.JSONEq(t, "77", string(r.ID))

	create := map[string]any{"id": "tx-1", "time": now.UnixMilli(), "amount": 5000000, "account": account}
	first := e.call(t, payme.MethodCreateTransaction, create)
	require.Nil(t, first.Error)
	assert.EqualValues(t, 1, first.Result["state"])
	assert.EqualValues(t, now.UnixMilli(), first.Result["create_time"])
	assert.Equal(t, first.Result, e.call(t, payme.MethodCreateTransaction, create).Result)

	performed := e.call(t, payme.MethodPerformTransaction, map[string]any{"id": "tx-1"})
	require.Nil(t, performed.Error)
	assert.EqualValues(t, 2, performed.Result["state"])
	assert.EqualValues(t, now.UnixMilli(), performed.Result["perform_time"])

	cancelled := e.call(t, payme.MethodCancelTransaction, map[string]any{"id": "tx-1", "reason": 5})
	require.Nil(t, cancelled.Error)
	assert.EqualValues(t, -2, cancelled.Result["state"])

	checked := e.call(t, payme.MethodCheckTransaction, map[string]any{"id": "tx-1"})
	require.Nil(t, checked.Error)
	assert.EqualValues(t, -2, checked.Result["state"])
	assert.EqualValues(t, 5, checked.Result["reason"])

	statement := e.call(t, payme.MethodGetStatement, map[string]any{
		"from": now.Add(-time.Hour).UnixMilli(), "to": now.Add(time.Hour).UnixMilli(),
	})
	require.Nil(t, statement.Error)
	txns, ok := statement.Result["transactions"].([]any)
	require.True(t, ok)
	require.Len(t, txns, 1)
	entry := txns[0].(map[string]any)
	assert.Equal(t, "tx-1", entry["id"])
	assert.EqualValues(t, 5000000, entry["amount"])

	seat, _ := e.store.Seat(1)
	assert.Equal(t, model.SeatAvailable, seat.Status)
}

func TestOrderIDAsString(t *testing.T) {
	e := setup(t)
	r := e.call(t, payme.MethodCheckPerformTransaction, map[string]any{
		"amount": "5000000", "account": map[string]any{"order_id": "1"},
	})
	require.Nil(t, r.Error)
	assert.Equal(t, true, r.Result["allow"])
}

func TestErrorCodes(t *testing.T) {
	e := setup(t)
	account := map[string]any{"order_id": e.payment.ID}

	cases := []struct {
		name   string
		method string
		params any
		code   int
	}{
		{"amount mismatch", payme.MethodCheckPerformTransaction, map[string]any{"amount": 100, "account": account}, payme.CodeInvalidAmount},
		{"fractional amount", payme.MethodCheckPerformTransaction, map[string]any{"amount": 10.5, "account": account}, payme.CodeInvalidAmount},
		{"unknown order", payme.MethodCheckPerformTransaction, map[string]any{"amount": 100, "account": map[string]any{"order_id": 404}}, payme.CodeOrderNotFound},
		{"missing account", payme.MethodCreateTransaction, map[string]any{"id": "x", "amount": 100, "account": map[string]any{}}, payme.CodeOrderNotFound},
		{"unknown transaction", payme.MethodPerformTransaction, map[string]any{"id": "nope"}, payme.CodeTransactionNotFound},
		{"cancel without reason", payme.MethodCancelTransaction, map[string]any{"id": "nope"}, payme.CodeInvalidRequest},
		{"unknown method", "ChangePassword", map[string]any{"password": "x"}, payme.CodeMethodNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := e.call(t, tc.method, tc.params)
			require.NotNil(t, r.Error)
			assert.Equal(t, tc.code, r.Error.Code)
			assert.NotEmpty(t, r.Error.Message["en"])
			assert.Nil(t, r.Result)
		})
	}
}

func TestConcurrentTransactionRejected(t *testing.T) {
	e := setup(t)
	account := map[string]any{"order_id": e.payment.ID}
	r := e.call(t, payme.MethodCreateTransaction, map[string]any{"id": "tx-1", "amount": 5000000, "account": account})
	require.Nil(t, r.Error)

	r = e.call(t, payme.MethodCreateTransaction, map[string]any{"id": "tx-2", "amount": 5000000, "account": account})
	require.NotNil(t, r.Error)
	assert.Equal(t, payme.CodeInvalidOrderState, r.Error.Code)
}

func TestUnauthorized(t *testing.T) {
	e := setup(t)
	body := []byte(`{"method":"CheckPerformTransaction","params":{},"id":"abc"}`)

	for _, header := range []string{"", "Bearer x", basic("Paycom", "wrong"), basic("Other", key), "Basic !!!"} {
		r := roundTrip(t, e.adapter.Handle(context.Background(), header, body))
		require.NotNil(t, r.Error, header)
		assert.Equal(t, payme.CodeUnauthorized, r.Error.Code)
		assert.JSONEq(t, `"abc"`, string(r.ID))
	}

	r := roundTrip(t, e.adapter.Handle(context.Background(), "", []byte(`{not json`)))
	require.NotNil(t, r.Error)
	assert.Equal(t, payme.CodeUnauthorized, r.Error.Code)
	assert.JSONEq(t, "null", string(r.ID))
}

func TestBusy(t *testing.T) {
	r := roundTrip(t, payme.Busy([]byte(`{"method":"PerformTransaction","params":{},"id":7}`)))
	require.NotNil(t, r.Error)
	assert.Equal(t, payme.CodeInternal, r.Error.Code)
	assert.JSONEq(t, "7", string(r.ID))

	r = roundTrip(t, payme.Busy(nil))
	assert.JSONEq(t, "null", string(r.ID))
}

func TestSandboxKey(t *testing.T) {
	a := payme.New(nil, payme.Config{Key: "prod", TestKey: "test", Sandbox: true}, nil)
	assert.True(t, a.Authorized(basic("Paycom", "test")))
	assert.False(t, a.Authorized(basic("Paycom", "prod")))
}

func TestMalformedEnvelope(t *testing.T) {
	e := setup(t)
	r := roundTrip(t, e.adapter.Handle(context.Background(), basic("Paycom", key), []byte(`{not json`)))
	require.NotNil(t, r.Error)
	assert.Equal(t, payme.CodeInvalidRequest, r.Error.Code)
	assert.JSONEq(t, "null", string(r.ID))
}

func TestStoreFailureIsInternal(t *testing.T) {
	e := setup(t)
	e.store.FailOn("AppendTransaction", errors.New("connection refused"))
	r := e.call(t, payme.MethodCreateTransaction, map[string]any{
		"id": "tx-1", "amount": 5000000, "account": map[string]any{"order_id": e.payment.ID},
	})
	require.NotNil(t, r.Error)
	assert.Equal(t, payme.CodeInternal, r.Error.Code)

	p, _ := e.store.Payment(e.payment.ID)
	assert.Nil(t, p.ExternalID)
}
