package handler_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/venue-booking-payments/internal/config"
	"github.com/iliyamo/venue-booking-payments/internal/handler"
	"github.com/iliyamo/venue-booking-payments/internal/middleware"
	"github.com/iliyamo/venue-booking-payments/internal/model"
	"github.com/iliyamo/venue-booking-payments/internal/provider/click"
	"github.com/iliyamo/venue-booking-payments/internal/provider/payme"
	"github.com/iliyamo/venue-booking-payments/internal/reconcile"
	"github.com/iliyamo/venue-booking-payments/internal/repository/memory"
	"github.com/iliyamo/venue-booking-payments/internal/router"
	"github.com/iliyamo/venue-booking-payments/internal/utils"
)

const (
	jwtSecret = "jwt-secret"
	paymeKey  = "payme-key"
	clickKey  = "click-key"
	serviceID = "77"
	customer  = uint64(5)
)

var now = time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type server struct {
	e     *echo.Echo
	store *memory.Store
}

func newServer(t *testing.T, db handler.Pinger) *server {
	t.Helper()
	return newServerWith(t, db, func(reject middleware.RejectFunc) echo.MiddlewareFunc {
		return middleware.NewTokenBucketWith(config.RateLimitConfig{}, nil, zap.NewNop(), reject)
	})
}

func newServerWith(t *testing.T, db handler.Pinger, providerLimit func(middleware.RejectFunc) echo.MiddlewareFunc) *server {
	t.Helper()
	store := memory.New()
	holder := customer
	store.AddSeat(model.Seat{ID: 1, SessionID: 1, Status: model.SeatReserved})
	store.AddBooking(model.Booking{
		ID: 1, SessionID: 1, SeatID: 1, UserID: &holder, Status: model.BookingPending,
		ExpiresAt: now.Add(time.Hour), TotalPrice: decimal.RequireFromString("500.00"),
	})
	coord := reconcile.New(store, reconcile.Options{Now: func() time.Time { return now }})
	log := zap.NewNop()
	limit := middleware.NewTokenBucket(config.RateLimitConfig{}, nil, log)

	e := echo.New()
	e.Use(middleware.RequestID())
	router.RegisterRoutes(e, db)
	router.RegisterProviders(e, handler.NewProviderHandler(
		payme.New(coord, payme.Config{Key: paymeKey}, log),
		click.New(coord, click.Config{ServiceID: serviceID, SecretKey: clickKey}, log),
	), providerLimit)
	router.RegisterPayments(e, handler.NewPaymentHandler(coord, log), jwtSecret, limit)
	return &server{e: e, store: store}
}

func bearer(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(jwtSecret, userID, role, 5)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func (s *server) do(method, path, auth, contentType, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *server) checkout(t *testing.T, provider string) uint64 {
	t.Helper()
	rec := s.do(http.MethodPost, "/v1/bookings/1/payments", bearer(t, customer, "CUSTOMER"),
		echo.MIMEApplicationJSON, `{"provider":"`+provider+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return uint64(decode(t, rec)["id"].(float64))
}

func (s *server) payme(t *testing.T, auth, method string, params map[string]any) map[string]any {
	t.Helper()
	body, err := json.Marshal(map[string]any{"method": method, "params": params, "id": 1})
	require.NoError(t, err)
	rec := s.do(http.MethodPost, "/payments/payme", auth, echo.MIMEApplicationJSON, string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	return decode(t, rec)
}

func paymeAuth(secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("Paycom:"+secret))
}

func TestProbes(t *testing.T) {
	s := newServer(t, pinger{})
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/healthz", "", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/readyz", "", "", "").Code)

	down := newServer(t, pinger{err: errors.New("refused")})
	assert.Equal(t, http.StatusOK, down.do(http.MethodGet, "/healthz", "", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, down.do(http.MethodGet, "/readyz", "", "", "").Code)
}

func TestCheckoutAuthorization(t *testing.T) {
	s := newServer(t, pinger{})
	path := "/v1/bookings/1/payments"
	body := `{"provider":"payme"}`

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, path, "", echo.MIMEApplicationJSON, body).Code)
	assert.Equal(t, http.StatusForbidden,
		s.do(http.MethodPost, path, bearer(t, customer, "OWNER"), echo.MIMEApplicationJSON, body).Code)
	assert.Equal(t, http.StatusNotFound,
		s.do(http.MethodPost, path, bearer(t, 6, "CUSTOMER"), echo.MIMEApplicationJSON, body).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPost, path, bearer(t, customer, "CUSTOMER"), echo.MIMEApplicationJSON, `{"provider":"paypal"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(http.MethodPost, "/v1/bookings/x/payments", bearer(t, customer, "CUSTOMER"), echo.MIMEApplicationJSON, body).Code)

	first := s.checkout(t, "payme")
	assert.Equal(t, first, s.checkout(t, "payme"))
}

func TestPaymeOverHTTP(t *testing.T) {
	s := newServer(t, pinger{})
	id := s.checkout(t, "payme")
	account := map[string]any{"order_id": id}

	denied := s.payme(t, paymeAuth("wrong"), payme.MethodCheckPerformTransaction,
		map[string]any{"amount": 50000, "account": account})
	assert.Equal(t, float64(payme.CodeUnauthorized), denied["error"].(map[string]any)["code"])

	auth := paymeAuth(paymeKey)
	created := s.payme(t, auth, payme.MethodCreateTransaction,
		map[string]any{"id": "P-1", "time": now.UnixMilli(), "amount": 50000, "account": account})
	require.Nil(t, created["error"], created)
	assert.Equal(t, float64(1), created["result"].(map[string]any)["state"])

	performed := s.payme(t, auth, payme.MethodPerformTransaction, map[string]any{"id": "P-1"})
	require.Nil(t, performed["error"], performed)
	assert.Equal(t, float64(2), performed["result"].(map[string]any)["state"])

	seat, _ := s.store.Seat(1)
	assert.Equal(t, model.SeatOccupied, seat.Status)

	rec := s.do(http.MethodPost, "/payments/payme", auth, echo.MIMEApplicationJSON, `{broken`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(payme.CodeInvalidRequest), decode(t, rec)["error"].(map[string]any)["code"])
}

func TestClickOverHTTP(t *testing.T) {
	s := newServer(t, pinger{})
	id := s.checkout(t, "click")

	r := click.Request{
		ClickTransID: "9001", ServiceID: serviceID, ClickPaydocID: "1", MerchantTransID: strconv.FormatUint(id, 10),
		Amount: "500.00", Action: click.ActionPrepare, Error: "0", SignTime: "2026-05-02 12:00:00",
	}
	r.SignString = click.Sign(r, clickKey)
	form := url.Values{}
	form.Set("click_trans_id", r.ClickTransID)
	form.Set("service_id", r.ServiceID)
	form.Set("click_paydoc_id", r.ClickPaydocID)
	form.Set("merchant_trans_id", r.MerchantTransID)
	form.Set("amount", r.Amount)
	form.Set("action", r.Action)
	form.Set("error", r.Error)
	form.Set("sign_time", r.SignTime)
	form.Set("sign_string", r.SignString)

	rec := s.do(http.MethodPost, "/payments/click/prepare", "", echo.MIMEApplicationForm, form.Encode())
	require.Equal(t, http.StatusOK, rec.Code)
	prepared := decode(t, rec)
	require.Equal(t, float64(click.CodeSuccess), prepared["error"], prepared)
	prepareID := strconv.FormatFloat(prepared["merchant_prepare_id"].(float64), 'f', 0, 64)

	r.Action = click.ActionComplete
	r.MerchantPrepareID = prepareID
	r.SignString = click.Sign(r, clickKey)
	body, err := json.Marshal(map[string]any{
		"click_trans_id": 9001, "service_id": 77, "click_paydoc_id": 1, "merchant_trans_id": r.MerchantTransID,
		"merchant_prepare_id": prepareID, "amount": "500.00", "action": 1, "error": 0,
		"sign_time": r.SignTime, "sign_string": r.SignString,
	})
	require.NoError(t, err)
	rec = s.do(http.MethodPost, "/payments/click/complete", "", echo.MIMEApplicationJSON, string(body))
	completed := decode(t, rec)
	require.Equal(t, float64(click.CodeSuccess), completed["error"], completed)
	assert.NotNil(t, completed["merchant_confirm_id"])

	rec = s.do(http.MethodPost, "/payments/click/complete", "", echo.MIMEApplicationJSON, `{"amount": {}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(click.CodeBadRequest), decode(t, rec)["error"])
}

func TestOwnerEndpoints(t *testing.T) {
	s := newServer(t, pinger{})
	id := s.checkout(t, "payme")
	auth := paymeAuth(paymeKey)
	account := map[string]any{"order_id": id}
	s.payme(t, auth, payme.MethodCreateTransaction,
		map[string]any{"id": "P-2", "time": now.UnixMilli(), "amount": 50000, "account": account})
	s.payme(t, auth, payme.MethodPerformTransaction, map[string]any{"id": "P-2"})

	owner := bearer(t, 1, "OWNER")
	path := "/v1/payments/" + strconv.FormatUint(id, 10)

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, path, bearer(t, customer, "CUSTOMER"), "", "").Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/payments/999", owner, "", "").Code)

	rec := s.do(http.MethodGet, path, owner, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode(t, rec)
	assert.Equal(t, "COMPLETED", snap["payment"].(map[string]any)["status"])
	assert.Equal(t, "OCCUPIED", snap["seat"].(map[string]any)["status"])
	assert.Len(t, snap["ledger"], 2)

	refund := func(body, key string) *httptest.ResponseRecorder {
		return s.do(http.MethodPost, path+"/refund", owner, echo.MIMEApplicationJSON, body, "Idempotency-Key", key)
	}
	rec = refund(`{"amount":"100.00","reason":"partial"}`, "r-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "100.00", decode(t, rec)["refunded_amount"])

	rec = refund(`{"amount":"100.00","reason":"partial"}`, "r-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100.00", decode(t, rec)["refunded_amount"])

	assert.Equal(t, http.StatusConflict, refund(`{"amount":"450.00"}`, "r-2").Code)
	assert.Equal(t, http.StatusBadRequest, refund(`{"amount":"-1"}`, "r-3").Code)

	rec = refund(`{}`, "r-4")
	require.Equal(t, http.StatusOK, rec.Code)
	full := decode(t, rec)
	assert.Equal(t, "CANCELLED", full["status"])
	assert.Equal(t, "500.00", full["refunded_amount"])

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodPost, "/v1/ledger/999/retry", owner, "", "").Code)
}

func TestThrottledProviderCalls(t *testing.T) {
	throttle := func(reject middleware.RejectFunc) echo.MiddlewareFunc {
		return func(echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error { return reject(c, 1) }
		}
	}
	s := newServerWith(t, pinger{}, throttle)

	rec := s.do(http.MethodPost, "/payments/payme", paymeAuth(paymeKey), echo.MIMEApplicationJSON,
		`{"method":"CheckTransaction","params":{"id":"tx"},"id":42}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rpc := decode(t, rec)
	assert.Equal(t, float64(42), rpc["id"])
	assert.Equal(t, float64(payme.CodeInternal), rpc["error"].(map[string]any)["code"])

	form := url.Values{}
	form.Set("click_trans_id", "9001")
	form.Set("merchant_trans_id", "1")
	for _, path := range []string{"/payments/click/prepare", "/payments/click/complete"} {
		rec = s.do(http.MethodPost, path, "", echo.MIMEApplicationForm, form.Encode())
		require.Equal(t, http.StatusOK, rec.Code, path)
		body := decode(t, rec)
		assert.Equal(t, float64(click.CodeUpdateFailed), body["error"], path)
		assert.Equal(t, float64(9001), body["click_trans_id"], path)
		assert.Equal(t, "1", body["merchant_trans_id"], path)
		assert.NotEmpty(t, body["error_note"], path)
	}
}
