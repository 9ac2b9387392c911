package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/iliyamo/venue-booking-payments/internal/handler"    // handlers that drive the payment engine
	"github.com/iliyamo/venue-booking-payments/internal/middleware" // JWT authentication, role enforcement
)

// RegisterRoutes registers the unauthenticated probes.  /healthz answers
// as long as the process runs; /readyz also checks the database.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterProviders registers the callback endpoints of both payment
// providers.  They authenticate with provider credentials checked by the
// adapters, never with a JWT.  limit builds the rate limiter around the
// rejection each provider understands, so throttled calls still get HTTP
// 200 in the provider's own format.
func RegisterProviders(e *echo.Echo, h *handler.ProviderHandler, limit func(middleware.RejectFunc) echo.MiddlewareFunc) {
	g := e.Group("/payments")
	g.POST("/payme", h.PaymeRPC, limit(h.PaymeBusy))

	clickLimit := limit(h.ClickBusy)
	g.POST("/click/prepare", h.ClickPrepare, clickLimit)
	g.POST("/click/complete", h.ClickComplete, clickLimit)
}

// RegisterPayments registers the authenticated payment API under /v1.
// Customers start a checkout for their booking; owners inspect, refund
// and retry.
func RegisterPayments(e *echo.Echo, h *handler.PaymentHandler, jwtSecret string, limit echo.MiddlewareFunc) {
	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), limit)

	customer := middleware.RequireRole("CUSTOMER")
	owner := middleware.RequireRole("OWNER")

	auth.POST("/bookings/:id/payments", h.Checkout, customer)
	auth.GET("/payments/:id", h.Snapshot, owner)
	auth.POST("/payments/:id/refund", h.Refund, owner)
	auth.POST("/ledger/:id/retry", h.RetryEntry, owner)
}
