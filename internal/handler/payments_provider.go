package handler

import (
    "io"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/venue-booking-payments/internal/provider/click"
    "github.com/iliyamo/venue-booking-payments/internal/provider/payme"
)

// maxCallbackBody caps provider callback bodies.
const maxCallbackBody = 1 << 20

// ProviderHandler serves the endpoints payment providers call.  Protocol
// errors are part of the response body, so every reply is HTTP 200.
type ProviderHandler struct {
    Payme *payme.Adapter
    Click *click.Adapter
}

// NewProviderHandler wires both adapters.
func NewProviderHandler(p *payme.Adapter, c *click.Adapter) *ProviderHandler {
    return &ProviderHandler{Payme: p, Click: c}
}

// PaymeRPC handles POST /payments/payme.
func (h *ProviderHandler) PaymeRPC(c echo.Context) error {
    body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
    if err != nil {
        body = nil
    }
    resp := h.Payme.Handle(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization), body)
    return c.JSON(http.StatusOK, resp)
}

// ClickPrepare handles POST /payments/click/prepare.
func (h *ProviderHandler) ClickPrepare(c echo.Context) error {
    return c.JSON(http.StatusOK, h.Click.Prepare(c.Request().Context(), clickRequest(c)))
}

// ClickComplete handles POST /payments/click/complete.
func (h *ProviderHandler) ClickComplete(c echo.Context) error {
    return c.JSON(http.StatusOK, h.Click.Complete(c.Request().Context(), clickRequest(c)))
}

// PaymeBusy answers a throttled Payme call inside the RPC envelope.
func (h *ProviderHandler) PaymeBusy(c echo.Context, _ int) error {
    body, _ := io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
    return c.JSON(http.StatusOK, payme.Busy(body))
}

// ClickBusy answers a throttled Click webhook in its fixed shape.
func (h *ProviderHandler) ClickBusy(c echo.Context, _ int) error {
    return c.JSON(http.StatusOK, h.Click.Busy(clickRequest(c)))
}

// clickRequest reads a form or JSON callback.  Unreadable input yields an
// empty request, which the adapter answers as malformed.
func clickRequest(c echo.Context) click.Request {
    req := c.Request()
    if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
        body, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBody))
        if err != nil {
            return click.Request{}
        }
        r, err := click.ParseJSON(body)
        if err != nil {
            return click.Request{}
        }
        return r
    }
    form, err := c.FormParams()
    if err != nil {
        return click.Request{}
    }
    return click.ParseForm(form)
}
