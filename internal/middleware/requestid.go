package middleware

import (
    "github.com/google/uuid"
    "github.com/labstack/echo/v4"
)

// HeaderRequestID carries the correlation id in both directions.
const HeaderRequestID = "X-Request-ID"

const ctxRequestID = "request_id"

// RequestID reuses an inbound X-Request-ID or mints a UUID, stores it in
// the context and echoes it on the response.
func RequestID() echo.MiddlewareFunc {
    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            id := c.Request().Header.Get(HeaderRequestID)
            if id == "" || len(id) > 128 {
                id = uuid.NewString()
            }
            c.Set(ctxRequestID, id)
            c.Response().Header().Set(HeaderRequestID, id)
            return next(c)
        }
    }
}

// GetRequestID returns the id assigned by RequestID, if any.
func GetRequestID(c echo.Context) string {
    id, _ := c.Get(ctxRequestID).(string)
    return id
}
