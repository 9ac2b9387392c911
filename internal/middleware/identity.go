package middleware

// identity.go holds the accessors for what JWTAuth stores in the Echo
// context.  Handlers and the rate limiter read the caller through these
// instead of poking at c.Get directly.

import (
    "errors"
    "strconv"

    "github.com/labstack/echo/v4"
)

const (
    ctxUserID = "user_id"
    ctxRole   = "role"
)

// ErrNoIdentity is returned by UserID when the request carries no usable
// subject claim.
var ErrNoIdentity = errors.New("invalid user_id in context")

// UserID returns the authenticated subject as a numeric id.
func UserID(c echo.Context) (uint64, error) {
    switch t := c.Get(ctxUserID).(type) {
    case uint64:
        return t, nil
    case float64:
        if t > 0 {
            return uint64(t), nil
        }
    case string:
        if n, err := strconv.ParseUint(t, 10, 64); err == nil {
            return n, nil
        }
    }
    return 0, ErrNoIdentity
}

// Role returns the authenticated role or "" for anonymous requests.
func Role(c echo.Context) string {
    r, _ := c.Get(ctxRole).(string)
    return r
}

// userKey identifies the caller for rate-limit keys; "anon" when no
// token was presented.
func userKey(c echo.Context) string {
    if id, err := UserID(c); err == nil {
        return strconv.FormatUint(id, 10)
    }
    return "anon"
}
