package sec

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const challengeMessage = "Authentication Failed. Please reload to log in with proper credentials"

// Challenge is the 401 response that prompts a client for Basic Auth
// credentials.
type Challenge struct {
	Realm   string
	Message string
}

// Status returns the HTTP status code of the challenge.
func (Challenge) Status() int { return http.StatusUnauthorized }

// Header returns the WWW-Authenticate header value.
func (c Challenge) Header() string {
	return "Basic realm=" + strconv.Quote(c.Realm)
}

// Respond writes the challenge as a plain text response.
func (c Challenge) Respond(ctx echo.Context) error {
	ctx.Response().Header().Set(echo.HeaderWWWAuthenticate, c.Header())
	return ctx.String(c.Status(), c.Message)
}

// Middleware returns echo middleware that only calls the wrapped handler
// if the request's Basic Auth credentials are authorized. Any failure,
// including an error while deciding, responds with the [Challenge].
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !g.required {
				return next(c)
			}
			req := c.Request()
			ctx := req.Context()
			if username, password, ok := req.BasicAuth(); ok {
				allowed, err := g.Authorize(ctx, username, password)
				if err != nil {
					g.logger.ErrorContext(ctx,
						"authorization failed",
						slog.String("username", username),
						slog.Any("error", err),
					)
				}
				if allowed {
					c.SetRequest(req.WithContext(SetAuthenticatedUser(ctx, username)))
					return next(c)
				}
			}
			return g.Challenge().Respond(c)
		}
	}
}

type userKey struct{}

// GetAuthenticatedUser returns the username authorized for this request, or
// an empty string if the gate did not authenticate one.
func GetAuthenticatedUser(ctx context.Context) string {
	username, _ := ctx.Value(userKey{}).(string)
	return username
}

// SetAuthenticatedUser sets the username for an authorized request. The
// [Gate.Middleware] automatically injects this information; this function is
// provided as a convenience for testing.
func SetAuthenticatedUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey{}, username)
}
