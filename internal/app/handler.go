package app

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/stolasapp/framecast/internal/app/component"
	"github.com/stolasapp/framecast/internal/sec"
	"github.com/stolasapp/framecast/internal/storage"
	"github.com/stolasapp/framecast/internal/stream"
)

// Reasons a password change is rejected.
const (
	reasonMismatch     = "New passwords did not match"
	reasonUnknownUser  = "Username doesn't exist"
	reasonWrongOldPass = "Old password was incorrect"
)

type handler struct {
	logger   *slog.Logger
	gate     *sec.Gate
	streamer *stream.Streamer
	store    storage.Store
}

func (h handler) index(c echo.Context) error {
	return render(c, component.Index())
}

func (h handler) stream(c echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, stream.ContentType)
	res.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for part := range h.streamer.Subscribe(c.Request().Context()) {
		if _, err := res.Write(part); err != nil {
			h.logger.DebugContext(c.Request().Context(), "stream consumer went away", slog.Any("error", err))
			return nil
		}
		res.Flush()
	}
	return nil
}

func (h handler) guest(c echo.Context) error {
	password, expires, err := h.gate.Guest(c.Request().Context())
	if errors.Is(err, sec.ErrAuthNotRequired) {
		return c.String(http.StatusOK, component.NotNeeded)
	}
	if err != nil {
		return err
	}
	return render(c, component.Guest(password, expires))
}

func (h handler) changePasswordForm(c echo.Context) error {
	if !h.authEnabled() {
		return c.String(http.StatusOK, component.NotNeeded)
	}
	return render(c, component.ChangePassword(csrfToken(c)))
}

func (h handler) changePassword(c echo.Context) error {
	if !h.authEnabled() {
		return c.String(http.StatusOK, component.NotNeeded)
	}

	ctx := c.Request().Context()
	username := c.FormValue(component.FieldUsername)
	newPassword := c.FormValue(component.FieldNewPassword)

	if newPassword != c.FormValue(component.FieldConfirmPassword) {
		return render(c, component.ChangePasswordFail(reasonMismatch))
	}
	if err := h.store.Reload(ctx); err != nil {
		return err
	}
	stored, ok := h.store.Lookup(username)
	if !ok {
		return render(c, component.ChangePasswordFail(reasonUnknownUser))
	}
	// Exact string comparison, not constant-time.
	if stored != c.FormValue(component.FieldOldPassword) {
		return render(c, component.ChangePasswordFail(reasonWrongOldPass))
	}

	changed, err := h.store.Replace(ctx, username, newPassword)
	switch {
	case errors.Is(err, storage.ErrInvalidCredential):
		return render(c, component.ChangePasswordFail(err.Error()))
	case err != nil:
		return err
	case !changed:
		return render(c, component.ChangePasswordFail(reasonUnknownUser))
	}

	h.logger.InfoContext(ctx, "password changed", slog.String("username", username))
	return render(c, component.ChangePasswordPass())
}

func (h handler) authEnabled() bool {
	return h.gate.Required() && h.store != nil
}

func csrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}

var renderBufferPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

func render(c echo.Context, component templ.Component) error {
	buf := renderBufferPool.Get().(*bytes.Buffer) //nolint:forcetypeassert // guaranteed by impl
	defer renderBufferPool.Put(buf)
	buf.Reset()

	if err := component.Render(c.Request().Context(), buf); err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	c.Response().WriteHeader(http.StatusOK)
	_, err := io.Copy(c.Response(), buf)
	return err
}
