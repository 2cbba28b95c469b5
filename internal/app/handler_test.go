package app

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stolasapp/framecast/internal/app/component"
	"github.com/stolasapp/framecast/internal/config"
	"github.com/stolasapp/framecast/internal/sec"
	"github.com/stolasapp/framecast/internal/storage"
	"github.com/stolasapp/framecast/internal/stream"
)

const testCSRF = "0123456789abcdef0123456789abcdef"

type fixture struct {
	srv   *echo.Echo
	gate  *sec.Gate
	store *storage.File
	slot  *stream.Slot
}

func newFixture(t *testing.T, requireAuth bool) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cfg := config.Default()
	cfg.RequireAuth = requireAuth

	slot := stream.NewSlot(nil)
	streamer, err := stream.NewStreamer(slot, stream.Config{FrameRate: 1000}, nil)
	require.NoError(t, err)

	fx := &fixture{slot: slot}
	if !requireAuth {
		fx.gate = sec.Passthrough()
		fx.srv = New(cfg, logger, fx.gate, streamer, nil)
		return fx
	}

	dir := t.TempDir()
	fx.store, err = storage.NewFile(t.Context(), filepath.Join(dir, "logins"), filepath.Join(dir, ".login"), logger)
	require.NoError(t, err)
	_, err = fx.store.Add(t.Context(), "alice", "s3cret")
	require.NoError(t, err)

	fx.gate, err = sec.NewGate(t.Context(), fx.store, sec.WithLogger(logger))
	require.NoError(t, err)
	fx.srv = New(cfg, logger, fx.gate, streamer, fx.store)
	return fx
}

func (fx *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	fx.srv.ServeHTTP(rec, req)
	return rec
}

func changePasswordRequest(t *testing.T, form url.Values) *http.Request {
	t.Helper()
	form.Set(component.FieldCSRF, testCSRF)
	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, component.PathChangePassword,
		strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	req.AddCookie(&http.Cookie{Name: "_csrf", Value: testCSRF})
	return req
}

func TestGatedRoutes(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true)
	guest, _, err := fx.gate.Guest(t.Context())
	require.NoError(t, err)

	tests := []struct {
		name       string
		user, pass string
		noAuth     bool
		wantStatus int
	}{
		{name: "stored user", user: "alice", pass: "s3cret", wantStatus: http.StatusOK},
		{name: "guest", user: sec.GuestUsername, pass: guest, wantStatus: http.StatusOK},
		{name: "wrong password", user: "alice", pass: "nope", wantStatus: http.StatusUnauthorized},
		{name: "no credentials", noAuth: true, wantStatus: http.StatusUnauthorized},
	}

	for _, path := range []string{component.PathIndex, component.PathGuest} {
		for _, tt := range tests {
			t.Run(path+"/"+tt.name, func(t *testing.T) {
				t.Parallel()
				req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, path, nil)
				if !tt.noAuth {
					req.SetBasicAuth(tt.user, tt.pass)
				}
				rec := fx.do(req)
				assert.Equal(t, tt.wantStatus, rec.Code)
				if tt.wantStatus == http.StatusUnauthorized {
					assert.Equal(t, `Basic realm="Login Required"`, rec.Header().Get(echo.HeaderWWWAuthenticate))
				}
			})
		}
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	rec := fx.do(httptest.NewRequestWithContext(t.Context(), http.MethodGet, component.PathIndex, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `src="/video_feed"`)
	assert.Equal(t, echo.MIMETextHTMLCharsetUTF8, rec.Header().Get(echo.HeaderContentType))
}

func TestGuestPage(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true)
	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, component.PathGuest, nil)
	req.SetBasicAuth("alice", "s3cret")
	rec := fx.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	guest, _, err := fx.gate.Guest(t.Context())
	require.NoError(t, err)
	assert.Contains(t, rec.Body.String(), guest)
}

func TestGuestPage_AuthNotRequired(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	rec := fx.do(httptest.NewRequestWithContext(t.Context(), http.MethodGet, component.PathGuest, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, component.NotNeeded, rec.Body.String())
}

func TestStream(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	fx.slot.Publish([]byte("JPEG"))

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	rec := fx.do(httptest.NewRequestWithContext(ctx, http.MethodGet, component.PathStream, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, stream.ContentType, rec.Header().Get(echo.HeaderContentType))
	assert.True(t, rec.Flushed)
	part := string(stream.Part([]byte("JPEG")))
	assert.True(t, strings.HasPrefix(rec.Body.String(), part))
	assert.Equal(t, 0, len(rec.Body.String())%len(part), "body is whole parts")
}

func TestChangePasswordForm(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true)
	rec := fx.do(httptest.NewRequestWithContext(t.Context(), http.MethodGet, component.PathChangePassword, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="`+component.FieldCSRF+`"`)

	var cookie bool
	for _, c := range rec.Result().Cookies() {
		cookie = cookie || c.Name == "_csrf"
	}
	assert.True(t, cookie, "csrf cookie issued")
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		form       url.Values
		wantReason string
	}{
		{
			name:       "mismatch",
			form:       url.Values{"username": {"alice"}, "old_pw": {"s3cret"}, "pw": {"a"}, "pw_conf": {"b"}},
			wantReason: reasonMismatch,
		},
		{
			name:       "unknown user",
			form:       url.Values{"username": {"bob"}, "old_pw": {"s3cret"}, "pw": {"a"}, "pw_conf": {"a"}},
			wantReason: reasonUnknownUser,
		},
		{
			name:       "wrong old password",
			form:       url.Values{"username": {"alice"}, "old_pw": {"nope"}, "pw": {"a"}, "pw_conf": {"a"}},
			wantReason: reasonWrongOldPass,
		},
		{
			name:       "invalid new password",
			form:       url.Values{"username": {"alice"}, "old_pw": {"s3cret"}, "pw": {"a b"}, "pw_conf": {"a b"}},
			wantReason: storage.ErrInvalidCredential.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fx := newFixture(t, true)
			rec := fx.do(changePasswordRequest(t, tt.form))
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), `data-outcome="fail"`)
			assert.Contains(t, rec.Body.String(), templ.EscapeString(tt.wantReason), "reason is rendered HTML-escaped")

			password, ok := fx.store.Lookup("alice")
			require.True(t, ok)
			assert.Equal(t, "s3cret", password)
		})
	}
}

func TestChangePassword_Success(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true)
	rec := fx.do(changePasswordRequest(t, url.Values{
		"username": {"alice"}, "old_pw": {"s3cret"}, "pw": {"n3w"}, "pw_conf": {"n3w"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-outcome="pass"`)

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, component.PathIndex, nil)
	req.SetBasicAuth("alice", "n3w")
	assert.Equal(t, http.StatusOK, fx.do(req).Code)

	req = httptest.NewRequestWithContext(t.Context(), http.MethodGet, component.PathIndex, nil)
	req.SetBasicAuth("alice", "s3cret")
	assert.Equal(t, http.StatusUnauthorized, fx.do(req).Code)
}

func TestChangePassword_RequiresCSRF(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, true)
	form := url.Values{"username": {"alice"}, "old_pw": {"s3cret"}, "pw": {"n3w"}, "pw_conf": {"n3w"}}
	req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, component.PathChangePassword,
		strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	rec := fx.do(req)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	password, ok := fx.store.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, "s3cret", password)
}

func TestChangePassword_AuthNotRequired(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, false)
	rec := fx.do(httptest.NewRequestWithContext(t.Context(), http.MethodGet, component.PathChangePassword, nil))
	assert.Equal(t, component.NotNeeded, rec.Body.String())

	rec = fx.do(changePasswordRequest(t, url.Values{}))
	assert.Equal(t, component.NotNeeded, rec.Body.String())
}
