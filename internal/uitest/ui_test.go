package uitest

import (
	"context"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stolasapp/framecast/internal/app/component"
	"github.com/stolasapp/framecast/internal/sec"
)

// defaultTimeout bounds every request made by the tests.
const defaultTimeout = 10 * time.Second

var csrfPattern = regexp.MustCompile(`name="` + component.FieldCSRF + `" value="([^"]+)"`)

type client struct {
	*http.Client

	t      *testing.T
	server *Server
}

func newClient(t *testing.T, server *Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{
		Client: &http.Client{Jar: jar, Timeout: defaultTimeout},
		t:      t,
		server: server,
	}
}

// get issues a GET with optional Basic Auth credentials and returns the
// response with its body fully read.
func (c *client) get(path, username, password string) (*http.Response, string) {
	c.t.Helper()
	req, err := http.NewRequestWithContext(c.t.Context(), http.MethodGet, c.server.URL(path), nil)
	require.NoError(c.t, err)
	if username != "" {
		req.SetBasicAuth(username, password)
	}
	return c.read(req)
}

func (c *client) postForm(path string, form url.Values) (*http.Response, string) {
	c.t.Helper()
	req, err := http.NewRequestWithContext(c.t.Context(), http.MethodPost, c.server.URL(path),
		strings.NewReader(form.Encode()))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.read(req)
}

func (c *client) read(req *http.Request) (*http.Response, string) {
	c.t.Helper()
	resp, err := c.Do(req)
	require.NoError(c.t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, resp.Body.Close())
	require.NoError(c.t, err)
	return resp, string(body)
}

// TestUI is the parent test that sets up the server, then runs all
// end-to-end subtests. It skips when running with -short flag.
func TestUI(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping UI tests in short mode")
	}

	server := newTestServer()
	t.Cleanup(server.Close)
	require.NoError(t, server.AddLogin(t.Context(), "alice", "s3cret"))

	t.Run("Challenge", func(t *testing.T) {
		testChallenge(t, server)
	})
	t.Run("StoredLogin", func(t *testing.T) {
		testStoredLogin(t, server)
	})
	t.Run("ExternalEdit", func(t *testing.T) {
		testExternalEdit(t, server)
	})
	t.Run("GuestLogin", func(t *testing.T) {
		testGuestLogin(t, server)
	})
	t.Run("Stream", func(t *testing.T) {
		testStream(t, server)
	})
	t.Run("ChangePassword", func(t *testing.T) {
		testChangePassword(t, server)
	})
	t.Run("Metrics", func(t *testing.T) {
		testMetrics(t, server)
	})
}

func testChallenge(t *testing.T, server *Server) {
	c := newClient(t, server)
	for _, path := range []string{component.PathIndex, component.PathStream, component.PathGuest} {
		resp, body := c.get(path, "", "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Equal(t, `Basic realm="`+sec.DefaultRealm+`"`, resp.Header.Get("WWW-Authenticate"), path)
		assert.Contains(t, body, "Authentication Failed", path)
	}

	resp, _ := c.get(component.PathIndex, "alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func testStoredLogin(t *testing.T, server *Server) {
	c := newClient(t, server)
	resp, body := c.get(component.PathIndex, "alice", "s3cret")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `id="`+component.IDStream+`"`)
}

func testExternalEdit(t *testing.T, server *Server) {
	c := newClient(t, server)
	resp, _ := c.get(component.PathIndex, "carol", "pw")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	other, err := server.OpenStore(t.Context())
	require.NoError(t, err)
	added, err := other.Add(t.Context(), "carol", "pw")
	require.NoError(t, err)
	require.True(t, added)

	resp, _ = c.get(component.PathIndex, "carol", "pw")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "picked up without restart")

	removed, err := other.Remove(t.Context(), "carol")
	require.NoError(t, err)
	require.True(t, removed)

	resp, _ = c.get(component.PathIndex, "carol", "pw")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "revoked without restart")
}

func testGuestLogin(t *testing.T, server *Server) {
	guest, err := server.GuestPassword(t.Context())
	require.NoError(t, err)

	c := newClient(t, server)
	resp, body := c.get(component.PathGuest, sec.GuestUsername, guest)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, guest)
}

func testStream(t *testing.T, server *Server) {
	ctx, cancel := context.WithTimeout(t.Context(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL(component.PathStream), nil)
	require.NoError(t, err)
	req.SetBasicAuth("alice", "s3cret")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)
	require.Equal(t, "frame", params["boundary"])

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for range 3 {
		part, err := reader.NextPart()
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", part.Header.Get("Content-Type"))

		cfg, err := jpeg.DecodeConfig(part)
		require.NoError(t, err)
		assert.Equal(t, TestWidth, cfg.Width)
		assert.Equal(t, TestHeight, cfg.Height)
	}
}

func testChangePassword(t *testing.T, server *Server) {
	require.NoError(t, server.AddLogin(t.Context(), "dave", "old"))

	c := newClient(t, server)
	resp, body := c.get(component.PathChangePassword, "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	match := csrfPattern.FindStringSubmatch(body)
	require.Len(t, match, 2)

	resp, body = c.postForm(component.PathChangePassword, url.Values{
		component.FieldCSRF:            {match[1]},
		component.FieldUsername:        {"dave"},
		component.FieldOldPassword:     {"old"},
		component.FieldNewPassword:     {"new"},
		component.FieldConfirmPassword: {"new"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `data-outcome="pass"`)

	resp, _ = c.get(component.PathIndex, "dave", "new")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = c.get(component.PathIndex, "dave", "old")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func testMetrics(t *testing.T, server *Server) {
	rec := httptest.NewRecorder()
	server.Metrics().Handler().ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `framecast_auth_decisions_total{result="allow"}`)
	assert.Contains(t, rec.Body.String(), `framecast_auth_decisions_total{result="deny"}`)
	assert.Contains(t, rec.Body.String(), "framecast_frames_published_total")
}
