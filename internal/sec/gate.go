package sec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stolasapp/framecast/internal/observability"
	"github.com/stolasapp/framecast/internal/storage"
)

// Guest credential defaults.
const (
	// GuestUsername is the username that authenticates with the guest password.
	GuestUsername = "guest"
	// DefaultGuestTTL is how long a guest password remains valid.
	DefaultGuestTTL = 24 * time.Hour
	// DefaultRealm is the Basic Auth realm sent with a [Challenge].
	DefaultRealm = "Login Required"

	guestPasswordSize = storage.KeySize
)

// ErrAuthNotRequired is returned by guest accessors on a passthrough gate.
var ErrAuthNotRequired = errors.New("auth not required")

// Option configures a [Gate].
type Option func(*Gate)

// WithGuestTTL overrides [DefaultGuestTTL].
func WithGuestTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.ttl = ttl }
}

// WithRealm overrides [DefaultRealm].
func WithRealm(realm string) Option {
	return func(g *Gate) { g.realm = realm }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithLogger sets the logger used to surface guest passwords and
// authorization errors.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) { g.logger = logger }
}

// WithMetrics records authorization decisions and guest rotations.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(g *Gate) { g.metrics = metrics }
}

type guestCredential struct {
	password  string
	createdAt time.Time
}

// Gate decides whether a username/password pair may access the stream.
// Whether auth is required is fixed at construction.
type Gate struct {
	creds    storage.Credentials
	required bool

	ttl     time.Duration
	realm   string
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics

	mu    sync.Mutex
	guest *guestCredential
}

// NewGate returns a Gate that requires auth, checking creds and a guest
// credential. The first guest password is minted and logged immediately.
func NewGate(ctx context.Context, creds storage.Credentials, opts ...Option) (*Gate, error) {
	if creds == nil {
		return nil, errors.New("credentials are required")
	}
	g := newGate(opts)
	g.creds = creds
	g.required = true
	if _, err := g.freshGuest(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Passthrough returns a Gate that authorizes every request.
func Passthrough(opts ...Option) *Gate {
	return newGate(opts)
}

func newGate(opts []Option) *Gate {
	g := &Gate{
		ttl:    DefaultGuestTTL,
		realm:  DefaultRealm,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Required reports whether the gate checks credentials at all.
func (g *Gate) Required() bool {
	return g.required
}

// Authorize reports whether username and password grant access. The guest
// credential is rotated first if it has expired, and the credential file is
// reloaded on every call. An error means the decision could not be made; the
// request must be denied.
func (g *Gate) Authorize(ctx context.Context, username, password string) (bool, error) {
	if !g.required {
		g.metrics.AuthDecision(observability.AuthAllow)
		return true, nil
	}

	guest, err := g.freshGuest(ctx)
	if err != nil {
		g.metrics.AuthDecision(observability.AuthError)
		return false, err
	}

	err = g.creds.Reload(ctx)
	g.metrics.CredentialReload(err)
	if err != nil {
		g.metrics.AuthDecision(observability.AuthError)
		return false, fmt.Errorf("reloading credentials: %w", err)
	}

	var allowed bool
	if stored, ok := g.creds.Lookup(username); ok {
		// Exact string comparison, not constant-time.
		allowed = password == stored
	} else {
		allowed = username == GuestUsername && password == guest.password
	}

	if allowed {
		g.metrics.AuthDecision(observability.AuthAllow)
	} else {
		g.metrics.AuthDecision(observability.AuthDeny)
	}
	return allowed, nil
}

// Guest returns the current guest password and when it expires, rotating it
// first if needed.
func (g *Gate) Guest(ctx context.Context) (password string, expires time.Time, err error) {
	if !g.required {
		return "", time.Time{}, ErrAuthNotRequired
	}
	guest, err := g.freshGuest(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	return guest.password, guest.createdAt.Add(g.ttl), nil
}

// Challenge returns the response sent when a request is denied.
func (g *Gate) Challenge() Challenge {
	return Challenge{Realm: g.realm, Message: challengeMessage}
}

// freshGuest returns the guest credential, minting a new one if none exists
// or the current one is at least ttl old.
func (g *Gate) freshGuest(ctx context.Context) (guestCredential, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.guest != nil && now.Sub(g.guest.createdAt) < g.ttl {
		return *g.guest, nil
	}

	password, err := storage.GenerateToken(guestPasswordSize)
	if err != nil {
		return guestCredential{}, fmt.Errorf("generating guest password: %w", err)
	}
	g.guest = &guestCredential{password: password, createdAt: now}
	g.metrics.GuestRotated()
	g.logger.WarnContext(ctx,
		"generated guest password",
		slog.String("username", GuestUsername),
		slog.String("password", password),
		slog.Time("expires", now.Add(g.ttl)),
	)
	return *g.guest, nil
}
