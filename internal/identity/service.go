// Package identity is the server side of passwordless email-link sign-in:
// it issues one-time links, completes sign-in against them, and
// authenticates the ID tokens it hands out.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/dukerupert/calshare/internal/model"
	"github.com/dukerupert/calshare/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

const (
	maxEmailAttempts = 5
	tokenIssuer      = "calshare"

	modeSignIn = "signIn"
)

var (
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidActionCode covers unknown, expired and already used links.
	ErrInvalidActionCode = errors.New("sign-in link is invalid or has expired")
	ErrEmailMismatch     = errors.New("email does not match the sign-in link")
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidReturnURL  = errors.New("return url is not allowed")
)

// Identity is the public view of a signed-in user.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
}

// Credentials are returned by a successful sign-in.
type Credentials struct {
	User      Identity  `json:"user"`
	IDToken   string    `json:"id_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Principal is an authenticated caller.
type Principal struct {
	Identity
	SessionID string
}

// Mailer delivers sign-in links. *email.Client satisfies it.
type Mailer interface {
	Configured() bool
	SendSignInLink(ctx context.Context, to, link string, ttl time.Duration) error
}

// Metrics receives sign-in counts. *metrics.Collector satisfies it.
type Metrics interface {
	LinkRequested()
	SignIn(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) LinkRequested() {}
func (nopMetrics) SignIn(string)  {}

type Config struct {
	TokenSecret []byte
	LinkTTL     time.Duration
	SessionTTL  time.Duration
	// AllowedOrigins are scheme://host[:port] values a return URL may
	// point at. The first one is used when no return URL is given.
	AllowedOrigins []string
}

type Service struct {
	users    *store.UserStore
	links    *store.MagicLinkStore
	sessions *store.SessionStore
	mailer   Mailer
	cfg      Config
	logger   *slog.Logger
	metrics  Metrics
	ends     *sessionEnds
}

type Option func(*Service)

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(
	users *store.UserStore,
	links *store.MagicLinkStore,
	sessions *store.SessionStore,
	mailer Mailer,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		users:    users,
		links:    links,
		sessions: sessions,
		mailer:   mailer,
		cfg:      cfg,
		logger:   logger,
		metrics:  nopMetrics{},
		ends:     newSessionEnds(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestLink issues a one-time sign-in link for email that returns the
// user to returnURL, and emails it. When email delivery is not configured
// the link is logged instead.
func (s *Service) RequestLink(ctx context.Context, email, returnURL string) error {
	addr, err := model.NormalizeEmail(email)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	returnURL, err = s.checkReturnURL(returnURL)
	if err != nil {
		return err
	}

	ml, err := s.links.Create(addr, returnURL, s.cfg.LinkTTL)
	if err != nil {
		return err
	}
	link, err := BuildLink(returnURL, ml.Code)
	if err != nil {
		return err
	}
	s.metrics.LinkRequested()

	if s.mailer == nil || !s.mailer.Configured() {
		s.logger.Info("email not configured, sign-in link", "email", addr, "link", link)
		return nil
	}
	if err := s.mailer.SendSignInLink(ctx, addr, link, s.cfg.LinkTTL); err != nil {
		return fmt.Errorf("send sign-in link: %w", err)
	}
	s.logger.Info("sign-in link sent", "email", addr)
	return nil
}

// checkReturnURL resolves an empty return URL to the default origin and
// rejects any URL outside the allowed origins.
func (s *Service) checkReturnURL(raw string) (string, error) {
	if raw == "" {
		if len(s.cfg.AllowedOrigins) == 0 {
			return "", fmt.Errorf("%w: no default origin configured", ErrInvalidReturnURL)
		}
		return s.cfg.AllowedOrigins[0] + "/", nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidReturnURL, raw)
	}
	origin := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return raw, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidReturnURL, raw)
}

// BuildLink appends the sign-in mode and one-time code to returnURL.
func BuildLink(returnURL, code string) (string, error) {
	u, err := url.Parse(returnURL)
	if err != nil {
		return "", fmt.Errorf("parse return url: %w", err)
	}
	q := u.Query()
	q.Set("mode", modeSignIn)
	q.Set("oobCode", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IsCompletionURL reports whether raw is a sign-in completion link. A link
// wrapped in a "link" query parameter, as some mail redirectors do, is
// also recognised.
func IsCompletionURL(raw string) bool {
	return actionCode(raw) != ""
}

func actionCode(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	q := u.Query()
	if q.Get("mode") == modeSignIn && q.Get("oobCode") != "" {
		return q.Get("oobCode")
	}
	if nested := q.Get("link"); nested != "" {
		n, err := url.Parse(nested)
		if err != nil {
			return ""
		}
		nq := n.Query()
		if nq.Get("mode") == modeSignIn {
			return nq.Get("oobCode")
		}
	}
	return ""
}

// CompleteSignIn consumes the link in rawURL on behalf of email and
// starts a session. A wrong email counts against the link; after
// maxEmailAttempts mismatches the link is burned.
func (s *Service) CompleteSignIn(ctx context.Context, email, rawURL string) (*Credentials, error) {
	code := actionCode(rawURL)
	if code == "" {
		s.metrics.SignIn("invalid_code")
		return nil, ErrInvalidActionCode
	}
	addr, err := model.NormalizeEmail(email)
	if err != nil {
		s.metrics.SignIn("invalid_email")
		return nil, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	ml, err := s.links.GetByCode(code)
	if err != nil {
		return nil, err
	}
	if ml == nil {
		s.metrics.SignIn("invalid_code")
		return nil, ErrInvalidActionCode
	}

	if !strings.EqualFold(ml.Email, addr) {
		attempts, err := s.links.IncrementAttempts(ml.ID)
		if err != nil {
			return nil, err
		}
		if attempts >= maxEmailAttempts {
			if _, err := s.links.Consume(ml.ID); err != nil {
				return nil, err
			}
			s.logger.Warn("sign-in link burned after repeated email mismatch", "link_id", ml.ID)
		}
		s.metrics.SignIn("email_mismatch")
		return nil, ErrEmailMismatch
	}

	ok, err := s.links.Consume(ml.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.SignIn("invalid_code")
		return nil, ErrInvalidActionCode
	}

	user, err := s.users.GetOrCreate(ml.Email)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Create(user.ID, s.cfg.SessionTTL)
	if err != nil {
		return nil, err
	}
	token, err := s.issueToken(user, sess)
	if err != nil {
		return nil, err
	}

	s.metrics.SignIn("ok")
	s.logger.Info("user signed in", "user_id", user.ID)
	return &Credentials{
		User:      Identity{UID: user.ID, Email: user.Email},
		IDToken:   token,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

type tokenClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func (s *Service) issueToken(user *model.User, sess *model.Session) (string, error) {
	claims := tokenClaims{
		Email:     user.Email,
		SessionID: sess.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(sess.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.TokenSecret)
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies an ID token and checks that its session is
// still live.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	var claims tokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.cfg.TokenSecret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	sess, err := s.sessions.GetByID(claims.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.UserID != claims.Subject {
		return nil, fmt.Errorf("%w: session ended", ErrUnauthenticated)
	}
	user, err := s.users.GetByID(sess.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: user not found", ErrUnauthenticated)
	}

	return &Principal{
		Identity:  Identity{UID: user.ID, Email: user.Email},
		SessionID: sess.ID,
	}, nil
}

// SignOut ends a session and wakes anything waiting on SessionDone for
// it. Ending a session that is already gone is not an error.
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if err := s.sessions.Delete(sessionID); err != nil {
		return err
	}
	s.ends.end(sessionID)
	s.logger.Info("session ended", "session_id", sessionID)
	return nil
}
