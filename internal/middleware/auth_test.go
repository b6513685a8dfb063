package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/calshare/internal/auth"
	"github.com/dukerupert/calshare/internal/identity"
)

type fakeAuthenticator struct {
	token string
	err   error
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, token string) (*identity.Principal, error) {
	if f.err != nil {
		return nil, f.err
	}
	if token != f.token || token == "" {
		return nil, identity.ErrUnauthenticated
	}
	return &identity.Principal{
		Identity:  identity.Identity{UID: "u1", Email: "alice@example.com"},
		SessionID: "s1",
	}, nil
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := BearerToken(req); got != tt.want {
			t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestRequireAuthNoToken(t *testing.T) {
	handler := RequireAuth(&fakeAuthenticator{token: "good"}, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Errorf("body = %q, want JSON error", rec.Body.String())
	}
}

func TestRequireAuthInvalidToken(t *testing.T) {
	handler := RequireAuth(&fakeAuthenticator{token: "good"}, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireAuthBackendError(t *testing.T) {
	handler := RequireAuth(&fakeAuthenticator{err: errors.New("db down")}, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestRequireAuthValidToken(t *testing.T) {
	var got auth.AuthContext
	handler := RequireAuth(&fakeAuthenticator{token: "good"}, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got.UserID != "u1" || got.SessionID != "s1" || got.Email != "alice@example.com" {
		t.Errorf("auth context = %+v", got)
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusInternalServerError} {
		buf.Reset()
		handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/x", nil))

		out := buf.String()
		want := map[int]string{200: "level=INFO", 404: "level=WARN", 500: "level=ERROR"}[status]
		if !strings.Contains(out, want) {
			t.Errorf("status %d logged %q, want %s", status, out, want)
		}
		if !strings.Contains(out, "path=/x") {
			t.Errorf("log missing path: %q", out)
		}
	}
}

func TestStatusRecorderUnwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, status: http.StatusOK}
	if sr.Unwrap() != rec {
		t.Error("Unwrap did not return the wrapped writer")
	}
	if _, _, err := sr.Hijack(); err == nil {
		t.Error("expected error hijacking a recorder")
	}
}
