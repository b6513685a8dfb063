package websocket

import (
	"context"
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/calshare/internal/auth"
	"github.com/dukerupert/calshare/internal/calendar"
)

// Sessions tells a connection when the session it was opened under ends.
// *identity.Service satisfies it.
type Sessions interface {
	SessionDone(sessionID string) (<-chan struct{}, func())
	SessionActive(ctx context.Context, sessionID string) (bool, error)
}

// HandleWebSocket returns an HTTP handler that upgrades an authenticated
// request and streams the caller's visible calendars until it disconnects
// or its session ends. originPatterns lists browser origins allowed to
// connect; requests without an Origin header are always accepted.
func HandleWebSocket(svc *calendar.Service, sessions Sessions, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok || ac.UserID == "" {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		ended, release := sessions.SessionDone(ac.SessionID)
		defer release()
		// The session may have been signed out after the request was
		// authenticated but before we started listening.
		active, err := sessions.SessionActive(r.Context(), ac.SessionID)
		if err != nil {
			logger.Error("check session", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !active {
			http.Error(w, "unauthenticated", http.StatusUnauthorized)
			return
		}

		sub, err := svc.Watch(r.Context(), ac.UserID)
		if err != nil {
			logger.Error("watch calendars", "user_id", ac.UserID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: originPatterns})
		if err != nil {
			sub.Cancel()
			logger.Warn("accept websocket", "error", err)
			return
		}
		defer conn.CloseNow()

		check := func(ctx context.Context) (bool, error) {
			return sessions.SessionActive(ctx, ac.SessionID)
		}

		logger.Debug("watcher connected", "user_id", ac.UserID)
		NewClient(conn, sub, logger, WithSession(ended, check)).Run(r.Context())
		logger.Debug("watcher disconnected", "user_id", ac.UserID)
	}
}
