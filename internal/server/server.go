package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dukerupert/calshare/internal/calendar"
	"github.com/dukerupert/calshare/internal/handler"
	"github.com/dukerupert/calshare/internal/identity"
	"github.com/dukerupert/calshare/internal/metrics"
	"github.com/dukerupert/calshare/internal/middleware"
	"github.com/dukerupert/calshare/internal/store"
	ws "github.com/dukerupert/calshare/internal/websocket"
)

type Config struct {
	BaseURL         string
	TokenSecret     []byte
	LinkTTL         time.Duration
	SessionTTL      time.Duration
	AllowedOrigins  []string
	OriginHosts     []string
	RateLimitPerMin int
	// TrustProxy makes client IPs come from CF-Connecting-IP and
	// X-Forwarded-For. Only set it behind a proxy that overwrites them.
	TrustProxy bool
}

type Server struct {
	db             *sql.DB
	identity       *identity.Service
	calendars      *calendar.Service
	authH          *handler.AuthHandler
	calendarH      *handler.CalendarHandler
	landingH       *handler.LandingHandler
	sessionStore   *store.SessionStore
	magicLinkStore *store.MagicLinkStore
	rateLimiter    *middleware.RateLimiter
	registry       *prometheus.Registry
	metrics        *metrics.Collector
	originHosts    []string
	clientIP       func(*http.Request) string
	logger         *slog.Logger
}

func New(db *sql.DB, mailer identity.Mailer, cfg Config, logger *slog.Logger) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	userStore := store.NewUserStore(db)
	sessionStore := store.NewSessionStore(db)
	magicLinkStore := store.NewMagicLinkStore(db)
	calendarStore := store.NewCalendarStore(db)

	identitySvc := identity.NewService(userStore, magicLinkStore, sessionStore, mailer, identity.Config{
		TokenSecret:    cfg.TokenSecret,
		LinkTTL:        cfg.LinkTTL,
		SessionTTL:     cfg.SessionTTL,
		AllowedOrigins: cfg.AllowedOrigins,
	}, logger.With("component", "identity"), identity.WithMetrics(collector))

	calendarSvc := calendar.NewService(calendarStore, userStore, calendar.NewBroker(),
		logger.With("component", "calendar"), calendar.WithMetrics(collector))

	return &Server{
		db:             db,
		identity:       identitySvc,
		calendars:      calendarSvc,
		authH:          handler.NewAuthHandler(identitySvc, logger.With("component", "auth")),
		calendarH:      handler.NewCalendarHandler(calendarSvc, logger.With("component", "calendar_handler")),
		landingH:       handler.NewLandingHandler(cfg.BaseURL, logger.With("component", "landing")),
		sessionStore:   sessionStore,
		magicLinkStore: magicLinkStore,
		rateLimiter:    middleware.NewRateLimiter(cfg.RateLimitPerMin),
		registry:       registry,
		metrics:        collector,
		originHosts:    cfg.OriginHosts,
		clientIP:       middleware.ClientIP(cfg.TrustProxy),
		logger:         logger,
	}
}

// SessionStore returns the session store for cleanup tasks.
func (s *Server) SessionStore() *store.SessionStore {
	return s.sessionStore
}

// MagicLinkStore returns the magic link store for cleanup tasks.
func (s *Server) MagicLinkStore() *store.MagicLinkStore {
	return s.magicLinkStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Metrics() *metrics.Collector {
	return s.metrics
}

func (s *Server) Calendars() *calendar.Service {
	return s.calendars
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger.With("component", "http"), s.clientIP))

	// Public routes
	r.Get("/", s.landingH.Page)
	r.Get("/health", s.healthHandler)
	r.Handle("/metrics", metrics.Handler(s.registry))

	requireAuth := middleware.RequireAuth(s.identity, s.logger.With("component", "auth_middleware"))
	limited := middleware.RateLimit(s.rateLimiter, s.clientIP, s.metrics.RateLimited)

	r.Route("/auth", func(r chi.Router) {
		r.With(limited).Post("/link", s.authH.RequestLink)
		r.With(limited).Post("/complete", s.authH.Complete)

		r.With(requireAuth).Get("/me", s.authH.Me)
		r.With(requireAuth).Post("/logout", s.authH.Logout)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/ws", ws.HandleWebSocket(s.calendars, s.identity, s.originHosts, s.logger.With("component", "websocket")))

		r.Route("/api/calendars", func(r chi.Router) {
			r.Get("/", s.calendarH.List)
			r.Post("/", s.calendarH.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.calendarH.Get)
				r.Patch("/", s.calendarH.Update)
				r.Delete("/", s.calendarH.Delete)
				r.Get("/calendar.ics", s.calendarH.ExportICS)

				r.Post("/events", s.calendarH.AddEvent)
				r.Delete("/events/at/{index}", s.calendarH.RemoveEventAt)
				r.Delete("/events/{eventID}", s.calendarH.RemoveEvent)

				r.Put("/members", s.calendarH.SetMember)
				r.Delete("/members/{userID}", s.calendarH.RemoveMember)
			})
		})
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status = "unavailable"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}
