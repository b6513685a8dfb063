package handler

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/calshare/internal/identity"
)

//go:embed templates/*.html
var templateFS embed.FS

// LandingHandler serves the page a sign-in link opens in a browser.
type LandingHandler struct {
	baseURL   string
	templates *template.Template
	logger    *slog.Logger
}

func NewLandingHandler(baseURL string, logger *slog.Logger) *LandingHandler {
	return &LandingHandler{
		baseURL:   strings.TrimRight(baseURL, "/"),
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		logger:    logger,
	}
}

type landingData struct {
	Completion bool
	URL        string
}

func (h *LandingHandler) Page(w http.ResponseWriter, r *http.Request) {
	full := h.baseURL + r.URL.RequestURI()
	data := landingData{Completion: identity.IsCompletionURL(full), URL: full}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.ExecuteTemplate(w, "landing.html", data); err != nil {
		h.logger.Error("render landing page", "error", err)
	}
}
