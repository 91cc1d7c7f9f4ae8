package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kalambet/interviewd/internal/session"
)

const maxJSONBodySize = 1 << 20 // 1MB

// Deps holds what the HTTP facade needs.
type Deps struct {
	Host   *session.Host
	Logger *slog.Logger

	CookieName   string
	CookieMaxAge time.Duration
	// AllowedOrigins restricts websocket upgrades by Origin header. Empty allows any.
	AllowedOrigins []string
}

func (d *Deps) setDefaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.CookieName == "" {
		d.CookieName = "username"
	}
	if d.CookieMaxAge <= 0 {
		d.CookieMaxAge = 7 * 24 * time.Hour
	}
}

// NewHandler builds the HTTP facade: login, interview endpoints and live streams.
func NewHandler(deps Deps) http.Handler {
	deps.setDefaults()

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(deps.Logger))
	r.Use(middleware.Recoverer)
	r.Use(RouteSpanMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/auth/login", handleLogin(deps.CookieName, deps.CookieMaxAge))

	r.Group(func(r chi.Router) {
		r.Use(RequireOwner(deps.CookieName))

		r.Get("/interviews", handleListInterviews(deps))
		r.Post("/interviews", handleCreateInterview(deps))
		r.Get("/interviews/{interviewId}", handleGetOrStream(deps))
		r.Patch("/interviews/{interviewId}", handleSetStatus(deps))
		r.Post("/interviews/{interviewId}/messages", handleAppendMessage(deps))
		r.Post("/interviews/{interviewId}/resume", handleUploadResume(deps))
	})

	return otelhttp.NewHandler(r, "interviewd",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method
		}),
	)
}
