// Package audit records authenticated requests that change a user's sign-in
// settings.
package audit

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/portal-auth/pkg/events"
	"github.com/tendant/portal-auth/pkg/session"
)

// Config holds the configuration for the audit middleware
type Config struct {
	// Source is attached to every recorded event.
	Source string
	// Publisher receives the events.
	Publisher events.Publisher
	// IncludeReads records GET and HEAD requests too.
	IncludeReads bool
}

// Middleware handles HTTP request auditing
type Middleware struct {
	config Config
}

func NewMiddleware(config Config) *Middleware {
	if config.Source == "" {
		config.Source = "portal-auth"
	}
	if config.Publisher == nil {
		config.Publisher = events.LogPublisher{}
	}
	return &Middleware{config: config}
}

// Handler publishes a SettingsRequest event once the wrapped handler has
// written its response.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.config.IncludeReads && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		attrs := map[string]string{
			"source": m.config.Source,
			"method": r.Method,
			"uri":    r.URL.Path,
			"status": strconv.Itoa(status),
		}

		id, ok := session.IdentityFromContext(r.Context())
		if !ok {
			attrs["message"] = "no session"
		} else {
			attrs["session_id"] = id.SessionID
		}
		m.config.Publisher.Publish(r.Context(), events.New(events.SettingsRequest, id.UserID, attrs))
	})
}
