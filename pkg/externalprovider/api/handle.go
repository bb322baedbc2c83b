package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/externalprovider"
	"github.com/tendant/portal-auth/pkg/loginflow"
	"github.com/tendant/portal-auth/pkg/session"
)

const (
	stateCookieName   = "oauth_state"
	stateCookieMaxAge = 600
)

// Provider is the part of externalprovider.Provider the handlers call.
type Provider interface {
	ID() string
	AuthCodeURL(state string) string
	Complete(ctx context.Context, code string) (externalprovider.UserInfo, error)
}

// SignIner turns a verified external profile into a portal session.
type SignIner interface {
	ExternalSignIn(ctx context.Context, profile loginflow.ExternalProfile) loginflow.Result
}

type Handle struct {
	provider     Provider
	signIn       SignIner
	cookies      session.CookieSetter
	frontendURL  string
	secureCookie bool
}

func NewHandle(provider Provider, signIn SignIner, cookies session.CookieSetter, frontendURL string, secureCookie bool) *Handle {
	return &Handle{
		provider:     provider,
		signIn:       signIn,
		cookies:      cookies,
		frontendURL:  strings.TrimRight(frontendURL, "/"),
		secureCookie: secureCookie,
	}
}

// Routes mounts /start and /callback under the provider's path.
func (h *Handle) Routes(r chi.Router) {
	r.Get("/start", h.Start)
	r.Get("/callback", h.Callback)
}

// Start handles GET /auth/{provider}/start
func (h *Handle) Start(w http.ResponseWriter, r *http.Request) {
	state, err := externalprovider.GenerateState()
	if err != nil {
		slog.Error("Failed to generate oauth state", "err", err)
		h.fail(w, r, "server_error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /auth/{provider}/callback
func (h *Handle) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.clearState(w)

	if reason := q.Get("error"); reason != "" {
		slog.Warn("Provider returned an error", "provider", h.provider.ID(), "error", reason)
		h.fail(w, r, "access_denied")
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	state := q.Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		slog.Warn("OAuth state mismatch", "provider", h.provider.ID())
		h.fail(w, r, "invalid_state")
		return
	}

	code := q.Get("code")
	if code == "" {
		h.fail(w, r, "invalid_request")
		return
	}

	info, err := h.provider.Complete(r.Context(), code)
	if err != nil {
		slog.Error("External sign-in failed", "provider", h.provider.ID(), "err", err)
		if errors.Is(err, externalprovider.ErrEmailUnverified) || errors.Is(err, externalprovider.ErrMissingEmail) {
			h.fail(w, r, "email_unverified")
			return
		}
		h.fail(w, r, "authentication_failed")
		return
	}

	result := h.signIn.ExternalSignIn(r.Context(), loginflow.ExternalProfile{
		Provider: h.provider.ID(),
		Email:    info.Email,
		Name:     info.Name,
		Picture:  info.Picture,
	})
	if !result.Success {
		reason := "login_failed"
		if result.ErrorResponse != nil && result.ErrorResponse.Code == apperrors.ErrCodeUserInactive {
			reason = "account_inactive"
		}
		slog.Warn("External sign-in rejected", "provider", h.provider.ID(), "reason", reason)
		h.fail(w, r, reason)
		return
	}

	h.cookies.Set(w, result.Session)
	http.Redirect(w, r, h.frontendURL+"/dashboard", http.StatusFound)
}

func (h *Handle) clearState(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handle) fail(w http.ResponseWriter, r *http.Request, reason string) {
	http.Redirect(w, r, h.frontendURL+"/login?"+url.Values{"error": {reason}}.Encode(), http.StatusFound)
}
