package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/events"
	"github.com/tendant/portal-auth/pkg/idle"
	"github.com/tendant/portal-auth/pkg/session"
)

// ExpirationRecorder counts idle sign-outs. *metrics.Metrics satisfies it.
type ExpirationRecorder interface {
	RecordIdleExpiration()
}

// NewControllerFactory builds controllers whose sign-out revokes the
// session and records the expiry.
func NewControllerFactory(config idle.Config, revoker session.Revoker, publisher events.Publisher, recorder ExpirationRecorder, opts ...idle.Option) idle.Factory {
	return func(owner idle.Owner) *idle.Controller {
		hooks := idle.Hooks{
			ShowWarning: func(secondsLeft int) {
				slog.Info("Idle warning", "session_id", owner.SessionID, "seconds_left", secondsLeft)
			},
			SignOut: func() error {
				ctx := context.Background()
				if recorder != nil {
					recorder.RecordIdleExpiration()
				}
				if publisher != nil {
					userID, _ := uuid.Parse(owner.UserID)
					publisher.Publish(ctx, events.New(events.SessionExpired, userID, map[string]string{
						"session_id": owner.SessionID,
						"reason":     "idle",
					}))
				}
				return revoker.Revoke(ctx, owner.SessionID, owner.ExpiresAt)
			},
		}
		return idle.NewController(config, hooks, opts...)
	}
}

type Handle struct {
	registry *idle.Registry
}

func NewHandle(registry *idle.Registry) *Handle {
	return &Handle{registry: registry}
}

// Routes mounts the idle endpoints. They need the session middleware.
func (h *Handle) Routes(r chi.Router) {
	r.Post("/activity", h.Activity)
	r.Post("/route", h.Route)
	r.Get("/idle", h.Status)
	r.Delete("/idle", h.Teardown)
}

// End lets sign-out tear down the controller of a session.
func (h *Handle) End(sessionID string) {
	h.registry.End(sessionID)
}

type ActivityRequest struct {
	Kind string `json:"kind"`
}

type RouteRequest struct {
	Path string `json:"path"`
}

type ConfigResponse struct {
	WarningSeconds int `json:"warningSeconds"`
	ExpirySeconds  int `json:"expirySeconds"`
}

type StatusResponse struct {
	idle.Snapshot
	Accepted *bool          `json:"accepted,omitempty"`
	Config   ConfigResponse `json:"config"`
}

func (h *Handle) controller(r *http.Request) (*idle.Controller, bool) {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		return nil, false
	}
	return h.registry.Get(idle.Owner{
		SessionID: id.SessionID,
		UserID:    id.UserID.String(),
		ExpiresAt: id.ExpiresAt,
	}), true
}

func (h *Handle) status(c *idle.Controller) StatusResponse {
	config := c.Config()
	return StatusResponse{
		Snapshot: c.Snapshot(),
		Config: ConfigResponse{
			WarningSeconds: int(config.Warning.Seconds()),
			ExpirySeconds:  int(config.Expiry.Seconds()),
		},
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteError(w, r, apperrors.New(apperrors.ErrCodeTokenInvalid, "Authentication required"))
}

// Activity handles POST /session/activity
func (h *Handle) Activity(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(r)
	if !ok {
		unauthorized(w, r)
		return
	}

	var data ActivityRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}
	kind, err := idle.ParseActivity(data.Kind)
	if err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("kind", "must be pointer, keyboard, scroll, touch or click"))
		return
	}

	accepted := c.Activity(kind)
	resp := h.status(c)
	resp.Accepted = &accepted
	render.JSON(w, r, resp)
}

// Route handles POST /session/route
func (h *Handle) Route(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(r)
	if !ok {
		unauthorized(w, r)
		return
	}

	var data RouteRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil || data.Path == "" {
		apperrors.WriteError(w, r, apperrors.InvalidInput("path", "is required"))
		return
	}

	c.RouteChanged(data.Path)
	render.JSON(w, r, h.status(c))
}

// Status handles GET /session/idle
func (h *Handle) Status(w http.ResponseWriter, r *http.Request) {
	c, ok := h.controller(r)
	if !ok {
		unauthorized(w, r)
		return
	}
	render.JSON(w, r, h.status(c))
}

// Teardown handles DELETE /session/idle
func (h *Handle) Teardown(w http.ResponseWriter, r *http.Request) {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		unauthorized(w, r)
		return
	}
	h.registry.End(id.SessionID)
	w.WriteHeader(http.StatusNoContent)
}
