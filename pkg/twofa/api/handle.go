package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/mfa"
	"github.com/tendant/portal-auth/pkg/session"
	"github.com/tendant/portal-auth/pkg/twofa"
)

// Service is the part of twofa.TwoFaService the handlers call.
type Service interface {
	GetStatus(ctx context.Context, userID uuid.UUID) (twofa.Status, error)
	EnableEmail(ctx context.Context, userID uuid.UUID) (mfa.Status, error)
	DisableEmail(ctx context.Context, userID uuid.UUID) (mfa.Status, error)
	EnableSMS(ctx context.Context, userID uuid.UUID, contactNumber string) (mfa.Status, error)
	DisableSMS(ctx context.Context, userID uuid.UUID) (mfa.Status, error)
	BeginAuthenticatorSetup(ctx context.Context, userID uuid.UUID) (twofa.AuthenticatorSetup, error)
	VerifyAuthenticatorSetup(ctx context.Context, userID uuid.UUID, code string) (mfa.Status, error)
	DisableAuthenticator(ctx context.Context, userID uuid.UUID, confirmation, code string) (mfa.Status, error)
	RegenerateBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error)
}

type Handle struct {
	service Service
}

func NewHandle(service Service) *Handle {
	return &Handle{service: service}
}

// Routes mounts the settings endpoints. They need the session middleware.
func (h *Handle) Routes(r chi.Router) {
	r.Get("/status", h.GetStatus)
	r.Post("/email/enable", h.EnableEmail)
	r.Post("/email/disable", h.DisableEmail)
	r.Post("/sms/enable", h.EnableSMS)
	r.Post("/sms/disable", h.DisableSMS)
	r.Post("/totp/setup", h.BeginTOTPSetup)
	r.Post("/totp/verify", h.VerifyTOTPSetup)
	r.Post("/totp/disable", h.DisableTOTP)
	r.Post("/backup-codes", h.RegenerateBackupCodes)
}

type SMSRequest struct {
	ContactNumber string `json:"contactNumber"`
}

type CodeRequest struct {
	Code string `json:"code"`
}

type DisableTOTPRequest struct {
	Confirmation string `json:"confirmation"`
	Code         string `json:"code"`
}

type BackupCodesResponse struct {
	Codes []string `json:"codes"`
}

func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		apperrors.WriteError(w, r, apperrors.New(apperrors.ErrCodeTokenInvalid, "Authentication required"))
		return uuid.Nil, false
	}
	return id.UserID, true
}

func writeStatus(w http.ResponseWriter, r *http.Request, status mfa.Status, err error) {
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	render.JSON(w, r, status)
}

// GetStatus handles GET /mfa/status
func (h *Handle) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	status, err := h.service.GetStatus(r.Context(), id)
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	render.JSON(w, r, status)
}

// EnableEmail handles POST /mfa/email/enable
func (h *Handle) EnableEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	status, err := h.service.EnableEmail(r.Context(), id)
	writeStatus(w, r, status, err)
}

// DisableEmail handles POST /mfa/email/disable
func (h *Handle) DisableEmail(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	status, err := h.service.DisableEmail(r.Context(), id)
	writeStatus(w, r, status, err)
}

// EnableSMS handles POST /mfa/sms/enable
func (h *Handle) EnableSMS(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var data SMSRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}
	status, err := h.service.EnableSMS(r.Context(), id, data.ContactNumber)
	writeStatus(w, r, status, err)
}

// DisableSMS handles POST /mfa/sms/disable
func (h *Handle) DisableSMS(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	status, err := h.service.DisableSMS(r.Context(), id)
	writeStatus(w, r, status, err)
}

// BeginTOTPSetup handles POST /mfa/totp/setup
func (h *Handle) BeginTOTPSetup(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	setup, err := h.service.BeginAuthenticatorSetup(r.Context(), id)
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	render.JSON(w, r, setup)
}

// VerifyTOTPSetup handles POST /mfa/totp/verify
func (h *Handle) VerifyTOTPSetup(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var data CodeRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil || data.Code == "" {
		apperrors.WriteError(w, r, apperrors.InvalidInput("code", "is required"))
		return
	}
	status, err := h.service.VerifyAuthenticatorSetup(r.Context(), id, data.Code)
	writeStatus(w, r, status, err)
}

// DisableTOTP handles POST /mfa/totp/disable
func (h *Handle) DisableTOTP(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var data DisableTOTPRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}
	status, err := h.service.DisableAuthenticator(r.Context(), id, data.Confirmation, data.Code)
	writeStatus(w, r, status, err)
}

// RegenerateBackupCodes handles POST /mfa/backup-codes
func (h *Handle) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	codes, err := h.service.RegenerateBackupCodes(r.Context(), id)
	if err != nil {
		apperrors.WriteError(w, r, err)
		return
	}
	render.JSON(w, r, BackupCodesResponse{Codes: codes})
}
