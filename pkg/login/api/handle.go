package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/loginflow"
	"github.com/tendant/portal-auth/pkg/mfa"
	"github.com/tendant/portal-auth/pkg/otp"
	"github.com/tendant/portal-auth/pkg/session"
)

// Authenticator is the part of loginflow.Authenticator the handlers call.
type Authenticator interface {
	Authorize(ctx context.Context, req loginflow.Request) loginflow.Result
	VerifyBackupCode(ctx context.Context, email, password, code string) (string, *loginflow.Error)
	SendLoginCode(ctx context.Context, email, password string, ch otp.Channel) *loginflow.Error
	VerifyLoginCode(ctx context.Context, email, password, code string) (string, *loginflow.Error)
}

// SessionEnder is told when a session signs out.
type SessionEnder interface {
	End(sessionID string)
}

type Handle struct {
	auth    Authenticator
	revoker session.Revoker
	cookies session.CookieSetter
	enders  []SessionEnder
}

func NewHandle(auth Authenticator, revoker session.Revoker, cookies session.CookieSetter, enders ...SessionEnder) *Handle {
	return &Handle{
		auth:    auth,
		revoker: revoker,
		cookies: cookies,
		enders:  enders,
	}
}

// Routes mounts the public sign-in endpoints.
func (h *Handle) Routes(r chi.Router) {
	r.Post("/login", h.Login)
	r.Post("/login/backup-code/verify", h.VerifyBackupCode)
	r.Post("/login/otp/send", h.SendCode)
	r.Post("/login/otp/verify", h.VerifyCode)
}

// LogoutRoutes mounts the endpoints that need a signed-in session.
func (h *Handle) LogoutRoutes(r chi.Router) {
	r.Post("/logout", h.Logout)
}

type LoginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	BackupCode   string `json:"backupCode,omitempty"`
	BackupTicket string `json:"backupTicket,omitempty"`
	TOTPCode     string `json:"totpCode,omitempty"`
	EmailTicket  string `json:"emailTicket,omitempty"`
	SMSCode      string `json:"smsCode,omitempty"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

type LoginResponse struct {
	User      UserResponse `json:"user"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	MFAMethod mfa.Method   `json:"mfaMethod"`
}

type BackupCodeVerifyRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	BackupCode string `json:"backupCode"`
}

type SendCodeRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Channel  string `json:"channel"`
}

type VerifyCodeRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type TicketResponse struct {
	Ticket string `json:"ticket"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

// Login handles POST /auth/login
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	var data LoginRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}

	result := h.auth.Authorize(r.Context(), loginflow.Request{
		Email:        data.Email,
		Password:     data.Password,
		BackupCode:   data.BackupCode,
		BackupTicket: data.BackupTicket,
		TOTPCode:     data.TOTPCode,
		EmailTicket:  data.EmailTicket,
		SMSCode:      data.SMSCode,
		IPAddress:    clientIP(r),
		UserAgent:    r.UserAgent(),
	})
	if !result.Success {
		writeFlowError(w, r, result.ErrorResponse)
		return
	}

	h.cookies.Set(w, result.Session)
	render.JSON(w, r, LoginResponse{
		User: UserResponse{
			ID:    result.User.ID.String(),
			Email: result.User.Email,
			Name:  result.User.Name,
			Image: result.User.Image,
		},
		Token:     result.Session.Token,
		ExpiresAt: result.Session.ExpiresAt,
		MFAMethod: result.MFAMethod,
	})
}

// VerifyBackupCode handles POST /auth/login/backup-code/verify
func (h *Handle) VerifyBackupCode(w http.ResponseWriter, r *http.Request) {
	var data BackupCodeVerifyRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}

	ticket, flowErr := h.auth.VerifyBackupCode(r.Context(), data.Email, data.Password, data.BackupCode)
	if flowErr != nil {
		writeFlowError(w, r, flowErr)
		return
	}
	render.JSON(w, r, TicketResponse{Ticket: ticket})
}

// SendCode handles POST /auth/login/otp/send
func (h *Handle) SendCode(w http.ResponseWriter, r *http.Request) {
	var data SendCodeRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}

	if data.Channel == "" {
		data.Channel = string(otp.ChannelEmail)
	}
	ch, err := otp.ParseChannel(data.Channel)
	if err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("channel", "must be email or sms"))
		return
	}

	if flowErr := h.auth.SendLoginCode(r.Context(), data.Email, data.Password, ch); flowErr != nil {
		writeFlowError(w, r, flowErr)
		return
	}
	render.JSON(w, r, MessageResponse{Message: "Verification code sent"})
}

// VerifyCode handles POST /auth/login/otp/verify
func (h *Handle) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var data VerifyCodeRequest
	if err := render.DecodeJSON(r.Body, &data); err != nil {
		apperrors.WriteError(w, r, apperrors.InvalidInput("body", "unable to parse body"))
		return
	}

	ticket, flowErr := h.auth.VerifyLoginCode(r.Context(), data.Email, data.Password, data.Code)
	if flowErr != nil {
		writeFlowError(w, r, flowErr)
		return
	}
	render.JSON(w, r, TicketResponse{Ticket: ticket})
}

// Logout handles POST /auth/logout. The session id is revoked until the
// token would have expired anyway.
func (h *Handle) Logout(w http.ResponseWriter, r *http.Request) {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		apperrors.WriteError(w, r, apperrors.New(apperrors.ErrCodeTokenInvalid, "Authentication required"))
		return
	}

	if err := h.revoker.Revoke(r.Context(), id.SessionID, id.ExpiresAt); err != nil {
		apperrors.WriteError(w, r, apperrors.InternalWrap(err, "failed to revoke session"))
		return
	}
	for _, ender := range h.enders {
		ender.End(id.SessionID)
	}

	h.cookies.Clear(w)
	slog.Info("Signed out", "user_id", id.UserID, "session_id", id.SessionID)
	render.JSON(w, r, MessageResponse{Message: "Signed out"})
}

func writeFlowError(w http.ResponseWriter, r *http.Request, flowErr *loginflow.Error) {
	if flowErr == nil {
		apperrors.WriteError(w, r, apperrors.New(apperrors.ErrCodeInternal, apperrors.GenericMessage))
		return
	}
	apperrors.WriteError(w, r, flowErr.AppError())
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
