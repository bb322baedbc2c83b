package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/events"
	"github.com/tendant/portal-auth/pkg/mfa"
	"github.com/tendant/portal-auth/pkg/notification"
	"github.com/tendant/portal-auth/pkg/otp"
	"github.com/tendant/portal-auth/pkg/user"
)

// Authenticator signs users in with a password and their second factor, or
// through an external provider.
type Authenticator struct {
	services *ServiceDependencies
	flow     *FlowExecutor
}

type noopMetrics struct{}

func (noopMetrics) RecordLogin(bool)                   {}
func (noopMetrics) RecordMFAVerification(string, bool) {}
func (noopMetrics) RecordBackupCodeConsumed()          {}

func NewAuthenticator(services ServiceDependencies) *Authenticator {
	if services.Events == nil {
		services.Events = events.LogPublisher{}
	}
	if services.Metrics == nil {
		services.Metrics = noopMetrics{}
	}
	return &Authenticator{
		services: &services,
		flow:     BuildCredentialLoginFlow(&services),
	}
}

// Authorize runs the credential flow. Only a successful result carries a session.
func (a *Authenticator) Authorize(ctx context.Context, req Request) Result {
	req.Email = user.NormalizeEmail(req.Email)
	result, _ := a.flow.Execute(ctx, req)

	a.services.Metrics.RecordLogin(result.Success)
	if !result.Success {
		reason := ""
		if result.ErrorResponse != nil {
			reason = string(result.ErrorResponse.Code)
		}
		a.services.Events.Publish(ctx, events.New(events.LoginFailed, result.User.ID, map[string]string{
			"reason":     reason,
			"ip_address": req.IPAddress,
		}))
		return result
	}

	a.services.Events.Publish(ctx, events.New(events.LoginSucceeded, result.User.ID, map[string]string{
		"mfa_method": string(result.MFAMethod),
		"provider":   user.ProviderCredentials,
		"ip_address": req.IPAddress,
	}))
	return result
}

// VerifyBackupCode checks the password, redeems the backup code and returns a
// ticket a following Authorize call may present instead of the second factor.
func (a *Authenticator) VerifyBackupCode(ctx context.Context, email, password, code string) (string, *Error) {
	u, flowErr := a.checkPassword(ctx, email, password)
	if flowErr != nil {
		return "", flowErr
	}
	if strings.TrimSpace(code) == "" {
		return "", newError(apperrors.ErrCodeBackupCodeInvalid, MsgInvalidBackupCode)
	}

	ok, err := redeemBackupCode(ctx, a.services, u, code)
	if err != nil {
		return "", internalError(err)
	}
	if !ok {
		return "", newError(apperrors.ErrCodeBackupCodeInvalid, MsgInvalidBackupCode)
	}

	ticket, err := a.services.OTP.IssueTicket(ctx, u.ID, otp.TicketBackupCodeVerified)
	if err != nil {
		return "", internalError(err)
	}
	return ticket, nil
}

// SendLoginCode sends a one-time code on the channel after the password checks out.
func (a *Authenticator) SendLoginCode(ctx context.Context, email, password string, ch otp.Channel) *Error {
	u, flowErr := a.checkPassword(ctx, email, password)
	if flowErr != nil {
		return flowErr
	}

	if err := a.services.OTP.Send(ctx, u, ch); err != nil {
		if errors.Is(err, otp.ErrNoDestination) {
			return newError(apperrors.ErrCodeMFANotConfigured, MsgNoMFAMethod)
		}
		return internalError(err)
	}
	return nil
}

// VerifyLoginCode checks an emailed code and exchanges it for an
// email_otp_verified ticket.
func (a *Authenticator) VerifyLoginCode(ctx context.Context, email, password, code string) (string, *Error) {
	u, flowErr := a.checkPassword(ctx, email, password)
	if flowErr != nil {
		return "", flowErr
	}

	err := a.services.OTP.VerifyCode(ctx, u.ID, otp.ChannelEmail, strings.TrimSpace(code))
	a.services.Metrics.RecordMFAVerification(string(mfa.MethodEmail), err == nil)
	if err != nil {
		if isCodeRejection(err) {
			return "", newError(apperrors.ErrCode2FAInvalid, MsgInvalidVerificationCode)
		}
		return "", internalError(err)
	}

	ticket, err := a.services.OTP.IssueTicket(ctx, u.ID, otp.TicketEmailOTPVerified)
	if err != nil {
		return "", internalError(err)
	}
	return ticket, nil
}

func (a *Authenticator) checkPassword(ctx context.Context, email, password string) (user.User, *Error) {
	u, flowErr, err := authenticateCredentials(ctx, a.services, user.NormalizeEmail(email), password)
	if err != nil {
		return u, internalError(err)
	}
	return u, flowErr
}

func internalError(err error) *Error {
	slog.Error("Login request failed", "err", err)
	return &Error{Code: apperrors.ErrCodeInternal, Message: apperrors.GenericMessage, Err: err}
}

// ExternalProfile is the identity an external provider vouched for.
type ExternalProfile struct {
	Provider string
	Email    string
	Name     string
	Picture  string
}

// ExternalSignIn signs in a user verified by an external provider, creating
// the account on first sight. The provider has already authenticated the
// user so no second factor is asked for.
func (a *Authenticator) ExternalSignIn(ctx context.Context, profile ExternalProfile) Result {
	email := user.NormalizeEmail(profile.Email)
	if email == "" {
		return Result{ErrorResponse: newError(apperrors.ErrCodeInvalidInput, "Email is required")}
	}

	u, err := a.services.Users.FindUserByEmail(ctx, email)
	switch {
	case errors.Is(err, user.ErrUserNotFound):
		u, err = a.services.Users.CreateUser(ctx, user.User{
			Email:        email,
			Name:         profile.Name,
			Active:       true,
			AuthProvider: profile.Provider,
			Image:        httpsOnly(profile.Picture),
			MFA:          mfa.State{Method: mfa.MethodNone},
		})
		if err != nil {
			return Result{ErrorResponse: internalError(fmt.Errorf("failed to provision user: %w", err))}
		}
		slog.Info("Provisioned external user", "provider", profile.Provider, "email", notification.MaskEmail(email))
	case err != nil:
		return Result{ErrorResponse: internalError(fmt.Errorf("failed to find user: %w", err))}
	}

	if !u.Active {
		a.services.Metrics.RecordLogin(false)
		return Result{User: u, ErrorResponse: newError(apperrors.ErrCodeUserInactive, MsgAccountInactive)}
	}

	if u.Image == "" {
		if image := httpsOnly(profile.Picture); image != "" {
			updated, err := a.services.Users.UpdateUser(ctx, u.ID, user.Patch{Image: &image})
			if err != nil {
				slog.Error("Failed to backfill user image", "user_id", u.ID, "err", err)
			} else {
				u = updated
			}
		}
	}

	sess, err := a.services.Sessions.Issue(ctx, u)
	if err != nil {
		return Result{User: u, ErrorResponse: internalError(fmt.Errorf("failed to issue session: %w", err))}
	}
	recordLastLogin(ctx, a.services, &u)
	a.sendLoginConfirmation(u, profile.Provider)

	a.services.Metrics.RecordLogin(true)
	a.services.Events.Publish(ctx, events.New(events.LoginSucceeded, u.ID, map[string]string{
		"mfa_method": string(mfa.MethodNone),
		"provider":   profile.Provider,
	}))
	return Result{Success: true, User: u, Session: sess, MFAMethod: mfa.MethodNone}
}

func (a *Authenticator) sendLoginConfirmation(u user.User, provider string) {
	if a.services.Notifier == nil {
		return
	}
	err := a.services.Notifier.Send(notification.LoginConfirmation, notification.EmailSystem, notification.NotificationData{
		To: u.Email,
		Data: map[string]string{
			"Name":     displayName(u),
			"Provider": provider,
			"Time":     a.services.now().Format(time.RFC1123),
		},
	})
	if err != nil {
		slog.Error("Failed to send login confirmation", "email", notification.MaskEmail(u.Email), "err", err)
	}
}

func displayName(u user.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

func httpsOnly(url string) string {
	if strings.HasPrefix(strings.ToLower(url), "https://") {
		return url
	}
	return ""
}
