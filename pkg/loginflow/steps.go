package loginflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/events"
	"github.com/tendant/portal-auth/pkg/mfa"
	"github.com/tendant/portal-auth/pkg/otp"
	"github.com/tendant/portal-auth/pkg/user"
)

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

// authenticateCredentials checks email and password and returns the user.
func authenticateCredentials(ctx context.Context, services *ServiceDependencies, email, password string) (user.User, *Error, error) {
	u, err := services.Users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return user.User{}, newError(apperrors.ErrCodeUserNotFound, MsgNoAccount), nil
		}
		return user.User{}, nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !u.Active {
		return u, newError(apperrors.ErrCodeUserInactive, MsgAccountInactive), nil
	}

	ok, err := services.Hasher.Verify(password, u.PasswordHash)
	if err != nil {
		slog.Error("Password verification failed", "user_id", u.ID, "err", err)
		ok = false
	}
	if !ok {
		return u, newError(apperrors.ErrCodeInvalidCredentials, MsgInvalidCredentials), nil
	}
	return u, nil, nil
}

// CredentialAuthenticationStep handles user credential validation
type CredentialAuthenticationStep struct{}

func NewCredentialAuthenticationStep() *CredentialAuthenticationStep {
	return &CredentialAuthenticationStep{}
}

func (s *CredentialAuthenticationStep) Name() string {
	return "credential_authentication"
}

func (s *CredentialAuthenticationStep) Order() int {
	return OrderCredentialAuthentication
}

func (s *CredentialAuthenticationStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *CredentialAuthenticationStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	u, flowErr, err := authenticateCredentials(ctx, flowContext.Services, flowContext.Request.Email, flowContext.Request.Password)
	if err != nil {
		return nil, err
	}
	flowContext.User = u
	if flowErr != nil {
		return &StepResult{Error: flowErr}, nil
	}

	return &StepResult{Continue: true}, nil
}

// BackupTicketStep accepts a ticket from an earlier backup-code check in
// place of the second factor.
type BackupTicketStep struct{}

func NewBackupTicketStep() *BackupTicketStep {
	return &BackupTicketStep{}
}

func (s *BackupTicketStep) Name() string {
	return "backup_ticket"
}

func (s *BackupTicketStep) Order() int {
	return OrderBackupTicket
}

func (s *BackupTicketStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return strings.TrimSpace(flowContext.Request.BackupTicket) == ""
}

func (s *BackupTicketStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	ok, err := flowContext.Services.OTP.ConsumeTicket(ctx, flowContext.Request.BackupTicket, flowContext.User.ID, otp.TicketBackupCodeVerified)
	if err != nil {
		return nil, fmt.Errorf("failed to consume backup ticket: %w", err)
	}
	if !ok {
		return &StepResult{Error: newError(apperrors.ErrCodeBackupCodeInvalid, MsgInvalidBackupCode)}, nil
	}

	flowContext.MFASatisfied = true
	flowContext.Result.MFAMethod = methodBackupCode
	return &StepResult{Continue: true}, nil
}

// BackupCodeStep redeems a raw backup code submitted with the credentials.
type BackupCodeStep struct{}

func NewBackupCodeStep() *BackupCodeStep {
	return &BackupCodeStep{}
}

func (s *BackupCodeStep) Name() string {
	return "backup_code"
}

func (s *BackupCodeStep) Order() int {
	return OrderBackupCode
}

// ShouldSkip leaves the code unspent when the account has no second factor.
func (s *BackupCodeStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.MFASatisfied ||
		!flowContext.User.MFA.MfaEnabled() ||
		strings.TrimSpace(flowContext.Request.BackupCode) == ""
}

func (s *BackupCodeStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	ok, err := redeemBackupCode(ctx, flowContext.Services, flowContext.User, flowContext.Request.BackupCode)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &StepResult{Error: newError(apperrors.ErrCodeBackupCodeInvalid, MsgInvalidBackupCode)}, nil
	}

	flowContext.MFASatisfied = true
	flowContext.Result.MFAMethod = methodBackupCode
	return &StepResult{Continue: true}, nil
}

func redeemBackupCode(ctx context.Context, services *ServiceDependencies, u user.User, code string) (bool, error) {
	ok, err := services.BackupCodes.Consume(ctx, u.ID, code)
	if err != nil {
		return false, fmt.Errorf("failed to consume backup code: %w", err)
	}
	services.Metrics.RecordMFAVerification(string(methodBackupCode), ok)
	if ok {
		services.Metrics.RecordBackupCodeConsumed()
		services.Events.Publish(ctx, events.New(events.BackupCodeConsumed, u.ID, nil))
	}
	return ok, nil
}

// MFAVerificationStep checks the second factor of the user's active method.
// Codes for any other method are ignored.
type MFAVerificationStep struct{}

func NewMFAVerificationStep() *MFAVerificationStep {
	return &MFAVerificationStep{}
}

func (s *MFAVerificationStep) Name() string {
	return "mfa_verification"
}

func (s *MFAVerificationStep) Order() int {
	return OrderMFAVerification
}

func (s *MFAVerificationStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.MFASatisfied || !flowContext.User.MFA.MfaEnabled()
}

func (s *MFAVerificationStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	u := flowContext.User
	req := flowContext.Request
	services := flowContext.Services
	method := u.MFA.Method

	var flowErr *Error
	switch method {
	case mfa.MethodAuthenticator:
		code := strings.TrimSpace(req.TOTPCode)
		if code == "" {
			return &StepResult{Error: newError(apperrors.ErrCode2FARequired, MsgAuthenticatorCodeRequired)}, nil
		}
		if !services.TOTP.Verify(code, u.MFA.TotpSecret) {
			flowErr = newError(apperrors.ErrCode2FAInvalid, MsgInvalidAuthenticatorCode)
		}

	case mfa.MethodEmail:
		ticket := strings.TrimSpace(req.EmailTicket)
		if ticket == "" {
			return &StepResult{Error: newError(apperrors.ErrCode2FARequired, MsgEmailVerificationRequired)}, nil
		}
		ok, err := services.OTP.ConsumeTicket(ctx, ticket, u.ID, otp.TicketEmailOTPVerified)
		if err != nil {
			return nil, fmt.Errorf("failed to consume email ticket: %w", err)
		}
		if !ok {
			flowErr = newError(apperrors.ErrCode2FARequired, MsgEmailVerificationRequired)
		}

	case mfa.MethodSMS:
		code := strings.TrimSpace(req.SMSCode)
		if code == "" {
			return &StepResult{Error: newError(apperrors.ErrCode2FARequired, MsgSMSCodeRequired)}, nil
		}
		if !sixDigits.MatchString(code) {
			flowErr = newError(apperrors.ErrCode2FAInvalid, MsgInvalidSMSCode)
			break
		}
		if err := services.OTP.VerifyCode(ctx, u.ID, otp.ChannelSMS, code); err != nil {
			if !isCodeRejection(err) {
				return nil, fmt.Errorf("failed to verify sms code: %w", err)
			}
			flowErr = newError(apperrors.ErrCode2FAInvalid, MsgInvalidSMSCode)
		}

	default:
		return &StepResult{Error: newError(apperrors.ErrCodeMFANotConfigured, MsgNoMFAMethod)}, nil
	}

	services.Metrics.RecordMFAVerification(string(method), flowErr == nil)
	if flowErr != nil {
		return &StepResult{Error: flowErr}, nil
	}

	flowContext.Result.MFAMethod = method
	return &StepResult{Continue: true}, nil
}

func isCodeRejection(err error) bool {
	return errors.Is(err, otp.ErrInvalidCode) ||
		errors.Is(err, otp.ErrCodeNotFound) ||
		errors.Is(err, otp.ErrTooManyAttempts)
}

// SessionIssueStep issues the session once every check has passed.
type SessionIssueStep struct{}

func NewSessionIssueStep() *SessionIssueStep {
	return &SessionIssueStep{}
}

func (s *SessionIssueStep) Name() string {
	return "session_issue"
}

func (s *SessionIssueStep) Order() int {
	return OrderSessionIssue
}

func (s *SessionIssueStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *SessionIssueStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	sess, err := flowContext.Services.Sessions.Issue(ctx, flowContext.User)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}
	flowContext.Result.Session = sess
	return &StepResult{Continue: true}, nil
}

// SuccessRecordingStep stamps the last login time and marks the result a success.
type SuccessRecordingStep struct{}

func NewSuccessRecordingStep() *SuccessRecordingStep {
	return &SuccessRecordingStep{}
}

func (s *SuccessRecordingStep) Name() string {
	return "success_recording"
}

func (s *SuccessRecordingStep) Order() int {
	return OrderSuccessRecording
}

func (s *SuccessRecordingStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *SuccessRecordingStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	recordLastLogin(ctx, flowContext.Services, &flowContext.User)

	flowContext.Result.User = flowContext.User
	flowContext.Result.Success = true
	if flowContext.Result.MFAMethod == "" {
		flowContext.Result.MFAMethod = mfa.MethodNone
	}
	return &StepResult{Continue: true}, nil
}

func recordLastLogin(ctx context.Context, services *ServiceDependencies, u *user.User) {
	now := services.now()
	updated, err := services.Users.UpdateUser(ctx, u.ID, user.Patch{LastLoginAt: &now})
	if err != nil {
		slog.Error("Failed to record last login", "user_id", u.ID, "err", err)
		return
	}
	*u = updated
}
