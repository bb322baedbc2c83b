package loginflow

import (
	"context"

	"github.com/google/uuid"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/mfa"
	"github.com/tendant/portal-auth/pkg/notification"
	"github.com/tendant/portal-auth/pkg/otp"
	"github.com/tendant/portal-auth/pkg/session"
	"github.com/tendant/portal-auth/pkg/user"
)

// User-facing messages. Each failure has its own text so the sign-in form
// can tell the user what to do next.
const (
	MsgNoAccount                 = "No account found"
	MsgAccountInactive           = "Account inactive"
	MsgInvalidCredentials        = "Invalid credentials"
	MsgInvalidBackupCode         = "Invalid backup code"
	MsgAuthenticatorCodeRequired = "Authenticator code required"
	MsgInvalidAuthenticatorCode  = "Invalid authenticator code"
	MsgEmailVerificationRequired = "Email verification required"
	MsgInvalidVerificationCode   = "Invalid verification code"
	MsgSMSCodeRequired           = "SMS code required"
	MsgInvalidSMSCode            = "Invalid SMS code"
	MsgNoMFAMethod               = "No MFA method configured"
)

// Request is one sign-in attempt. Only the field for the user's active
// second factor is looked at.
type Request struct {
	Email    string
	Password string

	BackupCode   string
	BackupTicket string

	TOTPCode    string
	EmailTicket string
	SMSCode     string

	IPAddress string
	UserAgent string
}

// Result contains the result of a login flow operation
type Result struct {
	Success       bool
	User          user.User
	Session       session.Session
	MFAMethod     mfa.Method
	ErrorResponse *Error
}

// Error represents structured errors from the login flow
type Error struct {
	Code    apperrors.ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AppError converts the flow error for HTTP rendering.
func (e *Error) AppError() *apperrors.Error {
	if e.Code == apperrors.ErrCodeInternal {
		return apperrors.InternalWrap(e.Err, apperrors.GenericMessage)
	}
	return apperrors.New(e.Code, e.Message)
}

func newError(code apperrors.ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (user.User, error)
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, patch user.Patch) (user.User, error)
}

type TOTPVerifier interface {
	Verify(code, encryptedSecret string) bool
}

type BackupCodes interface {
	Consume(ctx context.Context, userID uuid.UUID, input string) (bool, error)
}

type OTPService interface {
	Send(ctx context.Context, u user.User, ch otp.Channel) error
	VerifyCode(ctx context.Context, userID uuid.UUID, ch otp.Channel, code string) error
	IssueTicket(ctx context.Context, userID uuid.UUID, kind otp.TicketKind) (string, error)
	ConsumeTicket(ctx context.Context, token string, userID uuid.UUID, kind otp.TicketKind) (bool, error)
}

type SessionIssuer interface {
	Issue(ctx context.Context, u user.User) (session.Session, error)
}

type Notifier interface {
	Send(noticeType notification.NoticeType, system notification.NotificationSystem, data notification.NotificationData) error
}

type MetricsRecorder interface {
	RecordLogin(ok bool)
	RecordMFAVerification(method string, ok bool)
	RecordBackupCodeConsumed()
}
