// Package twofa manages a signed-in user's second factor: switching between
// email, SMS and authenticator codes, authenticator enrollment, and backup
// codes.
package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	apperrors "github.com/tendant/portal-auth/pkg/errors"
	"github.com/tendant/portal-auth/pkg/events"
	"github.com/tendant/portal-auth/pkg/mfa"
	"github.com/tendant/portal-auth/pkg/notification"
	"github.com/tendant/portal-auth/pkg/user"
)

// DisableConfirmation must be typed to turn the authenticator off.
const DisableConfirmation = "DISABLE"

type UserStore interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (user.User, error)
	UpdateUser(ctx context.Context, id uuid.UUID, patch user.Patch) (user.User, error)
}

type SecretEncrypter interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type TOTPEngine interface {
	GenerateSecret() (string, error)
	BuildProvisioningURI(accountEmail, secret, issuer string) (string, error)
	RenderQRImage(uri string) (string, error)
	Verify(code, encryptedSecret string) bool
	VerifyPlain(code, secret string) bool
}

type BackupCodes interface {
	Regenerate(ctx context.Context, userID uuid.UUID) ([]string, error)
	Remaining(ctx context.Context, userID uuid.UUID) (int, error)
}

type Notifier interface {
	Send(noticeType notification.NoticeType, system notification.NotificationSystem, data notification.NotificationData) error
}

type TwoFaService struct {
	users     UserStore
	codec     SecretEncrypter
	totp      TOTPEngine
	backup    BackupCodes
	notifier  Notifier
	publisher events.Publisher
	issuer    string
}

type Option func(*TwoFaService)

func WithNotifier(n Notifier) Option {
	return func(s *TwoFaService) {
		s.notifier = n
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(s *TwoFaService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithIssuer sets the label authenticator apps show for the account.
func WithIssuer(issuer string) Option {
	return func(s *TwoFaService) {
		s.issuer = issuer
	}
}

func NewTwoFaService(users UserStore, codec SecretEncrypter, engine TOTPEngine, backup BackupCodes, opts ...Option) *TwoFaService {
	s := &TwoFaService{
		users:     users,
		codec:     codec,
		totp:      engine,
		backup:    backup,
		publisher: events.LogPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status is the settings page view of a user's second factor.
type Status struct {
	mfa.Status
	ContactNumber        string `json:"contactNumber,omitempty"`
	BackupCodesRemaining int    `json:"backupCodesRemaining"`
}

// AuthenticatorSetup is what the user needs to add the account to an
// authenticator app.
type AuthenticatorSetup struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
	QRCode string `json:"qrCode"`
}

func (s *TwoFaService) GetStatus(ctx context.Context, userID uuid.UUID) (Status, error) {
	u, err := s.findUser(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	remaining, err := s.backup.Remaining(ctx, userID)
	if err != nil {
		return Status{}, apperrors.InternalWrap(err, "failed to count backup codes")
	}
	return Status{
		Status:               mfa.Resolve(u.MFA),
		ContactNumber:        notification.MaskPhone(u.MFA.ContactNumber),
		BackupCodesRemaining: remaining,
	}, nil
}

func (s *TwoFaService) EnableEmail(ctx context.Context, userID uuid.UUID) (mfa.Status, error) {
	return s.apply(ctx, userID, mfa.EnableEmail())
}

func (s *TwoFaService) DisableEmail(ctx context.Context, userID uuid.UUID) (mfa.Status, error) {
	return s.apply(ctx, userID, mfa.Disable(mfa.MethodEmail))
}

func (s *TwoFaService) EnableSMS(ctx context.Context, userID uuid.UUID, contactNumber string) (mfa.Status, error) {
	return s.apply(ctx, userID, mfa.EnableSMS(strings.TrimSpace(contactNumber)))
}

func (s *TwoFaService) DisableSMS(ctx context.Context, userID uuid.UUID) (mfa.Status, error) {
	return s.apply(ctx, userID, mfa.Disable(mfa.MethodSMS))
}

// BeginAuthenticatorSetup issues a new pending secret. An authenticator
// that is already on keeps working until the new one is verified.
func (s *TwoFaService) BeginAuthenticatorSetup(ctx context.Context, userID uuid.UUID) (AuthenticatorSetup, error) {
	u, err := s.findUser(ctx, userID)
	if err != nil {
		return AuthenticatorSetup{}, err
	}

	secret, err := s.totp.GenerateSecret()
	if err != nil {
		return AuthenticatorSetup{}, apperrors.InternalWrap(err, "failed to generate secret")
	}
	uri, err := s.totp.BuildProvisioningURI(u.Email, secret, s.issuer)
	if err != nil {
		return AuthenticatorSetup{}, apperrors.InternalWrap(err, "failed to build provisioning uri")
	}
	qr, err := s.totp.RenderQRImage(uri)
	if err != nil {
		return AuthenticatorSetup{}, apperrors.InternalWrap(err, "failed to render qr code")
	}
	encrypted, err := s.codec.Encrypt(secret)
	if err != nil {
		return AuthenticatorSetup{}, apperrors.InternalWrap(err, "failed to encrypt secret")
	}

	next, err := mfa.Transition(u.MFA, mfa.BeginAuthenticatorSetup(encrypted))
	if err != nil {
		return AuthenticatorSetup{}, apperrors.InternalWrap(err, "failed to begin authenticator setup")
	}
	if _, err := s.users.UpdateUser(ctx, userID, user.Patch{MFA: &next}); err != nil {
		return AuthenticatorSetup{}, apperrors.InternalWrap(err, "failed to save pending secret")
	}

	slog.Info("Authenticator setup started", "user_id", userID)
	return AuthenticatorSetup{Secret: secret, URI: uri, QRCode: qr}, nil
}

// VerifyAuthenticatorSetup checks a code from the pending secret and, if it
// matches, makes the authenticator the active factor.
func (s *TwoFaService) VerifyAuthenticatorSetup(ctx context.Context, userID uuid.UUID, code string) (mfa.Status, error) {
	u, err := s.findUser(ctx, userID)
	if err != nil {
		return mfa.Status{}, err
	}
	if u.MFA.PendingTotpSecret == "" {
		return mfa.Status{}, apperrors.New(apperrors.ErrCodeMFANotConfigured, "No authenticator setup in progress")
	}

	secret, err := s.codec.Decrypt(u.MFA.PendingTotpSecret)
	if err != nil {
		slog.Error("Failed to decrypt pending TOTP secret", "user_id", userID, "err", err)
		return mfa.Status{}, apperrors.New(apperrors.ErrCode2FAInvalid, "Invalid authenticator code")
	}
	if !s.totp.VerifyPlain(code, secret) {
		return mfa.Status{}, apperrors.New(apperrors.ErrCode2FAInvalid, "Invalid authenticator code")
	}

	return s.applyTo(ctx, u, mfa.CommitAuthenticator())
}

// DisableAuthenticator needs the typed confirmation and a current code.
func (s *TwoFaService) DisableAuthenticator(ctx context.Context, userID uuid.UUID, confirmation, code string) (mfa.Status, error) {
	if strings.TrimSpace(confirmation) != DisableConfirmation {
		return mfa.Status{}, apperrors.New(apperrors.ErrCodeConfirmationRequired, `Type "DISABLE" to confirm`)
	}

	u, err := s.findUser(ctx, userID)
	if err != nil {
		return mfa.Status{}, err
	}
	if !u.MFA.TotpEnabled() {
		return mfa.Resolve(u.MFA), nil
	}
	if !s.totp.Verify(code, u.MFA.TotpSecret) {
		return mfa.Status{}, apperrors.New(apperrors.ErrCode2FAInvalid, "Invalid authenticator code")
	}

	return s.applyTo(ctx, u, mfa.Disable(mfa.MethodAuthenticator))
}

// RegenerateBackupCodes replaces every backup code and returns the new ones
// for display. They cannot be shown again.
func (s *TwoFaService) RegenerateBackupCodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if _, err := s.findUser(ctx, userID); err != nil {
		return nil, err
	}
	codes, err := s.backup.Regenerate(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalWrap(err, "failed to generate backup codes")
	}
	s.publisher.Publish(ctx, events.New(events.BackupCodesRegenerated, userID, map[string]string{
		"count": fmt.Sprint(len(codes)),
	}))
	return codes, nil
}

func (s *TwoFaService) findUser(ctx context.Context, userID uuid.UUID) (user.User, error) {
	u, err := s.users.FindUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return user.User{}, apperrors.New(apperrors.ErrCodeUserNotFound, "No account found")
		}
		return user.User{}, apperrors.InternalWrap(err, "failed to find user")
	}
	return u, nil
}

func (s *TwoFaService) apply(ctx context.Context, userID uuid.UUID, change mfa.Change) (mfa.Status, error) {
	u, err := s.findUser(ctx, userID)
	if err != nil {
		return mfa.Status{}, err
	}
	return s.applyTo(ctx, u, change)
}

func (s *TwoFaService) applyTo(ctx context.Context, u user.User, change mfa.Change) (mfa.Status, error) {
	next, err := mfa.Transition(u.MFA, change)
	if err != nil {
		if errors.Is(err, mfa.ErrContactNumberRequired) {
			return mfa.Status{}, apperrors.New(apperrors.ErrCodeInvalidInput, "A contact number is required for SMS verification")
		}
		return mfa.Status{}, apperrors.InternalWrap(err, "invalid mfa change")
	}

	previous := u.MFA.Method
	if previous == "" {
		previous = mfa.MethodNone
	}
	if next == u.MFA {
		return mfa.Resolve(next), nil
	}

	updated, err := s.users.UpdateUser(ctx, u.ID, user.Patch{MFA: &next})
	if err != nil {
		return mfa.Status{}, apperrors.InternalWrap(err, "failed to save mfa settings")
	}

	if next.Method != previous {
		slog.Info("MFA method changed", "user_id", u.ID, "from", previous, "to", next.Method)
		s.publisher.Publish(ctx, events.New(events.MFAMethodChanged, u.ID, map[string]string{
			"from": string(previous),
			"to":   string(next.Method),
		}))
		if next.MfaEnabled() {
			s.remindAboutBackupCodes(ctx, updated)
		}
	}
	return mfa.Resolve(updated.MFA), nil
}

// remindAboutBackupCodes mails a user who just turned on a second factor
// but has no backup codes to fall back on.
func (s *TwoFaService) remindAboutBackupCodes(ctx context.Context, u user.User) {
	if s.notifier == nil {
		return
	}
	remaining, err := s.backup.Remaining(ctx, u.ID)
	if err != nil {
		slog.Error("Failed to count backup codes", "user_id", u.ID, "err", err)
		return
	}
	if remaining > 0 {
		return
	}

	name := u.Name
	if name == "" {
		name = u.Email
	}
	err = s.notifier.Send(notification.MFAEnabledReminder, notification.EmailSystem, notification.NotificationData{
		To: u.Email,
		Data: map[string]string{
			"Name":   name,
			"Method": string(u.MFA.Method),
		},
	})
	if err != nil {
		slog.Error("Failed to send MFA reminder", "email", notification.MaskEmail(u.Email), "err", err)
	}
}
