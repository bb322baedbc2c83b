package mfa

import (
	"errors"
	"fmt"
)

// Method is the single active second factor of an account.
type Method string

const (
	MethodNone          Method = "none"
	MethodEmail         Method = "email"
	MethodSMS           Method = "sms"
	MethodAuthenticator Method = "authenticator"
)

var (
	ErrUnknownMethod          = errors.New("unknown mfa method")
	ErrContactNumberRequired  = errors.New("a contact number is required for sms verification")
	ErrSecretRequired         = errors.New("an authenticator secret is required")
	ErrPendingSecretRequired  = errors.New("a pending authenticator secret is required")
	ErrNoPendingAuthenticator = errors.New("no authenticator setup is pending")
)

// ParseMethod accepts the stored or submitted spelling of a method. An empty
// string is treated as none.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodNone:
		return MethodNone, nil
	case MethodEmail, MethodSMS, MethodAuthenticator:
		return Method(s), nil
	}
	return MethodNone, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// State is the persisted MFA configuration of a user. Method is the only
// source of truth for which factor is active; the boolean views below are
// derived from it so two factors can never be active at once.
type State struct {
	Method Method `json:"method"`

	// TotpSecret is the encrypted committed authenticator secret.
	TotpSecret string `json:"-"`
	// PendingTotpSecret is the encrypted secret issued by a setup that has
	// not been verified yet.
	PendingTotpSecret string `json:"-"`

	ContactNumber string `json:"contactNumber,omitempty"`
}

func (s State) active() Method {
	if s.Method == "" {
		return MethodNone
	}
	return s.Method
}

func (s State) MfaEnabled() bool      { return s.active() != MethodNone }
func (s State) TotpEnabled() bool     { return s.active() == MethodAuthenticator }
func (s State) EmailMfaEnabled() bool { return s.active() == MethodEmail }
func (s State) SmsEnabled() bool      { return s.active() == MethodSMS }

// SetupState is the progress of authenticator enrollment.
type SetupState string

const (
	SetupUnconfigured        SetupState = "unconfigured"
	SetupPendingVerification SetupState = "pending-verification"
	SetupEnabled             SetupState = "enabled"
)

// TOTPSetup reports where the account is in authenticator enrollment. An
// enabled authenticator stays enabled while a replacement setup is pending.
func (s State) TOTPSetup() SetupState {
	switch {
	case s.TotpEnabled():
		return SetupEnabled
	case s.PendingTotpSecret != "":
		return SetupPendingVerification
	default:
		return SetupUnconfigured
	}
}
