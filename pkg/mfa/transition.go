package mfa

import "fmt"

type changeKind int

const (
	changeEnableEmail changeKind = iota + 1
	changeEnableSMS
	changeBeginAuthenticator
	changeCommitAuthenticator
	changeDisable
)

// Change is a requested settings update. Build one with the constructors
// below and apply it with Transition.
type Change struct {
	kind          changeKind
	method        Method
	secret        string
	contactNumber string
}

// EnableEmail makes email codes the active factor. Authenticator settings
// are cleared.
func EnableEmail() Change {
	return Change{kind: changeEnableEmail, method: MethodEmail}
}

// EnableSMS makes SMS codes the active factor. An empty contactNumber keeps
// the number already on file.
func EnableSMS(contactNumber string) Change {
	return Change{kind: changeEnableSMS, method: MethodSMS, contactNumber: contactNumber}
}

// BeginAuthenticatorSetup records a freshly generated encrypted secret as
// pending. The active factor does not change.
func BeginAuthenticatorSetup(encryptedSecret string) Change {
	return Change{kind: changeBeginAuthenticator, method: MethodAuthenticator, secret: encryptedSecret}
}

// CommitAuthenticator promotes the pending secret and makes the
// authenticator the active factor.
func CommitAuthenticator() Change {
	return Change{kind: changeCommitAuthenticator, method: MethodAuthenticator}
}

// Disable turns off method if it is the active factor.
func Disable(method Method) Change {
	return Change{kind: changeDisable, method: method}
}

// Method returns the factor the change concerns.
func (c Change) Method() Method {
	return c.method
}

// Transition applies c to s and returns the resulting state. The result
// always has exactly one Method, so email and authenticator can never both
// be on, and leaving the authenticator drops its secrets.
func Transition(s State, c Change) (State, error) {
	next := s
	next.Method = s.active()

	switch c.kind {
	case changeEnableEmail:
		next.Method = MethodEmail
		next.TotpSecret = ""
		next.PendingTotpSecret = ""

	case changeEnableSMS:
		number := c.contactNumber
		if number == "" {
			number = s.ContactNumber
		}
		if number == "" {
			return s, ErrContactNumberRequired
		}
		next.Method = MethodSMS
		next.ContactNumber = number
		next.TotpSecret = ""
		next.PendingTotpSecret = ""

	case changeBeginAuthenticator:
		if c.secret == "" {
			return s, ErrPendingSecretRequired
		}
		next.PendingTotpSecret = c.secret

	case changeCommitAuthenticator:
		if s.PendingTotpSecret == "" {
			return s, ErrNoPendingAuthenticator
		}
		next.Method = MethodAuthenticator
		next.TotpSecret = s.PendingTotpSecret
		next.PendingTotpSecret = ""

	case changeDisable:
		if _, err := ParseMethod(string(c.method)); err != nil || c.method == MethodNone {
			return s, fmt.Errorf("%w: %q", ErrUnknownMethod, c.method)
		}
		if next.Method != c.method {
			return next, nil
		}
		next.Method = MethodNone
		if c.method == MethodAuthenticator {
			next.TotpSecret = ""
			next.PendingTotpSecret = ""
		}

	default:
		return s, fmt.Errorf("unsupported mfa change")
	}

	if next.Method == MethodAuthenticator && next.TotpSecret == "" {
		return s, ErrSecretRequired
	}
	return next, nil
}
