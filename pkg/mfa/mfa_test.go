package mfa

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeCount(s State) int {
	n := 0
	for _, on := range []bool{s.EmailMfaEnabled(), s.SmsEnabled(), s.TotpEnabled()} {
		if on {
			n++
		}
	}
	return n
}

func TestEnableEmailTurnsAuthenticatorOff(t *testing.T) {
	s := State{Method: MethodAuthenticator, TotpSecret: "cipher"}

	next, err := Transition(s, EnableEmail())
	require.NoError(t, err)

	assert.True(t, next.EmailMfaEnabled())
	assert.False(t, next.TotpEnabled())
	assert.Empty(t, next.TotpSecret)
	assert.Equal(t, 1, activeCount(next))
}

func TestAuthenticatorSetup(t *testing.T) {
	s := State{Method: MethodEmail}
	assert.Equal(t, SetupUnconfigured, s.TOTPSetup())

	pending, err := Transition(s, BeginAuthenticatorSetup("pending-cipher"))
	require.NoError(t, err)
	assert.Equal(t, SetupPendingVerification, pending.TOTPSetup())
	assert.True(t, pending.EmailMfaEnabled(), "active factor is unchanged until verification")

	enabled, err := Transition(pending, CommitAuthenticator())
	require.NoError(t, err)
	assert.Equal(t, SetupEnabled, enabled.TOTPSetup())
	assert.True(t, enabled.TotpEnabled())
	assert.False(t, enabled.EmailMfaEnabled())
	assert.Equal(t, "pending-cipher", enabled.TotpSecret)
	assert.Empty(t, enabled.PendingTotpSecret)
}

func TestReinitiatedSetupKeepsOldSecretUntilCommit(t *testing.T) {
	s := State{Method: MethodAuthenticator, TotpSecret: "old"}

	pending, err := Transition(s, BeginAuthenticatorSetup("new"))
	require.NoError(t, err)
	assert.Equal(t, "old", pending.TotpSecret)
	assert.Equal(t, SetupEnabled, pending.TOTPSetup())

	committed, err := Transition(pending, CommitAuthenticator())
	require.NoError(t, err)
	assert.Equal(t, "new", committed.TotpSecret)
}

func TestTransitionErrors(t *testing.T) {
	t.Run("commit without pending secret", func(t *testing.T) {
		_, err := Transition(State{}, CommitAuthenticator())
		assert.ErrorIs(t, err, ErrNoPendingAuthenticator)
	})

	t.Run("begin without secret", func(t *testing.T) {
		_, err := Transition(State{}, BeginAuthenticatorSetup(""))
		assert.ErrorIs(t, err, ErrPendingSecretRequired)
	})

	t.Run("sms without number", func(t *testing.T) {
		s := State{Method: MethodEmail}
		next, err := Transition(s, EnableSMS(""))
		assert.ErrorIs(t, err, ErrContactNumberRequired)
		assert.Equal(t, s, next)
	})

	t.Run("disable unknown method", func(t *testing.T) {
		_, err := Transition(State{}, Disable("carrier-pigeon"))
		assert.ErrorIs(t, err, ErrUnknownMethod)
	})
}

func TestEnableSMSUsesNumberOnFile(t *testing.T) {
	s := State{Method: MethodAuthenticator, TotpSecret: "cipher", ContactNumber: "+15550100"}

	next, err := Transition(s, EnableSMS(""))
	require.NoError(t, err)
	assert.True(t, next.SmsEnabled())
	assert.Equal(t, "+15550100", next.ContactNumber)
	assert.Empty(t, next.TotpSecret)
}

func TestDisable(t *testing.T) {
	t.Run("active method", func(t *testing.T) {
		next, err := Transition(State{Method: MethodAuthenticator, TotpSecret: "c", PendingTotpSecret: "p"}, Disable(MethodAuthenticator))
		require.NoError(t, err)
		assert.False(t, next.MfaEnabled())
		assert.Empty(t, next.TotpSecret)
		assert.Empty(t, next.PendingTotpSecret)
	})

	t.Run("inactive method is a no-op", func(t *testing.T) {
		s := State{Method: MethodEmail}
		next, err := Transition(s, Disable(MethodAuthenticator))
		require.NoError(t, err)
		assert.Equal(t, s, next)
	})
}

func TestNoSequenceProducesTwoActiveMethods(t *testing.T) {
	changes := []Change{
		EnableEmail(),
		BeginAuthenticatorSetup("a"),
		CommitAuthenticator(),
		EnableSMS("+15550100"),
		EnableEmail(),
		BeginAuthenticatorSetup("b"),
		EnableEmail(),
		Disable(MethodEmail),
		BeginAuthenticatorSetup("c"),
		CommitAuthenticator(),
		Disable(MethodSMS),
	}

	s := State{}
	for _, c := range changes {
		next, err := Transition(s, c)
		if err == nil {
			s = next
		}
		assert.LessOrEqual(t, activeCount(s), 1)
		assert.False(t, s.EmailMfaEnabled() && s.TotpEnabled())
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		enabled   bool
		available []Method
		preferred Method
	}{
		{"zero value", State{}, false, []Method{}, MethodNone},
		{"email", State{Method: MethodEmail}, true, []Method{MethodEmail}, MethodEmail},
		{"sms with number", State{Method: MethodSMS, ContactNumber: "+15550100"}, true, []Method{MethodSMS}, MethodSMS},
		{"sms without number", State{Method: MethodSMS}, true, []Method{}, MethodSMS},
		{"authenticator", State{Method: MethodAuthenticator, TotpSecret: "c"}, true, []Method{MethodAuthenticator}, MethodAuthenticator},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := Resolve(tt.state)
			assert.Equal(t, tt.enabled, status.MfaEnabled)
			assert.Equal(t, tt.available, status.AvailableMethods)
			assert.Equal(t, tt.preferred, status.PreferredMethod)

			// pure: same input, same output
			assert.Equal(t, status, Resolve(tt.state))
		})
	}
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodNone, m)

	m, err = ParseMethod("authenticator")
	require.NoError(t, err)
	assert.Equal(t, MethodAuthenticator, m)

	_, err = ParseMethod("totp")
	assert.ErrorIs(t, err, ErrUnknownMethod)
}
