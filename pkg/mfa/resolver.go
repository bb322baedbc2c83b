package mfa

// Status is what the login screen and the settings page need to know about
// an account's second factor.
type Status struct {
	MfaEnabled       bool       `json:"mfaEnabled"`
	AvailableMethods []Method   `json:"availableMethods"`
	PreferredMethod  Method     `json:"preferredMethod"`
	TOTPSetup        SetupState `json:"totpSetup"`
}

// Resolve projects a stored state onto a Status. It performs no I/O.
func Resolve(s State) Status {
	available := make([]Method, 0, 1)
	if s.EmailMfaEnabled() {
		available = append(available, MethodEmail)
	}
	if s.SmsEnabled() && s.ContactNumber != "" {
		available = append(available, MethodSMS)
	}
	if s.TotpEnabled() {
		available = append(available, MethodAuthenticator)
	}

	return Status{
		MfaEnabled:       s.MfaEnabled(),
		AvailableMethods: available,
		PreferredMethod:  s.active(),
		TOTPSetup:        s.TOTPSetup(),
	}
}
