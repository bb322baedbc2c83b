package config

// GoogleConfig holds the OAuth2 client used for "Sign in with Google".
type GoogleConfig struct {
	Enabled      bool   `env:"GOOGLE_ENABLED" env-default:"false"`
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`
	RedirectURL  string `env:"GOOGLE_REDIRECT_URL" env-default:"http://localhost:4000/auth/google/callback"`
}

// Usable reports whether Google sign-in is switched on and has credentials.
func (g GoogleConfig) Usable() bool {
	return g.Enabled && g.ClientID != "" && g.ClientSecret != ""
}

// EmailConfig mirrors notification.SMTPConfig so it can be copied across.
type EmailConfig struct {
	Host     string `env:"EMAIL_HOST" env-default:"localhost"`
	Port     int    `env:"EMAIL_PORT" env-default:"1025"`
	TLS      bool   `env:"EMAIL_TLS" env-default:"false"`
	Username string `env:"EMAIL_USERNAME"`
	Password string `env:"EMAIL_PASSWORD"`
	From     string `env:"EMAIL_FROM" env-default:"noreply@example.com"`

	// ResendAPIKey switches delivery from SMTP to the Resend API.
	ResendAPIKey string `env:"RESEND_API_KEY"`
}
