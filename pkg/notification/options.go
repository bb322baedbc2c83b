package notification

import (
	"embed"
	"log/slog"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile(filename)
	if err != nil {
		slog.Error("Error reading template file!", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

// NotificationManagerOption is a function that configures a NotificationManager
type NotificationManagerOption func(*NotificationManager) error

// WithSMTP registers an SMTP email notifier.
func WithSMTP(config SMTPConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		emailNotifier, err := NewEmailNotifier(config)
		if err != nil {
			return err
		}
		nm.RegisterNotifier(EmailSystem, emailNotifier)
		return nil
	}
}

// WithResend registers a Resend API email notifier.
func WithResend(apiKey, from string) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.RegisterNotifier(EmailSystem, NewResendNotifier(apiKey, from))
		return nil
	}
}

// WithTwilio registers a Twilio SMS notifier.
func WithTwilio(config TwilioConfig) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.RegisterNotifier(SMSSystem, NewSMSNotifier(config))
		return nil
	}
}

// WithNotifier registers any notifier, typically a LogNotifier or MockNotifier.
func WithNotifier(system NotificationSystem, notifier Notifier) NotificationManagerOption {
	return func(nm *NotificationManager) error {
		nm.RegisterNotifier(system, notifier)
		return nil
	}
}

func WithLoginConfirmationTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(LoginConfirmation, EmailSystem, NoticeTemplate{
			Subject: "New sign-in to your client portal",
			Text:    "Hi {{.Name}}, you just signed in to your client portal with {{.Provider}} on {{.Time}}. If this was not you, contact your accountant.",
			Html:    loadTemplate("templates/email/login_confirmation.html"),
		})
	}
}

func WithMFAEnabledReminderTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(MFAEnabledReminder, EmailSystem, NoticeTemplate{
			Subject: "Two-factor authentication is on",
			Text:    "Hi {{.Name}}, two-factor authentication ({{.Method}}) is now on. Generate backup codes at {{.BaseUrl}}/settings/security.",
			Html:    loadTemplate("templates/email/mfa_enabled_reminder.html"),
		})
	}
}

func WithEmailOTPTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(EmailOTPCode, EmailSystem, NoticeTemplate{
			Subject: "Your sign-in code",
			Text:    "Your client portal sign-in code is {{.Code}}. It expires in {{.ExpiresIn}}.",
			Html:    loadTemplate("templates/email/otp_code.html"),
		})
	}
}

func WithSMSOTPTemplate() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		return nm.RegisterNotification(SMSOTPCode, SMSSystem, NoticeTemplate{
			Text: "Your client portal sign-in code is {{.Code}}. It expires in {{.ExpiresIn}}.",
		})
	}
}

// WithDefaultTemplates registers every template the portal sends.
func WithDefaultTemplates() NotificationManagerOption {
	return func(nm *NotificationManager) error {
		options := []NotificationManagerOption{
			WithLoginConfirmationTemplate(),
			WithMFAEnabledReminderTemplate(),
			WithEmailOTPTemplate(),
			WithSMSOTPTemplate(),
		}

		for _, opt := range options {
			if err := opt(nm); err != nil {
				return err
			}
		}
		return nil
	}
}

// NewNotificationManagerWithOptions creates a new notification manager with the provided options
func NewNotificationManagerWithOptions(baseUrl string, opts ...NotificationManagerOption) (*NotificationManager, error) {
	notificationManager := NewNotificationManager(baseUrl)

	for _, opt := range opts {
		if err := opt(notificationManager); err != nil {
			return nil, err
		}
	}

	return notificationManager, nil
}
