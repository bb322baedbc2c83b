package notification

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"sync"
	"text/template"
)

// NotificationSystem is a delivery channel (email or SMS).
type NotificationSystem string

// NoticeType identifies a kind of message, e.g. a login confirmation.
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"
	SMSSystem   NotificationSystem = "sms"

	LoginConfirmation  NoticeType = "login_confirmation"
	MFAEnabledReminder NoticeType = "mfa_enabled_reminder"
	EmailOTPCode       NoticeType = "email_otp_code"
	SMSOTPCode         NoticeType = "sms_otp_code"
)

// NotificationManager renders registered templates and hands the result to
// the notifier registered for the system.
type NotificationManager struct {
	mu                   sync.RWMutex
	notifiers            map[NotificationSystem]Notifier
	notificationRegistry map[NoticeType]map[NotificationSystem]NoticeTemplate
	BaseUrl              string
}

func NewNotificationManager(baseUrl string) *NotificationManager {
	return &NotificationManager{
		notifiers:            make(map[NotificationSystem]Notifier),
		notificationRegistry: make(map[NoticeType]map[NotificationSystem]NoticeTemplate),
		BaseUrl:              baseUrl,
	}
}

// RegisterNotifier registers a notifier for a specific system, replacing any earlier one.
func (nm *NotificationManager) RegisterNotifier(system NotificationSystem, notifier Notifier) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.notifiers[system] = notifier
}

// RegisterNotification adds or replaces the template for a notice type on a system.
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, system NotificationSystem, tmpl NoticeTemplate) error {
	if noticeType == "" || system == "" {
		return fmt.Errorf("invalid input: notice type and system cannot be empty")
	}
	if tmpl.Text == "" && tmpl.Html == "" {
		return fmt.Errorf("invalid input: template for %s needs a text or html body", noticeType)
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	if _, exists := nm.notificationRegistry[noticeType]; !exists {
		nm.notificationRegistry[noticeType] = make(map[NotificationSystem]NoticeTemplate)
	}
	nm.notificationRegistry[noticeType][system] = tmpl
	return nil
}

// HasNotifier reports whether a notifier is registered for the system.
func (nm *NotificationManager) HasNotifier(system NotificationSystem) bool {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	_, ok := nm.notifiers[system]
	return ok
}

// Send renders the template registered for noticeType on system with
// notification.Data and delivers it.
func (nm *NotificationManager) Send(noticeType NoticeType, system NotificationSystem, notification NotificationData) error {
	nm.mu.RLock()
	systemTemplates, exists := nm.notificationRegistry[noticeType]
	if !exists {
		nm.mu.RUnlock()
		return fmt.Errorf("no templates registered for notice type: %s", noticeType)
	}
	tmpl, exists := systemTemplates[system]
	if !exists {
		nm.mu.RUnlock()
		return fmt.Errorf("no template registered for system: %s under notice type: %s", system, noticeType)
	}
	notifier, exists := nm.notifiers[system]
	nm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("no notifier registered for system: %s", system)
	}

	data := make(map[string]string, len(notification.Data)+1)
	for k, v := range notification.Data {
		data[k] = v
	}
	if _, ok := data["BaseUrl"]; !ok {
		data["BaseUrl"] = nm.BaseUrl
	}

	rendered, err := render(tmpl, data)
	if err != nil {
		slog.Error("Failed to render notice", "type", noticeType, "system", system, "err", err)
		return err
	}
	rendered.To = notification.To
	rendered.Data = data

	return notifier.Send(noticeType, rendered)
}

func render(tmpl NoticeTemplate, data map[string]string) (NotificationData, error) {
	var out NotificationData
	var err error

	if out.Subject, err = renderText("subject", tmpl.Subject, data); err != nil {
		return out, err
	}
	if out.Body, err = renderText("text", tmpl.Text, data); err != nil {
		return out, err
	}
	if tmpl.Html != "" {
		t, err := htmltemplate.New("html").Option("missingkey=error").Parse(tmpl.Html)
		if err != nil {
			return out, fmt.Errorf("failed to parse html template: %w", err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return out, fmt.Errorf("failed to execute html template: %w", err)
		}
		out.Html = buf.String()
	}
	return out, nil
}

func renderText(name, text string, data map[string]string) (string, error) {
	if text == "" {
		return "", nil
	}
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
