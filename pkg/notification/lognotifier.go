package notification

import (
	"log/slog"
)

// LogNotifier writes notices to the log instead of delivering them. Useful
// when no email or SMS provider is configured.
type LogNotifier struct {
	System NotificationSystem
}

func (l LogNotifier) Send(noticeType NoticeType, notification NotificationData) error {
	to := MaskEmail(notification.To)
	if l.System == SMSSystem {
		to = MaskPhone(notification.To)
	}
	slog.Info("Notice (log only)", "system", l.System, "type", noticeType, "to", to, "subject", notification.Subject)
	return nil
}
