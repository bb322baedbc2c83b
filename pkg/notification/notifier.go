package notification

type NotificationData struct {
	To      string            // Recipient identifier (email address or phone number)
	Subject string            // Rendered subject, email only
	Body    string            // Rendered plain text body
	Html    string            // Rendered HTML body, email only
	Data    map[string]string // Values substituted into the template
}

// NoticeTemplate holds the raw templates for one notice type on one system.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData) error
}
