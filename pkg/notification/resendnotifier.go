package notification

import (
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"
)

type emailSender interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendNotifier delivers email through the Resend API.
type ResendNotifier struct {
	emails emailSender
	from   string
}

func NewResendNotifier(apiKey, from string) *ResendNotifier {
	client := resend.NewClient(apiKey)
	return &ResendNotifier{emails: client.Emails, from: from}
}

func (r *ResendNotifier) Send(noticeType NoticeType, notification NotificationData) error {
	if notification.To == "" {
		return fmt.Errorf("email notification requires 'To' address")
	}

	params := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{notification.To},
		Subject: notification.Subject,
		Html:    notification.Html,
		Text:    notification.Body,
	}

	resp, err := r.emails.Send(params)
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}

	slog.Info("Email sent", "type", noticeType, "to", MaskEmail(notification.To), "id", resp.Id)
	return nil
}
