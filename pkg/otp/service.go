// Package otp issues one-time codes over email or SMS and the single-use
// tickets that prove a login step was passed.
package otp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/portal-auth/pkg/notification"
	"github.com/tendant/portal-auth/pkg/user"
	"golang.org/x/crypto/bcrypt"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type TicketKind string

const (
	TicketEmailOTPVerified   TicketKind = "email_otp_verified"
	TicketBackupCodeVerified TicketKind = "backup_code_verified"
)

const (
	CodeLength         = 6
	DefaultMaxAttempts = 5
	DefaultCodeTTL     = 10 * time.Minute
	DefaultTicketTTL   = 5 * time.Minute

	ticketBytes = 32
)

var (
	ErrUnknownChannel  = errors.New("unknown otp channel")
	ErrNoDestination   = errors.New("user has no destination for channel")
	ErrInvalidCode     = errors.New("invalid otp code")
	ErrTooManyAttempts = errors.New("too many otp attempts")
)

// Sender delivers a rendered notice. *notification.NotificationManager satisfies it.
type Sender interface {
	Send(noticeType notification.NoticeType, system notification.NotificationSystem, data notification.NotificationData) error
}

type Service struct {
	store       Store
	sender      Sender
	codeTTL     time.Duration
	ticketTTL   time.Duration
	maxAttempts int
	cost        int
	now         func() time.Time
}

type Option func(*Service)

func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

func WithTicketTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ticketTTL = ttl
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithHashCost sets the bcrypt cost for stored codes.
func WithHashCost(cost int) Option {
	return func(s *Service) {
		s.cost = cost
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(store Store, sender Sender, opts ...Option) *Service {
	s := &Service{
		store:       store,
		sender:      sender,
		codeTTL:     DefaultCodeTTL,
		ticketTTL:   DefaultTicketTTL,
		maxAttempts: DefaultMaxAttempts,
		cost:        bcrypt.DefaultCost,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelEmail:
		return ChannelEmail, nil
	case ChannelSMS:
		return ChannelSMS, nil
	default:
		return "", ErrUnknownChannel
	}
}

func codeKey(userID uuid.UUID, ch Channel) string {
	return string(ch) + ":" + userID.String()
}

// Send creates a fresh code for the user on the channel, replacing any
// pending one, and delivers it.
func (s *Service) Send(ctx context.Context, u user.User, ch Channel) error {
	var (
		to         string
		system     notification.NotificationSystem
		noticeType notification.NoticeType
	)
	switch ch {
	case ChannelEmail:
		to, system, noticeType = u.Email, notification.EmailSystem, notification.EmailOTPCode
	case ChannelSMS:
		to, system, noticeType = u.MFA.ContactNumber, notification.SMSSystem, notification.SMSOTPCode
	default:
		return ErrUnknownChannel
	}
	if to == "" {
		return ErrNoDestination
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		return fmt.Errorf("failed to hash otp code: %w", err)
	}

	now := s.now()
	rec := CodeRecord{Hash: string(hash), CreatedAt: now, ExpiresAt: now.Add(s.codeTTL)}
	if err := s.store.SaveCode(ctx, codeKey(u.ID, ch), rec, s.codeTTL); err != nil {
		return fmt.Errorf("failed to store otp code: %w", err)
	}

	err = s.sender.Send(noticeType, system, notification.NotificationData{
		To: to,
		Data: map[string]string{
			"Code":      code,
			"ExpiresIn": fmt.Sprintf("%d minutes", int(s.codeTTL.Minutes())),
		},
	})
	if err != nil {
		slog.Error("Failed to deliver otp code", "user_id", u.ID, "channel", ch, "err", err)
		return fmt.Errorf("failed to deliver otp code: %w", err)
	}

	slog.Info("OTP code sent", "user_id", u.ID, "channel", ch)
	return nil
}

// VerifyCode checks code against the pending code for the user. The code is
// removed on success and once the attempt limit is reached. Of several
// concurrent calls with the right code only one succeeds.
func (s *Service) VerifyCode(ctx context.Context, userID uuid.UUID, ch Channel, code string) error {
	code = strings.TrimSpace(code)
	key := codeKey(userID, ch)

	rec, err := s.store.GetCode(ctx, key)
	if err != nil {
		return err
	}
	if rec.Attempts >= s.maxAttempts {
		_ = s.store.DeleteCode(ctx, key)
		return ErrTooManyAttempts
	}

	if len(code) == CodeLength && bcrypt.CompareHashAndPassword([]byte(rec.Hash), []byte(code)) == nil {
		taken, err := s.store.TakeCode(ctx, key, rec.Hash)
		if err != nil {
			return fmt.Errorf("failed to redeem otp code: %w", err)
		}
		if !taken {
			slog.Warn("OTP code already redeemed", "user_id", userID, "channel", ch)
			return ErrInvalidCode
		}
		return nil
	}

	attempts, err := s.store.IncrementAttempts(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return ErrInvalidCode
		}
		return fmt.Errorf("failed to record otp attempt: %w", err)
	}
	if attempts >= s.maxAttempts {
		slog.Warn("OTP attempt limit reached", "user_id", userID, "channel", ch)
		_ = s.store.DeleteCode(ctx, key)
		return ErrTooManyAttempts
	}
	return ErrInvalidCode
}

// IssueTicket returns an opaque token bound to the user and kind.
func (s *Service) IssueTicket(ctx context.Context, userID uuid.UUID, kind TicketKind) (string, error) {
	buf := make([]byte, ticketBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate ticket: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	now := s.now()
	ticket := Ticket{UserID: userID, Kind: kind, IssuedAt: now, ExpiresAt: now.Add(s.ticketTTL)}
	if err := s.store.SaveTicket(ctx, token, ticket, s.ticketTTL); err != nil {
		return "", fmt.Errorf("failed to store ticket: %w", err)
	}
	return token, nil
}

// ConsumeTicket redeems a token. A token is gone after the first call even
// when it belongs to another user or kind.
func (s *Service) ConsumeTicket(ctx context.Context, token string, userID uuid.UUID, kind TicketKind) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	ticket, err := s.store.TakeTicket(ctx, token)
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			return false, nil
		}
		return false, err
	}

	if ticket.UserID != userID || ticket.Kind != kind {
		slog.Warn("Ticket presented for wrong user or kind", "user_id", userID, "kind", kind)
		return false, nil
	}
	return true, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
