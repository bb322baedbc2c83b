package totp

import (
	"bytes"
	"encoding/base32"
	"encoding/base64"
	"fmt"
	"image/png"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	DefaultIssuer = "Portal"
	PERIOD        = 30
	SKEW          = 1
	SecretSize    = 20
	CodeLength    = 6
	QRImageSize   = 200
)

// Decrypter opens a stored secret ciphertext.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Engine generates and verifies authenticator-app codes.
type Engine struct {
	codec  Decrypter
	issuer string
	now    func() time.Time
}

type Option func(*Engine)

// WithIssuer sets the issuer label shown in authenticator apps.
func WithIssuer(issuer string) Option {
	return func(e *Engine) {
		if issuer != "" {
			e.issuer = issuer
		}
	}
}

// WithNow overrides the clock used for verification.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(codec Decrypter, opts ...Option) *Engine {
	e := &Engine{
		codec:  codec,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Issuer() string {
	return e.issuer
}

func validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    PERIOD,
		Skew:      SKEW,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// GenerateSecret returns a new random base32 secret. Every call draws fresh
// randomness; nothing about the account feeds into it.
func (e *Engine) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: "setup",
		SecretSize:  SecretSize,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return key.Secret(), nil
}

// BuildProvisioningURI returns the otpauth:// URI an authenticator app scans.
func (e *Engine) BuildProvisioningURI(accountEmail, secret, issuer string) (string, error) {
	if issuer == "" {
		issuer = e.issuer
	}

	raw, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountEmail,
		Period:      PERIOD,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
		Secret:      raw,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// RenderQRImage encodes uri as a PNG data URL.
func (e *Engine) RenderQRImage(uri string) (string, error) {
	key, err := otp.NewKeyFromURL(uri)
	if err != nil {
		return "", fmt.Errorf("invalid provisioning uri: %w", err)
	}

	img, err := key.Image(QRImageSize, QRImageSize)
	if err != nil {
		return "", fmt.Errorf("failed to render qr code: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode qr code: %w", err)
	}

	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Verify decrypts encryptedSecret and checks code against the current time
// step and one step either side. It never returns an error: any failure,
// including a corrupt secret, is logged and reported as false.
func (e *Engine) Verify(code, encryptedSecret string) bool {
	if encryptedSecret == "" {
		slog.Error("TOTP verification without a stored secret")
		return false
	}

	secret, err := e.codec.Decrypt(encryptedSecret)
	if err != nil {
		slog.Error("Failed to decrypt TOTP secret", "err", err)
		return false
	}

	return e.VerifyPlain(code, secret)
}

// VerifyPlain checks code against an unencrypted secret.
func (e *Engine) VerifyPlain(code, secret string) bool {
	code = strings.TrimSpace(code)
	if !isSixDigits(code) {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, e.now().UTC(), validateOpts())
	if err != nil {
		slog.Error("Failed to validate TOTP code", "err", err)
		return false
	}
	return valid
}

// GenerateCode returns the code for secret at t.
func GenerateCode(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), validateOpts())
}

func decodeSecret(secret string) ([]byte, error) {
	normalized := strings.ToUpper(strings.TrimSpace(secret))
	normalized = strings.TrimRight(normalized, "=")
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("invalid totp secret: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("invalid totp secret: empty")
	}
	return raw, nil
}

func isSixDigits(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
