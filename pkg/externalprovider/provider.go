// Package externalprovider signs users in through an OAuth2 identity
// provider. Google is the only provider the portal offers.
package externalprovider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	GoogleID          = "google"
	GoogleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

var (
	ErrMissingEmail    = errors.New("provider returned no email")
	ErrEmailUnverified = errors.New("provider email is not verified")
)

// Config describes one OAuth2 client registration.
type Config struct {
	ID           string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Endpoint     oauth2.Endpoint
	UserInfoURL  string
}

// GoogleConfig fills in Google's endpoints and the profile scopes.
func GoogleConfig(clientID, clientSecret, redirectURL string) Config {
	return Config{
		ID:           GoogleID,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{"openid", "email", "profile"},
		Endpoint:     endpoints.Google,
		UserInfoURL:  GoogleUserInfoURL,
	}
}

// UserInfo is the normalized profile returned by the provider.
type UserInfo struct {
	ExternalID    string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Provider runs the authorization code flow against one provider.
type Provider struct {
	id          string
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

type Option func(*Provider)

// WithHTTPClient sets the client used for the token exchange and the
// userinfo call.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client id and secret are required")
	}
	if cfg.UserInfoURL == "" {
		return nil, fmt.Errorf("userinfo url is required")
	}

	p := &Provider{
		id: cfg.ID,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     cfg.Endpoint,
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Provider) ID() string {
	return p.id
}

// AuthCodeURL is the consent page the browser is sent to.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Complete exchanges code for a token and fetches the user's profile.
func (p *Provider) Complete(ctx context.Context, code string) (UserInfo, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return UserInfo{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return UserInfo{}, fmt.Errorf("failed to read userinfo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return UserInfo{}, fmt.Errorf("userinfo request failed with status %d", resp.StatusCode)
	}

	var info UserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return UserInfo{}, fmt.Errorf("failed to parse userinfo: %w", err)
	}
	if info.Email == "" {
		return UserInfo{}, ErrMissingEmail
	}
	if !info.EmailVerified {
		return UserInfo{}, ErrEmailUnverified
	}

	slog.Info("External profile retrieved", "provider", p.id, "external_id", info.ExternalID)
	return info, nil
}

// GenerateState returns a random value for the OAuth2 state parameter.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
