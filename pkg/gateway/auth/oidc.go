package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/gateway/httpclient"
	"golang.org/x/oauth2"
)

type OIDCAuthenticator struct {
	config      *oauth2.Config
	issuer      string
	userInfoURL string
	client      *http.Client
}

// OIDCProfile is the subset of the userinfo response used to match a local account.
type OIDCProfile struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

func NewOIDCAuthenticator(issuer, clientID, clientSecret, redirectURL string) (*OIDCAuthenticator, error) {
	if issuer == "" || clientID == "" {
		return nil, fmt.Errorf("OIDC configuration incomplete")
	}
	issuer = strings.TrimRight(issuer, "/")

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  issuer + "/authorize",
			TokenURL: issuer + "/token",
		},
		Scopes: []string{"openid", "profile", "email"},
	}

	return &OIDCAuthenticator{
		config:      config,
		issuer:      issuer,
		userInfoURL: issuer + "/userinfo",
		client:      httpclient.New(10 * time.Second),
	}, nil
}

func (a *OIDCAuthenticator) LoginURL(state string) string {
	return a.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange trades an authorization code for a token and resolves the caller's profile.
func (a *OIDCAuthenticator) Exchange(ctx context.Context, code string) (OIDCProfile, error) {
	if code == "" {
		return OIDCProfile{}, errors.New("authorization code missing")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)
	token, err := a.config.Exchange(ctx, code)
	if err != nil {
		return OIDCProfile{}, fmt.Errorf("exchange code: %w", err)
	}

	var profile OIDCProfile
	err = httpclient.Retry(ctx, 3, 200*time.Millisecond, func() error {
		var fetchErr error
		profile, fetchErr = a.fetchProfile(ctx, token)
		return fetchErr
	})
	if err != nil {
		return OIDCProfile{}, err
	}
	if profile.Email == "" {
		return OIDCProfile{}, errors.New("userinfo missing email")
	}

	logger.Log.WithField("issuer", a.issuer).Debug("OIDC profile resolved")
	return profile, nil
}

func (a *OIDCAuthenticator) fetchProfile(ctx context.Context, token *oauth2.Token) (OIDCProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.userInfoURL, nil)
	if err != nil {
		return OIDCProfile{}, err
	}
	resp, err := a.config.Client(ctx, token).Do(req)
	if err != nil {
		return OIDCProfile{}, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return OIDCProfile{}, &httpclient.StatusError{URL: a.userInfoURL, Code: resp.StatusCode}
	}

	var profile OIDCProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return OIDCProfile{}, fmt.Errorf("decode userinfo: %w", err)
	}
	return profile, nil
}
