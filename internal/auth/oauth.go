package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// GoogleTokenURL is the endpoint GoogleOAuth refreshes against by
// default.
const GoogleTokenURL = "https://oauth2.googleapis.com/token"

// GoogleOAuth refreshes access tokens through the standard OAuth2
// refresh-token grant.
type GoogleOAuth struct {
	conf   *oauth2.Config
	client *http.Client
}

// NewGoogleOAuth builds a refresh client. tokenURL may be empty to use
// GoogleTokenURL; client may be nil to use http.DefaultClient.
func NewGoogleOAuth(clientID, clientSecret, tokenURL string, client *http.Client) *GoogleOAuth {
	if tokenURL == "" {
		tokenURL = GoogleTokenURL
	}
	return &GoogleOAuth{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
		},
		client: client,
	}
}

// RefreshAccessToken exchanges the refresh token for a fresh access
// token. It never mutates manager state; the caller decides what to do
// with the result.
func (g *GoogleOAuth) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("refresh token is empty")
	}
	if g.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	}

	// TokenSource with only a refresh token forces the refresh grant on
	// the first Token() call.
	src := g.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing access token: %w", err)
	}

	expiresIn := int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &TokenResponse{AccessToken: tok.AccessToken, ExpiresIn: expiresIn}, nil
}
