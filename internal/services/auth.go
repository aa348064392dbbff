package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/desertthunder/feedbridge/internal/shared"
	"golang.org/x/oauth2"
)

// OAuthConfig builds the authorization-code configuration for an oauth2 service.
//
// The authorize and token endpoints live under the service's oauth_root.
func OAuthConfig(svc shared.ServiceConfig, redirectURL string) (*oauth2.Config, error) {
	if svc.Type != shared.SchemeOAuth2 {
		return nil, fmt.Errorf("%w: service %q uses %q", shared.ErrUnsupportedScheme, svc.Tag, svc.Type)
	}
	if svc.OAuthRoot == "" || svc.OAuthKey == "" || svc.OAuthSecret == "" {
		return nil, fmt.Errorf("%w: service %q is missing oauth settings", shared.ErrInvalidConfig, svc.Tag)
	}

	root := strings.TrimSuffix(svc.OAuthRoot, "/")
	return &oauth2.Config{
		ClientID:     svc.OAuthKey,
		ClientSecret: svc.OAuthSecret,
		RedirectURL:  redirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  root + "/authorize",
			TokenURL: root + "/token",
		},
	}, nil
}

// refreshingSource wraps an oauth2 token source, reports refreshed tokens and can force a refresh.
type refreshingSource struct {
	mu     sync.Mutex
	ctx    context.Context
	conf   *oauth2.Config
	base   oauth2.TokenSource
	last   *oauth2.Token
	notify func(*oauth2.Token)
}

func newRefreshingSource(ctx context.Context, conf *oauth2.Config, tok *oauth2.Token, notify func(*oauth2.Token)) *refreshingSource {
	return &refreshingSource{
		ctx:    ctx,
		conf:   conf,
		base:   conf.TokenSource(ctx, tok),
		last:   tok,
		notify: notify,
	}
}

// Token implements [oauth2.TokenSource].
func (s *refreshingSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to refresh token: %v", shared.ErrAuthentication, err)
	}

	if tok.AccessToken != s.last.AccessToken && s.notify != nil {
		s.notify(tok)
	}
	s.last = tok
	return tok, nil
}

// expire marks the current token stale so the next request refreshes it.
// It reports false when there is no refresh token to use.
func (s *refreshingSource) expire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last.RefreshToken == "" {
		return false
	}
	stale := *s.last
	stale.Expiry = time.Now().Add(-time.Minute)
	s.base = s.conf.TokenSource(s.ctx, &stale)
	return true
}

// basicAuthTransport adds HTTP basic credentials to every request.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.SetBasicAuth(t.username, t.password)
	return t.base.RoundTrip(clone)
}
