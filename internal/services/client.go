// Twitter v1.1 REST implementation of [Feed]
//
// StatusNet and GNU social expose the same endpoints under their own api_root.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/desertthunder/feedbridge/internal/telemetry"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// pageSize is the largest page the timeline endpoints accept.
const pageSize = 200

type wireUser struct {
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

type wireStatus struct {
	ID        int64    `json:"id"`
	Text      string   `json:"text"`
	User      wireUser `json:"user"`
	CreatedAt string   `json:"created_at"`
	Source    string   `json:"source"`
}

type wireDirectMessage struct {
	ID        int64    `json:"id"`
	Text      string   `json:"text"`
	Sender    wireUser `json:"sender"`
	CreatedAt string   `json:"created_at"`
}

type wireError struct {
	Error  string `json:"error"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Options tunes a [Client].
type Options struct {
	// HTTPClient supplies the base transport and timeout. Defaults to a fresh [http.Client].
	HTTPClient *http.Client

	// Timeout overrides the per-request timeout of HTTPClient when set.
	Timeout time.Duration

	// OnTokenRefresh is called with every access token obtained by refreshing (oauth2 only).
	OnTokenRefresh func(*oauth2.Token)

	Logger *log.Logger
}

// Client implements [Feed] for one account on one configured service.
//
// oauth2 services authenticate with a bearer token (key = access token, secret = refresh token)
// and refresh it once when the API answers 401. basic services send key and secret as HTTP
// basic credentials.
type Client struct {
	svc        shared.ServiceConfig
	baseURL    string
	httpClient *http.Client
	tokens     *refreshingSource
	limiter    *rate.Limiter
	logger     *log.Logger
}

// New creates an authenticated [Client] for svc.
//
// Empty credentials yield [shared.ErrMissingCredentials]; an unknown auth scheme yields
// [shared.ErrUnsupportedScheme].
func New(ctx context.Context, svc shared.ServiceConfig, key, secret string, opts Options) (*Client, error) {
	if key == "" || secret == "" {
		return nil, fmt.Errorf("%w for service %q", shared.ErrMissingCredentials, svc.Tag)
	}
	telemetry.Init()

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	baseTransport := base.Transport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}
	timeout := base.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	c := &Client{
		svc:     svc,
		baseURL: svc.BaseURL(),
		logger:  shared.WithLogger(logger, "service", svc.Tag),
	}

	var transport http.RoundTripper
	switch svc.Type {
	case shared.SchemeOAuth2:
		conf, err := OAuthConfig(svc, "")
		if err != nil {
			return nil, err
		}

		// Token refreshes outlive the constructing call and use the same base transport.
		tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, &http.Client{Transport: baseTransport, Timeout: timeout})
		notify := func(tok *oauth2.Token) {
			telemetry.TokenRefreshes.WithLabelValues(svc.Tag).Inc()
			c.logger.Debug("access token refreshed")
			if opts.OnTokenRefresh != nil {
				opts.OnTokenRefresh(tok)
			}
		}
		c.tokens = newRefreshingSource(tokenCtx, conf, &oauth2.Token{AccessToken: key, RefreshToken: secret, TokenType: "Bearer"}, notify)
		transport = &oauth2.Transport{Source: c.tokens, Base: baseTransport}
	case shared.SchemeBasic:
		transport = &basicAuthTransport{username: key, password: secret, base: baseTransport}
	default:
		return nil, fmt.Errorf("%w: %q for service %q", shared.ErrUnsupportedScheme, svc.Type, svc.Tag)
	}

	c.httpClient = &http.Client{Transport: transport, Timeout: timeout}
	if svc.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(svc.RateLimit), 1)
	}
	return c, nil
}

// Name returns the service tag.
func (c *Client) Name() string {
	return c.svc.Tag
}

// doRequest performs an authenticated request and decodes the JSON response into result.
//
// GET parameters go in the query string, everything else is form encoded.
func (c *Client) doRequest(ctx context.Context, op, method, endpoint string, params url.Values, result any) error {
	err := c.send(ctx, method, endpoint, params, result)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized && c.tokens != nil && c.tokens.expire() {
		c.logger.Debug("access token rejected, retrying after refresh", "op", op)
		err = c.send(ctx, method, endpoint, params, result)
	}

	telemetry.FeedRequests.WithLabelValues(c.svc.Tag, op, telemetry.Outcome(err)).Inc()
	return err
}

func (c *Client) send(ctx context.Context, method, endpoint string, params url.Values, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &APIError{Message: fmt.Sprintf("rate limit wait failed: %v", err), Err: err}
		}
	}

	apiURL := c.baseURL + "/" + endpoint
	var body io.Reader
	if len(params) > 0 {
		if method == http.MethodGet {
			apiURL += "?" + params.Encode()
		} else {
			body = strings.NewReader(params.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, body)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(resp)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return &APIError{Message: fmt.Sprintf("failed to decode response: %v", err), Err: err}
		}
	}
	return nil
}

// errorMessage extracts the API's error text, falling back to the status text.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body wireError
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Errors) > 0 && body.Errors[0].Message != "" {
			return body.Errors[0].Message
		}
		if body.Error != "" {
			return body.Error
		}
	}

	if text := strings.TrimSpace(string(raw)); text != "" && len(text) < 200 && !strings.HasPrefix(text, "<") {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// parseTime reads the API's created_at format, also accepting RFC 3339. Unparseable values are zero.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RubyDate, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (s wireStatus) entry() Entry {
	return Entry{
		ID:        s.ID,
		Text:      s.Text,
		Author:    Author{Handle: s.User.ScreenName, Name: s.User.Name},
		CreatedAt: parseTime(s.CreatedAt),
		Source:    s.Source,
	}
}

func (d wireDirectMessage) message() DirectMessage {
	return DirectMessage{
		ID:        d.ID,
		Text:      d.Text,
		Sender:    Author{Handle: d.Sender.ScreenName, Name: d.Sender.Name},
		CreatedAt: parseTime(d.CreatedAt),
	}
}

func idParam(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (c *Client) Post(ctx context.Context, text string) (*Entry, error) {
	var status wireStatus
	params := url.Values{"status": {text}}
	if err := c.doRequest(ctx, "update", http.MethodPost, "statuses/update.json", params, &status); err != nil {
		return nil, err
	}
	entry := status.entry()
	return &entry, nil
}

func (c *Client) Reply(ctx context.Context, text string, inReplyTo int64) (*Entry, error) {
	var status wireStatus
	params := url.Values{"status": {text}, "in_reply_to_status_id": {idParam(inReplyTo)}}
	if err := c.doRequest(ctx, "reply", http.MethodPost, "statuses/update.json", params, &status); err != nil {
		return nil, err
	}
	entry := status.entry()
	return &entry, nil
}

func (c *Client) Favorite(ctx context.Context, id int64) error {
	return c.doRequest(ctx, "favorite", http.MethodPost, "favorites/create.json", url.Values{"id": {idParam(id)}}, nil)
}

func (c *Client) Retweet(ctx context.Context, id int64) error {
	return c.doRequest(ctx, "retweet", http.MethodPost, fmt.Sprintf("statuses/retweet/%d.json", id), nil, nil)
}

func (c *Client) Block(ctx context.Context, handle string) error {
	return c.doRequest(ctx, "block", http.MethodPost, "blocks/create.json", url.Values{"screen_name": {handle}}, nil)
}

func (c *Client) ReportSpam(ctx context.Context, handle string) error {
	return c.doRequest(ctx, "report_spam", http.MethodPost, "users/report_spam.json", url.Values{"screen_name": {handle}}, nil)
}

// HomeTimeline fetches one page of the home timeline newer than sinceID.
func (c *Client) HomeTimeline(ctx context.Context, sinceID int64) ([]Entry, error) {
	params := url.Values{"count": {strconv.Itoa(pageSize)}}
	if sinceID > 0 {
		params.Set("since_id", idParam(sinceID))
	}

	var statuses []wireStatus
	if err := c.doRequest(ctx, "home_timeline", http.MethodGet, "statuses/home_timeline.json", params, &statuses); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(statuses))
	for _, s := range statuses {
		entries = append(entries, s.entry())
	}
	return entries, nil
}

// DirectMessages fetches one page of received direct messages newer than sinceID.
func (c *Client) DirectMessages(ctx context.Context, sinceID int64) ([]DirectMessage, error) {
	params := url.Values{"count": {strconv.Itoa(pageSize)}}
	if sinceID > 0 {
		params.Set("since_id", idParam(sinceID))
	}

	var dms []wireDirectMessage
	if err := c.doRequest(ctx, "direct_messages", http.MethodGet, "direct_messages.json", params, &dms); err != nil {
		return nil, err
	}

	messages := make([]DirectMessage, 0, len(dms))
	for _, d := range dms {
		messages = append(messages, d.message())
	}
	return messages, nil
}

func (c *Client) GetEntry(ctx context.Context, id int64) (*Entry, error) {
	var status wireStatus
	if err := c.doRequest(ctx, "show", http.MethodGet, "statuses/show.json", url.Values{"id": {idParam(id)}}, &status); err != nil {
		return nil, err
	}
	entry := status.entry()
	return &entry, nil
}

// VerifyCredentials returns the account's own profile. Used to confirm newly linked accounts.
func (c *Client) VerifyCredentials(ctx context.Context) (*Author, error) {
	var user wireUser
	if err := c.doRequest(ctx, "verify_credentials", http.MethodGet, "account/verify_credentials.json", nil, &user); err != nil {
		return nil, err
	}
	return &Author{Handle: user.ScreenName, Name: user.Name}, nil
}
