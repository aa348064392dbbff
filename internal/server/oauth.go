package server

import (
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/shared"
	"golang.org/x/oauth2"
)

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	Token *oauth2.Token
	err   error
}

func (o *OAuthResult) Error() error {
	return o.err
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><title>feedbridge</title></head>
<body>
  <h1>{{.Service}} account linked</h1>
  <p>You can close this window and return to the terminal.</p>
</body>
</html>
`))

// OAuthHandler handles the authorization-code callback used to link an account.
//
// Only the first callback is processed.
type OAuthHandler struct {
	config      *oauth2.Config
	service     string
	state       string
	logger      *log.Logger
	resultChan  chan OAuthResult
	once        sync.Once
	callbackHit bool
	mu          sync.Mutex
}

// NewOAuthHandler creates a callback handler for service. state must be random.
func NewOAuthHandler(config *oauth2.Config, service, state string, logger *log.Logger) *OAuthHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &OAuthHandler{
		config:     config,
		service:    service,
		state:      state,
		logger:     logger,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/callback"}
}

// ServeHTTP validates the state, exchanges the code and delivers the token on [OAuthHandler.Result].
//
// Failures are delivered as [shared.ErrAuthentication].
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.callbackHit {
		h.mu.Unlock()
		http.Error(w, "Callback already processed", http.StatusBadRequest)
		return
	}
	h.callbackHit = true
	h.mu.Unlock()

	query := r.URL.Query()
	if query.Get("state") != h.state {
		h.Send(OAuthResult{err: fmt.Errorf("%w: invalid state parameter", shared.ErrAuthentication)})
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		return
	}

	code := query.Get("code")
	if code == "" {
		err := fmt.Errorf("%w: authorization failed: %s - %s", shared.ErrAuthentication, query.Get("error"), query.Get("error_description"))
		h.Send(OAuthResult{err: err})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}

	token, err := h.config.Exchange(r.Context(), code)
	if err != nil {
		h.Send(OAuthResult{err: fmt.Errorf("%w: token exchange failed: %v", shared.ErrAuthentication, err)})
		http.Error(w, "Token exchange failed", http.StatusInternalServerError)
		return
	}

	h.Send(OAuthResult{Token: token})

	w.Header().Set("Content-Type", "text/html")
	if err := callbackPage.Execute(w, struct{ Service string }{h.service}); err != nil {
		h.logger.Warn("failed to render callback page", "service", h.service, "error", err)
	}
}

// Send sends the OAuth result through the channel (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}
