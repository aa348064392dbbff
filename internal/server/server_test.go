package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/relay"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/desertthunder/feedbridge/internal/telemetry"
	"golang.org/x/oauth2"
)

type staticRooms []relay.RoomInfo

func (s staticRooms) Rooms() []relay.RoomInfo { return s }

func TestRouter(t *testing.T) {
	telemetry.Init()
	rooms := staticRooms{
		{Room: "lounge@feeds.example.org", Occupant: "alice@example.org/laptop", Nick: "alice", Present: true, Services: []string{"twitter", "identica"}},
		{Room: "lounge@feeds.example.org", Occupant: "bob@example.org/phone", Nick: "bob", Present: true, Services: []string{"twitter"}},
		{Room: "news@feeds.example.org", Occupant: "alice@example.org/laptop", Nick: "al", Services: []string{"twitter"}},
	}
	router := NewRouter(rooms, log.New(io.Discard))

	t.Run("Health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		var resp HealthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode health response: %v", err)
		}
		if resp.Status != "ok" || resp.Rooms != 2 || resp.Connectors != 4 || len(resp.Bindings) != 3 {
			t.Errorf("unexpected health response %+v", resp)
		}
	})

	t.Run("Health Without Relay", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHealthHandler(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if !strings.Contains(rec.Body.String(), `"bindings":[]`) {
			t.Errorf("expected empty bindings, got %s", rec.Body.String())
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		telemetry.StanzasDropped.Inc()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "feedbridge_stanzas_dropped_total") {
			t.Error("expected relay metrics in exposition")
		}
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected 405, got %d", rec.Code)
		}
		if allow := rec.Header().Get("Allow"); !strings.Contains(allow, http.MethodGet) {
			t.Errorf("expected Allow header to list GET, got %q", allow)
		}
	})

	t.Run("Routes", func(t *testing.T) {
		if got := strings.Join(router.Routes(), " "); got != "/healthz GET /metrics" {
			t.Errorf("unexpected routes %q", got)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("Order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.Handle(http.MethodGet, "/", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { order = append(order, "handler") }))
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		if strings.Join(order, ",") != "first,second,handler" {
			t.Errorf("unexpected order %v", order)
		}
	})

	t.Run("Recover", func(t *testing.T) {
		var buf strings.Builder
		logger := log.New(&buf)

		r := NewBasicRouter()
		r.Use(RecoverMiddleware(logger), LoggingMiddleware(logger))
		r.Handle(http.MethodGet, "/boom", http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		if !strings.Contains(buf.String(), "recovered from panic") {
			t.Errorf("expected panic to be logged, got %q", buf.String())
		}
	})

	t.Run("Logs Server Errors", func(t *testing.T) {
		var buf strings.Builder
		logger := log.New(&buf)

		h := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))

		if !strings.Contains(buf.String(), "request failed") || !strings.Contains(buf.String(), "502") {
			t.Errorf("expected warning for 502, got %q", buf.String())
		}
	})
}

func TestOAuthHandler(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"access","refresh_token":"refresh","token_type":"bearer"}`)
	}))
	defer tokenServer.Close()

	config := &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: tokenServer.URL + "/authorize", TokenURL: tokenServer.URL + "/token"},
	}

	t.Run("Exchanges Code", func(t *testing.T) {
		h := NewOAuthHandler(config, "twitter", "state123", log.New(io.Discard))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=state123&code=good-code", nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "twitter account linked") {
			t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
		}

		result := <-h.Result()
		if err := result.Error(); err != nil {
			t.Fatalf("failed to exchange code: %v", err)
		}
		if result.Token.AccessToken != "access" || result.Token.RefreshToken != "refresh" {
			t.Errorf("unexpected token %+v", result.Token)
		}

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?state=state123&code=good-code", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected replay to be rejected, got %d", rec.Code)
		}
	})

	t.Run("Logs Page Write Failure", func(t *testing.T) {
		var buf bytes.Buffer
		h := NewOAuthHandler(config, "twitter", "state123", log.New(&buf))

		w := &brokenWriter{ResponseRecorder: httptest.NewRecorder()}
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/callback?state=state123&code=good-code", nil))

		result := <-h.Result()
		if err := result.Error(); err != nil {
			t.Fatalf("failed to exchange code: %v", err)
		}
		if out := buf.String(); !strings.Contains(out, "failed to render callback page") || !strings.Contains(out, "connection reset") {
			t.Errorf("expected render failure to be logged, got %q", out)
		}
	})

	tc := []struct {
		name   string
		query  string
		status int
	}{
		{"Invalid State", "state=nope&code=good-code", http.StatusBadRequest},
		{"Denied", "state=state123&error=access_denied", http.StatusBadRequest},
		{"Bad Code", "state=state123&code=bad-code", http.StatusInternalServerError},
	}
	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			h := NewOAuthHandler(config, "twitter", "state123", log.New(io.Discard))

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+tt.query, nil))
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}

			result := <-h.Result()
			if err := result.Error(); !errors.Is(err, shared.ErrAuthentication) {
				t.Errorf("expected authentication error, got %v", err)
			}
		})
	}
}

type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestNewHTTPServer(t *testing.T) {
	srv := NewHTTPServer("127.0.0.1", 3000, http.NotFoundHandler())
	if srv.Addr != "127.0.0.1:3000" {
		t.Errorf("unexpected address %s", srv.Addr)
	}
}
