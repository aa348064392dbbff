package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/shared"
	tu "github.com/desertthunder/feedbridge/internal/testing"
	"github.com/urfave/cli/v3"
)

const testConfig = `
[component]
jid = "feeds.example.org"
server = "ws://127.0.0.1:5347/component"
secret = "s3cret"

[database]
driver = "sqlite3"
path = %q

[server]
host = "127.0.0.1"
port = 0

[[services]]
tag = "twitter"
type = "oauth2"
api_root = "api.twitter.test/1.1"
oauth_root = %q
oauth_key = "client"
oauth_secret = "client-secret"

[[services]]
tag = "identica"
type = "basic"
api_root = "identi.ca/api"
use_https = true
`

// writeConfig writes a config file with its database in a temp dir and returns the config path.
func writeConfig(t *testing.T, oauthRoot string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(testConfig, filepath.Join(dir, "feedbridge.db"), oauthRoot)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func newTestRunner(output io.Writer, opts RunnerOpts) *Runner {
	opts.Output = output
	opts.Logger = log.New(io.Discard)
	return NewRunner(opts)
}

// runApp runs the command line against a fresh command tree.
func runApp(r *Runner, args ...string) error {
	app := &cli.Command{Name: "feedbridge", Commands: r.register()}
	return app.Run(context.Background(), append([]string{"feedbridge"}, args...))
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("with all dependencies provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(nil)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
			})

			if runner.config != config {
				t.Error("expected config to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
			if runner.logger != logger {
				t.Error("expected logger to be set")
			}
			if runner.output != output {
				t.Error("expected output to be set")
			}
			if runner.httpClient != httpClient {
				t.Error("expected httpClient to be set")
			}
		})

		t.Run("with nil options uses defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config != nil {
				t.Error("expected config to be loaded lazily")
			}
			if runner.logger == nil {
				t.Error("expected default logger to be set")
			}
			if runner.output != os.Stdout {
				t.Error("expected output to default to os.Stdout")
			}
			if runner.httpClient != http.DefaultClient {
				t.Error("expected httpClient to default to http.DefaultClient")
			}
			if runner.openBrowser == nil {
				t.Error("expected openBrowser to be set")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("writes formatted JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			result := output.String()
			if !strings.Contains(result, `"key": "value"`) {
				t.Errorf("expected formatted JSON, got %s", result)
			}
			if !strings.HasSuffix(result, "\n") {
				t.Error("expected output to end with newline")
			}
		})

		t.Run("writes compact JSON successfully", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, false); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			expected := `{"key":"value"}` + "\n"
			if result := output.String(); result != expected {
				t.Errorf("expected %q, got %q", expected, result)
			}
		})

		t.Run("handles marshal error with non-serializable data", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})

			err := runner.writeJSON(make(chan int), false)
			if err == nil {
				t.Fatal("expected error for non-serializable data")
			}
			if !strings.Contains(err.Error(), "failed to marshal JSON") {
				t.Errorf("expected marshal error, got %v", err)
			}
		})

		t.Run("handles write failure", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})

			err := runner.writeJSON(map[string]string{"key": "value"}, false)
			if err == nil {
				t.Fatal("expected error from failing writer")
			}
			if !strings.Contains(err.Error(), "failed to write output") {
				t.Errorf("expected write error, got %v", err)
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		if err := runner.writePlain("hello %s", "world"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := runner.writePlainln("done"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if result := output.String(); result != "hello world\ndone\n" {
			t.Errorf("expected plain output, got %q", result)
		}

		failing := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
		if err := failing.writePlain("text"); err == nil {
			t.Error("expected error from failing writer")
		}
	})

	t.Run("exitCode", func(t *testing.T) {
		tests := []struct {
			name string
			err  error
			want int
		}{
			{"success", nil, 0},
			{"missing argument", fmt.Errorf("%w: --jid is required", shared.ErrMissingArgument), 2},
			{"invalid input", fmt.Errorf("%w: jid is required", shared.ErrInvalidInput), 2},
			{"configuration", fmt.Errorf("%w: bad", shared.ErrInvalidConfig), 3},
			{"unknown service", shared.ErrUnknownService, 3},
			{"persistence", shared.ErrNotFound, 1},
			{"other", errors.New("boom"), 1},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if got := exitCode(tt.err); got != tt.want {
					t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
				}
			})
		}
	})

	t.Run("loadConfig", func(t *testing.T) {
		t.Run("missing file", func(t *testing.T) {
			r := newTestRunner(&bytes.Buffer{}, RunnerOpts{})
			err := runApp(r, "users", "list", "--config", filepath.Join(t.TempDir(), "nope.toml"))
			if !errors.Is(err, shared.ErrMissingConfig) {
				t.Errorf("expected ErrMissingConfig, got %v", err)
			}
		})

		t.Run("environment overrides", func(t *testing.T) {
			path := writeConfig(t, "https://auth.example.org/oauth2")
			t.Setenv(shared.EnvComponentSecret, "from-env")

			r := newTestRunner(&bytes.Buffer{}, RunnerOpts{})
			if err := runApp(r, "users", "list", "--config", path); err != nil {
				t.Fatalf("failed to list users: %v", err)
			}
			if r.config.Component.Secret != "from-env" {
				t.Errorf("expected secret from environment, got %q", r.config.Component.Secret)
			}
		})
	})
}

func TestSetupDatabase(t *testing.T) {
	t.Run("creates config from template", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "config.toml")
		t.Setenv(shared.EnvDatabasePath, filepath.Join(dir, "feedbridge.db"))

		output := &bytes.Buffer{}
		r := newTestRunner(output, RunnerOpts{})
		if err := runApp(r, "setup", "database", "--config", path); err != nil {
			t.Fatalf("failed to set up database: %v", err)
		}

		tu.AssertFileExists(t, path)
		tu.AssertFileExists(t, filepath.Join(dir, "feedbridge.db"))
		if content := tu.MustReadFile(t, path); !strings.Contains(content, "[component]") {
			t.Errorf("expected template config, got %q", content)
		}

		result := output.String()
		if !strings.Contains(result, "✓ Config file created") {
			t.Errorf("expected creation notice, got %q", result)
		}
		if !strings.Contains(result, "✓ Database ready (2 services created, 0 removed)") {
			t.Errorf("expected reconcile summary, got %q", result)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		path := writeConfig(t, "https://auth.example.org/oauth2")

		if err := runApp(newTestRunner(&bytes.Buffer{}, RunnerOpts{}), "setup", "database", "-c", path); err != nil {
			t.Fatalf("failed to set up database: %v", err)
		}

		output := &bytes.Buffer{}
		if err := runApp(newTestRunner(output, RunnerOpts{}), "setup", "database", "-c", path); err != nil {
			t.Fatalf("failed to set up database again: %v", err)
		}
		if !strings.Contains(output.String(), "(0 services created, 0 removed)") {
			t.Errorf("expected no changes, got %q", output.String())
		}
	})
}

func TestSetupRollback(t *testing.T) {
	path := writeConfig(t, "https://auth.example.org/oauth2")
	if err := runApp(newTestRunner(&bytes.Buffer{}, RunnerOpts{}), "setup", "database", "-c", path); err != nil {
		t.Fatalf("failed to set up database: %v", err)
	}

	output := &bytes.Buffer{}
	if err := runApp(newTestRunner(output, RunnerOpts{}), "setup", "rollback", "-c", path); err != nil {
		t.Fatalf("failed to roll back: %v", err)
	}
	if !strings.Contains(output.String(), "✓ Rolled back migration") {
		t.Errorf("unexpected output %q", output.String())
	}

	output.Reset()
	if err := runApp(newTestRunner(output, RunnerOpts{}), "setup", "database", "-c", path); err != nil {
		t.Fatalf("failed to migrate again: %v", err)
	}
	if !strings.Contains(output.String(), "✓ Database ready") {
		t.Errorf("unexpected output %q", output.String())
	}
}

func TestServicesCommands(t *testing.T) {
	path := writeConfig(t, "https://auth.example.org/oauth2")

	t.Run("list before reconcile", func(t *testing.T) {
		output := &bytes.Buffer{}
		if err := runApp(newTestRunner(output, RunnerOpts{}), "services", "list", "-c", path, "--json", "--pretty=false"); err != nil {
			t.Fatalf("failed to list services: %v", err)
		}

		var rows []serviceRow
		if err := json.Unmarshal(output.Bytes(), &rows); err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		if len(rows) != 2 {
			t.Fatalf("expected 2 services, got %d", len(rows))
		}
		for _, row := range rows {
			if row.Stored {
				t.Errorf("expected %s to be unstored", row.Tag)
			}
		}
		if rows[1].BaseURL != "https://identi.ca/api" {
			t.Errorf("expected identica base url, got %q", rows[1].BaseURL)
		}
	})

	t.Run("reconcile", func(t *testing.T) {
		output := &bytes.Buffer{}
		if err := runApp(newTestRunner(output, RunnerOpts{}), "services", "reconcile", "-c", path); err != nil {
			t.Fatalf("failed to reconcile: %v", err)
		}
		if !strings.Contains(output.String(), "Created: [twitter identica]") {
			t.Errorf("expected created services, got %q", output.String())
		}

		output.Reset()
		if err := runApp(newTestRunner(output, RunnerOpts{}), "services", "reconcile", "-c", path); err != nil {
			t.Fatalf("failed to reconcile again: %v", err)
		}
		if !strings.Contains(output.String(), "already up to date") {
			t.Errorf("expected no changes, got %q", output.String())
		}
	})

	t.Run("list after reconcile", func(t *testing.T) {
		output := &bytes.Buffer{}
		if err := runApp(newTestRunner(output, RunnerOpts{}), "services", "list", "-c", path); err != nil {
			t.Fatalf("failed to list services: %v", err)
		}
		if strings.Contains(output.String(), "✗") {
			t.Errorf("expected every service stored, got %q", output.String())
		}
	})
}

func TestAccountsCommands(t *testing.T) {
	path := writeConfig(t, "https://auth.example.org/oauth2")
	if err := runApp(newTestRunner(&bytes.Buffer{}, RunnerOpts{}), "setup", "database", "-c", path); err != nil {
		t.Fatalf("failed to set up database: %v", err)
	}

	run := func(t *testing.T, args ...string) (string, error) {
		t.Helper()
		output := &bytes.Buffer{}
		err := runApp(newTestRunner(output, RunnerOpts{}), append(args, "-c", path)...)
		return output.String(), err
	}

	t.Run("add", func(t *testing.T) {
		out, err := run(t, "accounts", "add", "--jid", "alice@example.org", "-s", "identica", "--key", "alice", "--secret", "pw")
		if err != nil {
			t.Fatalf("failed to add account: %v", err)
		}
		if !strings.Contains(out, "✓ Account alice@example.org on identica saved") {
			t.Errorf("unexpected output %q", out)
		}

		out, err = run(t, "accounts", "add", "--jid", "bob@example.org", "-s", "twitter")
		if err != nil {
			t.Fatalf("failed to add account: %v", err)
		}
		if !strings.Contains(out, "without credentials") {
			t.Errorf("expected unlinked notice, got %q", out)
		}
	})

	t.Run("add validation", func(t *testing.T) {
		if _, err := run(t, "accounts", "add", "--jid", "alice@example.org"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		if _, err := run(t, "accounts", "add", "--jid", "alice@example.org", "-s", "myspace"); !errors.Is(err, shared.ErrUnknownService) {
			t.Errorf("expected ErrUnknownService, got %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		out, err := run(t, "accounts", "list", "--json")
		if err != nil {
			t.Fatalf("failed to list accounts: %v", err)
		}

		var views []accountView
		if err := json.Unmarshal([]byte(out), &views); err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		if len(views) != 2 {
			t.Fatalf("expected 2 accounts, got %d", len(views))
		}
		if !views[0].Linked || views[0].Service != "identica" || views[0].Cursor != "0:0" {
			t.Errorf("unexpected first account %+v", views[0])
		}
		if views[1].Linked {
			t.Errorf("expected second account unlinked, got %+v", views[1])
		}
		if strings.Contains(out, "pw") {
			t.Error("expected credentials to be omitted")
		}
	})

	t.Run("list filtered", func(t *testing.T) {
		out, err := run(t, "accounts", "list", "--jid", "bob@example.org")
		if err != nil {
			t.Fatalf("failed to list accounts: %v", err)
		}
		if !strings.Contains(out, "Found 1 accounts") || !strings.Contains(out, "bob@example.org on twitter") {
			t.Errorf("unexpected output %q", out)
		}
	})

	t.Run("list csv", func(t *testing.T) {
		out, err := run(t, "accounts", "list", "--csv")
		if err != nil {
			t.Fatalf("failed to list accounts: %v", err)
		}
		if !strings.HasPrefix(out, "Sequence,JID,Service,Scheme,Cursor,Status,Linked\n") {
			t.Errorf("expected CSV header, got %q", out)
		}
		if lines := strings.Count(out, "\n"); lines != 3 {
			t.Errorf("expected 3 lines, got %d", lines)
		}
	})

	t.Run("reset", func(t *testing.T) {
		out, err := run(t, "accounts", "reset", "--jid", "alice@example.org", "-s", "identica")
		if err != nil {
			t.Fatalf("failed to reset account: %v", err)
		}
		if !strings.Contains(out, "reset") {
			t.Errorf("unexpected output %q", out)
		}

		if _, err := run(t, "accounts", "reset", "--jid", "carol@example.org", "-s", "identica"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if _, err := run(t, "accounts", "remove", "--jid", "alice@example.org", "-s", "identica"); err != nil {
			t.Fatalf("failed to remove account: %v", err)
		}
		if _, err := run(t, "accounts", "remove", "--jid", "alice@example.org", "-s", "identica"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("users", func(t *testing.T) {
		out, err := run(t, "users", "list")
		if err != nil {
			t.Fatalf("failed to list users: %v", err)
		}
		if !strings.Contains(out, "alice@example.org") || !strings.Contains(out, "bob@example.org") {
			t.Errorf("expected both users, got %q", out)
		}

		if _, err := run(t, "users", "remove", "--jid", "bob@example.org"); err != nil {
			t.Fatalf("failed to remove user: %v", err)
		}

		out, err = run(t, "accounts", "list", "--json")
		if err != nil {
			t.Fatalf("failed to list accounts: %v", err)
		}
		if strings.TrimSpace(out) != "[]" {
			t.Errorf("expected accounts removed with their user, got %q", out)
		}

		if _, err := run(t, "users", "remove"); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestAccountsLink(t *testing.T) {
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			http.NotFound(w, r)
			return
		}
		r.ParseForm()
		if r.Form.Get("code") != "auth-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"access","refresh_token":"refresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokens.Close()

	path := writeConfig(t, tokens.URL+"/oauth2")
	if err := runApp(newTestRunner(&bytes.Buffer{}, RunnerOpts{}), "setup", "database", "-c", path); err != nil {
		t.Fatalf("failed to set up database: %v", err)
	}

	// callback simulates the browser: it follows the redirect with the given code.
	callback := func(code string) func(string) error {
		return func(authURL string) error {
			u, err := url.Parse(authURL)
			if err != nil {
				return err
			}
			query := u.Query()
			target := query.Get("redirect_uri") + "?" + url.Values{"code": {code}, "state": {query.Get("state")}}.Encode()

			resp, err := http.Get(target)
			if err != nil {
				return err
			}
			resp.Body.Close()
			return nil
		}
	}

	verified := func() *http.Client {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
			Body:       io.NopCloser(strings.NewReader(`{"screen_name":"alice","name":"Alice"}`)),
		}
		return &http.Client{Transport: tu.NewMockRoundTripper(resp, nil)}
	}

	t.Run("stores verified tokens", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newTestRunner(output, RunnerOpts{OpenBrowser: callback("auth-code"), HTTPClient: verified()})

		if err := runApp(r, "accounts", "link", "--jid", "alice@example.org", "-s", "twitter", "-c", path); err != nil {
			t.Fatalf("failed to link account: %v", err)
		}
		if !strings.Contains(output.String(), "✓ alice@example.org linked to @alice on twitter") {
			t.Errorf("unexpected output %q", output.String())
		}

		output.Reset()
		if err := runApp(newTestRunner(output, RunnerOpts{}), "accounts", "list", "--json", "-c", path); err != nil {
			t.Fatalf("failed to list accounts: %v", err)
		}
		var views []accountView
		if err := json.Unmarshal(output.Bytes(), &views); err != nil {
			t.Fatalf("failed to decode output: %v", err)
		}
		if len(views) != 1 || !views[0].Linked || views[0].Scheme != shared.SchemeOAuth2 {
			t.Errorf("expected one linked oauth2 account, got %+v", views)
		}
	})

	t.Run("rejected code", func(t *testing.T) {
		r := newTestRunner(&bytes.Buffer{}, RunnerOpts{OpenBrowser: callback("wrong"), HTTPClient: verified()})

		err := runApp(r, "accounts", "link", "--jid", "bob@example.org", "-s", "twitter", "-c", path)
		if !errors.Is(err, shared.ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})

	t.Run("times out", func(t *testing.T) {
		output := &bytes.Buffer{}
		r := newTestRunner(output, RunnerOpts{OpenBrowser: func(string) error { return errors.New("no browser") }})

		err := runApp(r, "accounts", "link", "--jid", "bob@example.org", "-s", "twitter", "--timeout", "50ms", "-c", path)
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
		if !strings.Contains(output.String(), "Visit this URL to authorize") {
			t.Errorf("expected URL fallback, got %q", output.String())
		}
	})

	t.Run("basic service", func(t *testing.T) {
		r := newTestRunner(&bytes.Buffer{}, RunnerOpts{OpenBrowser: callback("auth-code")})

		err := runApp(r, "accounts", "link", "--jid", "alice@example.org", "-s", "identica", "-c", path)
		if !errors.Is(err, shared.ErrUnsupportedScheme) {
			t.Errorf("expected ErrUnsupportedScheme, got %v", err)
		}
	})
}
