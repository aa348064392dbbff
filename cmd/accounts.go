package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/desertthunder/feedbridge/internal/formatter"
	"github.com/desertthunder/feedbridge/internal/models"
	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/server"
	"github.com/desertthunder/feedbridge/internal/services"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const defaultLinkTimeout = 2 * time.Minute

// accountView is the JSON shape of an account; credentials are never printed.
type accountView struct {
	Sequence int    `json:"sequence"`
	JID      string `json:"jid"`
	Service  string `json:"service"`
	Scheme   string `json:"scheme"`
	Cursor   string `json:"cursor"`
	Status   string `json:"status,omitempty"`
	Linked   bool   `json:"linked"`
}

func viewAccount(a *models.Account) accountView {
	return accountView{
		Sequence: a.Sequence,
		JID:      a.JID,
		Service:  a.ServiceName,
		Scheme:   a.Scheme,
		Cursor:   a.State,
		Status:   a.Status,
		Linked:   a.HasCredentials(),
	}
}

// AccountsList prints accounts filtered by --jid and --service.
func (r *Runner) AccountsList(ctx context.Context, cmd *cli.Command) error {
	filter := repositories.AccountFilter{JID: cmd.String("jid"), Service: cmd.String("service")}

	return r.withStore(ctx, cmd, func(_ *shared.Config, s *repositories.Session) error {
		accounts, err := s.FindAccounts(ctx, filter, false)
		if err != nil {
			return err
		}

		switch {
		case cmd.Bool("csv"):
			data, err := formatter.ExportAccountsCSV(accounts)
			if err != nil {
				return err
			}
			_, err = r.output.Write(data)
			return err
		case cmd.Bool("json"):
			views := make([]accountView, 0, len(accounts))
			for _, a := range accounts {
				views = append(views, viewAccount(a))
			}
			return r.writeJSON(views, cmd.Bool("pretty"))
		}

		r.writePlain("Found %d accounts:\n\n", len(accounts))
		_, err = r.output.Write(formatter.ExportAccountsText(accounts))
		return err
	})
}

// AccountsAdd creates the (jid, service) account if needed and stores --key/--secret.
func (r *Runner) AccountsAdd(ctx context.Context, cmd *cli.Command) error {
	if err := requireFlags(cmd, "jid", "service"); err != nil {
		return err
	}
	jid, service := cmd.String("jid"), cmd.String("service")

	return r.withStore(ctx, cmd, func(config *shared.Config, s *repositories.Session) error {
		if _, ok := config.ServiceByTag(service); !ok {
			return fmt.Errorf("%w: %q", shared.ErrUnknownService, service)
		}

		accounts, err := s.FindAccounts(ctx, repositories.AccountFilter{JID: jid, Service: service}, true)
		if err != nil {
			return err
		}
		account := accounts[0]

		if key := cmd.String("key"); key != "" {
			account.Key = key
		}
		if secret := cmd.String("secret"); secret != "" {
			account.Secret = secret
		}
		if err := s.Commit(ctx, account); err != nil {
			return fmt.Errorf("failed to save account: %w", err)
		}

		if !account.HasCredentials() {
			return r.writePlain("✓ Account %s on %s created without credentials; it will not be relayed until linked\n", jid, service)
		}
		return r.writePlain("✓ Account %s on %s saved\n", jid, service)
	})
}

// AccountsLink runs the oauth2 authorization-code flow for an account.
//
// A temporary callback server listens on the configured HTTP address, the browser is opened at
// the authorization page and the resulting tokens are verified against the service before they
// are stored as the account's credential pair.
func (r *Runner) AccountsLink(ctx context.Context, cmd *cli.Command) error {
	if err := requireFlags(cmd, "jid", "service"); err != nil {
		return err
	}
	jid, service := cmd.String("jid"), cmd.String("service")

	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}
	svc, ok := config.ServiceByTag(service)
	if !ok {
		return fmt.Errorf("%w: %q", shared.ErrUnknownService, service)
	}

	token, err := r.doOAuth(ctx, config, svc, cmd.Duration("timeout"))
	if err != nil {
		return err
	}
	if token.RefreshToken == "" {
		return fmt.Errorf("%w: %s did not return a refresh token", shared.ErrAuthentication, service)
	}

	client, err := services.New(ctx, svc, token.AccessToken, token.RefreshToken, services.Options{
		HTTPClient: r.httpClient,
		Timeout:    config.Relay.RequestTimeout.Duration,
		Logger:     r.logger,
	})
	if err != nil {
		return err
	}
	who, err := client.VerifyCredentials(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify credentials: %w", err)
	}

	store, closeDB, err := r.openStore(config)
	if err != nil {
		return err
	}
	defer closeDB()

	err = store.WithSession(ctx, func(s *repositories.Session) error {
		accounts, err := s.FindAccounts(ctx, repositories.AccountFilter{JID: jid, Service: service}, true)
		if err != nil {
			return err
		}
		account := accounts[0]
		account.Key, account.Secret = token.AccessToken, token.RefreshToken
		return s.Commit(ctx, account)
	})
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	r.writePlainln("✓ Authorization successful")
	return r.writePlain("✓ %s linked to @%s on %s\n", jid, who.Handle, service)
}

// doOAuth serves the callback, sends the user to the authorization page and waits for the token.
func (r *Runner) doOAuth(ctx context.Context, config *shared.Config, svc shared.ServiceConfig, timeout time.Duration) (*oauth2.Token, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(config.Server.Host, strconv.Itoa(config.Server.Port)))
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	conf, err := services.OAuthConfig(svc, "http://"+ln.Addr().String()+"/callback")
	if err != nil {
		ln.Close()
		return nil, err
	}
	state, err := shared.GenerateState()
	if err != nil {
		ln.Close()
		return nil, err
	}

	handler := server.NewOAuthHandler(conf, svc.Tag, state, r.logger)
	router := server.NewBasicRouter()
	router.Use(server.LoggingMiddleware(r.logger))
	router.Handler(handler)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("callback server exited", "error", err)
		}
	}()
	defer srv.Close()

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
	r.writePlain("Opening browser for %s authorization...\n", svc.Tag)
	if err := r.openBrowser(authURL); err != nil {
		r.logger.Warn("failed to open browser", "error", err)
		r.writePlain("Visit this URL to authorize:\n%s\n", authURL)
	}

	if timeout <= 0 {
		timeout = defaultLinkTimeout
	}
	select {
	case result := <-handler.Result():
		if err := result.Error(); err != nil {
			return nil, err
		}
		return result.Token, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w: no authorization callback after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AccountsRemove deletes the (jid, service) account.
func (r *Runner) AccountsRemove(ctx context.Context, cmd *cli.Command) error {
	if err := requireFlags(cmd, "jid", "service"); err != nil {
		return err
	}
	jid, service := cmd.String("jid"), cmd.String("service")

	return r.withStore(ctx, cmd, func(_ *shared.Config, s *repositories.Session) error {
		account, err := s.FindAccount(ctx, jid, service)
		if err != nil {
			return err
		}
		if err := s.Remove(ctx, account); err != nil {
			return fmt.Errorf("failed to remove account: %w", err)
		}
		return r.writePlain("✓ Removed %s on %s\n", jid, service)
	})
}

// AccountsReset rewinds the account's cursor to the initial state.
func (r *Runner) AccountsReset(ctx context.Context, cmd *cli.Command) error {
	if err := requireFlags(cmd, "jid", "service"); err != nil {
		return err
	}
	jid, service := cmd.String("jid"), cmd.String("service")

	return r.withStore(ctx, cmd, func(_ *shared.Config, s *repositories.Session) error {
		account, err := s.FindAccount(ctx, jid, service)
		if err != nil {
			return err
		}
		previous := account.State
		account.State = models.InitialCursor.String()
		if err := s.Commit(ctx, account); err != nil {
			return fmt.Errorf("failed to reset cursor: %w", err)
		}
		return r.writePlain("✓ Cursor of %s on %s reset (was %s)\n", jid, service, previous)
	})
}
