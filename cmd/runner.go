package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/feedbridge/internal/repositories"
	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config      *shared.Config
	configPath  string
	httpClient  *http.Client
	logger      *log.Logger
	output      io.Writer
	openBrowser func(url string) error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config      *shared.Config // preloaded config; commands load --config when nil
	ConfigPath  string
	HTTPClient  *http.Client
	Logger      *log.Logger
	Output      io.Writer
	OpenBrowser func(url string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	return &Runner{
		config:      opts.Config,
		configPath:  opts.ConfigPath,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		output:      opts.Output,
		openBrowser: opts.OpenBrowser,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		runCommand, setupCommand, servicesCommand, accountsCommand, usersCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// loadConfig returns the preloaded config or reads, overrides from the environment and validates the
// file named by --config.
func (r *Runner) loadConfig(cmd *cli.Command) (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	path := cmd.String("config")
	if path == "" {
		path = r.configPath
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s (run `feedbridge setup database` to create it)", shared.ErrMissingConfig, path)
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	shared.ConfigureLogger(r.logger, config.Log.Level)
	r.config = config
	return config, nil
}

// openStore opens and migrates the configured database and wraps it in a [repositories.Store].
//
// The returned close function must be called when the command is done.
func (r *Runner) openStore(config *shared.Config) (*repositories.Store, func(), error) {
	db, dialect, err := shared.OpenDatabase(config.Database)
	if err != nil {
		return nil, nil, err
	}

	if err := shared.RunMigrations(db, dialect); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	opts := repositories.StoreOpts{Dialect: dialect, Logger: r.logger}
	if config.Database.EncryptionKey != "" {
		enc, err := shared.NewAESEncryptor(config.Database.EncryptionKey)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		opts.Encryptor = enc
	}

	return repositories.NewStore(db, opts), func() { db.Close() }, nil
}

// withStore loads the config, opens the store and runs fn in one session.
func (r *Runner) withStore(ctx context.Context, cmd *cli.Command, fn func(*shared.Config, *repositories.Session) error) error {
	config, err := r.loadConfig(cmd)
	if err != nil {
		return err
	}

	store, closeDB, err := r.openStore(config)
	if err != nil {
		return err
	}
	defer closeDB()

	return store.WithSession(ctx, func(s *repositories.Session) error {
		return fn(config, s)
	})
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

// requireFlags returns [shared.ErrMissingArgument] naming the first empty string flag.
func requireFlags(cmd *cli.Command, names ...string) error {
	for _, name := range names {
		if cmd.String(name) == "" {
			return fmt.Errorf("%w: --%s is required", shared.ErrMissingArgument, name)
		}
	}
	return nil
}

// exitCode maps command errors onto process exit codes.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, shared.ErrMissingArgument), errors.Is(err, shared.ErrInvalidInput):
		return 2
	case errors.Is(err, shared.ErrConfiguration):
		return 3
	default:
		return 1
	}
}
