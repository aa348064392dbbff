package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/desertthunder/feedbridge/internal/shared"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	runner := NewRunner(RunnerOpts{Logger: logger})

	app := &cli.Command{
		Name:     "feedbridge",
		Usage:    "Relay social feeds into chat rooms",
		Version:  "0.1.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		logger.Error("application error", "error", err)
		os.Exit(exitCode(err))
	}
}
