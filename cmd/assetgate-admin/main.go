package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/assetgate/pkg/app"
	"github.com/platinummonkey/assetgate/pkg/cli"
	"github.com/platinummonkey/assetgate/pkg/config"
	"github.com/platinummonkey/assetgate/pkg/observability"
)

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, logger, os.Args[1:]))
}

func run(ctx context.Context, logger *logrus.Logger, args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		_ = cli.NewRootCommand(&cli.Env{Out: os.Stdout}).Execute(ctx, args)
		return 0
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Error("Failed to load configuration")
		return 1
	}
	if cfg.Storage.Type == "memory" {
		logger.Warn("Storage type is memory; changes only affect this process")
	}

	// Structured service logs go to stderr so stdout stays machine-readable.
	a, err := app.New(ctx, cfg, observability.NewLogger(cfg.Observability.Level(), os.Stderr))
	if err != nil {
		logger.WithError(err).Error("Failed to initialize")
		return 1
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("Shutdown was incomplete")
		}
	}()

	root := cli.NewRootCommand(&cli.Env{Admin: a.Admin, Authorizer: a.Authorizer, Out: os.Stdout})
	if err := root.Execute(ctx, args); err != nil {
		if errors.Is(err, cli.ErrDenied) {
			return 2
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
