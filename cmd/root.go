// Package cmd implements the bookmeta command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bookmeta/internal/app"
	"github.com/JakeFAU/bookmeta/internal/book"
	"github.com/JakeFAU/bookmeta/internal/config"
	"github.com/JakeFAU/bookmeta/internal/cover"
	"github.com/JakeFAU/bookmeta/internal/logging"
)

type appKeyType string

const (
	appKey    appKeyType = "app"
	serverKey appKeyType = "server"
)

// App is the set of services commands use. Tests inject a fake through newApp.
type App interface {
	Identify(ctx context.Context, req book.LookupRequest, sink book.Sink) error
	Download(ctx context.Context, req book.LookupRequest) (*cover.Result, error)
	Handler() http.Handler
	Logger() *zap.Logger
	Close()
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "bookmeta",
		Short:         "Book metadata and cover lookup for databazeknih.cz",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `bookmeta finds books on databazeknih.cz by identifier, ISBN or
title and authors, scrapes their detail pages and returns normalized
metadata records and cover images.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), appKey, a)
			ctx = context.WithValue(ctx, serverKey, cfg.Server)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./bookmeta.*, /etc/bookmeta and $HOME/.bookmeta)")

	cmd.AddCommand(newIdentifyCmd())
	cmd.AddCommand(newCoverCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}
