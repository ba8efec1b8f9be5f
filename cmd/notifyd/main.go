package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mattjoyce/notifyd/internal/config"
	"github.com/mattjoyce/notifyd/internal/log"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "notifyd",
		Short:         "Shopify order webhook notification service",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal outside development.
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config.yaml or its directory")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the config")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newTemplatesCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "notifyd version %s\n", version)
		},
	}
}

// loadConfig resolves --config (or the discovery chain) and loads it.
func (o *rootOptions) loadConfig(stderr io.Writer) (*config.Config, error) {
	path := o.configPath
	if path == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, fmt.Errorf("discover config: %w", err)
		}
		path = discovered
		fmt.Fprintf(stderr, "Using discovered config: %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
			return runServe(cfg)
		},
	}
}

func runServe(cfg *config.Config) error {
	logger := log.WithComponent("main")
	logger.Info("notifyd starting", "version", version, "database", cfg.Database.Driver, "ledger", cfg.Ledger.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, nil)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return err
	}
	defer a.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("http: %w", err)
		}
		close(errCh)
	}()

	logger.Info("notifyd running (press Ctrl+C to stop)", "listen", cfg.HTTP.Listen, "templates", len(a.templates.Names()))

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		// Wait for in-flight requests to drain.
		<-errCh
	case err, ok := <-errCh:
		if ok {
			logger.Error("component failed", "error", err)
			return err
		}
	}

	logger.Info("notifyd stopped")
	return nil
}
