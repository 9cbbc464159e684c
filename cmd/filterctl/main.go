// Package main provides the filterctl command line client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nhle/filterctl/internal/app"
	"github.com/nhle/filterctl/internal/logging"
	"github.com/nhle/filterctl/internal/model"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

var (
	configFile string
	accountID  string
	force      bool
)

// errFailed is returned when an operation completed with success=false.
// The result has already been printed.
var errFailed = errors.New("operation failed")

func main() {
	rootCmd := &cobra.Command{
		Use:           "filterctl",
		Short:         "Manage spam filter classes and address books over email",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", model.DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVarP(&accountID, "account", "a", "", "account id (defaults to the first configured account)")

	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(setCmd())
	rootCmd.AddCommand(setDefaultsCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(sendAllCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(passwordCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// session is a running App for the duration of one command.
type session struct {
	app    *app.App
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan error
	closer io.Closer
}

// openSession loads the configuration and starts the reply poller and the
// background sweep.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := model.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, closer := logging.New(cfg.Logging)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &session{app: a, logger: logger, cancel: cancel, done: make(chan error, 1), closer: closer}
	go func() { s.done <- a.Start(runCtx) }()
	return s, nil
}

func (s *session) close() {
	s.cancel()
	if err := <-s.done; err != nil {
		s.logger.Warn("background loop stopped", "error", err)
	}
	if err := s.app.Close(); err != nil {
		s.logger.Warn("closing", "error", err)
	}
	s.closer.Close()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// printJSON writes v to stdout and maps an unsuccessful result to
// errFailed.
func printJSON(v any, success bool) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if !success {
		return errFailed
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("filterctl %s\n", version)
			fmt.Printf("Commit: %s\n", commit)
		},
	}
}
