package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nhle/filterctl/internal/app"
	"github.com/nhle/filterctl/internal/filterctl"
	"github.com/nhle/filterctl/internal/filterset"
	"github.com/nhle/filterctl/internal/logging"
	"github.com/nhle/filterctl/internal/mailrpc"
	"github.com/nhle/filterctl/internal/model"
)

func kindArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	_, err := filterset.ParseKind(args[0])
	return err
}

// resolveAccount picks the --account flag or the first configured account.
func (s *session) resolveAccount() (mailrpc.Account, error) {
	if accountID != "" {
		return s.app.Account(accountID)
	}
	accounts := s.app.Accounts()
	if len(accounts) == 0 {
		return mailrpc.Account{}, fmt.Errorf("no accounts configured")
	}
	return accounts[0], nil
}

// runAccountOp opens a session, resolves the account and prints the
// result of op.
func runAccountOp(
	args []string,
	op func(ctx context.Context, s *session, kind filterset.Kind, acc mailrpc.Account) filterctl.Result,
) error {
	kind, _ := filterset.ParseKind(args[0])

	ctx, stop := signalContext()
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	acc, err := s.resolveAccount()
	if err != nil {
		return err
	}

	r := op(ctx, s, kind, acc)
	return printJSON(r, r.Success)
}

func getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <classes|books>",
		Short: "Show the account's dataset, from cache unless --force",
		Args:  kindArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountOp(args, func(ctx context.Context, s *session, kind filterset.Kind, acc mailrpc.Account) filterctl.Result {
				return s.app.Filters().Get(ctx, kind, acc, force)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "request a fresh dump from the service")
	return cmd
}

func setCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "set <classes|books> --file payload.json",
		Short: "Record a local edit without sending it",
		Args:  kindArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			return runAccountOp(args, func(ctx context.Context, s *session, kind filterset.Kind, acc mailrpc.Account) filterctl.Result {
				// An invalid payload still yields a dataset; Set reports why.
				ds, _ := filterset.Parse(kind, acc.ID, acc.Email, payload)
				return s.app.Filters().Set(ctx, kind, acc, ds)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON file holding a Classes or Books field")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func setDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-defaults <classes|books>",
		Short: "Replace the local dataset with the built-in default",
		Args:  kindArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountOp(args, func(ctx context.Context, s *session, kind filterset.Kind, acc mailrpc.Account) filterctl.Result {
				return s.app.Filters().SetDefaults(ctx, kind, acc)
			})
		},
	}
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <classes|books>",
		Short: "Push the local edit to the service",
		Args:  kindArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccountOp(args, func(ctx context.Context, s *session, kind filterset.Kind, acc mailrpc.Account) filterctl.Result {
				return s.app.Filters().Send(ctx, kind, acc, force)
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "send even when nothing changed")
	return cmd
}

func sendAllCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-all <classes|books>",
		Short: "Push local edits for every account",
		Args:  kindArg,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := filterset.ParseKind(args[0])

			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			r := s.app.Filters().SendAll(ctx, kind, force)
			return printJSON(r, r.Success)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "send even when nothing changed")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Poll inboxes for replies until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			results := s.app.Poller().Results()
			for {
				select {
				case <-ctx.Done():
					return nil
				case r := <-results:
					if r.Error != nil {
						s.logger.Warn("poll failed", "account", r.AccountID, "error", r.Error, "auth", r.AuthError)
						continue
					}
					stats := s.app.RPC().Stats()
					s.logger.Info("poll complete",
						"account", r.AccountID,
						"fetched", r.Fetched,
						"accepted", r.Accepted,
						"pending", stats.Pending,
						"stashed", stats.Stashed,
					)
				}
			}
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(configFile); err == nil {
				return fmt.Errorf("%s already exists", configFile)
			}
			cfg, err := model.LoadConfig(configFile)
			if err != nil {
				return err
			}
			if err := model.SaveConfig(configFile, cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", configFile)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Log in to every configured mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			cfg, err := model.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, closer := logging.New(cfg.Logging)
			defer closer.Close()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to start: %w", err)
			}
			defer a.Close()

			statuses := a.CheckConnections(ctx)
			ok := len(statuses) > 0
			for _, st := range statuses {
				ok = ok && st.OK
			}
			return printJSON(statuses, ok)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(configFile)
			if err != nil {
				return err
			}
			return printJSON(cfg, true)
		},
	})

	return cmd
}
