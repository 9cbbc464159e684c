// Package app assembles the configured accounts, transports and
// controllers into one running process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nhle/filterctl/internal/credential"
	"github.com/nhle/filterctl/internal/filterctl"
	"github.com/nhle/filterctl/internal/mailrpc"
	"github.com/nhle/filterctl/internal/model"
	"github.com/nhle/filterctl/internal/source"
	"github.com/nhle/filterctl/internal/source/email"
	"github.com/nhle/filterctl/internal/store"
	"github.com/nhle/filterctl/internal/sync"
)

// PasswordFunc looks up a credential by keyring key.
type PasswordFunc func(key string) (string, error)

// Option configures an App.
type Option func(*App)

// WithPasswords replaces the keyring lookup used for mailbox passwords.
func WithPasswords(fn PasswordFunc) Option {
	return func(a *App) { a.passwords = fn }
}

// WithSecrets replaces the keyring used to store dump passwords.
func WithSecrets(s filterctl.SecretStore) Option {
	return func(a *App) { a.secrets = s }
}

// App owns every long-lived component.
type App struct {
	cfg       *model.AppConfig
	logger    *slog.Logger
	passwords PasswordFunc
	secrets   filterctl.SecretStore

	store     *store.SQLiteStore
	transport *email.Transport
	rpc       *mailrpc.Controller
	filters   *filterctl.Controller
	poller    *sync.Poller
	accounts  map[string]mailrpc.Account
	inboxes   []source.Inbox
}

// New opens the snapshot store, registers every configured account and
// restores persisted datasets.
func New(ctx context.Context, cfg *model.AppConfig, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		passwords: credential.Get,
		secrets:   credential.Store{},
		transport: email.NewTransport(),
		accounts:  make(map[string]mailrpc.Account, len(cfg.Accounts)),
	}
	for _, opt := range opts {
		opt(a)
	}

	if dir := filepath.Dir(cfg.Storage.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating storage directory %s: %w", dir, err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	a.store = s

	outbound := &pollingTransport{Transport: a.transport}
	a.rpc = mailrpc.NewController(outbound, mailrpc.Config{
		RequestTimeout: cfg.RPC.RequestTimeout,
		SweepInterval:  cfg.RPC.SweepInterval,
		ReplyWindow:    cfg.RPC.ReplyWindow,
		DedupRetention: cfg.RPC.DedupRetention,
		AutoDelete:     cfg.RPC.AutoDelete,
	}, logger)
	a.filters = filterctl.NewController(a.rpc, logger,
		filterctl.WithSnapshots(a.store),
		filterctl.WithSecrets(a.secrets),
	)
	a.poller = sync.New(a.rpc, logger)
	outbound.poller = a.poller

	a.registerAccounts()

	accounts := make([]mailrpc.Account, 0, len(a.accounts))
	for _, acc := range cfg.Accounts {
		if registered, ok := a.accounts[acc.ID]; ok {
			accounts = append(accounts, registered)
		}
	}
	if err := a.filters.Restore(ctx, accounts); err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

// Filters returns the dataset controller.
func (a *App) Filters() *filterctl.Controller { return a.filters }

// RPC returns the email request/reply controller.
func (a *App) RPC() *mailrpc.Controller { return a.rpc }

// Poller returns the inbox poller.
func (a *App) Poller() *sync.Poller { return a.poller }

// Account returns the registered account with the given id.
func (a *App) Account(id string) (mailrpc.Account, error) {
	acc, ok := a.accounts[id]
	if !ok {
		return mailrpc.Account{}, fmt.Errorf("unknown account %q", id)
	}
	return acc, nil
}

// Accounts returns every registered account in configuration order.
func (a *App) Accounts() []mailrpc.Account {
	out := make([]mailrpc.Account, 0, len(a.accounts))
	for _, acc := range a.cfg.Accounts {
		if registered, ok := a.accounts[acc.ID]; ok {
			out = append(out, registered)
		}
	}
	return out
}

// Start launches the reply poller and the background sweep. It returns
// when ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.poller.Start(ctx)
	defer a.poller.Stop()

	err := a.rpc.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close rejects outstanding requests and closes the store.
func (a *App) Close() error {
	a.rpc.Close()
	return a.store.Close()
}
