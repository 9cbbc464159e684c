package app

import (
	"context"
	"strconv"

	"github.com/nhle/filterctl/internal/credential"
	"github.com/nhle/filterctl/internal/mailrpc"
	"github.com/nhle/filterctl/internal/model"
	"github.com/nhle/filterctl/internal/source"
	"github.com/nhle/filterctl/internal/source/email"
)

// ConnectionStatus is the outcome of checking one account's mailbox login.
type ConnectionStatus struct {
	AccountID string `json:"accountId"`
	Username  string `json:"username,omitempty"`
	OK        bool   `json:"ok"`
	AuthError bool   `json:"authError,omitempty"`
	Error     string `json:"error,omitempty"`
}

// registerAccounts builds an email adapter for every configured account
// and registers it with the transport and the poller. Passwords are loaded
// from the system keyring; accounts without one are skipped.
func (a *App) registerAccounts() {
	for _, acc := range a.cfg.Accounts {
		adapter := a.createEmailAdapter(acc)
		if adapter == nil {
			continue
		}
		a.transport.Register(adapter)
		a.poller.RegisterInbox(adapter, acc.PollInterval)
		a.inboxes = append(a.inboxes, adapter)
		a.accounts[acc.ID] = mailrpc.Account{
			ID:             acc.ID,
			Email:          acc.Email,
			ServiceAddress: acc.ServiceAddress,
		}
	}
	a.logger.Debug("accounts registered", "count", len(a.accounts))
}

// createEmailAdapter builds an adapter from an account configuration,
// loading the password from the keyring.
func (a *App) createEmailAdapter(acc model.AccountConfig) *email.Adapter {
	password, err := a.passwords(credential.IMAPKey(acc.ID))
	if err != nil {
		a.logger.Warn("skipping account: credential not found",
			"account", acc.ID,
			"error", err,
		)
		return nil
	}

	return email.NewAdapter(acc.ID,
		email.IMAPConfig{
			Host:     acc.IMAP.Host,
			Port:     strconv.Itoa(acc.IMAP.Port),
			Username: acc.Username,
			Password: password,
			TLS:      acc.IMAP.TLS,
		},
		email.SMTPConfig{
			Host:     acc.SMTP.Host,
			Port:     strconv.Itoa(acc.SMTP.Port),
			Username: acc.Username,
			Password: password,
			TLS:      acc.SMTP.TLS,
		},
	)
}

// CheckConnections logs in to every registered mailbox and reports the
// outcome per account. It stops early only when ctx is done.
func (a *App) CheckConnections(ctx context.Context) []ConnectionStatus {
	out := make([]ConnectionStatus, 0, len(a.inboxes))
	for _, inbox := range a.inboxes {
		if ctx.Err() != nil {
			break
		}
		st := ConnectionStatus{AccountID: inbox.AccountID()}
		username, err := inbox.ValidateConnection(ctx)
		if err != nil {
			st.Error = err.Error()
			st.AuthError = source.IsAuthError(err)
			a.logger.Warn("mailbox check failed", "account", st.AccountID, "error", err)
		} else {
			st.OK = true
			st.Username = username
		}
		out = append(out, st)
	}
	return out
}
