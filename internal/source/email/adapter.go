package email

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nhle/filterctl/internal/mailrpc"
)

// Adapter is one mail account: it reads replies over IMAP and sends
// commands over SMTP. It implements source.Inbox.
type Adapter struct {
	imapClient *IMAPClient
	smtpConfig SMTPConfig
	accountID  string
	username   string
	now        func() time.Time
}

// NewAdapter creates a new email adapter for the given account.
func NewAdapter(
	accountID string,
	imapCfg IMAPConfig,
	smtpCfg SMTPConfig,
) *Adapter {
	return &Adapter{
		imapClient: NewIMAPClient(imapCfg),
		smtpConfig: smtpCfg,
		accountID:  accountID,
		username:   imapCfg.Username,
		now:        time.Now,
	}
}

// AccountID returns the configured account identifier.
func (a *Adapter) AccountID() string {
	return a.accountID
}

// ValidateConnection verifies IMAP credentials by connecting,
// authenticating, and selecting INBOX. Returns the username on success.
func (a *Adapter) ValidateConnection(
	ctx context.Context,
) (string, error) {
	client, err := a.imapClient.Connect(ctx)
	if err != nil {
		return "", fmt.Errorf("validating email connection: %w", err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(inboxMailbox, nil).Wait(); err != nil {
		return "", fmt.Errorf("selecting INBOX: %w", err)
	}

	return a.username, nil
}

// FetchReplies returns the unseen reply messages in the account's inbox.
func (a *Adapter) FetchReplies(
	ctx context.Context,
) ([]mailrpc.InboundMessage, error) {
	return a.imapClient.FetchReplies(ctx, a.accountID)
}

// Send composes msg and submits it over SMTP.
func (a *Adapter) Send(ctx context.Context, msg mailrpc.OutboundMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := composeMessage(msg, a.now())
	if err != nil {
		return err
	}
	return sendMail(a.smtpConfig, msg.From, []string{msg.To}, raw)
}

// Delete removes processed replies from the inbox in one IMAP session.
func (a *Adapter) Delete(ctx context.Context, msgs []mailrpc.InboundMessage) error {
	uids := make([]uint32, 0, len(msgs))
	for _, msg := range msgs {
		if msg.UID != 0 {
			uids = append(uids, msg.UID)
		}
	}
	return a.imapClient.Delete(ctx, uids...)
}

// Transport routes mailrpc traffic to the adapter of each message's
// account.
type Transport struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
}

// NewTransport creates a transport over the given adapters.
func NewTransport(adapters ...*Adapter) *Transport {
	t := &Transport{adapters: make(map[string]*Adapter, len(adapters))}
	for _, a := range adapters {
		t.adapters[a.accountID] = a
	}
	return t
}

// Register adds or replaces the adapter for its account.
func (t *Transport) Register(a *Adapter) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.adapters[a.accountID] = a
}

func (t *Transport) adapter(accountID string) (*Adapter, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	a, ok := t.adapters[accountID]
	if !ok {
		return nil, fmt.Errorf("no mail account %q configured", accountID)
	}
	return a, nil
}

// Send implements mailrpc.Transport.
func (t *Transport) Send(ctx context.Context, msg mailrpc.OutboundMessage) error {
	a, err := t.adapter(msg.AccountID)
	if err != nil {
		return err
	}
	return a.Send(ctx, msg)
}

// Delete implements mailrpc.Transport. Messages are grouped by account so
// each mailbox is opened once.
func (t *Transport) Delete(ctx context.Context, msgs []mailrpc.InboundMessage) error {
	var errs []error
	for _, group := range groupByAccount(msgs) {
		a, err := t.adapter(group[0].AccountID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := a.Delete(ctx, group); err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", a.accountID, err))
		}
	}
	return errors.Join(errs...)
}

// groupByAccount splits msgs per account, keeping first-seen order.
func groupByAccount(msgs []mailrpc.InboundMessage) [][]mailrpc.InboundMessage {
	index := make(map[string]int)
	var groups [][]mailrpc.InboundMessage
	for _, msg := range msgs {
		i, ok := index[msg.AccountID]
		if !ok {
			i = len(groups)
			index[msg.AccountID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], msg)
	}
	return groups
}
