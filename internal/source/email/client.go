package email

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/filterctl/internal/mailrpc"
	"github.com/nhle/filterctl/internal/source"
)

const inboxMailbox = "INBOX"

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	cfg IMAPConfig
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(cfg IMAPConfig) *IMAPClient {
	return &IMAPClient{cfg: cfg}
}

// Connect establishes a connection to the IMAP server, authenticates,
// and returns the connected client. The caller is responsible for
// calling Logout/Close on the returned client.
func (c *IMAPClient) Connect(
	_ context.Context,
) (*imapclient.Client, error) {
	addr := c.cfg.Host + ":" + c.cfg.Port

	var client *imapclient.Client
	var err error

	if c.cfg.TLS {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.cfg.Username, c.cfg.Password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &source.AuthError{
			SourceType: source.SourceTypeIMAP,
			Message: fmt.Sprintf(
				"authentication failed for %s: %v",
				c.cfg.Username, err,
			),
		}
	}

	return client, nil
}

// FetchReplies connects to IMAP, selects INBOX, searches for unseen
// messages with the reply subject and fetches them in full. Fetching the
// body without PEEK marks them seen, so the next poll skips them.
func (c *IMAPClient) FetchReplies(
	ctx context.Context, accountID string,
) ([]mailrpc.InboundMessage, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	selected, err := client.Select(inboxMailbox, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: mailrpc.ReplySubject},
		},
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching replies: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(uids...), fetchOpts)

	var replies []mailrpc.InboundMessage
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			continue
		}

		env := envelopeFromBuffer(buf)
		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		in, err := parseMessage(raw)
		if err != nil {
			continue
		}
		in.AccountID = accountID
		in.UID = env.UID
		in.TransportID = transportID(env, selected.UIDValidity)
		if in.Subject == "" {
			in.Subject = env.Subject
		}
		replies = append(replies, in)
	}

	if err := fetchCmd.Close(); err != nil {
		return replies, fmt.Errorf("fetching replies: %w", err)
	}

	return replies, nil
}

// Delete connects to IMAP once, flags every given message deleted and
// expunges them. Servers without UIDPLUS get a plain EXPUNGE.
func (c *IMAPClient) Delete(ctx context.Context, uids ...uint32) error {
	if len(uids) == 0 {
		return nil
	}

	client, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = client.Logout().Wait() }()

	if _, err := client.Select(inboxMailbox, nil).Wait(); err != nil {
		return fmt.Errorf("selecting INBOX: %w", err)
	}

	uidSet := uidSetOf(uids)

	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("flagging %d messages deleted: %w", len(uids), err)
	}

	if client.Caps().Has(imap.CapUIDPlus) {
		err = client.UIDExpunge(uidSet).Close()
	} else {
		err = client.Expunge().Close()
	}
	if err != nil {
		return fmt.Errorf("expunging %d messages: %w", len(uids), err)
	}
	return nil
}

func uidSetOf(uids []uint32) imap.UIDSet {
	set := make([]imap.UID, 0, len(uids))
	for _, uid := range uids {
		set = append(set, imap.UID(uid))
	}
	return imap.UIDSetNum(set...)
}

// envelopeFromBuffer extracts an Envelope from a FetchMessageBuffer.
func envelopeFromBuffer(buf *imapclient.FetchMessageBuffer) Envelope {
	env := Envelope{
		UID: uint32(buf.UID),
	}

	if buf.Envelope != nil {
		env.MessageID = buf.Envelope.MessageID
		env.Subject = buf.Envelope.Subject
	}

	return env
}

// transportID names the physical message. The Message-ID survives
// redelivery; the UID pair is used when the sender omitted one.
func transportID(env Envelope, uidValidity uint32) string {
	if env.MessageID != "" {
		return env.MessageID
	}
	return fmt.Sprintf("%s/%d/%d", inboxMailbox, uidValidity, env.UID)
}
