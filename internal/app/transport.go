package app

import (
	"context"

	"github.com/nhle/filterctl/internal/mailrpc"
	"github.com/nhle/filterctl/internal/sync"
)

// pollingTransport polls an account's inbox as soon as a command to it has
// been handed to the mail server, so the reply does not wait a full poll
// interval.
type pollingTransport struct {
	mailrpc.Transport
	poller *sync.Poller
}

func (t *pollingTransport) Send(ctx context.Context, msg mailrpc.OutboundMessage) error {
	if err := t.Transport.Send(ctx, msg); err != nil {
		return err
	}
	if t.poller != nil {
		t.poller.RefreshAccount(msg.AccountID)
	}
	return nil
}
