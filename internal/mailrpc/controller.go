// Package mailrpc implements request/response calls over email. A request
// is sent as a command message carrying a correlation id header; replies
// arrive later through the transport's new-mail event, possibly duplicated,
// possibly before the request finished sending, possibly never.
package mailrpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/textproto"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/filterctl/internal/asyncmap"
	"github.com/nhle/filterctl/internal/logging"
)

const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultSweepInterval  = time.Second
	DefaultReplyWindow    = 60 * time.Second
	DefaultDedupRetention = 10 * time.Minute
)

// Transport sends command messages and removes processed replies. Delete
// receives every reply accepted from one batch.
type Transport interface {
	Send(ctx context.Context, msg OutboundMessage) error
	Delete(ctx context.Context, msgs []InboundMessage) error
}

// Config holds controller tuning.
type Config struct {
	// RequestTimeout is used by Request. Zero waits forever.
	RequestTimeout time.Duration

	// SweepInterval is how often Run matches stashed replies to requests.
	SweepInterval time.Duration

	// ReplyWindow is how long an unmatched reply is kept before it is
	// reported as lost.
	ReplyWindow time.Duration

	// DedupRetention bounds how long processed message ids and resolved
	// request ids are remembered.
	DedupRetention time.Duration

	// AutoDelete removes reply messages from the mailbox once processed.
	AutoDelete bool
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: DefaultRequestTimeout,
		SweepInterval:  DefaultSweepInterval,
		ReplyWindow:    DefaultReplyWindow,
		DedupRetention: DefaultDedupRetention,
	}
}

// Stats is a point-in-time view of the controller tables.
type Stats struct {
	Pending   int
	Stashed   int
	Processed int
	Resolved  int
}

// Controller correlates command emails with their replies.
type Controller struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	pending   *asyncmap.Store[string, *request]
	responses *asyncmap.Store[string, *Response]
	processed *asyncmap.Store[string, string]
	resolved  *asyncmap.Store[string, string]

	// recvMu serializes reply intake with the sweep so a reply is either
	// matched or stashed, never both.
	recvMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewController creates a controller. Zero durations in cfg take defaults,
// except RequestTimeout where zero disables the timer.
func NewController(transport Transport, cfg Config, logger *slog.Logger) *Controller {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.ReplyWindow <= 0 {
		cfg.ReplyWindow = DefaultReplyWindow
	}
	if cfg.DedupRetention <= 0 {
		cfg.DedupRetention = DefaultDedupRetention
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Controller{
		transport: transport,
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "mailrpc"),
		now:       time.Now,
		newID:     uuid.NewString,
		pending:   asyncmap.New[string, *request](),
		responses: asyncmap.New[string, *Response](),
		processed: asyncmap.New[string, string](),
		resolved:  asyncmap.New[string, string](),
	}
}

// Request sends command with the configured default timeout.
func (c *Controller) Request(
	ctx context.Context, account Account, command string, body any,
) (*Response, error) {
	return c.SendRequest(ctx, account, command, body, c.cfg.RequestTimeout)
}

// SendRequest emails command to the account's service address and blocks
// until the correlated reply arrives, the send fails, timeout elapses, or
// ctx is done. A timeout of zero disables the timer.
//
// The request is registered before the message is composed, so a reply
// racing the send is matched directly or held until the next sweep.
func (c *Controller) SendRequest(
	ctx context.Context,
	account Account,
	command string,
	body any,
	timeout time.Duration,
) (*Response, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}

	payload, err := encodeBody(body)
	if err != nil {
		return nil, err
	}
	to := account.ServiceAddr()
	if to == "" {
		return nil, fmt.Errorf("account %s has no service address", account.ID)
	}

	req := newRequest(c.newID(), account, command, payload, c.now())
	c.pending.Set(req.id, req)

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	header := make(textproto.MIMEHeader)
	header.Set(RequestIDHeader, req.id)
	msg := OutboundMessage{
		AccountID: account.ID,
		From:      account.Email,
		To:        to,
		Subject:   command,
		Header:    header,
		Body:      payload,
	}

	cancelled := ctx.Done()
	sent := make(chan error, 1)
	go func() {
		sent <- c.transport.Send(ctx, msg)
	}()

	for {
		select {
		case err := <-sent:
			sent = nil
			if err != nil {
				c.logger.Error("request send failed",
					"request_id", req.id,
					"account", account.ID,
					"command", command,
					"error", err,
				)
				c.reject(req, &SendError{RequestID: req.id, Command: command, Err: err})
				continue
			}
			c.logger.Debug("request sent",
				"request_id", req.id,
				"account", account.ID,
				"command", command,
			)
			c.claimStashed(req)

		case <-req.done:
			return req.resp, req.err

		case <-deadline:
			deadline = nil
			if c.claimStashed(req) {
				continue
			}
			c.logger.Warn("request timed out",
				"request_id", req.id,
				"account", account.ID,
				"command", command,
				"timeout", timeout,
			)
			c.reject(req, ErrTimeout)

		case <-cancelled:
			cancelled = nil
			c.reject(req, ctx.Err())
		}
	}
}

// Receive handles one new-mail batch. Messages that are not replies are
// ignored. It returns the number of replies accepted. With AutoDelete the
// accepted replies are removed in one call after the batch is processed.
func (c *Controller) Receive(ctx context.Context, msgs []InboundMessage) int {
	accepted := c.accept(msgs)
	if c.cfg.AutoDelete && len(accepted) > 0 {
		if err := c.transport.Delete(ctx, accepted); err != nil {
			c.logger.Warn("deleting reply messages failed",
				"count", len(accepted),
				"account", accepted[0].AccountID,
				"error", err,
			)
		}
	}
	return len(accepted)
}

// accept parses and delivers the replies in msgs and returns the ones
// processed for the first time.
func (c *Controller) accept(msgs []InboundMessage) []InboundMessage {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	var accepted []InboundMessage
	for _, msg := range msgs {
		if !msg.IsReply() {
			continue
		}

		if msg.TransportID != "" && c.processed.Has(msg.TransportID) {
			c.logger.Debug("duplicate message discarded",
				"message_id", msg.TransportID,
				"account", msg.AccountID,
			)
			continue
		}

		resp, err := parseReply(msg, c.now())
		if err != nil {
			c.logger.Warn("malformed reply discarded",
				"message_id", msg.TransportID,
				"account", msg.AccountID,
				"error", err,
			)
			continue
		}
		if msg.TransportID != "" {
			c.processed.Set(msg.TransportID, resp.RequestID)
		}
		accepted = append(accepted, msg)

		c.deliver(resp)
	}
	return accepted
}

// deliver routes a parsed reply to its request, or stashes it when no
// request with that id is registered yet. Must hold recvMu.
func (c *Controller) deliver(resp *Response) {
	if c.resolved.Has(resp.RequestID) {
		c.logger.Debug("late duplicate reply discarded", "request_id", resp.RequestID)
		return
	}
	if req, ok := c.pending.Pop(resp.RequestID); ok {
		c.resolve(req, resp)
		return
	}
	c.logger.Debug("early reply stashed", "request_id", resp.RequestID)
	c.responses.Set(resp.RequestID, resp)
}

// claimStashed resolves req from the response table if a reply is waiting.
func (c *Controller) claimStashed(req *request) bool {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	resp, ok := c.responses.Pop(req.id)
	if !ok {
		return false
	}
	if _, ok := c.pending.Pop(req.id); !ok {
		return false
	}
	c.resolve(req, resp)
	return true
}

// resolve completes req with resp. The caller must already have removed req
// from the pending table.
func (c *Controller) resolve(req *request, resp *Response) {
	c.resolved.Set(req.id, req.command)
	c.responses.Pop(req.id)
	if req.settle(resp, nil) {
		c.logger.Debug("reply matched",
			"request_id", req.id,
			"account", req.account.ID,
			"command", req.command,
			"elapsed", c.now().Sub(req.created),
		)
	}
}

// reject fails req unless another path already claimed it.
func (c *Controller) reject(req *request, err error) {
	if _, ok := c.pending.Pop(req.id); !ok {
		return
	}
	c.responses.Pop(req.id)
	req.settle(nil, err)
}

// Sweep matches stashed replies against pending requests, then expires
// replies older than the reply window and stale dedup entries. It returns
// the replies that expired unmatched.
func (c *Controller) Sweep(ctx context.Context) []*Response {
	c.recvMu.Lock()
	matched := make(map[string]*Response)
	claimed := c.pending.Scan(ctx, func(_ context.Context, id string, _ *request) bool {
		resp, ok := c.responses.Pop(id)
		if ok {
			matched[id] = resp
		}
		return ok
	})
	for _, e := range claimed {
		c.resolve(e.Value, matched[e.Key])
	}
	c.recvMu.Unlock()

	var lost []*Response
	for _, e := range c.responses.Expire(c.cfg.ReplyWindow) {
		c.logger.Warn("lost reply expired",
			"request_id", e.Key,
			"account", e.Value.AccountID,
			"message_id", e.Value.TransportID,
		)
		lost = append(lost, e.Value)
	}

	c.processed.Expire(c.cfg.DedupRetention)
	c.resolved.Expire(c.cfg.DedupRetention)

	return lost
}

// Run sweeps at the configured interval until ctx is done, then closes the
// controller.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	c.logger.Info("rpc sweep started", "interval", c.cfg.SweepInterval)
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case <-ticker.C:
			c.Sweep(ctx)
		}
	}
}

// Close rejects every outstanding request with ErrClosed. Subsequent
// SendRequest calls fail immediately.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	all := c.pending.Scan(context.Background(), func(context.Context, string, *request) bool {
		return true
	})
	for _, e := range all {
		e.Value.settle(nil, ErrClosed)
	}
	c.logger.Info("rpc controller closed", "rejected", len(all))
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Stats reports the current table sizes.
func (c *Controller) Stats() Stats {
	return Stats{
		Pending:   c.pending.Size(),
		Stashed:   c.responses.Size(),
		Processed: c.processed.Size(),
		Resolved:  c.resolved.Size(),
	}
}
