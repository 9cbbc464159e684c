// Package sync polls mail accounts for service replies and hands them to
// the RPC controller.
package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/filterctl/internal/logging"
	"github.com/nhle/filterctl/internal/mailrpc"
	"github.com/nhle/filterctl/internal/source"
)

// SyncState represents the current state of an account poll.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncStatus holds the poll state for a single account.
type SyncStatus struct {
	AccountID string
	State     SyncState
	LastSync  time.Time
	Error     error
}

// SyncResult is published after every poll of an account.
type SyncResult struct {
	AccountID string
	Fetched   int
	Accepted  int
	Error     error
	AuthError bool
}

// Receiver consumes a new-mail batch.
type Receiver interface {
	Receive(ctx context.Context, msgs []mailrpc.InboundMessage) int
}

// fetchTimeout is the maximum time allowed for a single fetch operation.
const fetchTimeout = 30 * time.Second

// defaultInterval applies when an inbox is registered without one.
const defaultInterval = 30 * time.Second

type inboxEntry struct {
	inbox    source.Inbox
	interval time.Duration
	trigger  chan struct{}
}

// Poller orchestrates background polling of registered inboxes.
type Poller struct {
	receiver Receiver
	logger   *slog.Logger
	inboxes  []*inboxEntry
	statuses map[string]*SyncStatus
	resultCh chan SyncResult
	stopCh   chan struct{}
	wg       gosync.WaitGroup
	mu       gosync.Mutex
	running  bool
}

// New creates a new Poller delivering replies to r.
func New(r Receiver, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		receiver: r,
		logger:   logging.WithComponent(logger, "poller"),
		statuses: make(map[string]*SyncStatus),
		resultCh: make(chan SyncResult, 16),
		stopCh:   make(chan struct{}),
	}
}

// RegisterInbox adds an inbox polled every interval.
func (p *Poller) RegisterInbox(inbox source.Inbox, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if interval <= 0 {
		interval = defaultInterval
	}
	p.inboxes = append(p.inboxes, &inboxEntry{
		inbox:    inbox,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	})
	p.statuses[inbox.AccountID()] = &SyncStatus{
		AccountID: inbox.AccountID(),
		State:     SyncIdle,
	}
}

// Start launches one polling goroutine per inbox. They stop when ctx is
// done or Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true

	for _, entry := range p.inboxes {
		p.wg.Add(1)
		go func(e *inboxEntry) {
			defer p.wg.Done()
			p.pollInbox(ctx, e)
		}(entry)
	}
}

// Stop halts all polling goroutines and waits for them to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
}

// Results returns the channel on which poll outcomes are published.
// Results are dropped when nobody reads them.
func (p *Poller) Results() <-chan SyncResult {
	return p.resultCh
}

// RefreshAccount triggers an immediate poll of one account's inbox.
func (p *Poller) RefreshAccount(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.inboxes {
		if e.inbox.AccountID() != accountID {
			continue
		}
		select {
		case e.trigger <- struct{}{}:
		default:
		}
	}
}

// GetStatuses returns the current poll status of all registered inboxes.
func (p *Poller) GetStatuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	return statuses
}

// pollInbox runs the polling loop for a single inbox.
func (p *Poller) pollInbox(ctx context.Context, e *inboxEntry) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	// Do an initial fetch immediately
	p.fetchAndReceive(ctx, e)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.fetchAndReceive(ctx, e)
		case <-e.trigger:
			p.fetchAndReceive(ctx, e)
		}
	}
}

// fetchAndReceive performs a single fetch, hands the replies to the
// receiver, and publishes a SyncResult.
func (p *Poller) fetchAndReceive(ctx context.Context, e *inboxEntry) {
	id := e.inbox.AccountID()
	logger := logging.WithAccount(p.logger, id)
	p.setStatus(id, SyncRunning, nil)

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	msgs, err := e.inbox.FetchReplies(fetchCtx)
	if err != nil {
		p.setStatus(id, SyncError, err)

		// Detect auth errors and emit a specific message.
		if source.IsAuthError(err) {
			logger.Error("mailbox authentication failed", "error", err)
			p.sendResult(SyncResult{AccountID: id, Error: err, AuthError: true})
			return
		}

		logger.Warn("fetching replies failed", "error", err)
		p.sendResult(SyncResult{AccountID: id, Error: err})
		return
	}

	accepted := 0
	if len(msgs) > 0 {
		accepted = p.receiver.Receive(fetchCtx, msgs)
		logger.Debug("replies received",
			"fetched", len(msgs),
			"accepted", accepted,
		)
	}

	p.setStatus(id, SyncIdle, nil)
	p.sendResult(SyncResult{
		AccountID: id,
		Fetched:   len(msgs),
		Accepted:  accepted,
	})
}

// setStatus updates the poll status for an account.
func (p *Poller) setStatus(accountID string, state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[accountID]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if state == SyncIdle && err == nil {
		status.LastSync = time.Now()
	}
}

// sendResult publishes a SyncResult without blocking.
func (p *Poller) sendResult(r SyncResult) {
	select {
	case p.resultCh <- r:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}
