package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	gosync "sync"
	"testing"
	"time"

	"github.com/nhle/filterctl/internal/mailrpc"
	"github.com/nhle/filterctl/internal/source"
)

type fakeInbox struct {
	id    string
	mu    gosync.Mutex
	calls int
	msgs  []mailrpc.InboundMessage
	err   error
}

func (f *fakeInbox) AccountID() string { return f.id }

func (f *fakeInbox) ValidateConnection(context.Context) (string, error) { return f.id, nil }

func (f *fakeInbox) FetchReplies(context.Context) ([]mailrpc.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	msgs := f.msgs
	f.msgs = nil
	return msgs, f.err
}

func (f *fakeInbox) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReceiver struct {
	mu  gosync.Mutex
	got []mailrpc.InboundMessage
}

func (f *fakeReceiver) Receive(_ context.Context, msgs []mailrpc.InboundMessage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msgs...)
	return len(msgs)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func nextResult(t *testing.T, p *Poller) SyncResult {
	t.Helper()
	select {
	case r := <-p.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll result")
		return SyncResult{}
	}
}

func TestPoller_DeliversReplies(t *testing.T) {
	inbox := &fakeInbox{id: "a", msgs: []mailrpc.InboundMessage{
		{AccountID: "a", TransportID: "m1", Subject: mailrpc.ReplySubject},
	}}
	recv := &fakeReceiver{}
	p := New(recv, testLogger())
	p.RegisterInbox(inbox, time.Hour)

	p.Start(context.Background())
	defer p.Stop()

	r := nextResult(t, p)
	if r.AccountID != "a" || r.Fetched != 1 || r.Accepted != 1 || r.Error != nil {
		t.Fatalf("unexpected result %+v", r)
	}

	p.RefreshAccount("a")
	r = nextResult(t, p)
	if r.Fetched != 0 {
		t.Errorf("second poll should be empty: %+v", r)
	}
	if inbox.callCount() != 2 {
		t.Errorf("expected 2 fetches, got %d", inbox.callCount())
	}

	statuses := p.GetStatuses()
	if len(statuses) != 1 || statuses[0].State != SyncIdle || statuses[0].LastSync.IsZero() {
		t.Errorf("unexpected statuses %+v", statuses)
	}
}

func TestPoller_ReportsErrors(t *testing.T) {
	authFail := &fakeInbox{id: "a", err: &source.AuthError{SourceType: source.SourceTypeIMAP, Message: "denied"}}
	p := New(&fakeReceiver{}, testLogger())
	p.RegisterInbox(authFail, time.Hour)

	p.Start(context.Background())
	defer p.Stop()

	r := nextResult(t, p)
	if !r.AuthError || r.Error == nil {
		t.Fatalf("expected auth error result, got %+v", r)
	}
	if s := p.GetStatuses()[0]; s.State != SyncError {
		t.Errorf("state = %v, want error", s.State)
	}
}

func TestPoller_StopsWithContext(t *testing.T) {
	inbox := &fakeInbox{id: "a", err: errors.New("offline")}
	p := New(&fakeReceiver{}, testLogger())
	p.RegisterInbox(inbox, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	nextResult(t, p)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
