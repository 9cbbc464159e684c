// Package filterctl keeps a per-account cache of the filter service's
// classes and books, with explicit dirty tracking, on top of mailrpc round
// trips.
//
// For every kind there are two slots per account: server holds the last
// dataset the service confirmed, dirty holds a local edit not yet sent. A
// dirty entry that no longer differs from its server entry is dropped the
// next time it is read. Datasets are cloned on every hand-off so callers
// never alias cached state.
package filterctl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nhle/filterctl/internal/asyncmap"
	"github.com/nhle/filterctl/internal/filterset"
	"github.com/nhle/filterctl/internal/logging"
	"github.com/nhle/filterctl/internal/mailrpc"
)

// dumpCommand asks the service for every dataset of the mailbox.
const dumpCommand = "dump"

// Requester performs one email round trip.
type Requester interface {
	Request(
		ctx context.Context,
		account mailrpc.Account,
		command string,
		body any,
	) (*mailrpc.Response, error)
}

// SnapshotStore persists rendered datasets between runs.
type SnapshotStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// SecretStore keeps the server-issued password of each account.
type SecretStore interface {
	Set(key, value string) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSnapshots persists server and dirty datasets to s.
func WithSnapshots(s SnapshotStore) Option {
	return func(c *Controller) { c.snapshots = s }
}

// WithSecrets stores dump passwords in s in addition to memory.
func WithSecrets(s SecretStore) Option {
	return func(c *Controller) { c.secrets = s }
}

type slots struct {
	server *asyncmap.Store[string, filterset.Dataset]
	dirty  *asyncmap.Store[string, filterset.Dataset]
}

// Controller is the sole owner of the dataset caches.
type Controller struct {
	rpc       Requester
	logger    *slog.Logger
	snapshots SnapshotStore
	secrets   SecretStore

	kinds     map[filterset.Kind]slots
	accounts  *asyncmap.Store[string, mailrpc.Account]
	passwords *asyncmap.Store[string, string]
}

// NewController creates a controller issuing requests through rpc.
func NewController(rpc Requester, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		rpc:       rpc,
		logger:    logging.WithComponent(logger, "filterctl"),
		kinds:     make(map[filterset.Kind]slots, len(filterset.Kinds)),
		accounts:  asyncmap.New[string, mailrpc.Account](),
		passwords: asyncmap.New[string, string](),
	}
	for _, kind := range filterset.Kinds {
		c.kinds[kind] = slots{
			server: asyncmap.New[string, filterset.Dataset](),
			dirty:  asyncmap.New[string, filterset.Dataset](),
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the account's dataset of the given kind. Unless force is set,
// a cached server dataset is returned without a round trip; otherwise a dump
// is requested, the server slot of every kind in the reply is refreshed, and
// the requested kind's dirty edit is discarded.
func (c *Controller) Get(ctx context.Context, kind filterset.Kind, account mailrpc.Account, force bool) Result {
	s, ok := c.kinds[kind]
	if !ok {
		return failure(kind, account.ID, "unknown dataset kind %q", kind)
	}
	c.accounts.Set(account.ID, account)

	if !force {
		if _, ok := s.server.Get(account.ID); ok {
			return c.view(kind, account.ID, SourceCache)
		}
	}

	if err := c.refresh(ctx, kind, account); err != nil {
		return failure(kind, account.ID, "%v", err)
	}
	c.clearDirty(ctx, kind, account.ID)

	r := c.view(kind, account.ID, SourceServer)
	r.Message = fmt.Sprintf("%s loaded from server", kind)
	return r
}

// Set records ds as the account's local edit. Nothing is sent. If ds equals
// the server dataset any stale dirty entry is dropped instead.
func (c *Controller) Set(ctx context.Context, kind filterset.Kind, account mailrpc.Account, ds filterset.Dataset) Result {
	s, ok := c.kinds[kind]
	if !ok {
		return failure(kind, account.ID, "unknown dataset kind %q", kind)
	}
	if ds == nil || ds.Kind() != kind {
		return failure(kind, account.ID, "expected a %s dataset", kind)
	}
	c.accounts.Set(account.ID, account)

	if !ds.Valid() {
		c.logger.Warn("rejected invalid dataset",
			"kind", kind,
			"account", account.ID,
			"error", ds.Err(),
		)
		return failure(kind, account.ID, "Validation failed: %v", ds.Err())
	}
	edit := cloneChecked(ds)

	server, ok := s.server.Get(account.ID)
	if ok && !edit.Diff(server, true) {
		c.clearDirty(ctx, kind, account.ID)
	} else {
		s.dirty.Set(account.ID, edit)
		c.persist(ctx, "dirty", edit)
	}

	r := c.view(kind, account.ID, SourceLocal)
	if r.Dirty {
		r.Message = fmt.Sprintf("%s changed locally", kind)
	} else {
		r.Message = fmt.Sprintf("%s unchanged", kind)
	}
	return r
}

// SetDefaults replaces the account's dataset with the built-in default.
func (c *Controller) SetDefaults(ctx context.Context, kind filterset.Kind, account mailrpc.Account) Result {
	ds, err := filterset.Default(kind, account.ID, account.Email)
	if err != nil {
		return failure(kind, account.ID, "%v", err)
	}
	return c.Set(ctx, kind, account, ds)
}

// Send pushes the account's dirty dataset, or with force the current
// dataset even when clean, and promotes it to the server slot only if the
// service echoes back exactly what was sent.
func (c *Controller) Send(ctx context.Context, kind filterset.Kind, account mailrpc.Account, force bool) Result {
	s, ok := c.kinds[kind]
	if !ok {
		return failure(kind, account.ID, "unknown dataset kind %q", kind)
	}
	c.accounts.Set(account.ID, account)

	current := c.view(kind, account.ID, SourceCache)
	if current.dataset == nil {
		return failure(kind, account.ID, "no %s loaded for account %s", kind, account.ID)
	}
	if !force && !current.Dirty {
		current.Message = fmt.Sprintf("%s unchanged, nothing to send", kind)
		return current
	}

	outgoing := current.dataset
	if !outgoing.Validate() {
		return failure(kind, account.ID, "Validation failed: %v", outgoing.Err())
	}
	update, err := outgoing.RenderUpdateRequest()
	if err != nil {
		return failure(kind, account.ID, "Validation failed: %v", err)
	}

	resp, err := c.rpc.Request(ctx, account, update.Command, update.Body)
	if err != nil {
		c.logger.Warn("update request failed",
			"kind", kind,
			"account", account.ID,
			"error", err,
		)
		return failure(kind, account.ID, "request failed: %v", err)
	}

	confirmed, err := filterset.Parse(kind, account.ID, account.Email, resp.Raw)
	if err != nil {
		return failure(kind, account.ID, "Validation failed: %v", err)
	}
	if !filterset.Equal(confirmed, outgoing) {
		c.logger.Warn("update confirmation mismatch",
			"kind", kind,
			"account", account.ID,
			"request_id", resp.RequestID,
		)
		return failure(kind, account.ID, "server %s do not match the update sent", kind)
	}

	s.server.Set(account.ID, outgoing)
	c.persist(ctx, "server", outgoing)
	c.clearDirty(ctx, kind, account.ID)

	r := c.view(kind, account.ID, SourceServer)
	r.Message = fmt.Sprintf("%s updated", kind)
	return r
}

// SendAll runs Send for every account holding a cached dataset of kind and
// reports each outcome. It does not stop at the first failure.
func (c *Controller) SendAll(ctx context.Context, kind filterset.Kind, force bool) SendAllResult {
	s, ok := c.kinds[kind]
	if !ok {
		return SendAllResult{Message: fmt.Sprintf("unknown dataset kind %q", kind)}
	}

	seen := make(map[string]bool)
	for _, id := range append(s.server.Keys(), s.dirty.Keys()...) {
		seen[id] = true
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := SendAllResult{Success: true, Results: make([]Result, 0, len(ids))}
	failed := 0
	for _, id := range ids {
		account, ok := c.accounts.Get(id)
		if !ok {
			account = mailrpc.Account{ID: id}
		}
		r := c.Send(ctx, kind, account, force)
		if !r.Success {
			failed++
			out.Success = false
		}
		out.Results = append(out.Results, r)
	}

	switch {
	case len(ids) == 0:
		out.Message = fmt.Sprintf("no accounts with %s loaded", kind)
	case failed == 0:
		out.Message = fmt.Sprintf("%s sent for %d accounts", kind, len(ids))
	default:
		out.Message = fmt.Sprintf("%s failed for %d of %d accounts", kind, failed, len(ids))
	}
	return out
}

// Password returns the server-issued password cached by the last dump.
func (c *Controller) Password(accountID string) (string, bool) {
	return c.passwords.Get(accountID)
}

// refresh issues a dump and replaces the server slot of every kind the reply
// carries. A kind whose field is absent keeps its cached state. Nothing is
// cached unless the requested kind is present and every carried kind
// validates.
func (c *Controller) refresh(ctx context.Context, kind filterset.Kind, account mailrpc.Account) error {
	resp, err := c.rpc.Request(ctx, account, dumpCommand, nil)
	if err != nil {
		c.logger.Warn("dump request failed", "account", account.ID, "error", err)
		return fmt.Errorf("request failed: %w", err)
	}
	if _, ok := resp.Fields[kind.Field()]; !ok {
		c.logger.Warn("dump reply lacks requested kind",
			"kind", kind,
			"account", account.ID,
			"request_id", resp.RequestID,
		)
		return fmt.Errorf("Validation failed: %s: missing %s field", kind, kind.Field())
	}

	fresh := make(map[filterset.Kind]filterset.Dataset, len(filterset.Kinds))
	for _, k := range filterset.Kinds {
		if _, ok := resp.Fields[k.Field()]; !ok {
			continue
		}
		ds, err := filterset.Parse(k, account.ID, account.Email, resp.Raw)
		if err != nil {
			c.logger.Warn("dump reply failed validation",
				"kind", k,
				"account", account.ID,
				"request_id", resp.RequestID,
				"error", err,
			)
			return fmt.Errorf("Validation failed: %s: %w", k, err)
		}
		fresh[k] = ds
	}

	for k, ds := range fresh {
		c.kinds[k].server.Set(account.ID, ds)
		c.persist(ctx, "server", ds)
	}

	var password string
	if ok, err := resp.Field("Password", &password); err != nil {
		c.logger.Warn("ignoring malformed password", "account", account.ID, "error", err)
	} else if ok && password != "" {
		c.passwords.Set(account.ID, password)
		if c.secrets != nil {
			if err := c.secrets.Set(passwordKey(account.ID), password); err != nil {
				c.logger.Warn("storing password failed", "account", account.ID, "error", err)
			}
		}
	}
	return nil
}

// view builds a result from the cached state, reconciling a dirty entry
// that has become equal to the server dataset. A dirty result also carries
// the server dataset it diverges from.
func (c *Controller) view(kind filterset.Kind, accountID, source string) Result {
	s := c.kinds[kind]
	server, hasServer := s.server.Get(accountID)
	dirty, hasDirty := s.dirty.Get(accountID)

	if hasDirty && hasServer && !dirty.Diff(server, true) {
		s.dirty.Pop(accountID)
		hasDirty = false
		c.dropSnapshot(context.Background(), "dirty", kind, accountID)
	}

	switch {
	case hasDirty:
		r := newResult(kind, accountID, dirty, true, source)
		if hasServer {
			r.attachServer(server)
		}
		return r
	case hasServer:
		return newResult(kind, accountID, server, false, source)
	default:
		return newResult(kind, accountID, nil, false, source)
	}
}

func (c *Controller) clearDirty(ctx context.Context, kind filterset.Kind, accountID string) {
	if _, ok := c.kinds[kind].dirty.Pop(accountID); ok {
		c.dropSnapshot(ctx, "dirty", kind, accountID)
	}
}

// cloneChecked copies ds and asserts the copy validates like the source.
func cloneChecked(ds filterset.Dataset) filterset.Dataset {
	cp := ds.Clone()
	if cp.Validate() != ds.Valid() {
		panic(fmt.Sprintf("filterctl: clone of %s dataset validates differently from its source", ds.Kind()))
	}
	return cp
}

func passwordKey(accountID string) string {
	return "dump-password:" + accountID
}
