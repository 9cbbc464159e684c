package filterctl

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nhle/filterctl/internal/filterset"
	"github.com/nhle/filterctl/internal/mailrpc"
)

func snapshotKey(slot string, kind filterset.Kind, accountID string) string {
	return fmt.Sprintf("%s/%s/%s", slot, kind, accountID)
}

func (c *Controller) persist(ctx context.Context, slot string, ds filterset.Dataset) {
	if c.snapshots == nil {
		return
	}
	data, err := json.Marshal(ds.Render())
	if err != nil {
		c.logger.Warn("encoding snapshot failed", "slot", slot, "kind", ds.Kind(), "error", err)
		return
	}
	key := snapshotKey(slot, ds.Kind(), ds.AccountID())
	if err := c.snapshots.Set(ctx, key, string(data)); err != nil {
		c.logger.Warn("saving snapshot failed", "key", key, "error", err)
	}
}

func (c *Controller) dropSnapshot(ctx context.Context, slot string, kind filterset.Kind, accountID string) {
	if c.snapshots == nil {
		return
	}
	key := snapshotKey(slot, kind, accountID)
	if err := c.snapshots.Delete(ctx, key); err != nil {
		c.logger.Warn("deleting snapshot failed", "key", key, "error", err)
	}
}

// Restore loads persisted server and dirty datasets for accounts. Snapshots
// that no longer validate are skipped.
func (c *Controller) Restore(ctx context.Context, accounts []mailrpc.Account) error {
	if c.snapshots == nil {
		return nil
	}

	restored := 0
	for _, account := range accounts {
		c.accounts.Set(account.ID, account)
		for _, kind := range filterset.Kinds {
			s := c.kinds[kind]
			for _, slot := range []string{"server", "dirty"} {
				key := snapshotKey(slot, kind, account.ID)
				data, ok, err := c.snapshots.Get(ctx, key)
				if err != nil {
					return fmt.Errorf("loading snapshot %s: %w", key, err)
				}
				if !ok {
					continue
				}
				ds, err := filterset.Parse(kind, account.ID, account.Email, []byte(data))
				if err != nil {
					c.logger.Warn("discarding invalid snapshot", "key", key, "error", err)
					continue
				}
				if slot == "server" {
					s.server.Set(account.ID, ds)
				} else {
					s.dirty.Set(account.ID, ds)
				}
				restored++
			}
		}
	}

	c.logger.Debug("snapshots restored", "count", restored)
	return nil
}
