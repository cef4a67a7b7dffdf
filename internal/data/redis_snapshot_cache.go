package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/telbill/robo-ops/internal/core"
	"github.com/telbill/robo-ops/internal/domain/model"
)

const (
	activeRunsKey      = "snapshot:runs:active"
	pendingInvoicesKey = "snapshot:invoices:pending"
)

// RedisSnapshotCache keeps the latest non-terminal run and pending invoice
// snapshots in two Redis hashes keyed by entity id. Writing a terminal
// snapshot removes the entry, so reading both hashes back is exactly the
// reconciliation state a reconnecting session needs.
type RedisSnapshotCache struct {
	client redis.UniversalClient
}

// NewRedisSnapshotCache creates a new RedisSnapshotCache with the given Redis client.
func NewRedisSnapshotCache(client redis.UniversalClient) *RedisSnapshotCache {
	return &RedisSnapshotCache{client: client}
}

// PutRun stores or clears the hot snapshot for a run.
func (c *RedisSnapshotCache) PutRun(ctx context.Context, run *model.JobRun) error {
	if run == nil || run.ID == "" {
		return errors.New("run with id is required")
	}
	if run.State.Terminal() {
		return c.client.HDel(ctx, activeRunsKey, run.ID).Err()
	}
	raw, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run snapshot: %w", err)
	}
	return c.client.HSet(ctx, activeRunsKey, run.ID, raw).Err()
}

// PutInvoice stores or clears the hot snapshot for an invoice.
func (c *RedisSnapshotCache) PutInvoice(ctx context.Context, inv *model.Invoice) error {
	if inv == nil || inv.ID == "" {
		return errors.New("invoice with id is required")
	}
	if inv.State.Terminal() {
		return c.client.HDel(ctx, pendingInvoicesKey, inv.ID).Err()
	}
	raw, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("encode invoice snapshot: %w", err)
	}
	return c.client.HSet(ctx, pendingInvoicesKey, inv.ID, raw).Err()
}

// Snapshot reads the full reconciliation state back out of the cache.
func (c *RedisSnapshotCache) Snapshot(ctx context.Context) (*core.StateSnapshot, error) {
	runsRaw, err := c.client.HGetAll(ctx, activeRunsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read active runs: %w", err)
	}
	invsRaw, err := c.client.HGetAll(ctx, pendingInvoicesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read pending invoices: %w", err)
	}

	snap := &core.StateSnapshot{}
	for id, raw := range runsRaw {
		var run model.JobRun
		if err := json.Unmarshal([]byte(raw), &run); err != nil {
			return nil, fmt.Errorf("decode run snapshot %s: %w", id, err)
		}
		snap.ActiveRuns = append(snap.ActiveRuns, &run)
	}
	for id, raw := range invsRaw {
		var inv model.Invoice
		if err := json.Unmarshal([]byte(raw), &inv); err != nil {
			return nil, fmt.Errorf("decode invoice snapshot %s: %w", id, err)
		}
		snap.PendingInvoices = append(snap.PendingInvoices, &inv)
	}
	return snap, nil
}
