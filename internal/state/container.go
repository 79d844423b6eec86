// Package state holds the merged in-memory expense collection and exposes
// the operation surface the presentation layer consumes. Every operation
// first tries the backend; a connectivity failure switches to the offline
// path instead of surfacing an error. That switch is the defining behavior
// of the whole client.
package state

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"spendlog/internal/analytics"
	"spendlog/internal/cache"
	"spendlog/internal/core"
	"spendlog/internal/gateway"
	applog "spendlog/internal/log"
	"spendlog/internal/offline"
	appsync "spendlog/internal/sync"
)

// Gateway is the remote surface the container consumes.
type Gateway interface {
	Create(ctx context.Context, e core.Expense) (core.Expense, error)
	List(ctx context.Context, params gateway.ListParams) ([]core.Expense, error)
	Update(ctx context.Context, id string, patch core.ExpensePatch) (core.Expense, error)
	Delete(ctx context.Context, id string) error
	CategoryBreakdown(ctx context.Context, from, to *time.Time) (analytics.BreakdownResult, error)
	Insights(ctx context.Context) (analytics.InsightsResult, error)
}

// Reconciler runs sync passes on behalf of the container.
type Reconciler interface {
	Sync(ctx context.Context) (appsync.Result, error)
}

type Config struct {
	MonthlyBudget float64

	// Now is the clock used for offline insights; nil means time.Now.
	Now func() time.Time
}

// Container owns the in-memory collection. It is constructed explicitly and
// injected where needed; there is no package-level instance.
type Container struct {
	gw    Gateway
	store *offline.MutationStore
	rec   Reconciler
	cfg   Config
	log   *applog.Logger

	mu       stdsync.Mutex
	expenses []core.Expense
	revision uint64

	breakdowns *cache.LRUCache[analytics.BreakdownResult]
	insights   *cache.LRUCache[analytics.InsightsResult]
}

func NewContainer(gw Gateway, store *offline.MutationStore, rec Reconciler, cfg Config, logger *applog.Logger) *Container {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentState)
	}
	return &Container{
		gw:         gw,
		store:      store,
		rec:        rec,
		cfg:        cfg,
		log:        logger,
		breakdowns: cache.NewLRUCache[analytics.BreakdownResult](16, 5*time.Minute),
		insights:   cache.NewLRUCache[analytics.InsightsResult](4, 5*time.Minute),
	}
}

// Expenses returns a snapshot of the merged collection.
func (c *Container) Expenses() []core.Expense {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.Expense(nil), c.expenses...)
}

// Revision returns the collection revision. It increments on every mutation
// so dependent views know to recompute.
func (c *Container) Revision() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.revision
}

// CreateExpense records a new expense. Online it becomes server-owned
// immediately; offline it is stored locally under a temporary identity and
// drained by a later sync pass. Creates are never queued, only stored.
func (c *Container) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if e.Date.IsZero() {
		e.Date = c.cfg.Now()
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	created, err := c.gw.Create(ctx, e)
	if err == nil {
		c.mutate(func() {
			c.expenses = append([]core.Expense{created}, c.expenses...)
		})
		return created, nil
	}
	if !gateway.IsConnectivity(err) {
		return core.Expense{}, err
	}

	locals, storeErr := c.store.AppendLocalExpense(ctx, e)
	if storeErr != nil {
		return core.Expense{}, fmt.Errorf("store expense offline: %w", storeErr)
	}
	local := locals[len(locals)-1]

	c.mutate(func() {
		c.expenses = append([]core.Expense{local}, c.expenses...)
	})
	c.log.InfoContext(ctx, "Created expense offline", applog.FieldTempID, local.ID)
	return local, nil
}

// GetExpenses refreshes the collection: server records merged with any
// still-local records. Offline, the last known server records are kept and
// the local set is folded in.
func (c *Container) GetExpenses(ctx context.Context, params gateway.ListParams) ([]core.Expense, error) {
	remote, err := c.gw.List(ctx, params)
	if err != nil {
		if !gateway.IsConnectivity(err) {
			return nil, err
		}
		merged := mergeByID(c.Expenses(), c.store.ListLocalExpenses(ctx))
		c.mutate(func() { c.expenses = merged })
		return merged, nil
	}

	merged := append(remote, c.store.ListLocalExpenses(ctx)...)
	c.mutate(func() { c.expenses = merged })
	return merged, nil
}

// UpdateExpense patches an expense. A target that still has a temporary
// identity is never sent to the server; the patch is queued against the
// temp id and remapped once the record is promoted.
func (c *Container) UpdateExpense(ctx context.Context, id string, patch core.ExpensePatch) (core.Expense, error) {
	if err := patch.Validate(); err != nil {
		return core.Expense{}, err
	}

	if !core.IsTemporaryID(id) {
		updated, err := c.gw.Update(ctx, id, patch)
		if err == nil {
			c.mutate(func() { c.replaceInPlace(updated.ID, updated) })
			return updated, nil
		}
		if !gateway.IsConnectivity(err) {
			return core.Expense{}, err
		}
	}

	if err := c.store.EnqueueOperation(ctx, offline.UpdateOp(id, patch)); err != nil {
		return core.Expense{}, fmt.Errorf("queue update: %w", err)
	}

	var patched core.Expense
	c.mutate(func() {
		for i := range c.expenses {
			if c.expenses[i].ID == id {
				patched = c.expenses[i].Apply(patch)
				c.expenses[i] = patched
				return
			}
		}
	})
	return patched, nil
}

// DeleteExpense removes an expense optimistically; offline the delete is
// queued for replay.
func (c *Container) DeleteExpense(ctx context.Context, id string) error {
	if !core.IsTemporaryID(id) {
		err := c.gw.Delete(ctx, id)
		if err == nil {
			c.mutate(func() { c.removeInPlace(id) })
			return nil
		}
		if !gateway.IsConnectivity(err) {
			return err
		}
	}

	if err := c.store.EnqueueOperation(ctx, offline.DeleteOp(id)); err != nil {
		return fmt.Errorf("queue delete: %w", err)
	}
	c.mutate(func() { c.removeInPlace(id) })
	return nil
}

// GetCategoryBreakdown returns the category aggregation, server-computed
// when reachable, recomputed locally from the collection otherwise. Both
// paths produce the same shape.
func (c *Container) GetCategoryBreakdown(ctx context.Context, from, to *time.Time) (analytics.BreakdownResult, error) {
	result, err := c.gw.CategoryBreakdown(ctx, from, to)
	if err == nil {
		return result, nil
	}
	if !gateway.IsConnectivity(err) {
		return analytics.BreakdownResult{}, err
	}

	key := breakdownKey(c.Revision(), from, to)
	if cached, ok := c.breakdowns.Get(key); ok {
		return cached, nil
	}
	result = analytics.CategoryBreakdown(c.Expenses(), from, to)
	c.breakdowns.Set(key, result)
	return result, nil
}

// GetInsights returns the month-over-month comparison, with the same
// online/offline split as GetCategoryBreakdown.
func (c *Container) GetInsights(ctx context.Context) (analytics.InsightsResult, error) {
	result, err := c.gw.Insights(ctx)
	if err == nil {
		return result, nil
	}
	if !gateway.IsConnectivity(err) {
		return analytics.InsightsResult{}, err
	}

	now := c.cfg.Now()
	key := fmt.Sprintf("insights:%d:%s", c.Revision(), now.Format("2006-01-02"))
	if cached, ok := c.insights.Get(key); ok {
		return cached, nil
	}
	result = analytics.Insights(c.Expenses(), now, c.cfg.MonthlyBudget)
	c.insights.Set(key, result)
	return result, nil
}

// SyncOfflineExpenses runs a reconciliation pass and merges promoted records
// back into the collection: each temp-identity record is replaced in place
// by its server counterpart.
func (c *Container) SyncOfflineExpenses(ctx context.Context) (appsync.Result, error) {
	res, err := c.rec.Sync(ctx)
	if err != nil {
		return res, err
	}
	if res.Coalesced || len(res.Promoted) == 0 {
		return res, nil
	}

	byClient := make(map[string]core.Expense, len(res.Promoted))
	for _, p := range res.Promoted {
		if p.ClientID != "" {
			byClient[p.ClientID] = p
		}
	}

	c.mutate(func() {
		for i := range c.expenses {
			if !c.expenses[i].IsLocal() {
				continue
			}
			if promoted, ok := byClient[c.expenses[i].ID]; ok {
				promoted.Synced = true
				c.expenses[i] = promoted
			}
		}
	})

	c.log.InfoContext(ctx, "Merged promoted expenses",
		applog.FieldSyncedCount, len(res.Promoted),
		applog.FieldRevision, c.Revision())

	return res, nil
}

func (c *Container) mutate(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
	c.revision++
}

// callers hold c.mu
func (c *Container) replaceInPlace(id string, e core.Expense) {
	for i := range c.expenses {
		if c.expenses[i].ID == id {
			c.expenses[i] = e
			return
		}
	}
}

func (c *Container) removeInPlace(id string) {
	for i := range c.expenses {
		if c.expenses[i].ID == id {
			c.expenses = append(c.expenses[:i], c.expenses[i+1:]...)
			return
		}
	}
}

func mergeByID(known, locals []core.Expense) []core.Expense {
	seen := make(map[string]struct{}, len(known))
	out := append([]core.Expense(nil), known...)
	for _, e := range known {
		seen[e.ID] = struct{}{}
	}
	for _, e := range locals {
		if _, ok := seen[e.ID]; !ok {
			out = append(out, e)
		}
	}
	return out
}

func breakdownKey(revision uint64, from, to *time.Time) string {
	f, t := "", ""
	if from != nil {
		f = from.Format(time.RFC3339)
	}
	if to != nil {
		t = to.Format(time.RFC3339)
	}
	return fmt.Sprintf("breakdown:%d:%s:%s", revision, f, t)
}
