package state

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendlog/internal/analytics"
	"spendlog/internal/core"
	"spendlog/internal/gateway"
	applog "spendlog/internal/log"
	"spendlog/internal/offline"
	appsync "spendlog/internal/sync"
)

type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: map[string][]byte{}} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return v, nil
}

func (m *memKV) Set(_ context.Context, key string, value []byte) error {
	m.data[key] = value
	return nil
}

func (m *memKV) Remove(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

// fakeGateway flips between online and offline. When offline, every call
// fails with a connectivity error.
type fakeGateway struct {
	online bool

	expenses  []core.Expense
	nextID    int
	deleted   []string
	breakdown analytics.BreakdownResult
	insightsR analytics.InsightsResult

	createErr error
	updateErr map[string]error
}

func (g *fakeGateway) connErr() error {
	return &gateway.ConnectivityError{Err: errors.New("connection refused")}
}

func (g *fakeGateway) Create(_ context.Context, e core.Expense) (core.Expense, error) {
	if !g.online {
		return core.Expense{}, g.connErr()
	}
	if g.createErr != nil {
		return core.Expense{}, g.createErr
	}
	g.nextID++
	e.ID = "srv" + string(rune('0'+g.nextID))
	e.Synced = true
	g.expenses = append([]core.Expense{e}, g.expenses...)
	return e, nil
}

func (g *fakeGateway) List(_ context.Context, _ gateway.ListParams) ([]core.Expense, error) {
	if !g.online {
		return nil, g.connErr()
	}
	return append([]core.Expense(nil), g.expenses...), nil
}

func (g *fakeGateway) Update(_ context.Context, id string, patch core.ExpensePatch) (core.Expense, error) {
	if !g.online {
		return core.Expense{}, g.connErr()
	}
	if err := g.updateErr[id]; err != nil {
		return core.Expense{}, err
	}
	for i := range g.expenses {
		if g.expenses[i].ID == id {
			g.expenses[i] = g.expenses[i].Apply(patch)
			g.expenses[i].Synced = true
			return g.expenses[i], nil
		}
	}
	return core.Expense{}, &gateway.APIError{Status: 404, Message: "Expense not found"}
}

func (g *fakeGateway) Delete(_ context.Context, id string) error {
	if !g.online {
		return g.connErr()
	}
	g.deleted = append(g.deleted, id)
	for i := range g.expenses {
		if g.expenses[i].ID == id {
			g.expenses = append(g.expenses[:i], g.expenses[i+1:]...)
			break
		}
	}
	return nil
}

func (g *fakeGateway) BulkSync(_ context.Context, expenses []core.Expense) (gateway.SyncResult, error) {
	if !g.online {
		return gateway.SyncResult{}, g.connErr()
	}
	var res gateway.SyncResult
	for _, e := range expenses {
		g.nextID++
		promoted := e
		promoted.ClientID = e.ID
		promoted.ID = "srv" + string(rune('0'+g.nextID))
		promoted.Synced = true
		g.expenses = append(g.expenses, promoted)
		res.Synced = append(res.Synced, promoted)
	}
	return res, nil
}

func (g *fakeGateway) CategoryBreakdown(_ context.Context, _, _ *time.Time) (analytics.BreakdownResult, error) {
	if !g.online {
		return analytics.BreakdownResult{}, g.connErr()
	}
	return g.breakdown, nil
}

func (g *fakeGateway) Insights(_ context.Context) (analytics.InsightsResult, error) {
	if !g.online {
		return analytics.InsightsResult{}, g.connErr()
	}
	return g.insightsR, nil
}

func testExpense(amount float64) core.Expense {
	return core.Expense{
		Amount:        amount,
		Category:      core.Food,
		PaymentMethod: core.Cash,
		Description:   "lunch",
		Date:          time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC),
	}
}

func newTestContainer(t *testing.T, gw *fakeGateway) (*Container, *offline.MutationStore) {
	t.Helper()
	logger := applog.New(applog.Config{Level: slog.LevelError})
	store := offline.NewMutationStore(newMemKV(), "tester", logger.WithComponent(applog.ComponentOffline))
	rec := appsync.NewReconciler(gw, store, logger.WithComponent(applog.ComponentSync))
	c := NewContainer(gw, store, rec, Config{MonthlyBudget: 1000}, logger.WithComponent(applog.ComponentState))
	return c, store
}

func TestCreateExpenseOnline(t *testing.T) {
	gw := &fakeGateway{online: true}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	created, err := c.CreateExpense(ctx, testExpense(25))
	require.NoError(t, err)
	assert.False(t, created.IsLocal())
	assert.True(t, created.Synced)
	assert.Empty(t, store.ListLocalExpenses(ctx))
	assert.Len(t, c.Expenses(), 1)
}

func TestCreateExpenseOfflineStoresLocally(t *testing.T) {
	gw := &fakeGateway{online: false}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	created, err := c.CreateExpense(ctx, testExpense(25))
	require.NoError(t, err)
	assert.True(t, created.IsLocal())
	assert.False(t, created.Synced)
	assert.Equal(t, created.ID, created.ClientID)

	require.Len(t, store.ListLocalExpenses(ctx), 1)
	assert.Empty(t, store.ListQueue(ctx), "creates are stored, not queued")
	assert.Len(t, c.Expenses(), 1)
}

func TestCreateExpenseApplicationFailureSurfaced(t *testing.T) {
	gw := &fakeGateway{online: true, createErr: &gateway.APIError{Status: 400, Message: "Invalid category"}}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	_, err := c.CreateExpense(ctx, testExpense(25))
	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Empty(t, store.ListLocalExpenses(ctx), "application failures must not fall back to offline")
	assert.Empty(t, c.Expenses())
}

func TestCreateExpenseValidation(t *testing.T) {
	gw := &fakeGateway{online: true}
	c, _ := newTestContainer(t, gw)

	e := testExpense(-5)
	_, err := c.CreateExpense(context.Background(), e)
	assert.ErrorIs(t, err, core.ErrNegativeAmount)
}

func TestGetExpensesMergesLocal(t *testing.T) {
	gw := &fakeGateway{online: true, expenses: []core.Expense{
		{ID: "srv1", Amount: 10, Category: core.Food, PaymentMethod: core.Cash, Synced: true},
	}}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	_, err := store.AppendLocalExpense(ctx, testExpense(20))
	require.NoError(t, err)

	got, err := c.GetExpenses(ctx, gateway.ListParams{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "srv1", got[0].ID)
	assert.True(t, got[1].IsLocal())
}

func TestGetExpensesOfflineKeepsKnownRecords(t *testing.T) {
	gw := &fakeGateway{online: true, expenses: []core.Expense{
		{ID: "srv1", Amount: 10, Category: core.Food, PaymentMethod: core.Cash, Synced: true},
	}}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	_, err := c.GetExpenses(ctx, gateway.ListParams{})
	require.NoError(t, err)

	gw.online = false
	_, err = store.AppendLocalExpense(ctx, testExpense(20))
	require.NoError(t, err)

	got, err := c.GetExpenses(ctx, gateway.ListParams{})
	require.NoError(t, err)
	require.Len(t, got, 2, "offline list keeps last known server records plus locals")
	assert.Equal(t, "srv1", got[0].ID)
	assert.True(t, got[1].IsLocal())
}

func TestUpdateExpenseOfflineQueuesAndApplies(t *testing.T) {
	gw := &fakeGateway{online: true, expenses: []core.Expense{
		{ID: "srv1", Amount: 10, Category: core.Food, PaymentMethod: core.Cash, Synced: true},
	}}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	_, err := c.GetExpenses(ctx, gateway.ListParams{})
	require.NoError(t, err)

	gw.online = false
	amount := 42.0
	updated, err := c.UpdateExpense(ctx, "srv1", core.ExpensePatch{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, 42.0, updated.Amount)
	assert.False(t, updated.Synced, "optimistic patch marks the record unconfirmed")

	queue := store.ListQueue(ctx)
	require.Len(t, queue, 1)
	assert.Equal(t, offline.ActionUpdate, queue[0].Action)
	assert.Equal(t, "srv1", queue[0].ID)
}

func TestUpdateTemporaryTargetNeverHitsNetwork(t *testing.T) {
	gw := &fakeGateway{online: false}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	created, err := c.CreateExpense(ctx, testExpense(25))
	require.NoError(t, err)

	// Back online, but the target is still temporary. The update must be
	// queued, not sent.
	gw.online = true
	amount := 30.0
	updated, err := c.UpdateExpense(ctx, created.ID, core.ExpensePatch{Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, 30.0, updated.Amount)

	queue := store.ListQueue(ctx)
	require.Len(t, queue, 1)
	assert.True(t, queue[0].TargetsTemporary())
	assert.Empty(t, gw.deleted)
}

func TestDeleteExpenseOfflineQueued(t *testing.T) {
	gw := &fakeGateway{online: true, expenses: []core.Expense{
		{ID: "srv1", Amount: 10, Category: core.Food, PaymentMethod: core.Cash, Synced: true},
	}}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	_, err := c.GetExpenses(ctx, gateway.ListParams{})
	require.NoError(t, err)

	gw.online = false
	require.NoError(t, c.DeleteExpense(ctx, "srv1"))
	assert.Empty(t, c.Expenses(), "delete is applied optimistically")

	queue := store.ListQueue(ctx)
	require.Len(t, queue, 1)
	assert.Equal(t, offline.ActionDelete, queue[0].Action)
}

func TestOfflineCreateThenReconnect(t *testing.T) {
	gw := &fakeGateway{online: false}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	created, err := c.CreateExpense(ctx, testExpense(25))
	require.NoError(t, err)
	tempID := created.ID

	gw.online = true
	res, err := c.SyncOfflineExpenses(ctx)
	require.NoError(t, err)
	require.Len(t, res.Promoted, 1)
	assert.Equal(t, tempID, res.Promoted[0].ClientID)

	// The collection now holds the server identity in place of the temp one.
	got := c.Expenses()
	require.Len(t, got, 1)
	assert.False(t, got[0].IsLocal())
	assert.True(t, got[0].Synced)

	assert.Empty(t, store.ListLocalExpenses(ctx))
	assert.Empty(t, store.ListQueue(ctx))

	// A second pass finds nothing to do.
	res, err = c.SyncOfflineExpenses(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Promoted)
	require.Len(t, c.Expenses(), 1)
}

func TestOfflineDeleteOfServerExpenseReplayed(t *testing.T) {
	gw := &fakeGateway{online: true, expenses: []core.Expense{
		{ID: "srv1", Amount: 10, Category: core.Food, PaymentMethod: core.Cash, Synced: true},
	}}
	c, store := newTestContainer(t, gw)
	ctx := context.Background()

	_, err := c.GetExpenses(ctx, gateway.ListParams{})
	require.NoError(t, err)

	gw.online = false
	require.NoError(t, c.DeleteExpense(ctx, "srv1"))

	gw.online = true
	res, err := c.SyncOfflineExpenses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Replayed)
	assert.Equal(t, []string{"srv1"}, gw.deleted)
	assert.Empty(t, store.ListQueue(ctx))
	assert.Empty(t, c.Expenses())
}

func TestBreakdownOfflineMatchesProjection(t *testing.T) {
	gw := &fakeGateway{online: false}
	c, _ := newTestContainer(t, gw)
	ctx := context.Background()

	_, err := c.CreateExpense(ctx, testExpense(200))
	require.NoError(t, err)
	e := testExpense(100)
	e.Category = core.Travel
	_, err = c.CreateExpense(ctx, e)
	require.NoError(t, err)

	got, err := c.GetCategoryBreakdown(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, analytics.CategoryBreakdown(c.Expenses(), nil, nil), got)
	assert.Equal(t, 300.0, got.TotalSpent)
}

func TestBreakdownOnlineUsesGateway(t *testing.T) {
	gw := &fakeGateway{online: true, breakdown: analytics.BreakdownResult{TotalSpent: 999}}
	c, _ := newTestContainer(t, gw)

	got, err := c.GetCategoryBreakdown(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 999.0, got.TotalSpent)
}

func TestInsightsOfflineCachedUntilMutation(t *testing.T) {
	now := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	gw := &fakeGateway{online: false}

	logger := applog.New(applog.Config{Level: slog.LevelError})
	store := offline.NewMutationStore(newMemKV(), "tester", logger.WithComponent(applog.ComponentOffline))
	rec := appsync.NewReconciler(gw, store, logger.WithComponent(applog.ComponentSync))
	c := NewContainer(gw, store, rec, Config{MonthlyBudget: 1000, Now: func() time.Time { return now }}, logger)
	ctx := context.Background()

	_, err := c.CreateExpense(ctx, testExpense(950))
	require.NoError(t, err)

	first, err := c.GetInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 950.0, first.CurrentMonthTotal)

	// A new expense bumps the revision so the next read recomputes.
	_, err = c.CreateExpense(ctx, testExpense(30))
	require.NoError(t, err)

	second, err := c.GetInsights(ctx)
	require.NoError(t, err)
	assert.Equal(t, 980.0, second.CurrentMonthTotal)
}

func TestRevisionIncrementsOnMutation(t *testing.T) {
	gw := &fakeGateway{online: true}
	c, _ := newTestContainer(t, gw)
	ctx := context.Background()

	before := c.Revision()
	_, err := c.CreateExpense(ctx, testExpense(10))
	require.NoError(t, err)
	assert.Greater(t, c.Revision(), before)
}
