package offline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

// memKV is an in-memory KV with optional fault injection.
type memKV struct {
	data    map[string][]byte
	failGet bool
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	if m.failGet {
		return nil, errors.New("disk error")
	}
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrKeyNotFound
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

func testExpense(desc string) core.Expense {
	return core.Expense{
		Amount:        10,
		Category:      core.Food,
		PaymentMethod: core.Cash,
		Description:   desc,
		Date:          time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAppendLocalExpense(t *testing.T) {
	kv := newMemKV()
	store := NewMutationStore(kv, "alice", nil)
	ctx := context.Background()

	got, err := store.AppendLocalExpense(ctx, testExpense("coffee"))
	require.NoError(t, err)
	require.Len(t, got, 1)

	first := got[0]
	require.True(t, first.IsLocal(), "expense must carry a temp_ identity")
	require.Equal(t, first.ID, first.ClientID, "clientId must equal the temp id")
	require.False(t, first.Synced)

	got, err = store.AppendLocalExpense(ctx, testExpense("lunch"))
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotEqual(t, got[0].ID, got[1].ID, "temp ids must be unique")

	// survives a fresh store instance over the same KV
	reread := NewMutationStore(kv, "alice", nil).ListLocalExpenses(ctx)
	require.Len(t, reread, 2)
	require.Equal(t, "coffee", reread[0].Description)
	require.Equal(t, "lunch", reread[1].Description)
}

func TestListLocalExpenses_DegradesToEmpty(t *testing.T) {
	kv := newMemKV()
	store := NewMutationStore(kv, "alice", nil)
	ctx := context.Background()

	require.Empty(t, store.ListLocalExpenses(ctx), "missing key means no offline data")

	kv.data["offline_expenses:alice"] = []byte("{not json")
	require.Empty(t, store.ListLocalExpenses(ctx), "corrupt blob must degrade to empty")

	kv.failGet = true
	require.Empty(t, store.ListLocalExpenses(ctx), "read failure must degrade to empty")
}

func TestUserScoping(t *testing.T) {
	kv := newMemKV()
	ctx := context.Background()

	alice := NewMutationStore(kv, "alice", nil)
	bob := NewMutationStore(kv, "bob", nil)

	_, err := alice.AppendLocalExpense(ctx, testExpense("alice's"))
	require.NoError(t, err)

	require.Empty(t, bob.ListLocalExpenses(ctx))
	require.Len(t, alice.ListLocalExpenses(ctx), 1)
}

func TestQueueFIFO(t *testing.T) {
	kv := newMemKV()
	store := NewMutationStore(kv, "alice", nil)
	ctx := context.Background()

	amount := 42.0
	require.NoError(t, store.EnqueueOperation(ctx, UpdateOp("srv1", core.ExpensePatch{Amount: &amount})))
	require.NoError(t, store.EnqueueOperation(ctx, DeleteOp("srv2")))
	require.NoError(t, store.EnqueueOperation(ctx, DeleteOp("temp_x")))

	queue := store.ListQueue(ctx)
	require.Len(t, queue, 3)
	require.Equal(t, ActionUpdate, queue[0].Action)
	require.Equal(t, "srv1", queue[0].ID)
	require.Equal(t, "srv2", queue[1].ID)
	require.True(t, queue[2].TargetsTemporary())
	require.False(t, queue[1].TargetsTemporary())
}

func TestReplaceQueue(t *testing.T) {
	kv := newMemKV()
	store := NewMutationStore(kv, "alice", nil)
	ctx := context.Background()

	require.NoError(t, store.EnqueueOperation(ctx, DeleteOp("a")))
	require.NoError(t, store.EnqueueOperation(ctx, DeleteOp("b")))

	require.NoError(t, store.ReplaceQueue(ctx, []PendingOperation{DeleteOp("b")}))
	queue := store.ListQueue(ctx)
	require.Len(t, queue, 1)
	require.Equal(t, "b", queue[0].ID)

	// empty replacement removes the key entirely
	require.NoError(t, store.ReplaceQueue(ctx, nil))
	require.Empty(t, store.ListQueue(ctx))
	_, ok := kv.data["offline_queue:alice"]
	require.False(t, ok)
}

func TestClearLocalExpenses(t *testing.T) {
	kv := newMemKV()
	store := NewMutationStore(kv, "alice", nil)
	ctx := context.Background()

	_, err := store.AppendLocalExpense(ctx, testExpense("x"))
	require.NoError(t, err)

	require.NoError(t, store.ClearLocalExpenses(ctx))
	require.Empty(t, store.ListLocalExpenses(ctx))
}

func TestOperationRoundTrip(t *testing.T) {
	kv := newMemKV()
	store := NewMutationStore(kv, "alice", nil)
	ctx := context.Background()

	amount := 9.5
	desc := "edited"
	op := UpdateOp("temp_123", core.ExpensePatch{Amount: &amount, Description: &desc})
	require.NoError(t, store.EnqueueOperation(ctx, op))

	got := store.ListQueue(ctx)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].Patch)
	require.Equal(t, 9.5, *got[0].Patch.Amount)
	require.Equal(t, "edited", *got[0].Patch.Description)
	require.Nil(t, got[0].Patch.Category)
}
