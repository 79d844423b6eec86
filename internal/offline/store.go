// Package offline persists the two pieces of device-local sync state: the
// set of expenses created while disconnected, and the FIFO queue of pending
// update/delete operations awaiting replay.
package offline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"spendlog/internal/core"
	applog "spendlog/internal/log"
	"spendlog/internal/storage"
)

const (
	expensesKeyPrefix = "offline_expenses:"
	queueKeyPrefix    = "offline_queue:"
)

// KV is the persistence contract the mutation store needs: string-keyed
// get/set/remove of blobs, no atomicity across keys.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// MutationStore is the durable side of offline mode, scoped to one user.
type MutationStore struct {
	kv   KV
	user string
	log  *applog.Logger
}

func NewMutationStore(kv KV, user string, logger *applog.Logger) *MutationStore {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentOffline)
	}
	return &MutationStore{kv: kv, user: user, log: logger}
}

func (s *MutationStore) expensesKey() string { return expensesKeyPrefix + s.user }
func (s *MutationStore) queueKey() string    { return queueKeyPrefix + s.user }

// NewTempID generates a fresh temporary identifier. UUIDs make collisions a
// non-issue at this record volume.
func NewTempID() string {
	return core.TempIDPrefix + uuid.NewString()
}

// AppendLocalExpense assigns a temporary identity to e, marks it unsynced,
// persists it and returns the full local set including the new record.
func (s *MutationStore) AppendLocalExpense(ctx context.Context, e core.Expense) ([]core.Expense, error) {
	tempID := NewTempID()
	e.ID = tempID
	e.ClientID = tempID
	e.Synced = false

	expenses := s.ListLocalExpenses(ctx)
	expenses = append(expenses, e)

	data, err := json.Marshal(expenses)
	if err != nil {
		return nil, fmt.Errorf("marshal local expenses: %w", err)
	}
	if err := s.kv.Set(ctx, s.expensesKey(), data); err != nil {
		return nil, fmt.Errorf("persist local expenses: %w", err)
	}

	s.log.InfoContext(ctx, "Stored expense locally",
		applog.FieldTempID, tempID,
		applog.FieldLocalCount, len(expenses))

	return expenses, nil
}

// ListLocalExpenses returns all unconfirmed local expenses. A read failure
// degrades to an empty set: a corrupt cache must never block the UI.
func (s *MutationStore) ListLocalExpenses(ctx context.Context) []core.Expense {
	data, err := s.kv.Get(ctx, s.expensesKey())
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			s.log.WarnContext(ctx, "Failed to read local expenses, treating as empty",
				applog.FieldError, err)
		}
		return nil
	}

	var expenses []core.Expense
	if err := json.Unmarshal(data, &expenses); err != nil {
		s.log.WarnContext(ctx, "Corrupt local expense blob, treating as empty",
			applog.FieldError, err)
		return nil
	}
	return expenses
}

// ClearLocalExpenses drops the local expense set. Called only after a
// successful bulk-sync response covered every stored record.
func (s *MutationStore) ClearLocalExpenses(ctx context.Context) error {
	if err := s.kv.Remove(ctx, s.expensesKey()); err != nil {
		return fmt.Errorf("clear local expenses: %w", err)
	}
	return nil
}

// EnqueueOperation appends op to the pending queue and persists it.
func (s *MutationStore) EnqueueOperation(ctx context.Context, op PendingOperation) error {
	queue := s.ListQueue(ctx)
	queue = append(queue, op)
	if err := s.ReplaceQueue(ctx, queue); err != nil {
		return err
	}

	s.log.InfoContext(ctx, "Queued offline operation",
		applog.FieldOperation, string(op.Action),
		applog.FieldExpenseID, op.ID,
		applog.FieldQueueLen, len(queue))

	return nil
}

// ListQueue returns the pending operations in insertion order. Read failures
// degrade to an empty queue.
func (s *MutationStore) ListQueue(ctx context.Context) []PendingOperation {
	data, err := s.kv.Get(ctx, s.queueKey())
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			s.log.WarnContext(ctx, "Failed to read offline queue, treating as empty",
				applog.FieldError, err)
		}
		return nil
	}

	var queue []PendingOperation
	if err := json.Unmarshal(data, &queue); err != nil {
		s.log.WarnContext(ctx, "Corrupt offline queue blob, treating as empty",
			applog.FieldError, err)
		return nil
	}
	return queue
}

// ReplaceQueue persists newQueue as the whole pending queue.
func (s *MutationStore) ReplaceQueue(ctx context.Context, newQueue []PendingOperation) error {
	if len(newQueue) == 0 {
		if err := s.kv.Remove(ctx, s.queueKey()); err != nil {
			return fmt.Errorf("clear offline queue: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(newQueue)
	if err != nil {
		return fmt.Errorf("marshal offline queue: %w", err)
	}
	if err := s.kv.Set(ctx, s.queueKey(), data); err != nil {
		return fmt.Errorf("persist offline queue: %w", err)
	}
	return nil
}
