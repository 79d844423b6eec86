// Package sync reconciles device-local mutations with the backend. One pass
// drains locally created expenses in a single batch, remaps temporary
// identifiers the server resolved, then replays the queued update/delete
// operations in insertion order.
package sync

import (
	"context"
	stdsync "sync"

	"spendlog/internal/core"
	"spendlog/internal/gateway"
	applog "spendlog/internal/log"
	"spendlog/internal/offline"
)

// Pass states, in order. They only ever advance; a pass never loops back.
const (
	StateIdle      = "idle"
	StateDraining  = "draining"
	StateRemapping = "remapping"
	StateReplaying = "replaying_queue"
)

// Gateway is the slice of the remote client a pass needs.
type Gateway interface {
	BulkSync(ctx context.Context, locals []core.Expense) (gateway.SyncResult, error)
	Update(ctx context.Context, id string, patch core.ExpensePatch) (core.Expense, error)
	Delete(ctx context.Context, id string) error
}

// Store is the slice of the mutation store a pass needs.
type Store interface {
	ListLocalExpenses(ctx context.Context) []core.Expense
	ClearLocalExpenses(ctx context.Context) error
	ListQueue(ctx context.Context) []offline.PendingOperation
	ReplaceQueue(ctx context.Context, newQueue []offline.PendingOperation) error
}

// Result reports one Sync call.
type Result struct {
	// Promoted holds the server-confirmed records from the drain, each still
	// carrying the clientId it was correlated by. The caller merges these
	// into its collection.
	Promoted []core.Expense

	// IDMap is the temporary -> server identifier mapping built this call.
	IDMap map[string]string

	// Drained is true when a bulk sync reached the server and succeeded.
	Drained bool

	// Replayed and Kept count queue operations applied vs. still pending.
	Replayed int
	Kept     int

	// Coalesced is true when another pass was already in flight and this
	// trigger was folded into it.
	Coalesced bool

	// DrainErr records a server-side rejection of the bulk sync. The pass
	// still replays the queue; the caller decides how to surface it.
	DrainErr error
}

// Reconciler runs sync passes. Triggers arriving while a pass is active
// coalesce into at most one follow-up pass, so concurrent passes never
// interleave and the identifier remapping step stays well-defined.
type Reconciler struct {
	gw    Gateway
	store Store
	log   *applog.Logger

	mu      stdsync.Mutex
	running bool
	rerun   bool
	state   string
}

func NewReconciler(gw Gateway, store Store, logger *applog.Logger) *Reconciler {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentSync)
	}
	return &Reconciler{gw: gw, store: store, log: logger, state: StateIdle}
}

// IsRunning reports whether a pass is currently active.
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// State returns the current pass state.
func (r *Reconciler) State() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reconciler) setState(s string) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Sync runs one pass, plus one follow-up pass if triggers arrived while it
// was running. When a pass is already in flight the call returns immediately
// with Coalesced set.
func (r *Reconciler) Sync(ctx context.Context) (Result, error) {
	r.mu.Lock()
	if r.running {
		r.rerun = true
		r.mu.Unlock()
		r.log.DebugContext(ctx, "Sync trigger coalesced into active pass")
		return Result{Coalesced: true}, nil
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.state = StateIdle
		r.mu.Unlock()
	}()

	combined := Result{IDMap: make(map[string]string)}
	for {
		res, err := r.pass(ctx)
		combined.Promoted = append(combined.Promoted, res.Promoted...)
		for k, v := range res.IDMap {
			combined.IDMap[k] = v
		}
		combined.Drained = combined.Drained || res.Drained
		combined.Replayed += res.Replayed
		combined.Kept = res.Kept
		combined.DrainErr = res.DrainErr
		if err != nil {
			return combined, err
		}

		r.mu.Lock()
		again := r.rerun
		r.rerun = false
		r.mu.Unlock()
		if !again {
			return combined, nil
		}
		r.log.InfoContext(ctx, "Running coalesced follow-up pass")
	}
}

func (r *Reconciler) pass(ctx context.Context) (Result, error) {
	res := Result{IDMap: make(map[string]string)}

	// Draining: every unsynced local expense goes out in one batch, tagged
	// with its temporary identifier as the correlation token.
	r.setState(StateDraining)
	locals := r.store.ListLocalExpenses(ctx)
	if len(locals) > 0 {
		syncRes, err := r.gw.BulkSync(ctx, locals)
		switch {
		case err == nil:
			for _, item := range syncRes.Synced {
				if item.ClientID != "" {
					res.IDMap[item.ClientID] = item.ID
				}
				item.Synced = true
				res.Promoted = append(res.Promoted, item)
			}
			for _, itemErr := range syncRes.Errors {
				// Terminal for that item: it was part of the one batch and
				// the batch storage is about to be cleared.
				r.log.WarnContext(ctx, "Server rejected expense during drain",
					applog.FieldClientID, itemErr.Expense.ClientID,
					applog.FieldError, itemErr.Error)
			}
			if err := r.store.ClearLocalExpenses(ctx); err != nil {
				r.log.ErrorContext(ctx, "Failed to clear drained local expenses",
					applog.FieldError, err)
			}
			res.Drained = true
			r.log.InfoContext(ctx, "Drained local expenses",
				applog.FieldLocalCount, len(locals),
				applog.FieldSyncedCount, len(syncRes.Synced))
		case gateway.IsConnectivity(err):
			r.log.InfoContext(ctx, "Still offline, keeping local expenses",
				applog.FieldLocalCount, len(locals))
		default:
			// Server answered and rejected the whole batch. Locals stay put;
			// the queue replay below may still make progress.
			res.DrainErr = err
			r.log.WarnContext(ctx, "Bulk sync rejected by server", applog.FieldError, err)
		}
	}

	// Remapping: rewrite queued targets the drain resolved, and strip create
	// operations, whose effect the drain already subsumed either way.
	r.setState(StateRemapping)
	queue := r.store.ListQueue(ctx)
	remapped := make([]offline.PendingOperation, 0, len(queue))
	for _, op := range queue {
		if op.Action == offline.ActionCreate {
			continue
		}
		if op.TargetsTemporary() {
			if serverID, ok := res.IDMap[op.ID]; ok {
				r.log.DebugContext(ctx, "Remapped queued operation",
					applog.FieldTempID, op.ID,
					applog.FieldServerID, serverID)
				op.ID = serverID
			}
		}
		remapped = append(remapped, op)
	}
	if len(queue) > 0 {
		if err := r.store.ReplaceQueue(ctx, remapped); err != nil {
			return res, err
		}
	}

	// Replaying: original order, one call per operation. A target that is
	// still temporary has no server identity yet and must wait for a later
	// pass; it is never sent over the wire.
	r.setState(StateReplaying)
	survivors := make([]offline.PendingOperation, 0, len(remapped))
	for _, op := range remapped {
		if op.TargetsTemporary() {
			survivors = append(survivors, op)
			continue
		}

		switch op.Action {
		case offline.ActionUpdate:
			var patch core.ExpensePatch
			if op.Patch != nil {
				patch = *op.Patch
			}
			if _, err := r.gw.Update(ctx, op.ID, patch); err != nil {
				r.logReplayFailure(ctx, op, err)
				survivors = append(survivors, op)
				continue
			}
			res.Replayed++
		case offline.ActionDelete:
			if err := r.gw.Delete(ctx, op.ID); err != nil && !gateway.IsNotFound(err) {
				r.logReplayFailure(ctx, op, err)
				survivors = append(survivors, op)
				continue
			}
			res.Replayed++
		default:
			r.log.WarnContext(ctx, "Dropping queued operation with unknown action",
				applog.FieldOperation, string(op.Action))
		}
	}
	res.Kept = len(survivors)
	if len(remapped) > 0 || len(queue) > 0 {
		if err := r.store.ReplaceQueue(ctx, survivors); err != nil {
			return res, err
		}
	}

	r.log.InfoContext(ctx, "Sync pass complete",
		applog.FieldSyncedCount, len(res.Promoted),
		"replayed", res.Replayed,
		applog.FieldQueueLen, res.Kept)

	return res, nil
}

func (r *Reconciler) logReplayFailure(ctx context.Context, op offline.PendingOperation, err error) {
	r.log.WarnContext(ctx, "Replay failed, keeping operation queued",
		applog.FieldOperation, string(op.Action),
		applog.FieldExpenseID, op.ID,
		applog.FieldError, err)
}
