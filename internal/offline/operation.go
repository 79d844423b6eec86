package offline

import "spendlog/internal/core"

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type (
	Action string

	// PendingOperation is one queued mutation. Exactly one shape per action:
	// create carries a snapshot, update carries a target and a patch, delete
	// carries a target. Targets may be temporary identifiers; they must be
	// remapped to server identifiers before replay.
	PendingOperation struct {
		Action  Action             `json:"action"`
		ID      string             `json:"id,omitempty"`
		Patch   *core.ExpensePatch `json:"data,omitempty"`
		Expense *core.Expense      `json:"expense,omitempty"`
	}
)

func UpdateOp(id string, patch core.ExpensePatch) PendingOperation {
	return PendingOperation{Action: ActionUpdate, ID: id, Patch: &patch}
}

func DeleteOp(id string) PendingOperation {
	return PendingOperation{Action: ActionDelete, ID: id}
}

func CreateOp(e core.Expense) PendingOperation {
	return PendingOperation{Action: ActionCreate, Expense: &e}
}

// TargetsTemporary reports whether the operation still references a local
// placeholder identity.
func (op PendingOperation) TargetsTemporary() bool {
	return core.IsTemporaryID(op.ID)
}
