package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldExpenseID   = "expense_id"
	FieldClientID    = "client_id"
	FieldTempID      = "temp_id"
	FieldServerID    = "server_id"
	FieldCategory    = "category"
	FieldAmount      = "amount"
	FieldQueueLen    = "queue_len"
	FieldLocalCount  = "local_count"
	FieldSyncedCount = "synced_count"
	FieldRevision    = "revision"
	FieldUser        = "user"
	FieldTrigger     = "trigger"
)

// Components defines standard component names
const (
	ComponentApp          = "app"
	ComponentState        = "state"
	ComponentSync         = "sync"
	ComponentOffline      = "offline"
	ComponentStorage      = "storage"
	ComponentGateway      = "gateway"
	ComponentAnalytics    = "analytics"
	ComponentConnectivity = "connectivity"
	ComponentDevServer    = "devserver"
)

// Operations defines standard operation names
const (
	OpCreate = "create"
	OpList   = "list"
	OpUpdate = "update"
	OpDelete = "delete"
	OpDrain  = "drain"
	OpRemap  = "remap"
	OpReplay = "replay"
	OpSync   = "sync"
)
