package schema

// HistoryAction tags a history snapshot with the kind of mutation it
// protects.
type HistoryAction string

const (
	ActionAdd    HistoryAction = "ADD"
	ActionDelete HistoryAction = "DELETE"
	ActionUpdate HistoryAction = "UPDATE"
)

// ControllerState represents the lifecycle state of the synchronization
// controller. Transitions between states are gated; see internal/controller.
type ControllerState string

const (
	StateIdle      ControllerState = "idle"
	StateImporting ControllerState = "importing"
	StateEditing   ControllerState = "editing"
	StateSaving    ControllerState = "saving"
)

// Change type constants for the mutation change log.
const (
	ChangeNodeAdded        = "node_added"
	ChangeNodeUpdated      = "node_updated"
	ChangeNodeRenamed      = "node_renamed"
	ChangeNodesDeleted     = "nodes_deleted"
	ChangeEdgeConnected    = "edge_connected"
	ChangeEdgeDisconnected = "edge_disconnected"
	ChangeDocumentImported = "document_imported"
	ChangeDocumentSaved    = "document_saved"
	ChangeUndoApplied      = "undo_applied"
	ChangeRedoApplied      = "redo_applied"
)
