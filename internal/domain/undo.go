package domain

import (
	"time"

	"github.com/google/uuid"
)

// UndoActionType names a reversible mutation.
type UndoActionType string

const (
	UndoInsertOrganization UndoActionType = "insert_organization"
	UndoInsertProduct      UndoActionType = "insert_product"
)

// Reversible reports whether the action type can be undone.
func (t UndoActionType) Reversible() bool {
	return t == UndoInsertOrganization || t == UndoInsertProduct
}

// UndoPayload identifies the row created by the mutation.
type UndoPayload struct {
	EntityID  uuid.UUID `json:"entity_id"`
	EntityKey string    `json:"entity_key"`
}

// UndoEntry is one reversible action in a session's undo log. Entries are
// flagged on reversal, never deleted by it.
type UndoEntry struct {
	ID         uuid.UUID      `json:"id"`
	SessionID  string         `json:"session_id"`
	BatchID    *uuid.UUID     `json:"batch_id,omitempty"`
	ActionType UndoActionType `json:"action_type"`
	Payload    UndoPayload    `json:"payload"`
	CreatedAt  time.Time      `json:"created_at"`
	IsUndone   bool           `json:"is_undone"`
	UndoneAt   *time.Time     `json:"undone_at,omitempty"`
	UndoneBy   string         `json:"undone_by,omitempty"`
}
