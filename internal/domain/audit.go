package domain

import (
	"time"

	"github.com/google/uuid"
)

// EntityType names the table an audit entry refers to.
type EntityType string

const (
	EntityOrganization EntityType = "organization"
	EntityProduct      EntityType = "product"
)

// AuditOperation names the kind of change recorded.
type AuditOperation string

const (
	AuditInsert      AuditOperation = "insert"
	AuditUpdate      AuditOperation = "update"
	AuditUndoInsert  AuditOperation = "undo_insert"
	AuditRestore     AuditOperation = "restore"
	AuditMatchUpdate AuditOperation = "match_update"
)

// AuditEntry records one change to one entity.
type AuditEntry struct {
	ID         uuid.UUID         `json:"id"`
	BatchID    *uuid.UUID        `json:"batch_id,omitempty"`
	EntityType EntityType        `json:"entity_type"`
	EntityID   uuid.UUID         `json:"entity_id"`
	EntityKey  string            `json:"entity_key"`
	Operation  AuditOperation    `json:"operation"`
	Actor      string            `json:"actor"`
	Changes    []FieldDifference `json:"changes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}
