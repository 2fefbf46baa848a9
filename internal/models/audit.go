package models

import (
	"time"

	"github.com/google/uuid"
)

type AuditLog struct {
	ID            uuid.UUID      `json:"id"`
	ActorIdentity *string        `json:"actor_identity,omitempty"`
	ActorType     string         `json:"actor_type"` // client/provider/operator/system
	Action        string         `json:"action"`
	EntityType    string         `json:"entity_type"`
	EntityID      *uuid.UUID     `json:"entity_id,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
