package models

import (
	"encoding/json"
	"time"
)

// OutboxJob is an async job persisted together with the mutation that produced it.
type OutboxJob struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Key           string          `json:"key"`
	Payload       json.RawMessage `json:"payload"`
	MaxRetries    int             `json:"maxRetries"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt *time.Time      `json:"nextAttemptAt,omitempty"`
	PublishedAt   *time.Time      `json:"publishedAt,omitempty"`
	LastError     *string         `json:"lastError,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// AuditRecord is the persisted form of an audit event.
type AuditRecord struct {
	ID        int64           `json:"id"`
	Actor     Actor           `json:"actor"`
	Kind      string          `json:"kind"`
	Version   int             `json:"version"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}
