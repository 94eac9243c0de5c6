package database

import "time"

// AuditRecord is one row of the audit trail.
type AuditRecord struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	EventType string `gorm:"index;not null" json:"event_type"`
	Host      string `gorm:"index" json:"host"`
	SessionID string `gorm:"index" json:"session_id,omitempty"`
	// Command is sanitized and truncated before it is stored.
	Command  string `json:"command,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	// Outcome is "ok" or the error kind of a failed operation.
	Outcome    string    `gorm:"index" json:"outcome"`
	Details    string    `json:"details,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}
