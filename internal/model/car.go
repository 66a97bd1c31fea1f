// Package model holds the payload and durable-record types shared across
// the write path, durable store, and recovery manager.
package model

// Car is the payload produced by the generator. Immutable once created.
type Car struct {
	NormalizedMake  string  `json:"normalizedMake"`
	NormalizedModel string  `json:"normalizedModel"`
	Year            int     `json:"year"`
	Price           float64 `json:"price"`
	Location        string  `json:"location"`
}

// Status is the lifecycle state of a PendingRecord.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRecovering Status = "recovering"
	StatusSent       Status = "sent"
)

// PendingRecord is a Car persisted locally while the remote queue is
// unavailable.
type PendingRecord struct {
	ID                string
	Car               Car
	CreatedAt         int64 // ms epoch
	Status            Status
	RetryCount        int
	RecoveryInstance  *string
	RecoveryStartedAt *int64 // ms epoch
	RemoteJobID       *string
}
