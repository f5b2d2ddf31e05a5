// Package store provides SQLite-backed persistence for constructs,
// agent session records, and provisioning timing steps.
package store

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a construct.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusError        Status = "error"
	StatusArchived     Status = "archived"
)

// MetaLastError is the metadata key holding the most recent
// provisioning failure message.
const MetaLastError = "last_error"

// Construct represents one ephemeral development workspace.
type Construct struct {
	ID            string
	TemplateID    string
	Name          string
	Status        Status
	WorkspacePath string
	ConstructPath string
	Metadata      map[string]string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outcome of a single provisioning step.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// TimingStep is one row in the append-only audit trail of a
// provisioning run.
type TimingStep struct {
	RunID       string
	ConstructID string
	Step        string
	Outcome     string
	Duration    time.Duration
	CreatedAt   time.Time
}

// SessionRecord persists the identity of a remote agent session opened
// for a construct.
type SessionRecord struct {
	ID          string
	ConstructID string
	ProviderID  string
	Status      string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// validTransitions defines the allowed status edges. Error is reachable
// from provisioning at any step; retry re-enters provisioning from error.
var validTransitions = map[Status][]Status{
	StatusDraft:        {StatusProvisioning, StatusArchived},
	StatusProvisioning: {StatusActive, StatusError},
	StatusActive:       {StatusArchived, StatusProvisioning},
	StatusError:        {StatusProvisioning, StatusArchived},
}

// CanTransition reports whether a construct may move from one status to
// another. Same-status writes are always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidTransition is returned when a status update would violate
// the construct lifecycle.
type ErrInvalidTransition struct {
	From Status
	To   Status
}

// Error implements the error interface.
func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid construct status transition %s -> %s", e.From, e.To)
}
