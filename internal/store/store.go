package store

import (
	"context"
	"time"
)

// Outcome is the terminal result of a supervised launch.
type Outcome string

const (
	OutcomeReady   Outcome = "ready"     // gate reached Ready
	OutcomeFailed  Outcome = "failed"    // spawn error or gate exhausted
	OutcomeStopped Outcome = "stopped"   // intentional stop before a terminal gate state
	OutcomeUnknown Outcome = "launching" // launch still in flight
)

// Launch is one supervised backend launch as persisted locally.
type Launch struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	PID       int       `json:"pid"`
	SpawnedAt time.Time `json:"spawned_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Outcome   Outcome   `json:"outcome"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

// Store persists launch history so failed startups can be diagnosed after the
// fact. Implementations must be safe for concurrent use.
type Store interface {
	EnsureSchema(ctx context.Context) error
	// BeginLaunch records a spawn and returns the launch row id.
	BeginLaunch(ctx context.Context, l Launch) (int64, error)
	// MarkReady records that the gate reported Ready while the backend keeps running.
	MarkReady(ctx context.Context, id int64, attempts int, readyAt time.Time) error
	// FinishLaunch records the terminal outcome for a launch.
	FinishLaunch(ctx context.Context, id int64, outcome Outcome, attempts int, lastError string, endedAt time.Time) error
	// Recent returns the most recent launches, newest first.
	Recent(ctx context.Context, limit int) ([]Launch, error)
	Close() error
}
