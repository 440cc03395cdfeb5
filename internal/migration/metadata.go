// Package migration drives the one-way bulk migration of a project's data
// into the edge store and tracks its progress as a state machine derived
// purely from three timestamps.
package migration

import (
	"errors"
	"time"
)

// Status is the migration state of one project, derived from which of the
// three transition timestamps are set. It is never stored directly.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusScheduled  Status = "SCHEDULED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

var (
	ErrAlreadyTriggered = errors.New("migration: already triggered")
	ErrAlreadyStarted   = errors.New("migration: already started")
	ErrAlreadyFinished  = errors.New("migration: already finished")
	ErrNotTriggered     = errors.New("migration: not triggered")
	ErrNotStarted       = errors.New("migration: not started")
)

// Metadata is one project's migration record. Transitions only ever set a
// timestamp that was unset, so the state machine is monotonic: there is no
// path back from COMPLETED, and a crash between Start and Finish leaves the
// project IN_PROGRESS permanently. That risk is accepted; LastTransition is
// the monitoring hook for detecting stuck migrations.
type Metadata struct {
	ProjectID int64

	TriggeredAt *time.Time
	StartTime   *time.Time
	EndTime     *time.Time
}

// Status derives the current state.
func (m Metadata) Status() Status {
	switch {
	case m.EndTime != nil:
		return StatusCompleted
	case m.StartTime != nil:
		return StatusInProgress
	case m.TriggeredAt != nil:
		return StatusScheduled
	default:
		return StatusNotStarted
	}
}

// CanMigrate reports whether a bulk migration may begin.
func (m Metadata) CanMigrate() bool {
	s := m.Status()
	return s == StatusNotStarted || s == StatusScheduled
}

// LastTransition returns the most recent transition timestamp, or nil when
// the migration was never touched.
func (m Metadata) LastTransition() *time.Time {
	switch {
	case m.EndTime != nil:
		return m.EndTime
	case m.StartTime != nil:
		return m.StartTime
	default:
		return m.TriggeredAt
	}
}

// Trigger marks the project as scheduled for migration.
func (m Metadata) Trigger(now time.Time) (Metadata, error) {
	if m.TriggeredAt != nil {
		return m, ErrAlreadyTriggered
	}
	m.TriggeredAt = &now
	return m, nil
}

// Start marks the bulk migration as running.
func (m Metadata) Start(now time.Time) (Metadata, error) {
	if m.StartTime != nil {
		if m.EndTime != nil {
			return m, ErrAlreadyFinished
		}
		return m, ErrAlreadyStarted
	}
	m.StartTime = &now
	return m, nil
}

// Finish marks the bulk migration as completed.
func (m Metadata) Finish(now time.Time) (Metadata, error) {
	if m.StartTime == nil {
		return m, ErrNotStarted
	}
	if m.EndTime != nil {
		return m, ErrAlreadyFinished
	}
	m.EndTime = &now
	return m, nil
}
