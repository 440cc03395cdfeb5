// Package opsapi implements the operator REST API: migration status and
// triggering, and incremental override-changeset sync. It handles HTTP
// routing, request decoding, validation, and response formatting. This is an
// internal operator surface, not the SDK-facing flag API.
package opsapi

import (
	"fmt"
	"time"

	"github.com/flagmesh/flagmesh/internal/edgestore"
	"github.com/flagmesh/flagmesh/internal/edgesync"
	"github.com/flagmesh/flagmesh/internal/migration"
)

// MigrationResponse is the migration state of one project.
type MigrationResponse struct {
	ProjectID int64  `json:"project_id"`
	Status    string `json:"status"`

	TriggeredAt *time.Time `json:"triggered_at,omitempty"`
	StartTime   *time.Time `json:"migration_start_time,omitempty"`
	EndTime     *time.Time `json:"migration_end_time,omitempty"`

	// LastTransition is the monitoring hook for stuck migrations: a project
	// IN_PROGRESS with an old LastTransition needs operator attention.
	LastTransition *time.Time `json:"last_transition,omitempty"`
}

func mapMetadataToResponse(meta migration.Metadata) MigrationResponse {
	return MigrationResponse{
		ProjectID:      meta.ProjectID,
		Status:         string(meta.Status()),
		TriggeredAt:    meta.TriggeredAt,
		StartTime:      meta.StartTime,
		EndTime:        meta.EndTime,
		LastTransition: meta.LastTransition(),
	}
}

// ChangesetRequest is the payload for the override-changeset endpoint.
// Puts carry full override documents; Deletes carry item keys.
type ChangesetRequest struct {
	Puts    []map[string]any `json:"puts,omitempty"`
	Deletes []map[string]any `json:"deletes,omitempty"`
}

// Validate checks if the request data adheres to business rules.
// It returns a structured *ErrorResponse if validation fails, or nil if valid.
func (r *ChangesetRequest) Validate() *ErrorResponse {
	if len(r.Puts) == 0 && len(r.Deletes) == 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Changeset must contain at least one put or delete",
		}
	}

	var details []ErrorDetail
	for i, item := range r.Puts {
		if _, ok := item["document_key"].(string); !ok {
			details = append(details, ErrorDetail{
				Field: "puts",
				Issue: fmt.Sprintf("document at index %d is missing document_key", i),
			})
		}
	}
	for i, item := range r.Deletes {
		if _, ok := item["document_key"].(string); !ok {
			details = append(details, ErrorDetail{
				Field: "deletes",
				Issue: fmt.Sprintf("key at index %d is missing document_key", i),
			})
		}
	}
	if len(details) > 0 {
		return &ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Every changeset entry must carry a document_key",
			Details: details,
		}
	}
	return nil
}

// Changeset converts the request payload into the sync engine's form.
func (r *ChangesetRequest) Changeset() edgesync.Changeset {
	return edgesync.Changeset{
		Puts:    toItems(r.Puts),
		Deletes: toItems(r.Deletes),
	}
}

func toItems(raw []map[string]any) []edgestore.Item {
	if len(raw) == 0 {
		return nil
	}
	items := make([]edgestore.Item, 0, len(raw))
	for _, m := range raw {
		items = append(items, edgestore.Item(m))
	}
	return items
}

// SyncReportResponse mirrors the sync engine's outcome for one changeset.
type SyncReportResponse struct {
	Entity       string `json:"entity"`
	Items        int    `json:"items"`
	Chunks       int    `json:"chunks"`
	Succeeded    int    `json:"succeeded"`
	FailedChunks int    `json:"failed_chunks"`
	OK           bool   `json:"ok"`
}

func mapReportToResponse(report edgesync.Report) SyncReportResponse {
	return SyncReportResponse{
		Entity:       report.Entity,
		Items:        report.Items,
		Chunks:       report.Chunks,
		Succeeded:    report.Succeeded,
		FailedChunks: len(report.FailedChunks),
		OK:           report.OK(),
	}
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}
