package opsapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/flagmesh/flagmesh/internal/logger"
	"github.com/flagmesh/flagmesh/internal/migration"
	"github.com/flagmesh/flagmesh/internal/store"
)

// handleGetMigration processes GET /api/v1/projects/{projectID}/migration.
// A project that was never touched reports NOT_STARTED rather than 404: the
// absence of a metadata row is a valid state, not a missing resource.
func (a *API) handleGetMigration(w http.ResponseWriter, r *http.Request) {
	projectID, ok := a.projectID(w, r)
	if !ok {
		return
	}

	meta, err := a.migrations.Status(r.Context(), projectID)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to read migration status",
			slog.Int64("project_id", projectID),
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to read migration status",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapMetadataToResponse(meta))
}

// handleTriggerMigration processes POST /api/v1/projects/{projectID}/migration.
// Triggering is idempotent in intent but not in effect: the first call wins,
// repeats get 409 with the current state so operators see what happened.
func (a *API) handleTriggerMigration(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	projectID, ok := a.projectID(w, r)
	if !ok {
		return
	}

	meta, err := a.migrations.Trigger(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, migration.ErrAlreadyTriggered) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, struct {
				ErrorResponse
				Migration MigrationResponse `json:"migration"`
			}{
				ErrorResponse: ErrorResponse{
					Code:    "ERR_CONFLICT",
					Message: "Migration was already triggered for this project",
				},
				Migration: mapMetadataToResponse(meta),
			})
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "Project not found",
			})
			return
		}

		log.Error("failed to trigger migration",
			slog.Int64("project_id", projectID),
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to trigger migration",
		})
		return
	}

	log.Info("migration triggered", slog.Int64("project_id", projectID))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, mapMetadataToResponse(meta))
}

// handleOverrideChangeset processes
// POST /api/v1/environments/{environmentID}/override-changeset.
func (a *API) handleOverrideChangeset(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if _, err := strconv.ParseInt(chi.URLParam(r, "environmentID"), 10, 64); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Environment id must be an integer",
		})
		return
	}

	var req ChangesetRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	report := a.engine.ApplyChangeset(r.Context(), req.Changeset())
	if report.Disabled {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_UNAVAILABLE",
			Message: "Edge store is not configured for overrides",
		})
		return
	}

	// Partial failure is not a transport error: the caller gets the report
	// and decides whether to re-apply (re-application is idempotent).
	status := http.StatusOK
	if !report.OK() {
		status = http.StatusBadGateway
		log.Error("changeset applied with failed chunks",
			slog.Int("chunks", report.Chunks),
			slog.Int("failed", len(report.FailedChunks)))
	}
	render.Status(r, status)
	render.JSON(w, r, mapReportToResponse(report))
}

func (a *API) projectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "Project id must be an integer",
		})
		return 0, false
	}
	return id, true
}
