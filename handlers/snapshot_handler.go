package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/snapshot"
	"github.com/arcturusdc/orbit/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CreateSnapshotRequest represents a request to store a new profile snapshot version
type CreateSnapshotRequest struct {
	UserID string          `json:"userId" validate:"omitempty,identifier"`
	OrgID  string          `json:"orgId" validate:"omitempty,identifier"`
	Data   json.RawMessage `json:"data"`
	Scopes []string        `json:"scopes,omitempty"`
}

// SnapshotResponse is a stored snapshot with its integrity status
type SnapshotResponse struct {
	*models.Snapshot
	SnapshotPointer string `json:"snapshotPointer"`
	HashValid       bool   `json:"hashValid"`
}

func newSnapshotResponse(snap *models.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		Snapshot:        snap,
		SnapshotPointer: snap.Pointer(),
		HashValid:       snapshot.VerifySnapshot(snap),
	}
}

// SnapshotService defines the snapshot operations the endpoints use
type SnapshotService interface {
	CreateSnapshot(ctx context.Context, orgID string, req snapshot.CreateRequest) (*snapshot.CreateResult, error)
	GetSnapshot(ctx context.Context, pointer string) (*models.Snapshot, error)
	GetLatestSnapshot(ctx context.Context, userID, orgID string) (*models.Snapshot, error)
}

// SnapshotHandler handles snapshot HTTP requests
type SnapshotHandler struct {
	snapshots SnapshotService
	logger    *zap.Logger
}

// NewSnapshotHandler creates a new SnapshotHandler
func NewSnapshotHandler(snapshots SnapshotService, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots, logger: logger}
}

// HandleCreateSnapshot handles POST /api/v1/snapshots
func (h *SnapshotHandler) HandleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateSnapshotRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}
	if err := checkCaller(ctx, req.UserID, req.OrgID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	result, err := h.snapshots.CreateSnapshot(ctx, middleware.GetOrgIDFromContext(ctx), snapshot.CreateRequest{
		UserID: req.UserID,
		Data:   req.Data,
		Scopes: req.Scopes,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("snapshot created",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("snapshot_id", result.SnapshotID),
		zap.Int("version", result.Version))

	_ = utils.WriteCreated(w, result)
}

// HandleGetSnapshot handles GET /api/v1/snapshots?pointer=snapshots/{userId}/{snapshotId}
func (h *SnapshotHandler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pointer := r.URL.Query().Get("pointer")
	if pointer == "" {
		HandleServiceError(w, services.NewMissingFieldsError([]string{"pointer"}), h.logger)
		return
	}

	userID, _, err := models.ParseSnapshotPointer(pointer)
	if err != nil {
		HandleServiceError(w, services.NewValidationError(err.Error()), h.logger)
		return
	}
	if err := checkSubject(ctx, userID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	snap, err := h.snapshots.GetSnapshot(ctx, pointer)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, newSnapshotResponse(snap))
}

// HandleGetLatestSnapshot handles GET /api/v1/users/{userId}/snapshots/{orgId}/latest
func (h *SnapshotHandler) HandleGetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")
	if err := checkSubject(ctx, userID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	snap, err := h.snapshots.GetLatestSnapshot(ctx, userID, chi.URLParam(r, "orgId"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, newSnapshotResponse(snap))
}
