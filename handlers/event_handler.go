package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/ledger"
	"github.com/arcturusdc/orbit/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AppendEventRequest is the business payload of a new ledger event.
// Chain fields and signatures are accepted only so the ledger can reject them by name.
type AppendEventRequest struct {
	EventID            string               `json:"eventId,omitempty" validate:"omitempty,max=128"`
	EventType          models.EventType     `json:"eventType"`
	UserID             string               `json:"userId" validate:"omitempty,identifier"`
	OrgID              string               `json:"orgId" validate:"omitempty,identifier"`
	ConsentScope       string               `json:"consentScope,omitempty"`
	ConsentStatus      models.ConsentStatus `json:"consentStatus,omitempty"`
	SnapshotPointer    string               `json:"snapshotPointer,omitempty"`
	SnapshotHash       string               `json:"snapshotHash,omitempty"`
	HashAlgorithm      string               `json:"hashAlgorithm,omitempty"`
	Scopes             []string             `json:"scopes,omitempty"`
	Purpose            string               `json:"purpose,omitempty"`
	RecipientOrgID     string               `json:"recipientOrgId,omitempty"`
	VerificationClaim  string               `json:"verificationClaim,omitempty"`
	VerificationResult string               `json:"verificationResult,omitempty"`
	Metadata           map[string]any       `json:"metadata,omitempty"`

	PreviousEventHash string `json:"previousEventHash,omitempty"`
	BlockIndex        int64  `json:"blockIndex,omitempty"`
	EventHash         string `json:"eventHash,omitempty"`
	Signature         string `json:"signature,omitempty"`
}

func (r *AppendEventRequest) toEvent() *models.Event {
	return &models.Event{
		EventID:            r.EventID,
		EventType:          r.EventType,
		UserID:             r.UserID,
		OrgID:              r.OrgID,
		ConsentScope:       r.ConsentScope,
		ConsentStatus:      r.ConsentStatus,
		SnapshotPointer:    r.SnapshotPointer,
		SnapshotHash:       r.SnapshotHash,
		HashAlgorithm:      r.HashAlgorithm,
		Scopes:             r.Scopes,
		Purpose:            r.Purpose,
		RecipientOrgID:     r.RecipientOrgID,
		VerificationClaim:  r.VerificationClaim,
		VerificationResult: r.VerificationResult,
		Metadata:           r.Metadata,
		PreviousEventHash:  r.PreviousEventHash,
		BlockIndex:         r.BlockIndex,
		EventHash:          r.EventHash,
		Signature:          r.Signature,
	}
}

// EventService defines the ledger operations the event endpoints use
type EventService interface {
	AppendEvent(ctx context.Context, orgID string, event *models.Event) (*models.Event, error)
	QueryEvents(ctx context.Context, userID string, filter repositories.EventFilter) ([]*models.Event, error)
	VerifyChain(ctx context.Context, userID, orgID string) (*ledger.ChainReport, error)
}

// EventHandler handles ledger event HTTP requests
type EventHandler struct {
	ledger EventService
	logger *zap.Logger
}

// NewEventHandler creates a new EventHandler
func NewEventHandler(ledger EventService, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		ledger: ledger,
		logger: logger,
	}
}

// HandleAppendEvent handles POST /api/v1/events
func (h *EventHandler) HandleAppendEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	var req AppendEventRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}
	if err := checkCaller(ctx, req.UserID, req.OrgID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	stored, err := h.ledger.AppendEvent(ctx, middleware.GetOrgIDFromContext(ctx), req.toEvent())
	if err != nil {
		h.logger.Warn("append rejected",
			zap.String("request_id", requestID),
			zap.String("event_type", string(req.EventType)),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("event appended",
		zap.String("request_id", requestID),
		zap.String("event_id", stored.EventID),
		zap.String("event_type", string(stored.EventType)),
		zap.Int64("block_index", stored.BlockIndex))

	_ = utils.WriteCreated(w, stored)
}

// HandleQueryEvents handles GET /api/v1/users/{userId}/events
func (h *EventHandler) HandleQueryEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")
	if err := checkSubject(ctx, userID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	query := r.URL.Query()
	limit, err := parseLimit(query.Get("limit"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	events, err := h.ledger.QueryEvents(ctx, userID, repositories.EventFilter{
		OrgID:     query.Get("orgId"),
		EventType: models.EventType(query.Get("eventType")),
		Limit:     limit,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, events)
}

// HandleVerifyChain handles GET /api/v1/users/{userId}/chains/{orgId}/verify
func (h *EventHandler) HandleVerifyChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userId")
	if err := checkSubject(ctx, userID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	report, err := h.ledger.VerifyChain(ctx, userID, chi.URLParam(r, "orgId"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if !report.Valid {
		h.logger.Warn("chain verification failed",
			zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
			zap.String("user_id", report.UserID),
			zap.String("org_id", report.OrgID),
			zap.Int("issues", len(report.Issues)))
	}

	_ = utils.WriteOK(w, report)
}

// checkSubject rejects requests about a user other than the session subject
func checkSubject(ctx context.Context, userID string) error {
	if subject := middleware.GetSubjectFromContext(ctx); subject == "" || subject != userID {
		return services.ErrSubjectMismatch
	}
	return nil
}

// checkCaller rejects write bodies naming another subject or organization
func checkCaller(ctx context.Context, userID, orgID string) error {
	if userID != "" {
		if err := checkSubject(ctx, userID); err != nil {
			return err
		}
	}
	if orgID != "" && orgID != middleware.GetOrgIDFromContext(ctx) {
		return services.ErrOrgMismatch
	}
	return nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, services.NewValidationError("limit must be a non-negative integer")
	}
	return limit, nil
}
