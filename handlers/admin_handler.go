package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/arcturusdc/orbit/auth"
	"github.com/arcturusdc/orbit/middleware"
	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/organization"
	"github.com/arcturusdc/orbit/services/sandbox"
	"github.com/arcturusdc/orbit/utils"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// UpsertOrganizationRequest represents a request to create or update an organization
type UpsertOrganizationRequest struct {
	Name    string          `json:"name" validate:"required,max=256"`
	APIKey  string          `json:"apiKey,omitempty" validate:"omitempty,min=16,max=256"`
	Profile json.RawMessage `json:"profile,omitempty"`
	Sandbox bool            `json:"sandbox"`
}

// ResetSandboxRequest represents a request to wipe a demo user
type ResetSandboxRequest struct {
	UserID     string `json:"userId"`
	DeleteOrgs bool   `json:"deleteOrgs"`
}

// IssueSessionRequest represents a request to mint a subject session token
type IssueSessionRequest struct {
	Subject string `json:"subject" validate:"required,identifier"`
}

// IssueSessionResponse carries a minted session token
type IssueSessionResponse struct {
	Token   string        `json:"token"`
	Session *auth.Session `json:"session"`
}

// OrganizationService defines the org administration operations
type OrganizationService interface {
	Upsert(ctx context.Context, orgID string, req organization.UpsertRequest) (*organization.UpsertResult, error)
	Get(ctx context.Context, orgID string) (*models.Organization, error)
	RotateSigningKey(ctx context.Context, orgID string) (*models.SigningKey, error)
}

// SandboxService resets demo users
type SandboxService interface {
	ResetSandbox(ctx context.Context, userID string, deleteOrgs bool) (*sandbox.Result, error)
}

// SessionIssuer mints subject session tokens
type SessionIssuer interface {
	Issue(subject string) (string, *auth.Session, error)
}

// AdminHandler handles operator HTTP requests behind the admin key
type AdminHandler struct {
	orgs     OrganizationService
	sandbox  SandboxService
	sessions SessionIssuer
	logger   *zap.Logger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(orgs OrganizationService, sandbox SandboxService, sessions SessionIssuer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		orgs:     orgs,
		sandbox:  sandbox,
		sessions: sessions,
		logger:   logger,
	}
}

// HandleUpsertOrganization handles PUT /api/v1/admin/orgs/{orgId}
func (h *AdminHandler) HandleUpsertOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := chi.URLParam(r, "orgId")
	if !utils.IsIdentifier(orgID) {
		HandleServiceError(w, services.NewValidationError("Invalid orgId format"), h.logger)
		return
	}

	var req UpsertOrganizationRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	result, err := h.orgs.Upsert(ctx, orgID, organization.UpsertRequest{
		Name:    req.Name,
		APIKey:  req.APIKey,
		Profile: req.Profile,
		Sandbox: req.Sandbox,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("organization upserted",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("org_id", orgID),
		zap.Bool("created", result.Created))

	if result.Created {
		_ = utils.WriteCreated(w, result)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleGetOrganization handles GET /api/v1/admin/orgs/{orgId}
func (h *AdminHandler) HandleGetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgs.Get(r.Context(), chi.URLParam(r, "orgId"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, org)
}

// HandleRotateSigningKey handles POST /api/v1/admin/orgs/{orgId}/keys
func (h *AdminHandler) HandleRotateSigningKey(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID := chi.URLParam(r, "orgId")

	key, err := h.orgs.RotateSigningKey(ctx, orgID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("signing key rotated",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("org_id", orgID),
		zap.String("key_id", key.KeyID))

	_ = utils.WriteCreated(w, key)
}

// HandleResetSandbox handles POST /api/v1/admin/sandbox/reset
func (h *AdminHandler) HandleResetSandbox(w http.ResponseWriter, r *http.Request) {
	var req ResetSandboxRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	result, err := h.sandbox.ResetSandbox(r.Context(), req.UserID, req.DeleteOrgs)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, result)
}

// HandleIssueSession handles POST /api/v1/admin/sessions
func (h *AdminHandler) HandleIssueSession(w http.ResponseWriter, r *http.Request) {
	var req IssueSessionRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	token, session, err := h.sessions.Issue(req.Subject)
	if err != nil {
		h.logger.Error("failed to issue session", zap.Error(err))
		HandleServiceError(w, services.WrapInternal("failed to issue session", err), h.logger)
		return
	}

	_ = utils.WriteCreated(w, IssueSessionResponse{Token: token, Session: session})
}
