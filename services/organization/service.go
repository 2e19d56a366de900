// Package organization manages tenant records and their API credentials.
package organization

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
	"go.uber.org/zap"
)

// KeyRotator installs new signing keys
type KeyRotator interface {
	Rotate(ctx context.Context, orgID string) (*models.SigningKey, error)
}

// UpsertRequest holds the mutable organization fields. An empty APIKey keeps the
// current credential of an existing org.
type UpsertRequest struct {
	Name    string
	APIKey  string
	Profile json.RawMessage
	Sandbox bool
}

// UpsertResult describes the stored organization
type UpsertResult struct {
	Organization *models.Organization `json:"organization"`
	Created      bool                 `json:"created"`
}

// Service manages organizations
type Service struct {
	orgs   repositories.OrganizationRepository
	keys   KeyRotator
	txMgr  repositories.TransactionManager
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a new organization Service
func NewService(orgs repositories.OrganizationRepository, keys KeyRotator, txMgr repositories.TransactionManager, logger *zap.Logger) *Service {
	return &Service{
		orgs:   orgs,
		keys:   keys,
		txMgr:  txMgr,
		now:    time.Now,
		logger: logger,
	}
}

// HashAPIKey returns the stored form of an API key
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Upsert creates or updates an organization. A new organization receives its first
// signing key in the same transaction.
func (s *Service) Upsert(ctx context.Context, orgID string, req UpsertRequest) (*UpsertResult, error) {
	var missing []string
	if orgID == "" {
		missing = append(missing, "orgId")
	}
	if req.Name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return nil, services.NewMissingFieldsError(missing)
	}

	result, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context) (*UpsertResult, error) {
		existing, err := s.orgs.GetByID(ctx, orgID)
		if err != nil {
			return nil, services.WrapInternal("failed to load organization", err)
		}

		org := models.NewOrganization(orgID, req.Name)
		org.Profile = req.Profile
		org.Sandbox = req.Sandbox
		org.UpdatedAt = models.StoreTime(s.now())

		switch {
		case req.APIKey != "":
			org.APIKeyHash = HashAPIKey(req.APIKey)
		case existing != nil:
			org.APIKeyHash = existing.APIKeyHash
		default:
			return nil, services.NewMissingFieldsError([]string{"apiKey"})
		}
		if existing != nil {
			org.CreatedAt = existing.CreatedAt
			org.SigningKeyID = existing.SigningKeyID
		} else {
			org.CreatedAt = org.UpdatedAt
		}

		if err := s.orgs.Upsert(ctx, org); err != nil {
			return nil, services.WrapInternal("failed to store organization", err)
		}

		if existing == nil {
			key, err := s.keys.Rotate(ctx, orgID)
			if err != nil {
				return nil, err
			}
			org.SigningKeyID = key.KeyID
		}

		return &UpsertResult{Organization: org, Created: existing == nil}, nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("organization upserted",
		zap.String("org_id", orgID),
		zap.Bool("created", result.Created),
		zap.Bool("sandbox", result.Organization.Sandbox))
	return result, nil
}

// Get returns an organization
func (s *Service) Get(ctx context.Context, orgID string) (*models.Organization, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to load organization", err)
	}
	if org == nil {
		return nil, services.ErrOrganizationNotFound
	}
	return org, nil
}

// RotateSigningKey retires the org's active key and installs a new one.
// Events signed with retired keys keep verifying.
func (s *Service) RotateSigningKey(ctx context.Context, orgID string) (*models.SigningKey, error) {
	return s.keys.Rotate(ctx, orgID)
}

// Authenticate checks an org credential. Unknown orgs and wrong keys fail the same way.
func (s *Service) Authenticate(ctx context.Context, orgID, apiKey string) (*models.Organization, error) {
	if orgID == "" || apiKey == "" {
		return nil, services.ErrUnauthorized
	}

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to load organization", err)
	}

	stored := ""
	if org != nil {
		stored = org.APIKeyHash
	}
	if subtle.ConstantTimeCompare([]byte(HashAPIKey(apiKey)), []byte(stored)) != 1 || org == nil {
		s.logger.Warn("organization credential rejected", zap.String("org_id", orgID))
		return nil, services.ErrInvalidAPIKey
	}
	return org, nil
}
