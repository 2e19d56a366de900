// Package verification lets third parties check an event's signature and chain position
// and issues a proof of each check.
package verification

import (
	"context"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/integrity"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/arcturusdc/orbit/services/verification"

// KeyLookup resolves any generation of an org's signing key
type KeyLookup interface {
	Key(ctx context.Context, orgID, keyID string) (*models.SigningKey, error)
}

// Request selects the event to verify. Event wins over EventID when both are set.
type Request struct {
	Event        *models.Event
	EventID      string
	VerifierName string
}

// ProofCheck is the outcome of re-deriving a stored proof
type ProofCheck struct {
	Record   *models.VerificationRecord `json:"record"`
	Expected string                     `json:"expectedProof"`
	Valid    bool                       `json:"valid"`
}

// Service performs external verifications
type Service struct {
	events  repositories.EventRepository
	keys    KeyLookup
	records repositories.VerificationRepository
	tracer  trace.Tracer
	now     func() time.Time
	logger  *zap.Logger
}

// NewService creates a new verification Service
func NewService(events repositories.EventRepository, keys KeyLookup, records repositories.VerificationRepository, logger *zap.Logger) *Service {
	return &Service{
		events:  events,
		keys:    keys,
		records: records,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
		logger:  logger,
	}
}

// VerifyExternally checks the event's signature against the org's key ring and its
// links against the stored chain, then persists a proof of the outcome.
// The signing secret never leaves the service.
func (s *Service) VerifyExternally(ctx context.Context, req Request) (*models.VerificationRecord, error) {
	ctx, span := s.tracer.Start(ctx, "verification.VerifyExternally")
	defer span.End()

	record, err := s.verify(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.String("orbit.event_id", record.EventID),
		attribute.Bool("orbit.signature_valid", record.SignatureValid),
		attribute.Bool("orbit.hash_chain_valid", record.HashChainValid),
	)
	return record, nil
}

func (s *Service) verify(ctx context.Context, req Request) (*models.VerificationRecord, error) {
	var missing []string
	if req.Event == nil && req.EventID == "" {
		missing = append(missing, "event")
	}
	if req.VerifierName == "" {
		missing = append(missing, "verifierName")
	}
	if len(missing) > 0 {
		return nil, services.NewMissingFieldsError(missing)
	}

	event := req.Event
	if event == nil {
		stored, err := s.events.GetByID(ctx, req.EventID)
		if err != nil {
			return nil, services.WrapInternal("failed to load event", err)
		}
		if stored == nil {
			return nil, services.ErrEventNotFound
		}
		event = stored
	}
	if event.OrgID == "" || event.UserID == "" {
		return nil, services.NewValidationError("event must carry userId and orgId")
	}

	signatureValid, err := s.signatureValid(ctx, event)
	if err != nil {
		return nil, err
	}
	hashChainValid, err := s.hashChainValid(ctx, event)
	if err != nil {
		return nil, err
	}

	record := &models.VerificationRecord{
		ID:             uuid.New(),
		EventID:        event.EventID,
		UserID:         event.UserID,
		OrgID:          event.OrgID,
		VerifierName:   req.VerifierName,
		SignatureValid: signatureValid,
		HashChainValid: hashChainValid,
		Verified:       signatureValid && hashChainValid,
		VerifiedAt:     models.StoreTime(s.now()),
		HashAlgorithm:  integrity.Algorithm,
	}
	record.Proof, err = integrity.ProofDigest(record.Claims())
	if err != nil {
		return nil, err
	}

	if err := s.records.Insert(ctx, record); err != nil {
		return nil, services.WrapInternal("failed to store verification record", err)
	}

	s.logger.Info("external verification recorded",
		zap.String("verification_id", record.ID.String()),
		zap.String("event_id", record.EventID),
		zap.String("verifier", record.VerifierName),
		zap.Bool("verified", record.Verified))

	return record, nil
}

func (s *Service) signatureValid(ctx context.Context, event *models.Event) (bool, error) {
	if event.Signature == "" || event.SigningKeyID == "" {
		return false, nil
	}
	key, err := s.keys.Key(ctx, event.OrgID, event.SigningKeyID)
	if err != nil {
		return false, err
	}
	if key == nil {
		return false, nil
	}
	return integrity.VerifyEventSignature(event, []byte(key.Secret)), nil
}

// hashChainValid is vacuously true for an event that declares no predecessor
// and has no stored successor.
func (s *Service) hashChainValid(ctx context.Context, event *models.Event) (bool, error) {
	if event.EventHash != "" && !integrity.VerifyEventHash(event) {
		return false, nil
	}

	if event.PreviousEventHash != "" {
		if event.BlockIndex <= 1 {
			return false, nil
		}
		prev, err := s.events.GetByBlockIndex(ctx, event.UserID, event.OrgID, event.BlockIndex-1)
		if err != nil {
			return false, services.WrapInternal("failed to load previous event", err)
		}
		if prev == nil || prev.EventHash != event.PreviousEventHash || !integrity.VerifyEventHash(prev) {
			return false, nil
		}
	}

	if event.BlockIndex > 0 {
		next, err := s.events.GetByBlockIndex(ctx, event.UserID, event.OrgID, event.BlockIndex+1)
		if err != nil {
			return false, services.WrapInternal("failed to load next event", err)
		}
		if next != nil {
			ownHash := event.EventHash
			if ownHash == "" {
				if ownHash, err = integrity.HashEvent(event); err != nil {
					return false, nil
				}
			}
			if next.PreviousEventHash != ownHash {
				return false, nil
			}
		}
	}

	return true, nil
}

// GetRecord loads a stored verification record
func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*models.VerificationRecord, error) {
	record, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, services.WrapInternal("failed to load verification record", err)
	}
	if record == nil {
		return nil, services.ErrVerificationNotFound
	}
	return record, nil
}

// CheckRecord re-derives the proof of a stored verification
func (s *Service) CheckRecord(ctx context.Context, id uuid.UUID) (*ProofCheck, error) {
	record, err := s.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	expected, err := integrity.ProofDigest(record.Claims())
	if err != nil {
		return nil, err
	}
	return &ProofCheck{Record: record, Expected: expected, Valid: expected == record.Proof}, nil
}

// CheckProof reports whether a record's proof matches its claims
func CheckProof(record *models.VerificationRecord) bool {
	expected, err := integrity.ProofDigest(record.Claims())
	if err != nil {
		return false
	}
	return expected == record.Proof
}
