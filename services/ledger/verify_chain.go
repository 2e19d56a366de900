package ledger

import (
	"context"
	"fmt"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/integrity"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Chain issue kinds reported by VerifyChain
const (
	IssueBlockGap             = "block_gap"
	IssueUnexpectedLink       = "unexpected_previous_hash"
	IssuePreviousHashMismatch = "previous_hash_mismatch"
	IssueHashMismatch         = "hash_mismatch"
	IssueSignatureInvalid     = "signature_invalid"
	IssueUnknownSigningKey    = "unknown_signing_key"
)

// ChainIssue is one integrity failure found in a chain
type ChainIssue struct {
	BlockIndex int64  `json:"blockIndex"`
	EventID    string `json:"eventId"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// ChainReport is the outcome of walking a whole chain
type ChainReport struct {
	UserID   string       `json:"userId"`
	OrgID    string       `json:"orgId"`
	Length   int          `json:"length"`
	HeadHash string       `json:"headHash,omitempty"`
	Valid    bool         `json:"valid"`
	Issues   []ChainIssue `json:"issues"`
}

func (r *ChainReport) add(event *models.Event, kind, format string, args ...interface{}) {
	r.Issues = append(r.Issues, ChainIssue{
		BlockIndex: event.BlockIndex,
		EventID:    event.EventID,
		Kind:       kind,
		Message:    fmt.Sprintf(format, args...),
	})
}

// VerifyChain walks the (userID, orgID) chain in block order and reports every gap,
// broken link, recomputed-hash mismatch and signature failure it finds
func (s *Service) VerifyChain(ctx context.Context, userID, orgID string) (*ChainReport, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.VerifyChain")
	defer span.End()

	chain, err := s.events.ListChain(ctx, userID, orgID)
	if err != nil {
		return nil, services.WrapInternal("failed to load chain", err)
	}

	report := &ChainReport{UserID: userID, OrgID: orgID, Length: len(chain), Issues: []ChainIssue{}}
	secrets := make(map[string][]byte)

	var prev *models.Event
	for _, event := range chain {
		expected := int64(1)
		if prev != nil {
			expected = prev.BlockIndex + 1
		}
		if event.BlockIndex != expected {
			report.add(event, IssueBlockGap, "expected block %d, found %d", expected, event.BlockIndex)
		}

		switch {
		case prev == nil && event.PreviousEventHash != "":
			report.add(event, IssueUnexpectedLink, "first event declares a previous hash")
		case prev != nil && event.PreviousEventHash != prev.EventHash:
			report.add(event, IssuePreviousHashMismatch, "previous hash does not match block %d", prev.BlockIndex)
		}

		if !integrity.VerifyEventHash(event) {
			report.add(event, IssueHashMismatch, "stored hash does not match recomputed hash")
		}

		secret, ok := secrets[event.SigningKeyID]
		if !ok {
			key, err := s.keys.Key(ctx, event.OrgID, event.SigningKeyID)
			if err != nil {
				return nil, err
			}
			if key != nil {
				secret = []byte(key.Secret)
			}
			secrets[event.SigningKeyID] = secret
		}
		switch {
		case secret == nil:
			report.add(event, IssueUnknownSigningKey, "signing key %s is not known", event.SigningKeyID)
		case !integrity.VerifyEventSignature(event, secret):
			report.add(event, IssueSignatureInvalid, "signature does not verify")
		}

		prev = event
	}

	if prev != nil {
		report.HeadHash = prev.EventHash
	}
	report.Valid = len(report.Issues) == 0

	span.SetAttributes(
		attribute.Int("orbit.chain_length", report.Length),
		attribute.Bool("orbit.chain_valid", report.Valid),
	)
	if !report.Valid {
		s.logger.Warn("chain verification found issues",
			zap.String("user_id", userID),
			zap.String("org_id", orgID),
			zap.Int("issues", len(report.Issues)))
	}
	return report, nil
}
