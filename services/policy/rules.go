// Package policy evaluates alert rules against appended ledger events.
//
// Evaluation runs after the event is durable and never affects the append result.
package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/arcturusdc/orbit/models"
)

// Rule names
const (
	RuleUsageWithoutConsent = "usage_without_consent"
	RuleThirdPartyShare     = "third_party_share"
	RuleConsentRevoked      = "consent_revoked"
	RuleVerificationFailed  = "verification_failed"
)

// Rule inspects one event and optionally raises an alert
type Rule interface {
	Name() string

	// Evaluate returns nil when the event does not trigger the rule
	Evaluate(ctx context.Context, event *models.Event) (*models.Alert, error)
}

// ConsentLookup resolves the scopes a user currently grants an org
type ConsentLookup interface {
	GrantedScopes(ctx context.Context, userID, orgID string) (map[string]bool, error)
}

// DefaultRules returns the built-in rule set
func DefaultRules(consents ConsentLookup) []Rule {
	return []Rule{
		NewUsageWithoutConsentRule(consents),
		ThirdPartyShareRule{},
		ConsentRevokedRule{},
		VerificationFailedRule{},
		MetadataPIIRule{},
	}
}

// UsageWithoutConsentRule flags data use or sharing for scopes that are not granted
type UsageWithoutConsentRule struct {
	consents ConsentLookup
}

// NewUsageWithoutConsentRule creates a new UsageWithoutConsentRule
func NewUsageWithoutConsentRule(consents ConsentLookup) *UsageWithoutConsentRule {
	return &UsageWithoutConsentRule{consents: consents}
}

// Name implements Rule
func (r *UsageWithoutConsentRule) Name() string { return RuleUsageWithoutConsent }

// Evaluate implements Rule
func (r *UsageWithoutConsentRule) Evaluate(ctx context.Context, event *models.Event) (*models.Alert, error) {
	if event.EventType != models.EventTypeDataUsed && event.EventType != models.EventTypeDataShared {
		return nil, nil
	}

	granted, err := r.consents.GrantedScopes(ctx, event.UserID, event.OrgID)
	if err != nil {
		return nil, fmt.Errorf("failed to load granted scopes: %w", err)
	}

	var missing []string
	for _, scope := range event.Scopes {
		if !granted[scope] {
			missing = append(missing, scope)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	message := fmt.Sprintf("%s without granted consent for scopes: %s", event.EventType, strings.Join(missing, ", "))
	return models.NewAlert(event, r.Name(), models.AlertSeverityHigh, message).
		WithDetails(map[string]interface{}{
			"missingScopes": missing,
			"purpose":       event.Purpose,
		}), nil
}

// ThirdPartyShareRule records every hand-off of data to another org
type ThirdPartyShareRule struct{}

// Name implements Rule
func (ThirdPartyShareRule) Name() string { return RuleThirdPartyShare }

// Evaluate implements Rule
func (r ThirdPartyShareRule) Evaluate(_ context.Context, event *models.Event) (*models.Alert, error) {
	if event.EventType != models.EventTypeDataShared {
		return nil, nil
	}

	message := fmt.Sprintf("data shared with %s", event.RecipientOrgID)
	return models.NewAlert(event, r.Name(), models.AlertSeverityMedium, message).
		WithDetails(map[string]interface{}{
			"recipientOrgId": event.RecipientOrgID,
			"scopes":         event.Scopes,
			"purpose":        event.Purpose,
		}), nil
}

// ConsentRevokedRule records revocations so downstream processing can stop
type ConsentRevokedRule struct{}

// Name implements Rule
func (ConsentRevokedRule) Name() string { return RuleConsentRevoked }

// Evaluate implements Rule
func (r ConsentRevokedRule) Evaluate(_ context.Context, event *models.Event) (*models.Alert, error) {
	if event.EventType != models.EventTypeConsentRevoked {
		return nil, nil
	}

	message := fmt.Sprintf("consent revoked for scope %s", event.ConsentScope)
	return models.NewAlert(event, r.Name(), models.AlertSeverityLow, message).
		WithDetails(map[string]interface{}{"consentScope": event.ConsentScope}), nil
}

// VerificationFailedRule flags completed verifications with a negative result
type VerificationFailedRule struct{}

// Name implements Rule
func (VerificationFailedRule) Name() string { return RuleVerificationFailed }

// Evaluate implements Rule
func (r VerificationFailedRule) Evaluate(_ context.Context, event *models.Event) (*models.Alert, error) {
	if event.EventType != models.EventTypeVerificationCompleted || isPositiveResult(event.VerificationResult) {
		return nil, nil
	}

	message := fmt.Sprintf("verification of %q returned %q", event.VerificationClaim, event.VerificationResult)
	return models.NewAlert(event, r.Name(), models.AlertSeverityMedium, message).
		WithDetails(map[string]interface{}{
			"verificationClaim":  event.VerificationClaim,
			"verificationResult": event.VerificationResult,
		}), nil
}

func isPositiveResult(result string) bool {
	result = strings.TrimSpace(result)
	return strings.EqualFold(result, "verified") || strings.EqualFold(result, "true")
}
