package ledger

import (
	"fmt"
	"strings"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/services"
	"github.com/google/uuid"
)

// EventIDPrefix prefixes every generated event ID
const EventIDPrefix = "evt_"

type fieldCheck struct {
	name    string
	present func(e *models.Event) bool
}

func stringField(name string, get func(e *models.Event) string) fieldCheck {
	return fieldCheck{name: name, present: func(e *models.Event) bool { return get(e) != "" }}
}

var (
	fieldUserID             = stringField("userId", func(e *models.Event) string { return e.UserID })
	fieldOrgID              = stringField("orgId", func(e *models.Event) string { return e.OrgID })
	fieldConsentScope       = stringField("consentScope", func(e *models.Event) string { return e.ConsentScope })
	fieldConsentStatus      = stringField("consentStatus", func(e *models.Event) string { return string(e.ConsentStatus) })
	fieldSnapshotPointer    = stringField("snapshotPointer", func(e *models.Event) string { return e.SnapshotPointer })
	fieldSnapshotHash       = stringField("snapshotHash", func(e *models.Event) string { return e.SnapshotHash })
	fieldPurpose            = stringField("purpose", func(e *models.Event) string { return e.Purpose })
	fieldRecipientOrgID     = stringField("recipientOrgId", func(e *models.Event) string { return e.RecipientOrgID })
	fieldVerificationClaim  = stringField("verificationClaim", func(e *models.Event) string { return e.VerificationClaim })
	fieldVerificationResult = stringField("verificationResult", func(e *models.Event) string { return e.VerificationResult })
	fieldScopes             = fieldCheck{name: "scopes", present: func(e *models.Event) bool { return len(e.Scopes) > 0 }}
)

// requiredFields lists, per event type, the fields that must be present, in reporting order
var requiredFields = map[models.EventType][]fieldCheck{
	models.EventTypeProfileRegistered:     {fieldUserID, fieldOrgID, fieldSnapshotPointer, fieldSnapshotHash, fieldScopes},
	models.EventTypeProfileUpdated:        {fieldUserID, fieldOrgID, fieldSnapshotPointer, fieldSnapshotHash, fieldScopes},
	models.EventTypeConsentGranted:        {fieldUserID, fieldOrgID, fieldConsentScope, fieldConsentStatus},
	models.EventTypeConsentRevoked:        {fieldUserID, fieldOrgID, fieldConsentScope, fieldConsentStatus},
	models.EventTypeDataUsed:              {fieldUserID, fieldOrgID, fieldScopes, fieldPurpose},
	models.EventTypeDataShared:            {fieldUserID, fieldOrgID, fieldRecipientOrgID, fieldScopes, fieldPurpose},
	models.EventTypeVerificationRequested: {fieldUserID, fieldOrgID, fieldVerificationClaim},
	models.EventTypeVerificationCompleted: {fieldUserID, fieldOrgID, fieldVerificationClaim, fieldVerificationResult},
}

// consentStatusFor maps consent event types to the only status they may carry
var consentStatusFor = map[models.EventType]models.ConsentStatus{
	models.EventTypeConsentGranted: models.ConsentStatusGranted,
	models.EventTypeConsentRevoked: models.ConsentStatusRevoked,
}

// RequiredFields returns the names of the fields an event type requires, nil for unknown types
func RequiredFields(eventType models.EventType) []string {
	checks, ok := requiredFields[eventType]
	if !ok {
		return nil
	}
	names := make([]string, len(checks))
	for i, check := range checks {
		names[i] = check.name
	}
	return names
}

// Validate checks an incoming event against its type's required-field set.
// It does not modify the event.
func Validate(event *models.Event) error {
	if event == nil {
		return services.NewValidationError("event is required")
	}

	checks, ok := requiredFields[event.EventType]
	if !ok {
		return services.NewValidationError(fmt.Sprintf("Unknown event type: %s", event.EventType)).
			WithDetail("eventType", string(event.EventType))
	}

	var missing []string
	for _, check := range checks {
		if !check.present(event) {
			missing = append(missing, check.name)
		}
	}
	if len(missing) > 0 {
		return services.NewMissingFieldsError(missing)
	}

	if want, ok := consentStatusFor[event.EventType]; ok && event.ConsentStatus != want {
		return services.NewValidationError(fmt.Sprintf(
			"consentStatus %s does not match event type %s, expected %s",
			event.ConsentStatus, event.EventType, want,
		)).WithDetail("consentStatus", string(event.ConsentStatus))
	}

	var owned []string
	if event.PreviousEventHash != "" {
		owned = append(owned, "previousEventHash")
	}
	if event.BlockIndex != 0 {
		owned = append(owned, "blockIndex")
	}
	if event.EventHash != "" {
		owned = append(owned, "eventHash")
	}
	if event.Signature != "" {
		owned = append(owned, "signature")
	}
	if len(owned) > 0 {
		return services.NewValidationError("Fields are assigned by the ledger: " + strings.Join(owned, ", ")).
			WithDetail("storeOwnedFields", owned)
	}

	return nil
}

// GenerateEventID returns evt_ followed by a UUIDv7, whose leading 48 bits are the millisecond timestamp
func GenerateEventID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate event id: %w", err)
	}
	return EventIDPrefix + id.String(), nil
}
