package models

import (
	"time"
)

// EventType identifies the kind of a ledger event
type EventType string

const (
	EventTypeProfileRegistered     EventType = "PROFILE_REGISTERED"
	EventTypeProfileUpdated        EventType = "PROFILE_UPDATED"
	EventTypeConsentGranted        EventType = "CONSENT_GRANTED"
	EventTypeConsentRevoked        EventType = "CONSENT_REVOKED"
	EventTypeDataUsed              EventType = "DATA_USED"
	EventTypeDataShared            EventType = "DATA_SHARED"
	EventTypeVerificationRequested EventType = "VERIFICATION_REQUESTED"
	EventTypeVerificationCompleted EventType = "VERIFICATION_COMPLETED"
)

// EventTypes lists every known event type in declaration order
func EventTypes() []EventType {
	return []EventType{
		EventTypeProfileRegistered,
		EventTypeProfileUpdated,
		EventTypeConsentGranted,
		EventTypeConsentRevoked,
		EventTypeDataUsed,
		EventTypeDataShared,
		EventTypeVerificationRequested,
		EventTypeVerificationCompleted,
	}
}

// IsConsent reports whether the event type mutates consent state
func (t EventType) IsConsent() bool {
	return t == EventTypeConsentGranted || t == EventTypeConsentRevoked
}

// ConsentStatus is the derived status of a consent scope
type ConsentStatus string

const (
	ConsentStatusGranted ConsentStatus = "GRANTED"
	ConsentStatusRevoked ConsentStatus = "REVOKED"
)

// HashAlgorithmSHA256 is the identifier recorded alongside stored hashes
const HashAlgorithmSHA256 = "sha256"

// Event is an immutable ledger entry for one (user, org) chain.
//
// Chain fields (PreviousEventHash, BlockIndex, EventHash) and Timestamp are owned by
// the ledger store. Signature and SigningKeyID are owned by the signing engine.
// Everything else is business payload supplied by the org.
type Event struct {
	EventID   string    `json:"eventId" db:"event_id"`
	EventType EventType `json:"eventType" db:"event_type"`
	UserID    string    `json:"userId" db:"user_id"`
	OrgID     string    `json:"orgId" db:"org_id"`

	ConsentScope       string         `json:"consentScope,omitempty" db:"consent_scope"`
	ConsentStatus      ConsentStatus  `json:"consentStatus,omitempty" db:"consent_status"`
	SnapshotPointer    string         `json:"snapshotPointer,omitempty" db:"snapshot_pointer"`
	SnapshotHash       string         `json:"snapshotHash,omitempty" db:"snapshot_hash"`
	HashAlgorithm      string         `json:"hashAlgorithm,omitempty" db:"hash_algorithm"`
	Scopes             []string       `json:"scopes,omitempty" db:"scopes"`
	Purpose            string         `json:"purpose,omitempty" db:"purpose"`
	RecipientOrgID     string         `json:"recipientOrgId,omitempty" db:"recipient_org_id"`
	VerificationClaim  string         `json:"verificationClaim,omitempty" db:"verification_claim"`
	VerificationResult string         `json:"verificationResult,omitempty" db:"verification_result"`
	Metadata           map[string]any `json:"metadata,omitempty" db:"metadata"`

	SigningKeyID string `json:"signingKeyId,omitempty" db:"signing_key_id"`
	Signature    string `json:"signature,omitempty" db:"signature"`

	PreviousEventHash string    `json:"previousEventHash,omitempty" db:"previous_event_hash"`
	BlockIndex        int64     `json:"blockIndex,omitempty" db:"block_index"`
	EventHash         string    `json:"eventHash,omitempty" db:"event_hash"`
	Timestamp         time.Time `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the Event model
func (Event) TableName() string {
	return "events"
}

// Clone returns a deep copy so callers can mutate without touching stored state
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	if e.Scopes != nil {
		out.Scopes = append([]string(nil), e.Scopes...)
	}
	if e.Metadata != nil {
		out.Metadata = copyMap(e.Metadata)
	}
	return &out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue copies the container types metadata decodes into; other leaves are values
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case map[string]string:
		if t == nil {
			return t
		}
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		if t == nil {
			return t
		}
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = copyMap(item)
		}
		return out
	default:
		return v
	}
}

// IsChainStart reports whether the event opens its chain
func (e *Event) IsChainStart() bool {
	return e.BlockIndex == 1 && e.PreviousEventHash == ""
}

// ChainKey identifies the (user, org) chain an event belongs to
func (e *Event) ChainKey() string {
	return ChainKey(e.UserID, e.OrgID)
}

// ChainKey builds the chain identifier for a user and org
func ChainKey(userID, orgID string) string {
	return userID + "|" + orgID
}

// StoreTime normalizes a time to the precision the store keeps
func StoreTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
