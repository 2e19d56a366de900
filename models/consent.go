package models

import "time"

// ConsentState is the derived status of one (user, org, scope) triple
type ConsentState struct {
	UserID    string        `json:"userId" db:"user_id"`
	OrgID     string        `json:"orgId" db:"org_id"`
	Scope     string        `json:"scope" db:"scope"`
	Status    ConsentStatus `json:"status" db:"status"`
	EventID   string        `json:"eventId,omitempty" db:"event_id"` // last event applied
	UpdatedAt time.Time     `json:"updatedAt" db:"updated_at"`
}

// TableName returns the table name for the ConsentState model
func (ConsentState) TableName() string {
	return "consent_states"
}

// IsGranted reports whether the scope is currently granted
func (c *ConsentState) IsGranted() bool {
	return c.Status == ConsentStatusGranted
}
