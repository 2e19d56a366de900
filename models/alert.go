package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AlertSeverity ranks how urgently an alert needs human review
type AlertSeverity string

const (
	AlertSeverityLow    AlertSeverity = "low"
	AlertSeverityMedium AlertSeverity = "medium"
	AlertSeverityHigh   AlertSeverity = "high"
)

// Alert is a best-effort finding emitted by the policy engine after an event is appended.
// Alerts are not part of the integrity chain.
type Alert struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	OrgID     string          `json:"orgId" db:"org_id"`
	UserID    string          `json:"userId" db:"user_id"`
	EventID   string          `json:"eventId" db:"event_id"`
	EventType EventType       `json:"eventType" db:"event_type"`
	Rule      string          `json:"rule" db:"rule"`
	Severity  AlertSeverity   `json:"severity" db:"severity"`
	Message   string          `json:"message" db:"message"`
	Details   json.RawMessage `json:"details,omitempty" db:"details"` // JSONB for rule specific context
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// TableName returns the table name for the Alert model
func (Alert) TableName() string {
	return "alerts"
}

// NewAlert creates an alert for the given event
func NewAlert(event *Event, rule string, severity AlertSeverity, message string) *Alert {
	return &Alert{
		ID:        uuid.New(),
		OrgID:     event.OrgID,
		UserID:    event.UserID,
		EventID:   event.EventID,
		EventType: event.EventType,
		Rule:      rule,
		Severity:  severity,
		Message:   message,
		CreatedAt: StoreTime(time.Now()),
	}
}

// WithDetails sets the details
func (a *Alert) WithDetails(details interface{}) *Alert {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}
