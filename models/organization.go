package models

import (
	"encoding/json"
	"time"
)

// Organization is a data-holding tenant with its own signing keys and API credential
type Organization struct {
	OrgID        string          `json:"orgId" db:"org_id"`
	Name         string          `json:"name" db:"name"`
	APIKeyHash   string          `json:"-" db:"api_key_hash"` // SHA-256 of the bearer API key
	SigningKeyID string          `json:"signingKeyId" db:"signing_key_id"`
	Profile      json.RawMessage `json:"profile,omitempty" db:"profile"`
	Sandbox      bool            `json:"sandbox" db:"sandbox"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// TableName returns the table name for the Organization model
func (Organization) TableName() string {
	return "organizations"
}

// NewOrganization creates a new Organization instance
func NewOrganization(orgID, name string) *Organization {
	now := time.Now().UTC()
	return &Organization{
		OrgID:     orgID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// SigningKey is one generation of an org's symmetric signing material.
// Retired keys stay resolvable so historical signatures keep verifying.
type SigningKey struct {
	OrgID     string     `json:"orgId" db:"org_id"`
	KeyID     string     `json:"keyId" db:"key_id"`
	Secret    string     `json:"-" db:"secret"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
	RetiredAt *time.Time `json:"retiredAt,omitempty" db:"retired_at"`
}

// TableName returns the table name for the SigningKey model
func (SigningKey) TableName() string {
	return "organization_signing_keys"
}

// IsActive reports whether the key may sign new events
func (k *SigningKey) IsActive() bool {
	return k.RetiredAt == nil
}
