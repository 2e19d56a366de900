package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationRecord is the proof artefact a verifier issues for one verification act
type VerificationRecord struct {
	ID             uuid.UUID `json:"id" db:"id"`
	EventID        string    `json:"eventId" db:"event_id"`
	UserID         string    `json:"userId" db:"user_id"`
	OrgID          string    `json:"orgId" db:"org_id"`
	VerifierName   string    `json:"verifierName" db:"verifier_name"`
	SignatureValid bool      `json:"signatureValid" db:"signature_valid"`
	HashChainValid bool      `json:"hashChainValid" db:"hash_chain_valid"`
	Verified       bool      `json:"verified" db:"verified"`
	VerifiedAt     time.Time `json:"verifiedAt" db:"verified_at"`
	Proof          string    `json:"proof" db:"proof"`
	HashAlgorithm  string    `json:"hashAlgorithm" db:"hash_algorithm"`
}

// TableName returns the table name for the VerificationRecord model
func (VerificationRecord) TableName() string {
	return "verification_records"
}

// ProofClaims is the exact set of fields the proof digest commits to
type ProofClaims struct {
	EventID        string    `json:"eventId"`
	VerifiedAt     time.Time `json:"verifiedAt"`
	SignatureValid bool      `json:"signatureValid"`
	HashChainValid bool      `json:"hashChainValid"`
	VerifierName   string    `json:"verifierName"`
}

// Claims extracts the digest input from a stored record
func (v *VerificationRecord) Claims() ProofClaims {
	return ProofClaims{
		EventID:        v.EventID,
		VerifiedAt:     v.VerifiedAt,
		SignatureValid: v.SignatureValid,
		HashChainValid: v.HashChainValid,
		VerifierName:   v.VerifierName,
	}
}
