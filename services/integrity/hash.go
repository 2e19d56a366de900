package integrity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/arcturusdc/orbit/models"
)

// Algorithm is recorded next to every stored hash
const Algorithm = models.HashAlgorithmSHA256

func hashBytes(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashEvent computes the content hash of an event over its canonical form
// minus the eventHash field. Chain fields and the timestamp are committed to,
// so the hash must be taken after the store has attached them.
func HashEvent(event *models.Event) (string, error) {
	canonical, err := canonicalizeWithout(event, "eventHash")
	if err != nil {
		return "", err
	}
	return hashBytes(canonical), nil
}

// VerifyEventHash reports whether the stored eventHash matches a recomputation
func VerifyEventHash(event *models.Event) bool {
	if event.EventHash == "" {
		return false
	}
	computed, err := HashEvent(event)
	if err != nil {
		return false
	}
	return computed == event.EventHash
}

// HashSnapshot computes the content hash of an opaque snapshot payload
func HashSnapshot(data interface{}) (string, error) {
	canonical, err := Canonicalize(data)
	if err != nil {
		return "", err
	}
	return hashBytes(canonical), nil
}

// ProofDigest commits to the outcome of one external verification act
func ProofDigest(claims models.ProofClaims) (string, error) {
	claims.VerifiedAt = models.StoreTime(claims.VerifiedAt)
	canonical, err := Canonicalize(claims)
	if err != nil {
		return "", err
	}
	return hashBytes(canonical), nil
}
