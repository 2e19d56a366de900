package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/arcturusdc/orbit/models"
)

// unsignedFields are excluded from the signed payload. The signature binds
// organisational authorship of the business payload; chain position is bound
// separately by the event hash.
var unsignedFields = []string{"signature", "previousEventHash", "blockIndex", "eventHash", "timestamp"}

// SignaturePayload returns the canonical bytes the signature is computed over
func SignaturePayload(event *models.Event) ([]byte, error) {
	return canonicalizeWithout(event, unsignedFields...)
}

// SignEvent computes the hex HMAC-SHA256 of the event's business payload keyed with secret
func SignEvent(event *models.Event, secret []byte) (string, error) {
	payload, err := SignaturePayload(event)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyEventSignature recomputes the signature and compares it in constant time
func VerifyEventSignature(event *models.Event, secret []byte) bool {
	if event.Signature == "" {
		return false
	}
	expected, err := SignEvent(event, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(event.Signature))
}
