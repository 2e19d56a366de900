package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Snapshot is a versioned, hashed data capture for one (user, org) pair
type Snapshot struct {
	SnapshotID    string          `json:"snapshotId" db:"snapshot_id"`
	UserID        string          `json:"userId" db:"user_id"`
	OrgID         string          `json:"orgId" db:"org_id"`
	Version       int             `json:"version" db:"version"`
	Data          json.RawMessage `json:"data" db:"data"`
	Scopes        []string        `json:"scopes" db:"scopes"`
	SnapshotHash  string          `json:"snapshotHash" db:"snapshot_hash"`
	HashAlgorithm string          `json:"hashAlgorithm" db:"hash_algorithm"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// TableName returns the table name for the Snapshot model
func (Snapshot) TableName() string {
	return "snapshots"
}

// SnapshotID builds the deterministic snapshot identifier {orgId}_v{version}
func SnapshotID(orgID string, version int) string {
	return fmt.Sprintf("%s_v%d", orgID, version)
}

// Pointer returns the address ledger events use to reference this snapshot
func (s *Snapshot) Pointer() string {
	return SnapshotPointer(s.UserID, s.SnapshotID)
}

const snapshotPointerPrefix = "snapshots/"

// SnapshotPointer builds a pointer of the form snapshots/{userId}/{snapshotId}
func SnapshotPointer(userID, snapshotID string) string {
	return snapshotPointerPrefix + userID + "/" + snapshotID
}

// ParseSnapshotPointer splits a pointer into its user and snapshot identifiers
func ParseSnapshotPointer(pointer string) (userID, snapshotID string, err error) {
	rest, ok := strings.CutPrefix(pointer, snapshotPointerPrefix)
	if !ok {
		return "", "", fmt.Errorf("snapshot pointer must start with %q", snapshotPointerPrefix)
	}
	userID, snapshotID, ok = strings.Cut(rest, "/")
	if !ok || userID == "" || snapshotID == "" || strings.Contains(snapshotID, "/") {
		return "", "", fmt.Errorf("malformed snapshot pointer: %s", pointer)
	}
	return userID, snapshotID, nil
}
