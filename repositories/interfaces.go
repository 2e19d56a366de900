package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/google/uuid"
)

var (
	// ErrChainConflict is returned when an event insert loses the race for its block index
	ErrChainConflict = errors.New("chain position already taken")

	// ErrDuplicateEvent is returned when an event ID is already on the ledger
	ErrDuplicateEvent = errors.New("event id already exists")

	// ErrVersionConflict is returned when a snapshot insert loses the race for its version
	ErrVersionConflict = errors.New("snapshot version already taken")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction.
	// The context handed to fn carries the transaction; repositories called with it join the transaction.
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// EventFilter narrows a user's event query. Set fields are combined with AND.
type EventFilter struct {
	OrgID     string
	EventType models.EventType
	Limit     int
}

// EventRepository is the append-only event store. There is no update or delete for
// individual events; bulk deletion exists only for sandbox users.
type EventRepository interface {
	// Insert appends an event whose chain fields are already stamped.
	// Returns ErrChainConflict if (userId, orgId, blockIndex) is already taken.
	Insert(ctx context.Context, event *models.Event) error

	// GetByID retrieves an event by its event ID, nil if absent
	GetByID(ctx context.Context, eventID string) (*models.Event, error)

	// GetLatestForChain retrieves the event with the highest block index for the chain, nil if the chain is empty
	GetLatestForChain(ctx context.Context, userID, orgID string) (*models.Event, error)

	// GetByBlockIndex retrieves the event at a chain position, nil if absent
	GetByBlockIndex(ctx context.Context, userID, orgID string, blockIndex int64) (*models.Event, error)

	// ListByUser retrieves a user's events ordered by timestamp descending
	ListByUser(ctx context.Context, userID string, filter EventFilter) ([]*models.Event, error)

	// ListChain retrieves a full chain ordered by block index ascending
	ListChain(ctx context.Context, userID, orgID string) ([]*models.Event, error)

	// DeleteByUser deletes up to limit events for a user and returns how many were removed
	DeleteByUser(ctx context.Context, userID string, limit int) (int64, error)
}

// OrganizationRepository handles organization data operations
type OrganizationRepository interface {
	// Upsert creates the organization or overwrites its mutable fields, keyed on orgId
	Upsert(ctx context.Context, org *models.Organization) error

	// GetByID retrieves an organization by ID, nil if absent
	GetByID(ctx context.Context, orgID string) (*models.Organization, error)

	// SetSigningKey points the organization at a new active signing key
	SetSigningKey(ctx context.Context, orgID, keyID string) error

	// DeleteSandbox deletes up to limit organizations flagged as sandbox, with their keys
	DeleteSandbox(ctx context.Context, limit int) (int64, error)
}

// SigningKeyRepository holds every generation of each organization's signing secret
type SigningKeyRepository interface {
	// Create stores a new key
	Create(ctx context.Context, key *models.SigningKey) error

	// Get retrieves a key, active or retired, nil if absent
	Get(ctx context.Context, orgID, keyID string) (*models.SigningKey, error)

	// GetActive retrieves the newest non-retired key, nil if the org has none
	GetActive(ctx context.Context, orgID string) (*models.SigningKey, error)

	// RetireAll marks every active key of the org as retired at the given time
	RetireAll(ctx context.Context, orgID string, at time.Time) error
}

// ConsentRepository stores the derived consent projection
type ConsentRepository interface {
	// Upsert creates or overwrites the state for (userId, orgId, scope)
	Upsert(ctx context.Context, state *models.ConsentState) error

	// Get retrieves the state for one triple, nil if absent
	Get(ctx context.Context, userID, orgID, scope string) (*models.ConsentState, error)

	// ListByUser retrieves a user's consent states ordered by org then scope.
	// An empty orgID returns states across all orgs.
	ListByUser(ctx context.Context, userID, orgID string) ([]*models.ConsentState, error)

	// DeleteByUser deletes up to limit states for a user
	DeleteByUser(ctx context.Context, userID string, limit int) (int64, error)
}

// SnapshotRepository stores immutable versioned snapshots
type SnapshotRepository interface {
	// Insert stores a snapshot. Returns ErrVersionConflict if the version already exists.
	Insert(ctx context.Context, snapshot *models.Snapshot) error

	// GetByID retrieves a snapshot by user and snapshot ID, nil if absent
	GetByID(ctx context.Context, userID, snapshotID string) (*models.Snapshot, error)

	// GetLatest retrieves the highest version for (userId, orgId), nil if none
	GetLatest(ctx context.Context, userID, orgID string) (*models.Snapshot, error)

	// DeleteByUser deletes up to limit snapshots for a user
	DeleteByUser(ctx context.Context, userID string, limit int) (int64, error)
}

// AlertRepository stores policy engine output
type AlertRepository interface {
	// Insert inserts a new alert
	Insert(ctx context.Context, alert *models.Alert) error

	// ListByOrg retrieves an org's alerts, newest first
	ListByOrg(ctx context.Context, orgID string, limit int) ([]*models.Alert, error)

	// DeleteByUser deletes up to limit alerts for a user
	DeleteByUser(ctx context.Context, userID string, limit int) (int64, error)
}

// VerificationRepository stores verifier-issued proofs
type VerificationRepository interface {
	// Insert inserts a new verification record
	Insert(ctx context.Context, record *models.VerificationRecord) error

	// GetByID retrieves a verification record, nil if absent
	GetByID(ctx context.Context, id uuid.UUID) (*models.VerificationRecord, error)

	// DeleteByUser deletes up to limit records for a user
	DeleteByUser(ctx context.Context, userID string, limit int) (int64, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Events        EventRepository
	Organizations OrganizationRepository
	SigningKeys   SigningKeyRepository
	Consents      ConsentRepository
	Snapshots     SnapshotRepository
	Alerts        AlertRepository
	Verifications VerificationRepository
}
