// Package memory provides in-process implementations of the repository interfaces.
// It backs STORE_BACKEND=memory for local runs and the service tests. Data does not
// survive a restart.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/google/uuid"
)

// ErrTransactionDone is returned when a finished transaction is committed or rolled back again
var ErrTransactionDone = errors.New("transaction has already been committed or rolled back")

type consentKey struct {
	userID string
	orgID  string
	scope  string
}

type snapshotKey struct {
	userID     string
	snapshotID string
}

// Store holds every table of the memory backend behind one lock
type Store struct {
	mu sync.RWMutex

	events        map[string]*models.Event
	chains        map[string][]*models.Event
	orgs          map[string]*models.Organization
	keys          map[string][]*models.SigningKey
	consents      map[consentKey]*models.ConsentState
	snapshots     map[snapshotKey]*models.Snapshot
	alerts        []*models.Alert
	verifications map[uuid.UUID]*models.VerificationRecord

	// txMu serializes transactions; writes outside a transaction only take mu
	txMu sync.Mutex
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		events:        make(map[string]*models.Event),
		chains:        make(map[string][]*models.Event),
		orgs:          make(map[string]*models.Organization),
		keys:          make(map[string][]*models.SigningKey),
		consents:      make(map[consentKey]*models.ConsentState),
		snapshots:     make(map[snapshotKey]*models.Snapshot),
		verifications: make(map[uuid.UUID]*models.VerificationRecord),
	}
}

// NewRepositories returns every repository backed by this store
func (s *Store) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Events:        &EventRepository{store: s},
		Organizations: &OrganizationRepository{store: s},
		SigningKeys:   &SigningKeyRepository{store: s},
		Consents:      &ConsentRepository{store: s},
		Snapshots:     &SnapshotRepository{store: s},
		Alerts:        &AlertRepository{store: s},
		Verifications: &VerificationRepository{store: s},
	}
}

// TransactionManager returns a transaction manager whose rollbacks undo writes made on this store
func (s *Store) TransactionManager() repositories.TransactionManager {
	return &TransactionManager{store: s}
}

// onWrite registers the inverse of a mutation with the transaction in ctx, if any.
// Callers hold s.mu.
func (s *Store) onWrite(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(transactionContextKey{}).(*Transaction); ok && tx.store == s {
		tx.undo = append(tx.undo, undo)
	}
}

type transactionContextKey struct{}

// TransactionManager implements repositories.TransactionManager for the memory store
type TransactionManager struct {
	store *Store
}

// Begin starts a transaction. It holds the store's transaction lock until Commit or Rollback.
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	tm.store.txMu.Lock()
	tx := &Transaction{store: tm.store}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	return tx, nil
}

// InTransaction runs fn in a transaction, joining one already present in ctx
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if existing, ok := ctx.Value(transactionContextKey{}).(*Transaction); ok && existing.store == tm.store {
		return fn(ctx, existing)
	}

	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Transaction is an undo log over the store
type Transaction struct {
	store *Store
	ctx   context.Context
	undo  []func()
	done  bool
}

// Commit keeps the writes and releases the transaction lock
func (t *Transaction) Commit() error {
	if t.done {
		return ErrTransactionDone
	}
	t.done = true
	t.undo = nil
	t.store.txMu.Unlock()
	return nil
}

// Rollback reverts every write made through the transaction, newest first
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true

	t.store.mu.Lock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.store.mu.Unlock()

	t.undo = nil
	t.store.txMu.Unlock()
	return nil
}

// Context returns the context carrying this transaction
func (t *Transaction) Context() context.Context {
	return t.ctx
}

func limitOf(n, total int) int {
	if n <= 0 || n > total {
		return total
	}
	return n
}
