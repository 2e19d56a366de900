package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/repositories/memory"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/consent"
	"github.com/arcturusdc/orbit/services/integrity"
	"github.com/arcturusdc/orbit/services/keyring"
	"github.com/arcturusdc/orbit/services/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	snapshots *Service
	ledger    *ledger.Service
	consent   *consent.Service
	repos     *repositories.Repositories
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.NewRepositories()

	ring := keyring.NewKeyRing(repos.Organizations, repos.SigningKeys, store.TransactionManager(), nil, zap.NewNop())
	require.NoError(t, repos.Organizations.Upsert(ctx, models.NewOrganization("org_acme", "Acme")))
	_, err := ring.Rotate(ctx, "org_acme")
	require.NoError(t, err)

	locks := ledger.NewChainLocks()
	consentSvc := consent.NewService(repos.Consents, zap.NewNop())
	ledgerSvc := ledger.NewService(repos.Events, ring, locks, consentSvc, nil, ledger.Config{AppendRetries: 2}, zap.NewNop())

	return &fixture{
		snapshots: NewService(repos.Snapshots, store.TransactionManager(), ledgerSvc, locks, zap.NewNop()),
		ledger:    ledgerSvc,
		consent:   consentSvc,
		repos:     repos,
	}
}

func profile(data string) CreateRequest {
	return CreateRequest{UserID: "user_1", Data: json.RawMessage(data), Scopes: []string{"email"}}
}

func TestCreateSnapshot_VersionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var results []*CreateResult
	for _, data := range []string{`{"email":"a@x.io"}`, `{"email":"b@x.io"}`, `{"email":"c@x.io"}`} {
		result, err := f.snapshots.CreateSnapshot(ctx, "org_acme", profile(data))
		require.NoError(t, err)
		results = append(results, result)
	}

	assert.Equal(t, []int{1, 2, 3}, []int{results[0].Version, results[1].Version, results[2].Version})
	assert.Equal(t, "org_acme_v1", results[0].SnapshotID)
	assert.Equal(t, "org_acme_v2", results[1].SnapshotID)
	assert.Equal(t, "org_acme_v3", results[2].SnapshotID)
	assert.Equal(t, models.EventTypeProfileRegistered, results[0].Event.EventType)
	assert.Equal(t, models.EventTypeProfileUpdated, results[1].Event.EventType)
	assert.Equal(t, models.EventTypeProfileUpdated, results[2].Event.EventType)

	for _, result := range results {
		snap, err := f.snapshots.GetSnapshot(ctx, result.SnapshotPointer)
		require.NoError(t, err)

		recomputed, err := integrity.HashSnapshot(snap.Data)
		require.NoError(t, err)
		assert.Equal(t, result.SnapshotHash, recomputed)
		assert.True(t, VerifySnapshot(snap))

		assert.Equal(t, result.SnapshotPointer, result.Event.SnapshotPointer)
		assert.Equal(t, result.SnapshotHash, result.Event.SnapshotHash)
		assert.Equal(t, integrity.Algorithm, result.Event.HashAlgorithm)
	}

	latest, err := f.snapshots.GetLatestSnapshot(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
}

func TestCreateSnapshot_HashIgnoresKeyOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.snapshots.CreateSnapshot(ctx, "org_acme", profile(`{"a":1,"b":{"c":2,"d":3}}`))
	require.NoError(t, err)
	second, err := f.snapshots.CreateSnapshot(ctx, "org_acme", profile(`{"b":{"d":3,"c":2},"a":1}`))
	require.NoError(t, err)

	assert.Equal(t, first.SnapshotHash, second.SnapshotHash)
	assert.NotEqual(t, first.SnapshotID, second.SnapshotID)
}

func TestCreateSnapshot_EndToEndWithConsent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	registered, err := f.snapshots.CreateSnapshot(ctx, "org_acme", profile(`{"email":"u@x.io"}`))
	require.NoError(t, err)
	assert.Equal(t, models.EventTypeProfileRegistered, registered.Event.EventType)
	assert.Equal(t, int64(1), registered.Event.BlockIndex)
	assert.Empty(t, registered.Event.PreviousEventHash)

	granted, err := f.ledger.AppendEvent(ctx, "org_acme", &models.Event{
		EventType:     models.EventTypeConsentGranted,
		UserID:        "user_1",
		OrgID:         "org_acme",
		ConsentScope:  "marketing",
		ConsentStatus: models.ConsentStatusGranted,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), granted.BlockIndex)
	assert.Equal(t, registered.Event.EventHash, granted.PreviousEventHash)

	states, err := f.consent.GetConsentState(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, "marketing", states[0].Scope)
	assert.Equal(t, models.ConsentStatusGranted, states[0].Status)
}

func TestCreateSnapshot_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.snapshots.CreateSnapshot(context.Background(), "org_acme", CreateRequest{UserID: "user_1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing required fields: data, scopes")

	_, err = f.snapshots.CreateSnapshot(context.Background(), "org_acme", profile(`{"broken":`))
	assert.True(t, services.IsSerializationError(err))

	latest, _ := f.repos.Snapshots.GetLatest(context.Background(), "user_1", "org_acme")
	assert.Nil(t, latest)
}

func TestCreateSnapshot_CompanionEventFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.NewRepositories()
	svc := NewService(repos.Snapshots, store.TransactionManager(), failingAppender{}, nil, zap.NewNop())

	_, err := svc.CreateSnapshot(ctx, "org_acme", profile(`{}`))
	require.Error(t, err)

	stored, err := repos.Snapshots.GetLatest(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	assert.Nil(t, stored)

	// The next successful write is still version 1
	ok := NewService(repos.Snapshots, store.TransactionManager(), &recordingAppender{}, nil, zap.NewNop())
	result, err := ok.CreateSnapshot(ctx, "org_acme", profile(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Version)
	assert.Equal(t, models.EventTypeProfileRegistered, result.Event.EventType)
}

func TestCreateSnapshot_WithoutTransactionKeepsOrphanVersion(t *testing.T) {
	ctx := context.Background()
	repos := memory.NewStore().NewRepositories()
	svc := NewService(repos.Snapshots, nil, failingAppender{}, nil, zap.NewNop())

	_, err := svc.CreateSnapshot(ctx, "org_acme", profile(`{}`))
	require.Error(t, err)

	stored, err := repos.Snapshots.GetLatest(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 1, stored.Version)
}

type recordingAppender struct {
	events []*models.Event
}

func (a *recordingAppender) AppendEvent(ctx context.Context, orgID string, event *models.Event) (*models.Event, error) {
	a.events = append(a.events, event)
	return event, nil
}

type failingAppender struct{}

func (failingAppender) AppendEvent(ctx context.Context, orgID string, event *models.Event) (*models.Event, error) {
	return nil, errors.New("ledger unavailable")
}

type conflictingSnapshots struct {
	repositories.SnapshotRepository
}

func (conflictingSnapshots) Insert(ctx context.Context, snapshot *models.Snapshot) error {
	return repositories.ErrVersionConflict
}

func TestCreateSnapshot_VersionConflict(t *testing.T) {
	repos := memory.NewStore().NewRepositories()
	svc := NewService(conflictingSnapshots{repos.Snapshots}, nil, failingAppender{}, nil, zap.NewNop())

	_, err := svc.CreateSnapshot(context.Background(), "org_acme", profile(`{}`))

	assert.True(t, services.IsConflictError(err))
}

func TestGetSnapshot_PointerErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.snapshots.GetSnapshot(context.Background(), "not-a-pointer")
	assert.True(t, services.IsValidationError(err))

	_, err = f.snapshots.GetSnapshot(context.Background(), models.SnapshotPointer("user_1", "org_acme_v9"))
	assert.True(t, services.IsNotFoundError(err))

	_, err = f.snapshots.GetLatestSnapshot(context.Background(), "user_1", "org_acme")
	assert.True(t, services.IsNotFoundError(err))
}
