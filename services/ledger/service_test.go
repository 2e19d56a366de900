package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arcturusdc/orbit/models"
	"github.com/arcturusdc/orbit/repositories"
	"github.com/arcturusdc/orbit/repositories/memory"
	"github.com/arcturusdc/orbit/services"
	"github.com/arcturusdc/orbit/services/integrity"
	"github.com/arcturusdc/orbit/services/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

type recordingProjector struct {
	mu     sync.Mutex
	events []*models.Event
	err    error
}

func (p *recordingProjector) ProjectEvent(ctx context.Context, event *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

type recordingHook struct {
	mu     sync.Mutex
	events []*models.Event
}

func (h *recordingHook) Submit(event *models.Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	return true
}

// conflictingEvents fails the first n inserts with a chain conflict
type conflictingEvents struct {
	repositories.EventRepository
	mu        sync.Mutex
	conflicts int
	inserts   int
}

func (c *conflictingEvents) Insert(ctx context.Context, event *models.Event) error {
	c.mu.Lock()
	c.inserts++
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return repositories.ErrChainConflict
	}
	c.mu.Unlock()
	return c.EventRepository.Insert(ctx, event)
}

type fixture struct {
	svc       *Service
	repos     *repositories.Repositories
	ring      *keyring.KeyRing
	projector *recordingProjector
	hook      *recordingHook
	key       *models.SigningKey
}

func newFixture(t *testing.T, events repositories.EventRepository) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	repos := store.NewRepositories()
	if events == nil {
		events = repos.Events
	}

	ring := keyring.NewKeyRing(repos.Organizations, repos.SigningKeys, store.TransactionManager(), nil, zap.NewNop())
	require.NoError(t, repos.Organizations.Upsert(ctx, models.NewOrganization("org_acme", "Acme")))
	key, err := ring.Rotate(ctx, "org_acme")
	require.NoError(t, err)

	f := &fixture{
		repos:     repos,
		ring:      ring,
		projector: &recordingProjector{},
		hook:      &recordingHook{},
		key:       key,
	}
	f.svc = NewService(events, ring, NewChainLocks(), f.projector, f.hook, Config{AppendRetries: 3}, zap.NewNop())
	return f
}

func grant(scope string) *models.Event {
	return &models.Event{
		EventType:     models.EventTypeConsentGranted,
		UserID:        "user_1",
		OrgID:         "org_acme",
		ConsentScope:  scope,
		ConsentStatus: models.ConsentStatusGranted,
	}
}

func usage() *models.Event {
	return &models.Event{
		EventType: models.EventTypeDataUsed,
		UserID:    "user_1",
		OrgID:     "org_acme",
		Scopes:    []string{"email"},
		Purpose:   "newsletter",
		Metadata:  map[string]any{"campaign": "spring"},
	}
}

func TestAppendEvent_FirstEventStartsChain(t *testing.T) {
	f := newFixture(t, nil)
	input := grant("marketing")

	stored, err := f.svc.AppendEvent(context.Background(), "org_acme", input)
	require.NoError(t, err)

	assert.Equal(t, int64(1), stored.BlockIndex)
	assert.Empty(t, stored.PreviousEventHash)
	assert.True(t, stored.IsChainStart())
	assert.Regexp(t, `^evt_`, stored.EventID)
	assert.Equal(t, f.key.KeyID, stored.SigningKeyID)
	assert.True(t, integrity.VerifyEventSignature(stored, []byte(f.key.Secret)))
	assert.True(t, integrity.VerifyEventHash(stored))
	assert.Equal(t, time.UTC, stored.Timestamp.Location())

	assert.Empty(t, input.EventID, "caller's event is left untouched")
	assert.Zero(t, input.BlockIndex)
	assert.Empty(t, input.Signature)
}

func TestAppendEvent_ChainIntegrity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	var appended []*models.Event
	for i := 0; i < 5; i++ {
		stored, err := f.svc.AppendEvent(ctx, "org_acme", usage())
		require.NoError(t, err)
		appended = append(appended, stored)
	}

	for i, event := range appended {
		assert.Equal(t, int64(i+1), event.BlockIndex)
		if i > 0 {
			assert.Equal(t, appended[i-1].EventHash, event.PreviousEventHash)
			assert.False(t, event.Timestamp.Before(appended[i-1].Timestamp))
		}
	}

	report, err := f.svc.VerifyChain(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Issues)
	assert.Equal(t, 5, report.Length)
	assert.Equal(t, appended[4].EventHash, report.HeadHash)
}

func TestAppendEvent_ChainsAreIndependentPerOrg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.repos.Organizations.Upsert(ctx, models.NewOrganization("org_beta", "Beta")))
	_, err := f.ring.Rotate(ctx, "org_beta")
	require.NoError(t, err)

	_, err = f.svc.AppendEvent(ctx, "org_acme", usage())
	require.NoError(t, err)

	other := usage()
	other.OrgID = "org_beta"
	stored, err := f.svc.AppendEvent(ctx, "org_beta", other)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.BlockIndex)
}

func TestAppendEvent_ConcurrentAppendsNeverFork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	const writers = 20

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AppendEvent(ctx, "org_acme", usage())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	chain, err := f.repos.Events.ListChain(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	require.Len(t, chain, writers)
	for i, event := range chain {
		assert.Equal(t, int64(i+1), event.BlockIndex)
		if i > 0 {
			assert.Equal(t, chain[i-1].EventHash, event.PreviousEventHash)
		}
	}
	assert.Zero(t, f.svc.locks.Len())
}

func TestAppendEvent_RetriesChainConflict(t *testing.T) {
	store := memory.NewStore()
	events := &conflictingEvents{EventRepository: store.NewRepositories().Events, conflicts: 2}
	f := newFixture(t, events)

	stored, err := f.svc.AppendEvent(context.Background(), "org_acme", usage())
	require.NoError(t, err)

	assert.Equal(t, 3, events.inserts)
	assert.True(t, integrity.VerifyEventHash(stored))
	assert.True(t, integrity.VerifyEventSignature(stored, []byte(f.key.Secret)))
}

func TestAppendEvent_ChainRaceAfterRetries(t *testing.T) {
	store := memory.NewStore()
	events := &conflictingEvents{EventRepository: store.NewRepositories().Events, conflicts: 10}
	f := newFixture(t, events)

	_, err := f.svc.AppendEvent(context.Background(), "org_acme", usage())

	require.Error(t, err)
	assert.True(t, services.IsChainRaceError(err))
	assert.ErrorIs(t, err, repositories.ErrChainConflict)
	assert.Equal(t, 4, events.inserts)
	assert.Equal(t, 4, services.GetErrorDetails(err)["attempts"])
	assert.Empty(t, f.hook.events)
}

func TestAppendEvent_DuplicateEventIDIsConflict(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := usage()
	first.EventID = "evt_client_1"
	_, err := f.svc.AppendEvent(ctx, "org_acme", first)
	require.NoError(t, err)

	again := usage()
	again.EventID = "evt_client_1"
	_, err = f.svc.AppendEvent(ctx, "org_acme", again)

	require.Error(t, err)
	assert.True(t, services.IsConflictError(err))
	assert.False(t, services.IsInternalError(err))
	assert.ErrorIs(t, err, repositories.ErrDuplicateEvent)
	assert.Equal(t, "evt_client_1", services.GetErrorDetails(err)["eventId"])
	assert.Len(t, f.hook.events, 1)

	latest, err := f.repos.Events.GetLatestForChain(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.BlockIndex)
}

func TestAppendEvent_ValidationFailsBeforeStoreAccess(t *testing.T) {
	f := newFixture(t, nil)
	event := grant("")

	_, err := f.svc.AppendEvent(context.Background(), "org_acme", event)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing required fields: consentScope")
	latest, _ := f.repos.Events.GetLatestForChain(context.Background(), "user_1", "org_acme")
	assert.Nil(t, latest)
}

func TestAppendEvent_UnknownOrgIsUnauthorized(t *testing.T) {
	f := newFixture(t, nil)
	event := usage()
	event.OrgID = "org_ghost"

	_, err := f.svc.AppendEvent(context.Background(), "org_ghost", event)

	assert.True(t, services.IsUnauthorizedError(err))
}

func TestAppendEvent_OrgMismatch(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.AppendEvent(context.Background(), "org_other", usage())

	assert.True(t, services.IsForbiddenError(err))
}

func TestAppendEvent_SerializationError(t *testing.T) {
	f := newFixture(t, nil)
	event := usage()
	event.Metadata = map[string]any{"bad": make(chan int)}

	_, err := f.svc.AppendEvent(context.Background(), "org_acme", event)

	assert.True(t, services.IsSerializationError(err))
}

func TestAppendEvent_ProjectionFailureIsSwallowed(t *testing.T) {
	f := newFixture(t, nil)
	f.projector.err = errors.New("projection store down")

	stored, err := f.svc.AppendEvent(context.Background(), "org_acme", grant("marketing"))

	require.NoError(t, err)
	require.Len(t, f.projector.events, 1)
	assert.Equal(t, stored.EventID, f.projector.events[0].EventID)
	require.Len(t, f.hook.events, 1)
}

func TestAppendEvent_NonConsentEventsSkipProjection(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.AppendEvent(context.Background(), "org_acme", usage())

	require.NoError(t, err)
	assert.Empty(t, f.projector.events)
	assert.Len(t, f.hook.events, 1)
}

func TestAppendEvent_OldSignaturesSurviveRotation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.svc.AppendEvent(ctx, "org_acme", usage())
	require.NoError(t, err)

	rotated, err := f.ring.Rotate(ctx, "org_acme")
	require.NoError(t, err)

	second, err := f.svc.AppendEvent(ctx, "org_acme", usage())
	require.NoError(t, err)
	assert.Equal(t, rotated.KeyID, second.SigningKeyID)
	assert.NotEqual(t, first.SigningKeyID, second.SigningKeyID)

	report, err := f.svc.VerifyChain(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	assert.True(t, report.Valid, report.Issues)
}

func TestAppendEvent_TimestampsNeverRunBackwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return clock }

	first, err := f.svc.AppendEvent(ctx, "org_acme", usage())
	require.NoError(t, err)

	clock = clock.Add(-time.Hour)
	second, err := f.svc.AppendEvent(ctx, "org_acme", usage())
	require.NoError(t, err)

	assert.Equal(t, first.Timestamp, second.Timestamp)
}

func TestQueryEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.AppendEvent(ctx, "org_acme", grant("marketing"))
	require.NoError(t, err)
	_, err = f.svc.AppendEvent(ctx, "org_acme", usage())
	require.NoError(t, err)

	all, err := f.svc.QueryEvents(ctx, "user_1", repositories.EventFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.EventTypeDataUsed, all[0].EventType)

	grants, err := f.svc.QueryEvents(ctx, "user_1", repositories.EventFilter{OrgID: "org_acme", EventType: models.EventTypeConsentGranted})
	require.NoError(t, err)
	require.Len(t, grants, 1)

	none, err := f.svc.QueryEvents(ctx, "user_1", repositories.EventFilter{OrgID: "org_other"})
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.svc.QueryEvents(ctx, "user_1", repositories.EventFilter{EventType: "NOPE"})
	assert.True(t, services.IsValidationError(err))

	_, err = f.svc.QueryEvents(ctx, "", repositories.EventFilter{})
	assert.True(t, services.IsValidationError(err))

	_, err = f.svc.QueryEvents(ctx, "user_1", repositories.EventFilter{Limit: -1})
	assert.True(t, services.IsValidationError(err))
}

func TestGetLatestEventForChainAndGetEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	empty, err := f.svc.GetLatestEventForChain(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	assert.Nil(t, empty)

	stored, err := f.svc.AppendEvent(ctx, "org_acme", usage())
	require.NoError(t, err)

	latest, err := f.svc.GetLatestEventForChain(ctx, "user_1", "org_acme")
	require.NoError(t, err)
	assert.Equal(t, stored.EventID, latest.EventID)

	got, err := f.svc.GetEvent(ctx, stored.EventID)
	require.NoError(t, err)
	assert.Equal(t, stored.EventHash, got.EventHash)

	_, err = f.svc.GetEvent(ctx, "evt_missing")
	assert.True(t, services.IsNotFoundError(err))
}

func TestAppendEvent_RecordsSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	f := newFixture(t, nil)
	stored, err := f.svc.AppendEvent(context.Background(), "org_acme", usage())
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ledger.AppendEvent", spans[0].Name)

	attrs := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	assert.Equal(t, stored.EventID, attrs["orbit.event_id"].AsString())
	assert.Equal(t, int64(1), attrs["orbit.block_index"].AsInt64())
}
