package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/infrastructure/repositories/memory"
	"livemap/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingMetrics struct {
	mu           sync.Mutex
	dispatches   int
	pushes       int
	failures     int
	staleSamples int
}

func (m *recordingMetrics) RecordDispatch(viewers, pushes, failures int, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches++
	m.pushes += pushes
	m.failures += failures
}

func (m *recordingMetrics) RecordStaleSample() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleSamples++
}

type dispatchFixture struct {
	consent   *memory.MemoryConsentRepository
	locations *memory.MemoryLocationRepository
	service   *DispatchService
	registry  *PresenceRegistry
	metrics   *recordingMetrics
	ctx       context.Context
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	consent := memory.NewMemoryConsentRepository().(*memory.MemoryConsentRepository)
	locations := memory.NewMemoryLocationRepository().(*memory.MemoryLocationRepository)
	directory := memory.NewMemoryUserDirectory()
	registry := newTestRegistry()
	metrics := &recordingMetrics{}

	return &dispatchFixture{
		consent:   consent,
		locations: locations,
		registry:  registry,
		metrics:   metrics,
		service:   NewDispatchService(consent, locations, directory, registry, metrics, zap.NewNop().Sugar()),
		ctx:       context.Background(),
	}
}

func (f *dispatchFixture) share(t *testing.T, owner, viewer domain.UserID) {
	t.Helper()
	require.NoError(t, f.consent.Grant(f.ctx, owner, viewer))
	require.NoError(t, f.consent.SetSharing(f.ctx, owner, true))
}

func sampleAt(owner domain.UserID, capturedAt time.Time) domain.LocationSample {
	return domain.LocationSample{
		UserID:         owner,
		Latitude:       52.52,
		Longitude:      13.405,
		AccuracyMeters: 12,
		CapturedAt:     capturedAt,
	}
}

func decodeUpdate(t *testing.T, message interface{}) protocol.LocationUpdate {
	t.Helper()
	env, ok := message.(protocol.Envelope)
	require.True(t, ok, "expected a protocol envelope, got %T", message)
	require.Equal(t, protocol.TypeLocationUpdate, env.Type)

	var update protocol.LocationUpdate
	require.NoError(t, json.Unmarshal(env.Payload, &update))
	return update
}

func TestDispatch_PushesToAuthorizedViewer(t *testing.T) {
	f := newDispatchFixture(t)
	f.share(t, "alice", "bob")

	bob := &capturePusher{}
	f.registry.Register("bob", bob)

	err := f.service.Dispatch(f.ctx, sampleAt("alice", time.Now()))
	require.NoError(t, err)

	received := bob.received()
	require.Len(t, received, 1)
	update := decodeUpdate(t, received[0])
	assert.Equal(t, "alice", update.OwnerID)
	assert.Equal(t, 52.52, update.Latitude)
}

func TestDispatch_RevokedViewerReceivesNothing(t *testing.T) {
	f := newDispatchFixture(t)
	f.share(t, "alice", "bob")

	bob := &capturePusher{}
	f.registry.Register("bob", bob)

	base := time.Now()
	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", base)))
	require.Len(t, bob.received(), 1)

	require.NoError(t, f.consent.Revoke(f.ctx, "alice", "bob"))

	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", base.Add(time.Second))))
	assert.Len(t, bob.received(), 1, "no update may arrive after revocation")
}

func TestDispatch_SharingDisabledSuppressesFanOut(t *testing.T) {
	f := newDispatchFixture(t)
	f.share(t, "alice", "bob")

	bob := &capturePusher{}
	f.registry.Register("bob", bob)

	require.NoError(t, f.consent.SetSharing(f.ctx, "alice", false))
	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", time.Now())))

	assert.Empty(t, bob.received())
}

func TestDispatch_SharingDisabledSampleIsNotPersisted(t *testing.T) {
	f := newDispatchFixture(t)
	f.share(t, "alice", "bob")
	require.NoError(t, f.consent.SetSharing(f.ctx, "alice", false))

	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", time.Now())))

	// The report from the disabled period leaves no trace.
	_, err := f.locations.GetSample(f.ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrSampleNotFound)

	// Re-enabling must not surface a position captured while off.
	require.NoError(t, f.consent.SetSharing(f.ctx, "alice", true))
	_, err = f.locations.GetSample(f.ctx, "alice")
	assert.ErrorIs(t, err, domain.ErrSampleNotFound)

	// Reports after re-enabling flow normally.
	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", time.Now())))
	stored, err := f.locations.GetSample(f.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.UserID("alice"), stored.UserID)
}

func TestDispatch_OutOfOrderSampleDroppedSilently(t *testing.T) {
	f := newDispatchFixture(t)
	f.share(t, "alice", "bob")

	bob := &capturePusher{}
	f.registry.Register("bob", bob)

	base := time.Now()
	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", base)))

	// Same and older capture times are both rejected, without error.
	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", base)))
	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", base.Add(-time.Minute))))

	assert.Len(t, bob.received(), 1)
	assert.Equal(t, 2, f.metrics.staleSamples)
}

func TestDispatch_FansOutToAllDevices(t *testing.T) {
	f := newDispatchFixture(t)
	f.share(t, "alice", "bob")
	f.share(t, "alice", "carol")

	bobPhone := &capturePusher{}
	bobLaptop := &capturePusher{}
	carol := &capturePusher{}
	f.registry.Register("bob", bobPhone)
	f.registry.Register("bob", bobLaptop)
	f.registry.Register("carol", carol)

	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", time.Now())))

	assert.Len(t, bobPhone.received(), 1)
	assert.Len(t, bobLaptop.received(), 1)
	assert.Len(t, carol.received(), 1)
}

func TestDispatch_PushFailureDropsConnectionOnly(t *testing.T) {
	f := newDispatchFixture(t)
	f.share(t, "alice", "bob")
	f.share(t, "alice", "carol")

	bob := &capturePusher{failPush: true}
	carol := &capturePusher{}
	f.registry.Register("bob", bob)
	f.registry.Register("carol", carol)

	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", time.Now())))

	// Failed connection gets unregistered and closed; the other viewer
	// still receives the update.
	assert.True(t, bob.isClosed())
	assert.Equal(t, 1, f.registry.Count())
	assert.Len(t, carol.received(), 1)
	assert.Equal(t, 1, f.metrics.failures)
}

func TestDispatch_OwnerWithoutViewersSucceeds(t *testing.T) {
	f := newDispatchFixture(t)
	require.NoError(t, f.consent.SetSharing(f.ctx, "alice", true))

	err := f.service.Dispatch(f.ctx, sampleAt("alice", time.Now()))
	assert.NoError(t, err)
}

func TestDispatch_OfflineViewerIsNotAFailure(t *testing.T) {
	f := newDispatchFixture(t)
	f.share(t, "alice", "bob")

	// Bob has no live connection; the sample must still be stored.
	require.NoError(t, f.service.Dispatch(f.ctx, sampleAt("alice", time.Now())))
	assert.Equal(t, 1, f.metrics.dispatches)
	assert.Equal(t, 0, f.metrics.failures)
}
