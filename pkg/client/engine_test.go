package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"livemap/pkg/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeTransport scripts the server side of the connection.
type fakeTransport struct {
	mu           sync.Mutex
	sent         []protocol.Envelope
	incoming     chan protocol.Envelope
	connected    bool
	connects     int
	failConnects int

	// sendGate, when set, stalls every Send until the channel closes.
	sendGate chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (t *fakeTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	if t.failConnects > 0 {
		t.failConnects--
		return errors.New("connection refused")
	}
	t.incoming = make(chan protocol.Envelope, 16)
	t.connected = true
	return nil
}

func (t *fakeTransport) Send(env protocol.Envelope) error {
	t.mu.Lock()
	gate := t.sendGate
	connected := t.connected
	t.mu.Unlock()

	if !connected {
		return errors.New("not connected")
	}
	if gate != nil {
		<-gate
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return errors.New("not connected")
	}
	t.sent = append(t.sent, env)
	return nil
}

func (t *fakeTransport) Receive() (protocol.Envelope, error) {
	t.mu.Lock()
	ch := t.incoming
	t.mu.Unlock()
	if ch == nil {
		return protocol.Envelope{}, errors.New("not connected")
	}

	env, ok := <-ch
	if !ok {
		return protocol.Envelope{}, errors.New("connection lost")
	}
	return env, nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		t.connected = false
		close(t.incoming)
	}
	return nil
}

// serverPush delivers an envelope as if the server sent it.
func (t *fakeTransport) serverPush(env protocol.Envelope) {
	t.mu.Lock()
	ch := t.incoming
	t.mu.Unlock()
	ch <- env
}

// dropConnection simulates the server side going away.
func (t *fakeTransport) dropConnection() {
	t.Close()
}

func (t *fakeTransport) sentMessages() []protocol.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]protocol.Envelope(nil), t.sent...)
}

func (t *fakeTransport) connectCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

type chanSource struct {
	ch chan Position
}

func (s *chanSource) Watch(ctx context.Context, opts WatchOptions) (<-chan Position, error) {
	return s.ch, nil
}

func testEngineOptions() EngineOptions {
	opts := DefaultEngineOptions()
	opts.ReconnectInitialDelay = 10 * time.Millisecond
	opts.ReconnectMaxDelay = 50 * time.Millisecond
	return opts
}

func newTestEngine(t *testing.T) (*Engine, *fakeTransport, *chanSource) {
	t.Helper()
	transport := newFakeTransport()
	source := &chanSource{ch: make(chan Position, 4)}
	engine := NewEngine(transport, nil, source, testEngineOptions(), zap.NewNop().Sugar())
	return engine, transport, source
}

func mustEnvelope(t *testing.T, msgType string, payload interface{}) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(msgType, payload)
	require.NoError(t, err)
	return env
}

func TestEngine_StartTwiceFails(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	assert.ErrorIs(t, engine.Start(context.Background()), ErrAlreadyStarted)
}

func TestEngine_AppliesServerSnapshot(t *testing.T) {
	engine, transport, _ := newTestEngine(t)

	changesCh := make(chan Changes, 4)
	engine.OnChange(func(c Changes) { changesCh <- c })

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	require.Eventually(t, func() bool {
		return engine.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	now := time.Now()
	transport.serverPush(mustEnvelope(t, protocol.TypeAllLocations, protocol.AllLocations{
		Locations: []protocol.LocationUpdate{
			{OwnerID: "alice", CapturedAt: now},
			{OwnerID: "bob", CapturedAt: now},
		},
	}))

	select {
	case changes := <-changesCh:
		assert.Len(t, changes.Added, 2)
	case <-time.After(time.Second):
		t.Fatal("snapshot never reached the change callback")
	}

	assert.Len(t, engine.Locations(), 2)
}

func TestEngine_IgnoresOutOfOrderUpdates(t *testing.T) {
	engine, transport, _ := newTestEngine(t)

	changesCh := make(chan Changes, 4)
	engine.OnChange(func(c Changes) { changesCh <- c })

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	require.Eventually(t, func() bool {
		return engine.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	base := time.Now()
	transport.serverPush(mustEnvelope(t, protocol.TypeLocationUpdate, protocol.LocationUpdate{
		OwnerID: "alice", Latitude: 1, CapturedAt: base,
	}))
	<-changesCh

	// An older push must not move the marker backwards.
	transport.serverPush(mustEnvelope(t, protocol.TypeLocationUpdate, protocol.LocationUpdate{
		OwnerID: "alice", Latitude: 99, CapturedAt: base.Add(-time.Minute),
	}))

	assert.Never(t, func() bool {
		return len(changesCh) > 0
	}, 100*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1.0, engine.Locations()["alice"].Latitude)
}

func TestEngine_ReportsPositions(t *testing.T) {
	engine, transport, source := newTestEngine(t)

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	require.Eventually(t, func() bool {
		return engine.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	source.ch <- Position{Latitude: 10, Longitude: 20, CapturedAt: time.Now()}

	require.Eventually(t, func() bool {
		return len(transport.sentMessages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, protocol.TypeUpdateLocation, transport.sentMessages()[0].Type)
}

func TestEngine_BuffersWhileOfflineAndFlushesOnConnect(t *testing.T) {
	transport := newFakeTransport()
	transport.failConnects = 3
	source := &chanSource{ch: make(chan Position, 4)}
	engine := NewEngine(transport, nil, source, testEngineOptions(), zap.NewNop().Sugar())

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	source.ch <- Position{Latitude: 1, CapturedAt: time.Now()}

	require.Eventually(t, func() bool {
		return engine.State() == StateConnected && len(transport.sentMessages()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_ReconnectsAfterDrop(t *testing.T) {
	engine, transport, _ := newTestEngine(t)

	var states []State
	var mu sync.Mutex
	engine.OnStateChange(func(s State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	require.Eventually(t, func() bool {
		return engine.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	transport.dropConnection()

	require.Eventually(t, func() bool {
		return transport.connectCount() >= 2 && engine.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateReconnecting)
}

func TestEngine_SetSharingStopsReportsButKeepsReceiving(t *testing.T) {
	engine, transport, source := newTestEngine(t)

	changesCh := make(chan Changes, 4)
	engine.OnChange(func(c Changes) { changesCh <- c })

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	require.Eventually(t, func() bool {
		return engine.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	source.ch <- Position{Latitude: 10, CapturedAt: time.Now()}
	require.Eventually(t, func() bool {
		return len(transport.sentMessages()) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, engine.SetSharing(false))

	// Positions produced while sharing is off never leave the device.
	source.ch <- Position{Latitude: 11, CapturedAt: time.Now()}
	assert.Never(t, func() bool {
		return len(transport.sentMessages()) > 1
	}, 100*time.Millisecond, 10*time.Millisecond)

	// The connection stays up: server pushes still land in the view.
	transport.serverPush(mustEnvelope(t, protocol.TypeLocationUpdate, protocol.LocationUpdate{
		OwnerID: "alice", Latitude: 1, CapturedAt: time.Now(),
	}))
	select {
	case changes := <-changesCh:
		require.Len(t, changes.Added, 1)
	case <-time.After(time.Second):
		t.Fatal("update never arrived while sharing was off")
	}

	// The stale position still sits in the source buffer; clear it so
	// the resumed watch starts clean.
	<-source.ch

	require.NoError(t, engine.SetSharing(true))
	source.ch <- Position{Latitude: 12, CapturedAt: time.Now()}
	require.Eventually(t, func() bool {
		return len(transport.sentMessages()) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_SetSharingRequiresRunningEngine(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	assert.ErrorIs(t, engine.SetSharing(false), ErrNotRunning)

	require.NoError(t, engine.Start(context.Background()))
	engine.Stop()
	assert.ErrorIs(t, engine.SetSharing(true), ErrNotRunning)
}

func TestEngine_SlowSendDoesNotBlockWatch(t *testing.T) {
	transport := newFakeTransport()
	transport.sendGate = make(chan struct{})
	source := &chanSource{ch: make(chan Position, 4)}
	engine := NewEngine(transport, nil, source, testEngineOptions(), zap.NewNop().Sugar())

	require.NoError(t, engine.Start(context.Background()))
	defer engine.Stop()

	require.Eventually(t, func() bool {
		return engine.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	base := time.Now()
	for i := 0; i < 3; i++ {
		source.ch <- Position{Latitude: float64(i), CapturedAt: base.Add(time.Duration(i) * time.Second)}
	}

	// The first send is stuck on the wire, yet the watch keeps draining
	// the source instead of backing up behind it.
	require.Eventually(t, func() bool {
		return len(source.ch) == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, transport.sentMessages())

	close(transport.sendGate)

	require.Eventually(t, func() bool {
		return len(transport.sentMessages()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_StopIsFinal(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	require.NoError(t, engine.Start(context.Background()))

	engine.Stop()
	assert.Equal(t, StateStopped, engine.State())
	assert.ErrorIs(t, engine.Start(context.Background()), ErrAlreadyStarted)
}
