package services

import (
	"errors"
	"sync"
	"testing"

	"livemap/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type capturePusher struct {
	mu       sync.Mutex
	messages []interface{}
	closed   bool
	failPush bool
}

func (p *capturePusher) Push(message interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failPush {
		return errors.New("write failed")
	}
	p.messages = append(p.messages, message)
	return nil
}

func (p *capturePusher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *capturePusher) received() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]interface{}(nil), p.messages...)
}

func (p *capturePusher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func newTestRegistry() *PresenceRegistry {
	return NewPresenceRegistry(zap.NewNop().Sugar())
}

func TestPresenceRegistry_RegisterAndPush(t *testing.T) {
	registry := newTestRegistry()
	pusher := &capturePusher{}

	connID := registry.Register("alice", pusher)
	assert.NotEmpty(t, connID)
	assert.Equal(t, 1, registry.Count())

	err := registry.Push(connID, "hello")
	assert.NoError(t, err)
	assert.Equal(t, []interface{}{"hello"}, pusher.received())
}

func TestPresenceRegistry_MultipleDevices(t *testing.T) {
	registry := newTestRegistry()

	phone := &capturePusher{}
	laptop := &capturePusher{}
	connPhone := registry.Register("alice", phone)
	connLaptop := registry.Register("alice", laptop)

	conns := registry.ConnectionsFor("alice")
	assert.Len(t, conns, 2)
	assert.ElementsMatch(t, []domain.ConnectionID{connPhone, connLaptop}, conns)

	registry.Unregister(connPhone)
	assert.Equal(t, []domain.ConnectionID{connLaptop}, registry.ConnectionsFor("alice"))
}

func TestPresenceRegistry_UnregisterClosesPusher(t *testing.T) {
	registry := newTestRegistry()
	pusher := &capturePusher{}

	connID := registry.Register("alice", pusher)
	registry.Unregister(connID)

	assert.True(t, pusher.isClosed())
	assert.Equal(t, 0, registry.Count())
	assert.Empty(t, registry.ConnectionsFor("alice"))
}

func TestPresenceRegistry_UnregisterIsIdempotent(t *testing.T) {
	registry := newTestRegistry()
	pusher := &capturePusher{}

	connID := registry.Register("alice", pusher)
	registry.Unregister(connID)
	registry.Unregister(connID)
	registry.Unregister("conn_never_existed")

	assert.Equal(t, 0, registry.Count())
}

func TestPresenceRegistry_PushAfterUnregisterFails(t *testing.T) {
	registry := newTestRegistry()
	pusher := &capturePusher{}

	connID := registry.Register("alice", pusher)
	registry.Unregister(connID)

	err := registry.Push(connID, "late")
	assert.ErrorIs(t, err, domain.ErrConnectionNotFound)
	assert.Empty(t, pusher.received())
}

func TestPresenceRegistry_ConcurrentChurn(t *testing.T) {
	registry := newTestRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			connID := registry.Register("alice", &capturePusher{})
			registry.Push(connID, "msg")
			registry.Unregister(connID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, registry.Count())
	assert.Empty(t, registry.ConnectionsFor("alice"))
}
