// Package client implements the device-side sync engine: it watches a
// location source, reports positions over the WebSocket with an HTTP
// fallback, and maintains a local view of visible friends that survives
// disconnects and reconnects.
package client

import (
	"context"
	"sync"
	"time"

	"livemap/pkg/protocol"

	"go.uber.org/zap"
)

type State int

const (
	StateIdle State = iota
	StateConnected
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// EngineOptions tune reconnection and buffering.
type EngineOptions struct {
	// SendBufferSize bounds positions queued for delivery. The buffer
	// drops oldest first; only the most recent positions matter.
	SendBufferSize int
	// ReconnectInitialDelay is the first backoff step.
	ReconnectInitialDelay time.Duration
	// ReconnectMaxDelay caps the backoff. Attempts never stop.
	ReconnectMaxDelay time.Duration

	Watch WatchOptions
}

func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		SendBufferSize:        8,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     30 * time.Second,
		Watch:                 DefaultWatchOptions(),
	}
}

// Engine drives one device's presence session. Reporting and viewing
// are independent: SetSharing(false) stops the geolocation watch while
// the connection keeps receiving friend updates.
type Engine struct {
	transport Transport
	rest      *RESTClient
	source    LocationSource
	opts      EngineOptions
	logger    *zap.SugaredLogger

	onChange func(Changes)
	onState  func(State)

	mu        sync.Mutex
	state     State
	locations map[string]protocol.LocationUpdate
	sendBuf   []protocol.UpdateLocation

	// sendSignal wakes the send loop. Capacity one; a pending wake-up
	// covers any number of queued positions.
	sendSignal chan struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup

	watchMu     sync.Mutex
	runCtx      context.Context
	watchCancel context.CancelFunc
	watchWG     sync.WaitGroup
}

func NewEngine(transport Transport, rest *RESTClient, source LocationSource, opts EngineOptions, logger *zap.SugaredLogger) *Engine {
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 8
	}
	if opts.ReconnectInitialDelay <= 0 {
		opts.ReconnectInitialDelay = time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectInitialDelay {
		opts.ReconnectMaxDelay = 30 * time.Second
	}

	return &Engine{
		transport:  transport,
		rest:       rest,
		source:     source,
		opts:       opts,
		logger:     logger,
		state:      StateIdle,
		locations:  make(map[string]protocol.LocationUpdate),
		sendSignal: make(chan struct{}, 1),
	}
}

// OnChange registers the callback invoked whenever the set of visible
// locations changes. Must be set before Start.
func (e *Engine) OnChange(fn func(Changes)) {
	e.onChange = fn
}

// OnStateChange registers the callback invoked on connection state
// transitions. Must be set before Start.
func (e *Engine) OnStateChange(fn func(State)) {
	e.onState = fn
}

// Start begins watching positions and maintaining the connection.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	// Mark as running before the loops spawn so a concurrent second
	// Start cannot slip through.
	e.state = StateReconnecting
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.watchMu.Lock()
	e.runCtx = ctx
	err := e.startWatchLocked()
	e.watchMu.Unlock()
	if err != nil {
		cancel()
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
		return err
	}

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.sendLoop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.connectionLoop(ctx)
	}()
	return nil
}

// Stop tears the session down and waits for every loop to exit. The
// engine cannot be restarted.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.transport.Close()

	e.watchMu.Lock()
	e.watchWG.Wait()
	e.watchCancel = nil
	e.watchMu.Unlock()

	e.wg.Wait()
	e.setState(StateStopped)
}

// SetSharing starts or stops position reporting without touching the
// connection. Disabling cancels the geolocation watch synchronously and
// discards queued reports; friend updates keep arriving either way.
func (e *Engine) SetSharing(enabled bool) error {
	e.watchMu.Lock()
	defer e.watchMu.Unlock()

	if e.runCtx == nil || e.runCtx.Err() != nil {
		return ErrNotRunning
	}

	if !enabled {
		if e.watchCancel == nil {
			return nil
		}
		e.watchCancel()
		e.watchCancel = nil
		e.watchWG.Wait()

		// Positions captured before the switch flipped must not go out
		// later.
		e.mu.Lock()
		e.sendBuf = nil
		e.mu.Unlock()
		return nil
	}

	if e.watchCancel != nil {
		return nil
	}
	return e.startWatchLocked()
}

// startWatchLocked subscribes to the location source under its own
// cancelable context. Caller holds watchMu.
func (e *Engine) startWatchLocked() error {
	ctx, cancel := context.WithCancel(e.runCtx)
	positions, err := e.source.Watch(ctx, e.opts.Watch)
	if err != nil {
		cancel()
		return err
	}
	e.watchCancel = cancel

	e.watchWG.Add(1)
	go func() {
		defer e.watchWG.Done()
		e.watchLoop(ctx, positions)
	}()
	return nil
}

// Locations returns a copy of the current view.
func (e *Engine) Locations() map[string]protocol.LocationUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	view := make(map[string]protocol.LocationUpdate, len(e.locations))
	for k, v := range e.locations {
		view[k] = v
	}
	return view
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) watchLoop(ctx context.Context, positions <-chan Position) {
	for {
		select {
		case <-ctx.Done():
			return
		case pos, ok := <-positions:
			if !ok {
				return
			}
			e.enqueue(protocol.UpdateLocation{
				Latitude:       pos.Latitude,
				Longitude:      pos.Longitude,
				AccuracyMeters: pos.AccuracyMeters,
				CapturedAt:     pos.CapturedAt,
			})
		}
	}
}

// enqueue hands a position to the send loop. Never blocks; a full
// buffer drops the oldest report so a slow delivery cannot delay the
// next geolocation callback.
func (e *Engine) enqueue(update protocol.UpdateLocation) {
	e.mu.Lock()
	if len(e.sendBuf) >= e.opts.SendBufferSize {
		e.sendBuf = e.sendBuf[1:]
	}
	e.sendBuf = append(e.sendBuf, update)
	e.mu.Unlock()

	e.signalSend()
}

func (e *Engine) signalSend() {
	select {
	case e.sendSignal <- struct{}{}:
	default:
	}
}

// sendLoop owns delivery. Positions queue in the drop-oldest buffer and
// drain here, so the watch loop never waits on the network.
func (e *Engine) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.sendSignal:
		}
		e.drainSendBuffer(ctx)
	}
}

func (e *Engine) drainSendBuffer(ctx context.Context) {
	for ctx.Err() == nil {
		e.mu.Lock()
		if len(e.sendBuf) == 0 {
			e.mu.Unlock()
			return
		}
		update := e.sendBuf[0]
		e.sendBuf = e.sendBuf[1:]
		e.mu.Unlock()

		if e.deliver(ctx, update) {
			continue
		}

		// Both paths down. Requeue for the next reconnect, still bounded
		// and still dropping oldest first.
		e.mu.Lock()
		e.sendBuf = append([]protocol.UpdateLocation{update}, e.sendBuf...)
		if len(e.sendBuf) > e.opts.SendBufferSize {
			e.sendBuf = e.sendBuf[len(e.sendBuf)-e.opts.SendBufferSize:]
		}
		e.mu.Unlock()
		return
	}
}

// deliver sends one position over the WebSocket, falling back to HTTP
// when the socket is down.
func (e *Engine) deliver(ctx context.Context, update protocol.UpdateLocation) bool {
	if e.State() == StateConnected {
		env, err := protocol.NewEnvelope(protocol.TypeUpdateLocation, update)
		if err == nil && e.transport.Send(env) == nil {
			return true
		}
	}

	if e.rest != nil {
		if err := e.rest.UpdateLocation(ctx, update); err == nil {
			return true
		} else {
			e.logger.Debugw("rest fallback failed", "error", err)
		}
	}
	return false
}

func (e *Engine) connectionLoop(ctx context.Context) {
	delay := e.opts.ReconnectInitialDelay

	for {
		if ctx.Err() != nil {
			return
		}

		if err := e.transport.Connect(ctx); err != nil {
			e.logger.Debugw("connect failed", "error", err, "retry_in", delay)
			e.setState(StateReconnecting)
			e.catchUp(ctx)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > e.opts.ReconnectMaxDelay {
				delay = e.opts.ReconnectMaxDelay
			}
			continue
		}

		delay = e.opts.ReconnectInitialDelay
		e.setState(StateConnected)
		e.signalSend()

		// Blocks until the connection dies. The server pushes a full
		// snapshot right after the handshake, so reconciliation of
		// anything missed while away happens on the first message.
		e.readLoop(ctx)

		if ctx.Err() != nil {
			return
		}
		e.setState(StateReconnecting)
	}
}

// catchUp pulls the current view over HTTP while the socket is down so
// revocations and moves still reach the map during long outages.
func (e *Engine) catchUp(ctx context.Context) {
	if e.rest == nil {
		return
	}
	locations, err := e.rest.GetFriends(ctx)
	if err != nil {
		e.logger.Debugw("catch-up pull failed", "error", err)
		return
	}
	e.applySnapshot(locations)
}

func (e *Engine) readLoop(ctx context.Context) {
	for {
		env, err := e.transport.Receive()
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Debugw("receive failed", "error", err)
			}
			e.transport.Close()
			return
		}
		e.handleEnvelope(env)
	}
}

func (e *Engine) handleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeAllLocations:
		var all protocol.AllLocations
		if err := unmarshalPayload(env, &all); err != nil {
			e.logger.Debugw("malformed all_locations", "error", err)
			return
		}
		e.applySnapshot(all.Locations)

	case protocol.TypeLocationUpdate:
		var update protocol.LocationUpdate
		if err := unmarshalPayload(env, &update); err != nil {
			e.logger.Debugw("malformed location_update", "error", err)
			return
		}
		e.applyUpdate(update)

	case protocol.TypeError:
		var msg protocol.ErrorMessage
		if err := unmarshalPayload(env, &msg); err == nil {
			e.logger.Warnw("server reported error", "message", msg.Message)
		}

	default:
		e.logger.Debugw("unknown message type", "type", env.Type)
	}
}

// applySnapshot replaces the whole view. Owners missing from the
// snapshot are dropped; that is how a revocation performed while this
// client was offline becomes visible.
func (e *Engine) applySnapshot(locations []protocol.LocationUpdate) {
	updated := make(map[string]protocol.LocationUpdate, len(locations))
	for _, loc := range locations {
		updated[loc.OwnerID] = loc
	}

	e.mu.Lock()
	changes := Reconcile(e.locations, updated)
	e.locations = updated
	e.mu.Unlock()

	e.notify(changes)
}

// applyUpdate folds one pushed sample into the view. Out-of-order
// arrivals are ignored; the view only ever moves forward in capture
// time.
func (e *Engine) applyUpdate(update protocol.LocationUpdate) {
	var changes Changes

	e.mu.Lock()
	prev, seen := e.locations[update.OwnerID]
	switch {
	case !seen:
		e.locations[update.OwnerID] = update
		changes.Added = append(changes.Added, update)
	case update.CapturedAt.After(prev.CapturedAt):
		e.locations[update.OwnerID] = update
		changes.Updated = append(changes.Updated, update)
	}
	e.mu.Unlock()

	e.notify(changes)
}

func (e *Engine) notify(changes Changes) {
	if e.onChange != nil && !changes.Empty() {
		e.onChange(changes)
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == s || e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()

	if e.onState != nil {
		e.onState(s)
	}
}
