package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/ports"
	"livemap/internal/core/services"
	"livemap/pkg/protocol"
	"livemap/pkg/validation"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebSocketServer is the presence edge: it authenticates the handshake,
// registers the connection, feeds inbound position reports to the
// dispatcher and answers snapshot pulls. All pushes to the client go
// through the registry, never through the raw connection.
type WebSocketServer struct {
	auth      services.AuthService
	registry  ports.PresenceRegistry
	dispatch  ports.DispatchService
	locations ports.LocationService

	upgrader websocket.Upgrader

	pingInterval time.Duration
	pongTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	sendBufferSize    int
	messagesPerSecond float64
	messageBurst      int

	logger *zap.SugaredLogger
}

type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	SendBufferSize    int
	MessagesPerSecond float64
	MessageBurst      int

	AllowedOrigins []string
}

func NewWebSocketServer(
	auth services.AuthService,
	registry ports.PresenceRegistry,
	dispatch ports.DispatchService,
	locations ports.LocationService,
	opts Options,
	logger *zap.SugaredLogger,
) *WebSocketServer {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.PongTimeout <= 0 {
		opts.PongTimeout = 60 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = 16
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 5
	}
	if opts.MessageBurst <= 0 {
		opts.MessageBurst = 10
	}

	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, origin := range opts.AllowedOrigins {
		allowed[origin] = struct{}{}
	}

	return &WebSocketServer{
		auth:      auth,
		registry:  registry,
		dispatch:  dispatch,
		locations: locations,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				if _, ok := allowed["*"]; ok {
					return true
				}
				_, ok := allowed[r.Header.Get("Origin")]
				return ok
			},
		},
		pingInterval:      opts.PingInterval,
		pongTimeout:       opts.PongTimeout,
		readTimeout:       opts.ReadTimeout,
		writeTimeout:      opts.WriteTimeout,
		sendBufferSize:    opts.SendBufferSize,
		messagesPerSecond: opts.MessagesPerSecond,
		messageBurst:      opts.MessageBurst,
		logger:            logger,
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	userID := claims.UserID

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	pusher := newConnPusher(conn, s.sendBufferSize, s.writeTimeout, s.logger)
	connID := s.registry.Register(userID, pusher)
	s.logger.Infow("user connected", "user_id", userID, "connection_id", connID)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	// Initial snapshot so the client renders the map before the first
	// live update arrives.
	if err := s.sendSnapshot(r.Context(), userID, connID); err != nil {
		s.logger.Infow("initial snapshot failed", "user_id", userID, "error", err)
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	limiter := rate.NewLimiter(rate.Limit(s.messagesPerSecond), s.messageBurst)

	messageChan := make(chan protocol.Envelope, 10)
	errorChan := make(chan error, 1)
	// Closed when the handler returns so the reader can never stay
	// blocked on a full messageChan after the main loop is gone.
	readerDone := make(chan struct{})
	defer close(readerDone)

	go func() {
		for {
			var env protocol.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				select {
				case errorChan <- err:
				case <-readerDone:
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.readTimeout))
			select {
			case messageChan <- env:
			case <-readerDone:
				return
			}
		}
	}()

	for {
		select {
		case env := <-messageChan:
			if !limiter.Allow() {
				s.sendErrorMessage(connID, "rate limit exceeded")
				continue
			}
			if err := s.handleMessage(r.Context(), userID, connID, env); err != nil {
				s.logger.Infow("error handling message",
					"user_id", userID,
					"type", env.Type,
					"error", err,
				)
				s.sendErrorMessage(connID, err.Error())
			}

		case <-pingTicker.C:
			if err := pusher.ping(); err != nil {
				s.logger.Debugw("ping failed", "user_id", userID, "error", err)
				goto cleanup
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Infow("websocket read failed", "user_id", userID, "error", err)
			}
			goto cleanup
		}
	}

cleanup:
	s.registry.Unregister(connID)
	s.logger.Infow("user disconnected", "user_id", userID, "connection_id", connID)
}

// authenticate accepts the bearer token from the Authorization header or,
// for browser clients that cannot set headers on WebSocket handshakes,
// from the token query parameter.
func (s *WebSocketServer) authenticate(r *http.Request) (*services.Claims, error) {
	token := ""
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && auth[:7] == "Bearer " {
		token = auth[7:]
	}
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, services.ErrInvalidToken
	}
	return s.auth.ValidateToken(token)
}

func (s *WebSocketServer) handleMessage(ctx context.Context, userID domain.UserID, connID domain.ConnectionID, env protocol.Envelope) error {
	switch env.Type {
	case protocol.TypeUpdateLocation:
		return s.handleUpdateLocation(ctx, userID, env.Payload)
	case protocol.TypeRequestLocations:
		return s.sendSnapshot(ctx, userID, connID)
	default:
		return fmt.Errorf("unknown message type: %s", env.Type)
	}
}

func (s *WebSocketServer) handleUpdateLocation(ctx context.Context, userID domain.UserID, payload json.RawMessage) error {
	var msg protocol.UpdateLocation
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("invalid update_location payload: %w", err)
	}

	if err := validation.ValidateCoordinates(msg.Latitude, msg.Longitude); err != nil {
		return err
	}
	if err := validation.ValidateAccuracy(msg.AccuracyMeters); err != nil {
		return err
	}
	if msg.CapturedAt.IsZero() {
		msg.CapturedAt = time.Now()
	} else if err := validation.ValidateCapturedAt(msg.CapturedAt, time.Now()); err != nil {
		return err
	}

	sample := domain.LocationSample{
		UserID:         userID,
		Latitude:       msg.Latitude,
		Longitude:      msg.Longitude,
		AccuracyMeters: msg.AccuracyMeters,
		CapturedAt:     msg.CapturedAt,
	}
	return s.dispatch.Dispatch(ctx, sample)
}

func (s *WebSocketServer) sendSnapshot(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) error {
	samples, err := s.locations.SamplesForViewer(ctx, userID)
	if err != nil {
		return err
	}

	all := protocol.AllLocations{Locations: make([]protocol.LocationUpdate, 0, len(samples))}
	for _, vs := range samples {
		all.Locations = append(all.Locations, protocol.LocationUpdate{
			OwnerID:        string(vs.UserID),
			OwnerName:      vs.OwnerName,
			OwnerAvatar:    vs.OwnerAvatar,
			Latitude:       vs.Latitude,
			Longitude:      vs.Longitude,
			AccuracyMeters: vs.AccuracyMeters,
			CapturedAt:     vs.CapturedAt,
			IsStale:        vs.IsStale,
		})
	}

	env, err := protocol.NewEnvelope(protocol.TypeAllLocations, all)
	if err != nil {
		return err
	}
	return s.registry.Push(connID, env)
}

func (s *WebSocketServer) sendErrorMessage(connID domain.ConnectionID, message string) {
	env, err := protocol.NewEnvelope(protocol.TypeError, protocol.ErrorMessage{Message: message})
	if err != nil {
		return
	}
	if err := s.registry.Push(connID, env); err != nil {
		s.logger.Debugw("failed to send error message", "connection_id", connID, "error", err)
	}
}

// HealthCheck reports liveness and the current connection count.
func (s *WebSocketServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"connections": s.registry.Count(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
