package client

import (
	"encoding/json"
	"errors"

	"livemap/pkg/protocol"
)

// ErrAlreadyStarted is returned by Start on a running or stopped engine.
var ErrAlreadyStarted = errors.New("engine already started")

// ErrNotRunning is returned by SetSharing on an idle or stopped engine.
var ErrNotRunning = errors.New("engine not running")

func unmarshalPayload(env protocol.Envelope, out interface{}) error {
	return json.Unmarshal(env.Payload, out)
}
