package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"livemap/pkg/protocol"
	"livemap/pkg/retry"
)

// RESTClient is the HTTP fallback for position reports and the access
// path for consent management. Reports go through the same dispatcher
// server-side as WebSocket reports.
type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retryCfg   retry.Config
}

func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryCfg: retry.DefaultConfig(),
	}
}

// UpdateLocation reports a position over HTTP with retry. Used when the
// WebSocket is down so a moving user stays visible during reconnects.
func (c *RESTClient) UpdateLocation(ctx context.Context, update protocol.UpdateLocation) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		return c.post(ctx, "/api/v1/location/update", update, nil)
	})
}

// GetFriends pulls the full set of visible locations. Used for catch-up
// after reconnecting.
func (c *RESTClient) GetFriends(ctx context.Context) ([]protocol.LocationUpdate, error) {
	var resp struct {
		Locations []protocol.LocationUpdate `json:"locations"`
	}
	if err := c.get(ctx, "/api/v1/location/friends", &resp); err != nil {
		return nil, err
	}
	return resp.Locations, nil
}

func (c *RESTClient) ToggleSharing(ctx context.Context, enabled bool) error {
	body := map[string]bool{"enabled": enabled}
	return c.post(ctx, "/api/v1/location/toggle", body, nil)
}

func (c *RESTClient) ShareWith(ctx context.Context, userID string) error {
	body := map[string]string{"user_id": userID}
	return c.post(ctx, "/api/v1/location/share-with", body, nil)
}

func (c *RESTClient) StopSharingWith(ctx context.Context, userID string) error {
	body := map[string]string{"user_id": userID}
	return c.post(ctx, "/api/v1/location/stop-sharing-with", body, nil)
}

func (c *RESTClient) MySharing(ctx context.Context, out interface{}) error {
	return c.get(ctx, "/api/v1/location/my-sharing", out)
}

func (c *RESTClient) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

func (c *RESTClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *RESTClient) do(req *http.Request, out interface{}) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, data)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
