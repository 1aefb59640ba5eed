package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"livemap/internal/core/domain"
	"livemap/internal/core/services"
	"livemap/internal/infrastructure/middleware"
	"livemap/internal/infrastructure/repositories/memory"
	applogger "livemap/pkg/logger"
	"livemap/pkg/protocol"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type handlerFixture struct {
	router  *gin.Engine
	consent *memory.MemoryConsentRepository
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zap.NewNop().Sugar()
	consent := memory.NewMemoryConsentRepository().(*memory.MemoryConsentRepository)
	locations := memory.NewMemoryLocationRepository()
	directory := memory.NewMemoryUserDirectory()
	registry := services.NewPresenceRegistry(log)

	dispatch := services.NewDispatchService(consent, locations, directory, registry, nil, log)
	locationSvc := services.NewLocationService(consent, locations, directory, 5*time.Minute, log)
	consentSvc := services.NewConsentService(consent, log)

	handler := NewLocationHandler(dispatch, locationSvc, consentSvc)

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(applogger.NewContextLogger(zap.NewNop())))

	api := router.Group("/api/v1")
	// Stand-in for the JWT middleware: identity from a plain header.
	api.Use(func(c *gin.Context) {
		c.Set("user_id", domain.UserID(c.GetHeader("X-Test-User")))
	})
	handler.SetupRoutes(api)

	return &handlerFixture{router: router, consent: consent}
}

func (f *handlerFixture) do(t *testing.T, method, path, user string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer = bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestUpdateLocation_AcceptsReport(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/location/update", "alice", map[string]interface{}{
		"latitude":        52.52,
		"longitude":       13.405,
		"accuracy_meters": 10,
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateLocation_RejectsBadCoordinates(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/location/update", "alice", map[string]interface{}{
		"latitude":  123.0,
		"longitude": 13.405,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateLocation_StaleReportIsSilentSuccess(t *testing.T) {
	f := newHandlerFixture(t)

	capturedAt := time.Now().Add(-time.Minute)
	first := f.do(t, http.MethodPost, "/api/v1/location/update", "alice", map[string]interface{}{
		"latitude":    52.52,
		"longitude":   13.405,
		"captured_at": capturedAt.Format(time.RFC3339Nano),
	})
	require.Equal(t, http.StatusOK, first.Code)

	older := f.do(t, http.MethodPost, "/api/v1/location/update", "alice", map[string]interface{}{
		"latitude":    1.0,
		"longitude":   1.0,
		"captured_at": capturedAt.Add(-time.Minute).Format(time.RFC3339Nano),
	})
	assert.Equal(t, http.StatusOK, older.Code)
}

func TestConsentFlow_ShareToggleAndFriends(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	// alice shares with bob and flips the switch on.
	w := f.do(t, http.MethodPost, "/api/v1/location/share-with", "alice", map[string]string{"user_id": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodPost, "/api/v1/location/toggle", "alice", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)

	ok, err := f.consent.IsAuthorized(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)

	// alice reports a position; bob sees it on a pull.
	w = f.do(t, http.MethodPost, "/api/v1/location/update", "alice", map[string]interface{}{
		"latitude":  52.52,
		"longitude": 13.405,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/location/friends", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Locations []protocol.LocationUpdate `json:"locations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Locations, 1)
	assert.Equal(t, "alice", resp.Locations[0].OwnerID)

	// Revoked: the next pull is empty.
	w = f.do(t, http.MethodPost, "/api/v1/location/stop-sharing-with", "alice", map[string]string{"user_id": "bob"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/location/friends", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp.Locations = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Locations)
}

func TestShareWith_RejectsSelf(t *testing.T) {
	f := newHandlerFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/location/share-with", "alice", map[string]string{"user_id": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMySharing_ReflectsAudience(t *testing.T) {
	f := newHandlerFixture(t)

	f.do(t, http.MethodPost, "/api/v1/location/share-with", "alice", map[string]string{"user_id": "bob"})
	f.do(t, http.MethodPost, "/api/v1/location/toggle", "alice", map[string]bool{"enabled": true})

	w := f.do(t, http.MethodGet, "/api/v1/location/my-sharing", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var overview domain.SharingOverview
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overview))
	assert.True(t, overview.State.Enabled)
	require.Len(t, overview.Audience, 1)
	assert.Equal(t, domain.UserID("bob"), overview.Audience[0].ID)
}
