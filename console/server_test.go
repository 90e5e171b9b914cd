package console

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxgate/voxgate/model"
	"github.com/voxgate/voxgate/storage/storagetest"
)

func TestSessionListing(t *testing.T) {
	store := storagetest.Open(t, model.NewManualClock(time.Time{}))
	require.NoError(t, store.CreateSession(&model.Session{
		Address:   "+54321",
		CallID:    "CA123",
		From:      "+12345",
		To:        "+54321",
		Status:    model.CallInProgress,
		Direction: model.OutboundAPI,
	}))

	server, err := NewServer(store, "", zerolog.Nop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "CA123")
	assert.Contains(t, rec.Body.String(), "in-progress")

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var sessions []*model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "CA123", sessions[0].CallID)
}

func TestEmptySessionListing(t *testing.T) {
	store := storagetest.Open(t, model.NewManualClock(time.Time{}))

	server, err := NewServer(store, "", zerolog.Nop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no live sessions")
}
