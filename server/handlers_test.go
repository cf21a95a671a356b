package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundroom/core/room"
	"soundroom/core/session"
	"soundroom/model"
)

type fakeCatalog struct {
	tracks []model.Track
	err    error
}

func (f *fakeCatalog) Search(ctx context.Context, query string, limit int) ([]model.Track, error) {
	return f.tracks, f.err
}

func (f *fakeCatalog) Popular(ctx context.Context, limit int) ([]model.Track, error) {
	return f.tracks, f.err
}

func newTestHandler() *APIHandler {
	return &APIHandler{
		hub:      room.NewHub(),
		registry: session.NewRegistry(session.DefaultLimits),
		catalog:  &fakeCatalog{},
	}
}

func TestHealthHandler(t *testing.T) {
	h := newTestHandler()
	rec := httptest.NewRecorder()

	h.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","rooms":0,"users":0}`, rec.Body.String())
}

func TestStatsHandlerCountsRooms(t *testing.T) {
	h := newTestHandler()
	_, err := h.registry.Create("u1", "alice", time.Now())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.StatsHandler(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rooms":1,"users":1,"connections":0}`, rec.Body.String())
}

func TestSearchHandlerRequiresQuery(t *testing.T) {
	h := newTestHandler()
	rec := httptest.NewRecorder()

	h.SearchHandler(rec, httptest.NewRequest(http.MethodGet, "/api/search", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchHandlerReturnsTracks(t *testing.T) {
	h := newTestHandler()
	h.catalog = &fakeCatalog{tracks: []model.Track{{ID: "t1", Title: "Song"}}}

	rec := httptest.NewRecorder()
	h.SearchHandler(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=song", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"t1"`)
}

func TestSearchHandlerUpstreamFailure(t *testing.T) {
	h := newTestHandler()
	h.catalog = &fakeCatalog{err: errors.New("upstream down")}

	rec := httptest.NewRecorder()
	h.SearchHandler(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=song", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRoomSummaryHandler(t *testing.T) {
	h := newTestHandler()
	sess, err := h.registry.Create("u1", "alice", time.Now())
	require.NoError(t, err)

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/rooms/"+sess.Code(), nil),
		map[string]string{"code": sess.Code()})
	rec := httptest.NewRecorder()
	h.RoomSummaryHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), sess.Code())
	assert.Contains(t, rec.Body.String(), `"memberCount":1`)
}

func TestRoomSummaryHandlerUnknownRoom(t *testing.T) {
	h := newTestHandler()

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/rooms/ZZZZZZ", nil),
		map[string]string{"code": "ZZZZZZ"})
	rec := httptest.NewRecorder()
	h.RoomSummaryHandler(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomHistoryHandlerWithoutStore(t *testing.T) {
	h := newTestHandler()

	req := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/api/rooms/ABC123/history", nil),
		map[string]string{"code": "ABC123"})
	rec := httptest.NewRecorder()
	h.RoomHistoryHandler(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestArtworkHandlerWithoutStorage(t *testing.T) {
	h := newTestHandler()
	rec := httptest.NewRecorder()

	h.ArtworkHandler(rec, httptest.NewRequest(http.MethodGet, "/artwork/covers/a.jpg", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
