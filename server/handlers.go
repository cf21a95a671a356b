package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"soundroom/cache"
	"soundroom/catalog"
	"soundroom/config"
	"soundroom/core/room"
	"soundroom/core/session"
	"soundroom/logger"
	"soundroom/repository"
	"soundroom/storage"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// APIHandler carries the dependencies the HTTP endpoints need.
type APIHandler struct {
	cfg      *config.Config
	hub      *room.Hub
	router   *room.Router
	registry *session.Registry
	catalog  catalog.Client
	artwork  *storage.ArtworkStore // nil when object storage is unavailable
	store    repository.Store      // nil when mysql is unavailable
	presence *cache.Presence       // nil when redis is unavailable
}

// WebSocketHandler upgrades the connection and starts the read/write pumps.
// All room interaction happens over the resulting event stream.
func (h *APIHandler) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}

	client := room.NewClient(h.hub, conn)
	h.hub.Register(client)

	// The request context dies when this handler returns; the pumps live for
	// the connection's lifetime instead.
	go client.WritePump()
	go client.ReadPump(context.Background(), h.router.HandleEvent)
}

// HealthHandler answers liveness probes with a summary of live state.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rooms, users := h.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"rooms":  rooms,
		"users":  users,
	})
}

// StatsHandler reports live room and connection counts.
func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, users := h.registry.Stats()
	writeJSON(w, http.StatusOK, map[string]int{
		"rooms":       rooms,
		"users":       users,
		"connections": h.hub.ClientCount(),
	})
}

// SearchHandler proxies a catalog search for the room host picking a track.
func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		http.Error(w, "missing query parameter q", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	tracks, err := h.catalog.Search(r.Context(), query, limit)
	if err != nil {
		logger.Error("catalog search failed",
			logger.ErrorField(err),
			logger.String("query", query))
		http.Error(w, "catalog search failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
}

// PopularHandler returns the default track listing for an empty search box.
func (h *APIHandler) PopularHandler(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	tracks, err := h.catalog.Popular(r.Context(), limit)
	if err != nil {
		logger.Error("catalog popular failed", logger.ErrorField(err))
		http.Error(w, "catalog lookup failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
}

// RoomSummaryHandler reports a room's live membership along with the
// heartbeat-fresh count from the presence mirror.
func (h *APIHandler) RoomSummaryHandler(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(mux.Vars(r)["code"])

	sess, ok := h.registry.Get(code)
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}

	summary := map[string]interface{}{
		"roomId":      sess.Code(),
		"memberCount": sess.MemberCount(),
	}
	if h.presence != nil {
		if active, err := h.presence.ActiveCount(r.Context(), code); err == nil {
			summary["activeOnline"] = active
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

// RoomHistoryHandler returns the persisted chat transcript for a room, most
// recent messages, oldest first. Works for closed rooms too.
func (h *APIHandler) RoomHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		http.Error(w, "history storage not available", http.StatusServiceUnavailable)
		return
	}

	code := strings.ToUpper(mux.Vars(r)["code"])
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	messages, err := h.store.RecentMessages(r.Context(), code, limit)
	if err != nil {
		logger.Error("history lookup failed",
			logger.ErrorField(err),
			logger.String("room", code))
		http.Error(w, "history lookup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// ArtworkHandler streams cached artwork from object storage.
func (h *APIHandler) ArtworkHandler(w http.ResponseWriter, r *http.Request) {
	if h.artwork == nil {
		http.Error(w, "artwork storage not available", http.StatusServiceUnavailable)
		return
	}

	objectName := strings.TrimPrefix(r.URL.Path, "/artwork/")
	if objectName == "" || strings.Contains(objectName, "..") {
		http.Error(w, "invalid object name", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	obj, contentType, size, err := h.artwork.Get(ctx, objectName)
	if err != nil {
		http.Error(w, "artwork not found", http.StatusNotFound)
		return
	}
	defer obj.Close()

	if contentType == "" {
		contentType = "image/jpeg"
	}
	w.Header().Set("Content-Type", contentType)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000")

	if _, err := io.Copy(w, obj); err != nil {
		logger.Warn("artwork stream interrupted", logger.ErrorField(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}
