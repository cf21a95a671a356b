package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"soundroom/cache"
	"soundroom/core/session"
	"soundroom/logger"
	"soundroom/model"
	"soundroom/repository"
)

// Router is the server-side event router. Every inbound event follows the
// same path: resolve the connection's binding, validate the payload, apply
// the room mutation, fan the result out. A rejected action is local and
// non-fatal; it never tears down the connection, the binding or the room.
type Router struct {
	registry *session.Registry
	hub      *Hub
	bindings *BindingTable
	store    repository.Store // nil disables persistence
	presence *cache.Presence  // nil disables the redis presence mirror

	now func() time.Time
}

// NewRouter wires the router into the hub's disconnect path. store and
// presence may be nil; both are best-effort side channels.
func NewRouter(registry *session.Registry, hub *Hub, bindings *BindingTable, store repository.Store, presence *cache.Presence) *Router {
	r := &Router{
		registry: registry,
		hub:      hub,
		bindings: bindings,
		store:    store,
		presence: presence,
		now:      time.Now,
	}
	hub.OnDisconnect = r.handleDisconnect
	return r
}

// HandleEvent dispatches one inbound client event.
func (r *Router) HandleEvent(ctx context.Context, c *Client, evt *ClientEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic handling event",
				logger.String("event", string(evt.Type)),
				logger.String("conn", c.ID),
				logger.Any("panic", rec))
			c.SendEvent(EvtActionError, ErrorData{Message: "internal error"})
		}
	}()

	switch evt.Type {
	case EvtCreateRoom:
		r.handleCreateRoom(ctx, c, evt.Data)
	case EvtJoinRoom:
		r.handleJoinRoom(ctx, c, evt.Data)
	case EvtSendMessage:
		r.handleSendMessage(ctx, c, evt.Data)
	case EvtTypingStart:
		r.handleTyping(c, true)
	case EvtTypingStop:
		r.handleTyping(c, false)
	case EvtTrackUpdate:
		r.handleTrackUpdate(ctx, c, evt.Data)
	case EvtPlaybackState:
		r.handlePlaybackState(ctx, c, evt.Data)
	case EvtRequestSync:
		r.handleRequestSync(c)
	case EvtGetRoomInfo:
		r.handleGetRoomInfo(c)
	case EvtPong:
		r.handlePong(ctx, c)
	default:
		logger.Debug("ignoring unknown event",
			logger.String("event", string(evt.Type)),
			logger.String("conn", c.ID))
	}
}

// ========== room lifecycle ==========

func (r *Router) handleCreateRoom(ctx context.Context, c *Client, data json.RawMessage) {
	var payload CreateRoomData
	if err := json.Unmarshal(data, &payload); err != nil {
		c.SendEvent(EvtRoomError, ErrorData{Message: "invalid create-room payload"})
		return
	}
	if err := payload.Validate(); err != nil {
		c.SendEvent(EvtRoomError, ErrorData{Message: err.Error()})
		return
	}

	memberID := payload.UserID
	if memberID == "" {
		memberID = uuid.NewString()
	}

	now := r.now()
	sess, err := r.registry.Create(memberID, payload.UserName, now)
	if err != nil {
		logger.Error("room creation failed", logger.ErrorField(err))
		c.SendEvent(EvtRoomError, ErrorData{Message: "could not create room"})
		return
	}

	// The new room exists; only now is the connection's previous binding
	// released. A rejected create leaves the old room untouched.
	r.detach(ctx, c, true)

	r.bindings.Bind(c.ID, Binding{
		RoomCode:    sess.Code(),
		MemberID:    memberID,
		DisplayName: payload.UserName,
		JoinedAt:    now,
		LastPingAt:  now,
	})
	r.hub.JoinRoom(c, sess.Code())

	snap := sess.Snapshot()
	user, _ := sess.Member(memberID)
	c.SendEvent(EvtRoomCreated, RoomCreatedData{
		Success: true,
		RoomID:  sess.Code(),
		Room:    snap,
		User:    user,
	})

	logger.Info("room created",
		logger.String("room", sess.Code()),
		logger.String("member", memberID),
		logger.String("name", payload.UserName))

	r.persist("save room", func(ctx context.Context) error {
		if err := r.store.SaveRoom(ctx, &model.RoomRecord{
			Code:      sess.Code(),
			HostName:  payload.UserName,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
		return r.store.SaveMember(ctx, &model.RoomMemberRecord{
			RoomCode: sess.Code(),
			MemberID: memberID,
			Name:     payload.UserName,
			JoinedAt: now,
		})
	})
}

func (r *Router) handleJoinRoom(ctx context.Context, c *Client, data json.RawMessage) {
	var payload JoinRoomData
	if err := json.Unmarshal(data, &payload); err != nil {
		c.SendEvent(EvtRoomError, ErrorData{Message: "invalid join-room payload"})
		return
	}
	if err := payload.Validate(); err != nil {
		c.SendEvent(EvtRoomError, ErrorData{Message: err.Error()})
		return
	}

	sess, ok := r.registry.Get(payload.RoomID)
	if !ok {
		c.SendEvent(EvtRoomError, ErrorData{Message: "room not found"})
		return
	}

	memberID := payload.UserID
	if memberID == "" {
		memberID = uuid.NewString()
	}

	now := r.now()
	user, err := sess.AddMember(memberID, payload.UserName, now)
	if errors.Is(err, session.ErrMemberTaken) {
		// The supplied identity is already a member (another live connection
		// owns it); mint a fresh one rather than hijacking it.
		memberID = uuid.NewString()
		user, err = sess.AddMember(memberID, payload.UserName, now)
	}
	if err != nil {
		c.SendEvent(EvtRoomError, ErrorData{Message: "room is full"})
		return
	}

	// Membership is committed; only now is the connection's previous binding
	// released. A rejected join leaves the old room untouched.
	r.detach(ctx, c, true)

	r.bindings.Bind(c.ID, Binding{
		RoomCode:    sess.Code(),
		MemberID:    memberID,
		DisplayName: payload.UserName,
		JoinedAt:    now,
		LastPingAt:  now,
	})
	r.hub.JoinRoom(c, sess.Code())

	snap := sess.Snapshot()
	c.SendEvent(EvtRoomJoined, RoomJoinedData{Room: snap, User: user})

	r.hub.BroadcastEvent(sess.Code(), EvtUserJoined, UserJoinedData{
		User:    user,
		Room:    snap,
		Message: fmt.Sprintf("%s joined the room", user.Name),
	}, c.ID)

	// The newcomer gets an already-extrapolated clock so it can line up
	// immediately instead of starting from a stale snapshot.
	r.sendLiveClock(c, sess)

	logger.Info("member joined",
		logger.String("room", sess.Code()),
		logger.String("member", memberID),
		logger.String("name", payload.UserName))

	r.persist("save member", func(ctx context.Context) error {
		return r.store.SaveMember(ctx, &model.RoomMemberRecord{
			RoomCode: sess.Code(),
			MemberID: memberID,
			Name:     payload.UserName,
			JoinedAt: now,
		})
	})
}

// ========== chat ==========

func (r *Router) handleSendMessage(ctx context.Context, c *Client, data json.RawMessage) {
	binding, sess, ok := r.resolve(c, EvtMessageError)
	if !ok {
		return
	}

	var payload SendMessageData
	if err := json.Unmarshal(data, &payload); err != nil {
		c.SendEvent(EvtMessageError, ErrorData{Message: "invalid message payload"})
		return
	}
	if err := payload.Validate(); err != nil {
		c.SendEvent(EvtMessageError, ErrorData{Message: err.Error()})
		return
	}

	// Sending a message implicitly stops typing; the updated indicator goes
	// out before the message itself.
	sess.SetTyping(binding.MemberID, false)
	r.hub.BroadcastEvent(sess.Code(), EvtUserTyping, UserTypingData{
		TypingUsers: sess.TypingNames(),
	}, c.ID)

	msg, err := sess.PostMessage(binding.MemberID, payload.Message, payload.Type, r.now())
	if err != nil {
		c.SendEvent(EvtMessageError, ErrorData{Message: "not a member of this room"})
		return
	}

	// Whole room, sender included.
	r.hub.BroadcastEvent(sess.Code(), EvtNewMessage, NewMessageData{
		ChatMessage: msg,
		RoomID:      sess.Code(),
	}, "")

	r.persist("save message", func(ctx context.Context) error {
		return r.store.SaveMessage(ctx, &model.RoomMessageRecord{
			ID:        msg.ID,
			RoomCode:  sess.Code(),
			MemberID:  msg.UserID,
			Name:      msg.UserName,
			Body:      msg.Message,
			Kind:      msg.Type,
			CreatedAt: time.UnixMilli(msg.Timestamp),
		})
	})
}

func (r *Router) handleTyping(c *Client, isTyping bool) {
	binding, sess, ok := r.resolve(c, EvtActionError)
	if !ok {
		return
	}

	sess.SetTyping(binding.MemberID, isTyping)
	r.hub.BroadcastEvent(sess.Code(), EvtUserTyping, UserTypingData{
		TypingUsers: sess.TypingNames(),
	}, c.ID)
}

// ========== playback ==========

func (r *Router) handleTrackUpdate(ctx context.Context, c *Client, data json.RawMessage) {
	binding, sess, ok := r.resolve(c, EvtActionError)
	if !ok {
		return
	}

	var payload TrackUpdateData
	if err := json.Unmarshal(data, &payload); err != nil {
		c.SendEvent(EvtActionError, ErrorData{Message: "invalid track payload"})
		return
	}
	if err := payload.Validate(); err != nil {
		c.SendEvent(EvtActionError, ErrorData{Message: err.Error()})
		return
	}

	clk, err := sess.UpdateTrack(binding.MemberID, payload.Track, r.now())
	if err != nil {
		c.SendEvent(EvtActionError, ErrorData{Message: "only the host can change the track"})
		return
	}

	r.hub.BroadcastEvent(sess.Code(), EvtTrackChanged, TrackChangedData{
		Track:     payload.Track,
		Timestamp: clk.Timestamp,
		ChangedBy: binding.DisplayName,
		IsPlaying: clk.IsPlaying,
		Position:  clk.Position,
	}, c.ID)

	logger.Info("track changed",
		logger.String("room", sess.Code()),
		logger.String("track", payload.Track.ID),
		logger.String("by", binding.MemberID))

	r.persistPlayback(sess.Code(), binding.MemberID, clk)
}

func (r *Router) handlePlaybackState(ctx context.Context, c *Client, data json.RawMessage) {
	binding, sess, ok := r.resolve(c, EvtActionError)
	if !ok {
		return
	}

	var payload PlaybackStateData
	if err := json.Unmarshal(data, &payload); err != nil {
		c.SendEvent(EvtActionError, ErrorData{Message: "invalid playback payload"})
		return
	}

	clk, err := sess.UpdatePlayback(binding.MemberID, payload.IsPlaying, payload.Position, r.now())
	if err != nil {
		c.SendEvent(EvtActionError, ErrorData{Message: "only the host can control playback"})
		return
	}

	r.hub.BroadcastEvent(sess.Code(), EvtPlaybackSync, PlaybackSyncData{
		IsPlaying:    clk.IsPlaying,
		Position:     clk.Position,
		Timestamp:    clk.Timestamp,
		TrackID:      clk.TrackID,
		ControlledBy: binding.DisplayName,
	}, c.ID)

	r.persistPlayback(sess.Code(), binding.MemberID, clk)
}

func (r *Router) handleRequestSync(c *Client) {
	_, sess, ok := r.resolve(c, EvtActionError)
	if !ok {
		return
	}
	r.sendLiveClock(c, sess)
}

func (r *Router) handleGetRoomInfo(c *Client) {
	_, sess, ok := r.resolve(c, EvtActionError)
	if !ok {
		return
	}
	c.SendEvent(EvtRoomInfo, sess.Snapshot())
}

// ========== liveness ==========

func (r *Router) handlePong(ctx context.Context, c *Client) {
	now := r.now()
	r.bindings.Touch(c.ID, now)

	binding, ok := r.bindings.Lookup(c.ID)
	if !ok {
		return
	}
	if sess, ok := r.registry.Get(binding.RoomCode); ok {
		sess.MarkSeen(binding.MemberID, now)
	}
	if r.presence != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.presence.Update(ctx, binding.RoomCode, binding.MemberID); err != nil {
				logger.Warn("presence update failed",
					logger.ErrorField(err),
					logger.String("room", binding.RoomCode))
			}
		}()
	}
}

// ========== disconnect / leave ==========

// handleDisconnect runs from the hub before the dying connection is dropped.
func (r *Router) handleDisconnect(c *Client) {
	r.detach(context.Background(), c, false)
}

// detach removes the connection's member from its current room, broadcasting
// user-left and any host change, and destroys the room when it empties.
// leaveHub also unsubscribes the still-live connection from room fan-out.
func (r *Router) detach(ctx context.Context, c *Client, leaveHub bool) {
	binding, ok := r.bindings.Unbind(c.ID)
	if !ok {
		return
	}
	if leaveHub {
		r.hub.LeaveRoom(c, binding.RoomCode)
	}

	sess, ok := r.registry.Get(binding.RoomCode)
	if !ok {
		return
	}

	now := r.now()
	res := sess.RemoveMember(binding.MemberID, now)
	if !res.WasMember {
		return
	}

	logger.Info("member left",
		logger.String("room", binding.RoomCode),
		logger.String("member", binding.MemberID),
		logger.Bool("empty", res.Empty))

	if res.Empty {
		r.registry.DestroyIfEmpty(binding.RoomCode)
		r.persist("close room", func(ctx context.Context) error {
			if err := r.store.MarkMemberLeft(ctx, binding.RoomCode, binding.MemberID, now); err != nil {
				return err
			}
			return r.store.CloseRoom(ctx, binding.RoomCode, now)
		})
		if r.presence != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				r.presence.ClearRoom(ctx, binding.RoomCode)
			}()
		}
		return
	}

	snap := sess.Snapshot()
	r.hub.BroadcastEvent(binding.RoomCode, EvtUserLeft, UserLeftData{
		UserID:   binding.MemberID,
		UserName: res.Removed.Name,
		Room:     snap,
		Message:  fmt.Sprintf("%s left the room", res.Removed.Name),
	}, c.ID)

	if res.HostChanged {
		r.hub.BroadcastEvent(binding.RoomCode, EvtHostChanged, HostChangedData{
			NewHostID:   res.NewHostID,
			NewHostName: res.NewHostName,
			Room:        snap,
			Message:     fmt.Sprintf("%s is now the host", res.NewHostName),
		}, c.ID)
	}

	r.persist("mark member left", func(ctx context.Context) error {
		return r.store.MarkMemberLeft(ctx, binding.RoomCode, binding.MemberID, now)
	})
	if r.presence != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			r.presence.Remove(ctx, binding.RoomCode, binding.MemberID)
		}()
	}
}

// ========== helpers ==========

// resolve looks up the connection's binding and room, reporting failures to
// the sender via the given error event. Absence of a binding is a hard
// rejection for every action except create-room and join-room.
func (r *Router) resolve(c *Client, errEvent EventType) (Binding, *session.Session, bool) {
	binding, ok := r.bindings.Lookup(c.ID)
	if !ok {
		c.SendEvent(errEvent, ErrorData{Message: "not in a room"})
		return Binding{}, nil, false
	}
	sess, ok := r.registry.Get(binding.RoomCode)
	if !ok {
		c.SendEvent(errEvent, ErrorData{Message: "room no longer exists"})
		return Binding{}, nil, false
	}
	return binding, sess, true
}

func (r *Router) sendLiveClock(c *Client, sess *session.Session) {
	live := sess.LiveClock(r.now())
	_, hostName := sess.Host()
	c.SendEvent(EvtPlaybackSync, PlaybackSyncData{
		IsPlaying:    live.IsPlaying,
		Position:     live.Position,
		Timestamp:    live.Timestamp,
		TrackID:      live.TrackID,
		ControlledBy: hostName,
	})
}

func (r *Router) persistPlayback(roomCode, memberID string, clk model.PlaybackClock) {
	r.persist("save playback", func(ctx context.Context) error {
		return r.store.SavePlayback(ctx, &model.PlaybackStateRecord{
			RoomCode:  roomCode,
			TrackID:   clk.TrackID,
			IsPlaying: clk.IsPlaying,
			Position:  clk.Position,
			Timestamp: clk.Timestamp,
			UpdatedBy: memberID,
		})
	})
}

// persist runs a store write in the background. Failures are logged and
// swallowed: the live room is authoritative and an already-broadcast state
// is never rolled back for a storage error.
func (r *Router) persist(what string, fn func(ctx context.Context) error) {
	if r.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			logger.Warn("persistence write failed",
				logger.String("op", what),
				logger.ErrorField(err))
		}
	}()
}
