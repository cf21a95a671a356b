// Package room implements the real-time layer: the WebSocket hub and client
// pumps, the connection-to-member binding table, the wire event types, and
// the server-side event router that authorizes and applies room mutations.
package room

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"soundroom/model"
)

// EventType names one wire event. Client-to-server and server-to-client
// events form two closed sets; payloads are validated where the event is
// constructed, not inside business logic.
type EventType string

// Client -> server events.
const (
	EvtCreateRoom    EventType = "create-room"
	EvtJoinRoom      EventType = "join-room"
	EvtSendMessage   EventType = "send-message"
	EvtTypingStart   EventType = "typing-start"
	EvtTypingStop    EventType = "typing-stop"
	EvtTrackUpdate   EventType = "track-update"
	EvtPlaybackState EventType = "playback-state"
	EvtRequestSync   EventType = "request-sync"
	EvtGetRoomInfo   EventType = "get-room-info"
	EvtPong          EventType = "pong"
)

// Server -> client events.
const (
	EvtRoomCreated  EventType = "room-created"
	EvtRoomJoined   EventType = "room-joined"
	EvtRoomError    EventType = "room-error"
	EvtUserJoined   EventType = "user-joined"
	EvtUserLeft     EventType = "user-left"
	EvtHostChanged  EventType = "host-changed"
	EvtNewMessage   EventType = "new-message"
	EvtMessageError EventType = "message-error"
	EvtTrackChanged EventType = "track-changed"
	EvtPlaybackSync EventType = "playback-sync"
	EvtActionError  EventType = "action-error"
	EvtUserTyping   EventType = "user-typing"
	EvtRoomInfo     EventType = "room-info"
	EvtPing         EventType = "ping"
)

// ClientEvent is the inbound wire envelope.
type ClientEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerEvent is the outbound wire envelope.
type ServerEvent struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// EncodeServerEvent marshals a payload into a stamped outbound envelope.
func EncodeServerEvent(t EventType, payload interface{}) ([]byte, error) {
	evt := ServerEvent{Type: t, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		evt.Data = data
	}
	return json.Marshal(evt)
}

// ========== client -> server payloads ==========

// CreateRoomData carries a create-room request.
type CreateRoomData struct {
	UserName string `json:"userName"`
	UserID   string `json:"userId,omitempty"`
}

// Validate normalizes and bounds-checks the payload.
func (d *CreateRoomData) Validate() error {
	d.UserName = strings.TrimSpace(d.UserName)
	if n := utf8.RuneCountInString(d.UserName); n < model.NameMinLen || n > model.NameMaxLen {
		return fmt.Errorf("user name must be %d-%d characters", model.NameMinLen, model.NameMaxLen)
	}
	return nil
}

// JoinRoomData carries a join-room request.
type JoinRoomData struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
	UserID   string `json:"userId,omitempty"`
}

// Validate normalizes the room code and bounds-checks the payload.
func (d *JoinRoomData) Validate() error {
	d.RoomID = strings.ToUpper(strings.TrimSpace(d.RoomID))
	if len(d.RoomID) != model.RoomCodeLen {
		return fmt.Errorf("room code must be %d characters", model.RoomCodeLen)
	}
	d.UserName = strings.TrimSpace(d.UserName)
	if n := utf8.RuneCountInString(d.UserName); n < model.NameMinLen || n > model.NameMaxLen {
		return fmt.Errorf("user name must be %d-%d characters", model.NameMinLen, model.NameMaxLen)
	}
	return nil
}

// SendMessageData carries a chat message.
type SendMessageData struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"` // text (default) or system
}

// Validate bounds-checks the message body and kind. Length bounds count
// runes, not bytes, so multi-byte text gets the full advertised budget.
func (d *SendMessageData) Validate() error {
	d.Message = strings.TrimSpace(d.Message)
	if n := utf8.RuneCountInString(d.Message); n < model.MessageMinLen || n > model.MessageMaxLen {
		return fmt.Errorf("message must be %d-%d characters", model.MessageMinLen, model.MessageMaxLen)
	}
	switch d.Type {
	case "", model.MsgKindText:
		d.Type = model.MsgKindText
	case model.MsgKindSystem:
	default:
		return fmt.Errorf("unknown message type %q", d.Type)
	}
	return nil
}

// TrackUpdateData carries a host track change.
type TrackUpdateData struct {
	Track model.Track `json:"track"`
}

// Validate checks the track shape.
func (d *TrackUpdateData) Validate() error {
	if d.Track.ID == "" {
		return fmt.Errorf("track id is required")
	}
	if d.Track.Duration < 0 {
		return fmt.Errorf("track duration cannot be negative")
	}
	return nil
}

// PlaybackStateData carries a host playback-control action. Position is
// accepted as sent; it is a host trust boundary and is not clamped to the
// track duration at write time.
type PlaybackStateData struct {
	IsPlaying bool  `json:"isPlaying"`
	Position  int64 `json:"position"`
}

// ========== server -> client payloads ==========

// ErrorData carries any *-error event.
type ErrorData struct {
	Message string `json:"message"`
}

// RoomCreatedData answers a successful create-room, sender only.
type RoomCreatedData struct {
	Success bool            `json:"success"`
	RoomID  string          `json:"roomId"`
	Room    model.RoomState `json:"room"`
	User    model.Member    `json:"user"`
}

// RoomJoinedData answers a successful join-room, sender only.
type RoomJoinedData struct {
	Room model.RoomState `json:"room"`
	User model.Member    `json:"user"`
}

// UserJoinedData notifies existing members of a join.
type UserJoinedData struct {
	User    model.Member    `json:"user"`
	Room    model.RoomState `json:"room"`
	Message string          `json:"message"`
}

// UserLeftData notifies remaining members of a leave or disconnect.
type UserLeftData struct {
	UserID   string          `json:"userId"`
	UserName string          `json:"userName"`
	Room     model.RoomState `json:"room"`
	Message  string          `json:"message"`
}

// HostChangedData notifies the room of a host failover.
type HostChangedData struct {
	NewHostID   string          `json:"newHostId"`
	NewHostName string          `json:"newHostName"`
	Room        model.RoomState `json:"room"`
	Message     string          `json:"message"`
}

// NewMessageData broadcasts a chat message to the whole room.
type NewMessageData struct {
	model.ChatMessage
	RoomID string `json:"roomId"`
}

// TrackChangedData broadcasts a host track change.
type TrackChangedData struct {
	Track     model.Track `json:"track"`
	Timestamp int64       `json:"timestamp"`
	ChangedBy string      `json:"changedBy"`
	IsPlaying bool        `json:"isPlaying"`
	Position  int64       `json:"position"`
}

// PlaybackSyncData broadcasts the authoritative playback clock.
type PlaybackSyncData struct {
	IsPlaying    bool   `json:"isPlaying"`
	Position     int64  `json:"position"`
	Timestamp    int64  `json:"timestamp"`
	TrackID      string `json:"trackId,omitempty"`
	ControlledBy string `json:"controlledBy,omitempty"`
}

// UserTypingData broadcasts the set of currently-typing member names.
type UserTypingData struct {
	TypingUsers []string `json:"typingUsers"`
}
