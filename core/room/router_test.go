package room

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"soundroom/core/session"
	"soundroom/model"
)

// testEnv wires a router against a running hub with no transport, no store
// and no redis; fake clients read broadcasts straight off their send queues.
type testEnv struct {
	t        *testing.T
	registry *session.Registry
	hub      *Hub
	router   *Router
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		t:        t,
		registry: session.NewRegistry(session.DefaultLimits),
		hub:      NewHub(),
		now:      time.Unix(1700000000, 0),
	}
	env.router = NewRouter(env.registry, env.hub, NewBindingTable(), nil, nil)
	env.router.now = func() time.Time { return env.now }

	go env.hub.Run()
	t.Cleanup(env.hub.Stop)
	return env
}

func (e *testEnv) connect() *Client {
	c := &Client{ID: uuid.NewString(), hub: e.hub, send: make(chan []byte, sendBufferSize)}
	e.hub.Register(c)
	return c
}

func (e *testEnv) send(c *Client, t EventType, payload interface{}) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(e.t, err)
		data = raw
	}
	e.router.HandleEvent(context.Background(), c, &ClientEvent{Type: t, Data: data})
}

// recv waits for the next event of the wanted type, failing on anything else.
func (e *testEnv) recv(c *Client, want EventType) json.RawMessage {
	e.t.Helper()
	select {
	case raw := <-c.send:
		var evt ServerEvent
		require.NoError(e.t, json.Unmarshal(raw, &evt))
		require.Equal(e.t, want, evt.Type, "unexpected event %s (payload %s)", evt.Type, string(evt.Data))
		return evt.Data
	case <-time.After(2 * time.Second):
		e.t.Fatalf("timed out waiting for %s", want)
		return nil
	}
}

func (e *testEnv) recvNothing(c *Client) {
	e.t.Helper()
	select {
	case raw := <-c.send:
		e.t.Fatalf("expected no event, got %s", string(raw))
	case <-time.After(100 * time.Millisecond):
	}
}

func decode[T any](t *testing.T, data json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func (e *testEnv) createRoom(c *Client, name string) RoomCreatedData {
	e.send(c, EvtCreateRoom, CreateRoomData{UserName: name})
	return decode[RoomCreatedData](e.t, e.recv(c, EvtRoomCreated))
}

func TestCreateRoomValidation(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect()

	env.send(c, EvtCreateRoom, CreateRoomData{UserName: "   "})
	errData := decode[ErrorData](t, env.recv(c, EvtRoomError))
	assert.Contains(t, errData.Message, "user name")
}

func TestCreateRoomAcknowledgesSenderOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect()

	created := env.createRoom(c, "alice")
	assert.True(t, created.Success)
	assert.Regexp(t, `^[A-Z0-9]{6}$`, created.RoomID)
	assert.Equal(t, "alice", created.User.Name)
	assert.Equal(t, created.User.ID, created.Room.HostID)
	assert.Equal(t, 1, created.Room.MemberCount)
}

func TestJoinUnknownRoom(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect()

	env.send(c, EvtJoinRoom, JoinRoomData{RoomID: "ZZZZZZ", UserName: "bob"})
	errData := decode[ErrorData](t, env.recv(c, EvtRoomError))
	assert.Equal(t, "room not found", errData.Message)
}

func TestJoinRoomFanOut(t *testing.T) {
	env := newTestEnv(t)
	x := env.connect()
	y := env.connect()

	created := env.createRoom(x, "alice")

	env.send(y, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "bob"})

	joined := decode[RoomJoinedData](t, env.recv(y, EvtRoomJoined))
	assert.Equal(t, "bob", joined.User.Name)
	assert.Equal(t, 2, joined.Room.MemberCount)

	// Joiner gets the live clock right away.
	sync := decode[PlaybackSyncData](t, env.recv(y, EvtPlaybackSync))
	assert.False(t, sync.IsPlaying)

	// Existing members are notified, the joiner is not re-notified.
	userJoined := decode[UserJoinedData](t, env.recv(x, EvtUserJoined))
	assert.Equal(t, "bob", userJoined.User.Name)
	assert.Equal(t, 2, userJoined.Room.MemberCount)
}

func TestJoinFullRoom(t *testing.T) {
	env := newTestEnv(t)
	host := env.connect()
	created := env.createRoom(host, "alice")

	for i := 0; i < session.DefaultLimits.MaxMembers-1; i++ {
		c := env.connect()
		env.send(c, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "guest"})
		env.recv(c, EvtRoomJoined)
	}

	late := env.connect()
	env.send(late, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "late"})
	errData := decode[ErrorData](t, env.recv(late, EvtRoomError))
	assert.Equal(t, "room is full", errData.Message)
}

func TestJoinWithTakenIdentityGetsFreshOne(t *testing.T) {
	env := newTestEnv(t)
	x := env.connect()
	y := env.connect()

	env.send(x, EvtCreateRoom, CreateRoomData{UserName: "alice", UserID: "u1"})
	created := decode[RoomCreatedData](t, env.recv(x, EvtRoomCreated))
	require.Equal(t, "u1", created.User.ID)

	// Second connection claims the host's id; it must not hijack it.
	env.send(y, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "bob", UserID: "u1"})
	joined := decode[RoomJoinedData](t, env.recv(y, EvtRoomJoined))
	assert.NotEqual(t, "u1", joined.User.ID)
	assert.Equal(t, 2, joined.Room.MemberCount)
	assert.Equal(t, "u1", joined.Room.HostID)
	env.recv(y, EvtPlaybackSync)
	env.recv(x, EvtUserJoined)

	// Removing the impostor's member leaves the host's entry untouched.
	env.hub.Unregister(y)
	left := decode[UserLeftData](t, env.recv(x, EvtUserLeft))
	assert.Equal(t, "bob", left.UserName)
	assert.Equal(t, 1, left.Room.MemberCount)
	assert.Equal(t, "u1", left.Room.HostID)
	env.recvNothing(x)

	sess, ok := env.registry.Get(created.RoomID)
	require.True(t, ok)
	hostID, hostName := sess.Host()
	assert.Equal(t, "u1", hostID)
	assert.Equal(t, "alice", hostName)
}

func TestRejectedJoinKeepsPreviousRoom(t *testing.T) {
	env := newTestEnv(t)
	x := env.connect()
	roomA := env.createRoom(x, "alice")

	// A second room filled to capacity.
	bHost := env.connect()
	roomB := env.createRoom(bHost, "bea")
	for i := 0; i < session.DefaultLimits.MaxMembers-1; i++ {
		c := env.connect()
		env.send(c, EvtJoinRoom, JoinRoomData{RoomID: roomB.RoomID, UserName: "guest"})
		env.recv(c, EvtRoomJoined)
	}

	env.send(x, EvtJoinRoom, JoinRoomData{RoomID: roomB.RoomID, UserName: "alice"})
	errData := decode[ErrorData](t, env.recv(x, EvtRoomError))
	assert.Equal(t, "room is full", errData.Message)

	// The rejected join must not have detached alice from her room.
	sessA, ok := env.registry.Get(roomA.RoomID)
	require.True(t, ok, "previous room must survive a rejected join")
	assert.Equal(t, 1, sessA.MemberCount())

	binding, ok := env.router.bindings.Lookup(x.ID)
	require.True(t, ok)
	assert.Equal(t, roomA.RoomID, binding.RoomCode)

	env.send(x, EvtSendMessage, SendMessageData{Message: "still here"})
	msg := decode[NewMessageData](t, env.recv(x, EvtNewMessage))
	assert.Equal(t, roomA.RoomID, msg.RoomID)
}

func TestSendMessageBroadcastsToWholeRoom(t *testing.T) {
	env := newTestEnv(t)
	x := env.connect()
	y := env.connect()
	created := env.createRoom(x, "alice")
	env.send(y, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "bob"})
	env.recv(y, EvtRoomJoined)
	env.recv(y, EvtPlaybackSync)
	env.recv(x, EvtUserJoined)

	env.send(y, EvtSendMessage, SendMessageData{Message: "hello everyone"})

	// Typing indicator clears first (to others), then the message reaches
	// the whole room including the sender.
	env.recv(x, EvtUserTyping)
	msgX := decode[NewMessageData](t, env.recv(x, EvtNewMessage))
	msgY := decode[NewMessageData](t, env.recv(y, EvtNewMessage))
	assert.Equal(t, "hello everyone", msgX.Message)
	assert.Equal(t, msgX.ID, msgY.ID)
	assert.Equal(t, "bob", msgX.UserName)
	assert.Equal(t, created.RoomID, msgX.RoomID)
}

func TestSendMessageAcceptsFullMultiByteLength(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect()
	env.createRoom(c, "alice")

	// 1000 three-byte runes: the advertised budget counts characters.
	body := strings.Repeat("音", 1000)
	env.send(c, EvtSendMessage, SendMessageData{Message: body})

	msg := decode[NewMessageData](t, env.recv(c, EvtNewMessage))
	assert.Equal(t, 1000, utf8.RuneCountInString(msg.Message))
	assert.Equal(t, body, msg.Message)
}

func TestSendMessageWithoutBinding(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect()

	env.send(c, EvtSendMessage, SendMessageData{Message: "hi"})
	errData := decode[ErrorData](t, env.recv(c, EvtMessageError))
	assert.Equal(t, "not in a room", errData.Message)
}

func TestTypingIndicatorExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	x := env.connect()
	y := env.connect()
	created := env.createRoom(x, "alice")
	env.send(y, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "bob"})
	env.recv(y, EvtRoomJoined)
	env.recv(y, EvtPlaybackSync)
	env.recv(x, EvtUserJoined)

	env.send(y, EvtTypingStart, nil)
	typing := decode[UserTypingData](t, env.recv(x, EvtUserTyping))
	assert.Equal(t, []string{"bob"}, typing.TypingUsers)
	env.recvNothing(y)

	env.send(y, EvtTypingStop, nil)
	typing = decode[UserTypingData](t, env.recv(x, EvtUserTyping))
	assert.Empty(t, typing.TypingUsers)
}

func TestNonHostCannotControlPlayback(t *testing.T) {
	env := newTestEnv(t)
	x := env.connect()
	y := env.connect()
	created := env.createRoom(x, "alice")
	env.send(y, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "bob"})
	env.recv(y, EvtRoomJoined)
	env.recv(y, EvtPlaybackSync)
	env.recv(x, EvtUserJoined)

	env.send(y, EvtTrackUpdate, TrackUpdateData{Track: model.Track{ID: "t1", Duration: 1000}})
	errData := decode[ErrorData](t, env.recv(y, EvtActionError))
	assert.Contains(t, errData.Message, "host")

	env.send(y, EvtPlaybackState, PlaybackStateData{IsPlaying: true})
	errData = decode[ErrorData](t, env.recv(y, EvtActionError))
	assert.Contains(t, errData.Message, "host")

	// No partial state leaked to anyone.
	env.recvNothing(x)
}

func TestEndToEndPlaybackScenario(t *testing.T) {
	env := newTestEnv(t)
	x := env.connect()
	y := env.connect()

	created := env.createRoom(x, "alice")
	assert.Regexp(t, `^[A-Z0-9]{6}$`, created.RoomID)

	env.send(y, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "bob"})
	env.recv(y, EvtRoomJoined)
	env.recv(y, EvtPlaybackSync)
	userJoined := decode[UserJoinedData](t, env.recv(x, EvtUserJoined))
	assert.Equal(t, 2, userJoined.Room.MemberCount)

	// Host loads a track: clock resets to paused at zero.
	env.send(x, EvtTrackUpdate, TrackUpdateData{Track: model.Track{ID: "v1", Duration: 200000}})
	changed := decode[TrackChangedData](t, env.recv(y, EvtTrackChanged))
	assert.Equal(t, "v1", changed.Track.ID)
	assert.False(t, changed.IsPlaying)
	assert.Equal(t, int64(0), changed.Position)
	assert.Equal(t, "alice", changed.ChangedBy)

	// Host starts playback.
	env.send(x, EvtPlaybackState, PlaybackStateData{IsPlaying: true, Position: 0})
	sync := decode[PlaybackSyncData](t, env.recv(y, EvtPlaybackSync))
	assert.True(t, sync.IsPlaying)
	assert.Equal(t, int64(0), sync.Position)
	assert.Equal(t, "v1", sync.TrackID)
	assert.Equal(t, "alice", sync.ControlledBy)

	// Five seconds later a resync returns an extrapolated position.
	env.now = env.now.Add(5 * time.Second)
	env.send(y, EvtRequestSync, nil)
	resync := decode[PlaybackSyncData](t, env.recv(y, EvtPlaybackSync))
	assert.True(t, resync.IsPlaying)
	assert.Equal(t, int64(5000), resync.Position)
}

func TestDisconnectTransfersHostAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	x := env.connect()
	y := env.connect()
	z := env.connect()

	created := env.createRoom(x, "alice")
	env.send(y, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "bob"})
	env.recv(y, EvtRoomJoined)
	env.recv(y, EvtPlaybackSync)
	env.recv(x, EvtUserJoined)
	env.send(z, EvtJoinRoom, JoinRoomData{RoomID: created.RoomID, UserName: "carol"})
	env.recv(z, EvtRoomJoined)
	env.recv(z, EvtPlaybackSync)
	env.recv(x, EvtUserJoined)
	env.recv(y, EvtUserJoined)

	// Host's transport drops.
	env.hub.Unregister(x)

	left := decode[UserLeftData](t, env.recv(y, EvtUserLeft))
	assert.Equal(t, "alice", left.UserName)
	assert.Equal(t, 2, left.Room.MemberCount)

	hostChanged := decode[HostChangedData](t, env.recv(y, EvtHostChanged))
	assert.Equal(t, "bob", hostChanged.NewHostName)

	env.recv(z, EvtUserLeft)
	env.recv(z, EvtHostChanged)

	// The new host can control playback.
	env.send(y, EvtTrackUpdate, TrackUpdateData{Track: model.Track{ID: "t2", Duration: 60000}})
	changed := decode[TrackChangedData](t, env.recv(z, EvtTrackChanged))
	assert.Equal(t, "bob", changed.ChangedBy)
}

func TestLastLeaveDestroysRoom(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect()

	created := env.createRoom(c, "alice")
	_, ok := env.registry.Get(created.RoomID)
	require.True(t, ok)

	env.hub.Unregister(c)

	require.Eventually(t, func() bool {
		_, ok := env.registry.Get(created.RoomID)
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "empty room must be destroyed")
}

func TestGetRoomInfoSnapshot(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect()
	created := env.createRoom(c, "alice")

	env.send(c, EvtSendMessage, SendMessageData{Message: "first"})
	env.recv(c, EvtNewMessage)

	env.send(c, EvtGetRoomInfo, nil)
	info := decode[model.RoomState](t, env.recv(c, EvtRoomInfo))
	assert.Equal(t, created.RoomID, info.RoomID)
	require.Len(t, info.Messages, 1)
	assert.Equal(t, "first", info.Messages[0].Message)
	assert.Equal(t, []string{}, info.TypingUsers)
}

func TestPongUpdatesHeartbeatOnly(t *testing.T) {
	env := newTestEnv(t)
	c := env.connect()
	created := env.createRoom(c, "alice")

	env.now = env.now.Add(42 * time.Second)
	env.send(c, EvtPong, nil)

	binding, ok := env.router.bindings.Lookup(c.ID)
	require.True(t, ok)
	assert.Equal(t, env.now, binding.LastPingAt)

	// No broadcast, no eviction: the member is still there.
	env.recvNothing(c)
	sess, ok := env.registry.Get(created.RoomID)
	require.True(t, ok)
	assert.Equal(t, 1, sess.MemberCount())
}
