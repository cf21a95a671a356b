// Package session holds the in-memory room state machine: membership with
// deterministic host failover, the bounded chat transcript, the typing set
// and the authoritative playback clock, plus the registry that owns room
// lifetimes.
package session

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"soundroom/core/clock"
	"soundroom/model"
)

// Limits bound per-room resources.
type Limits struct {
	MaxMembers       int
	MessageRetention int
	SnapshotMessages int
}

// DefaultLimits matches the reference behavior: 10 members, 100 retained
// messages, 50 exposed in snapshots.
var DefaultLimits = Limits{
	MaxMembers:       10,
	MessageRetention: 100,
	SnapshotMessages: 50,
}

// Session is one listening room. All mutating operations are serialized by
// the session's own mutex; invariants (exactly one host who is a member,
// typing set within membership) hold between any two operations.
//
// A Session never destroys itself: the caller that removes the last member is
// responsible for calling Registry.DestroyIfEmpty.
type Session struct {
	mu sync.Mutex

	code     string
	hostID   string
	hostName string

	members   map[string]*model.Member
	joinOrder []string // member ids in join order; joinOrder[0] is the failover host

	messages []model.ChatMessage
	track    *model.Track
	playback model.PlaybackClock
	typing   map[string]struct{}

	createdAt    time.Time
	lastActivity time.Time

	limits Limits
}

// newSession creates a room with the creator inserted as sole member and host.
// The registry is responsible for code uniqueness.
func newSession(code, creatorID, creatorName string, limits Limits, now time.Time) *Session {
	s := &Session{
		code:         code,
		hostID:       creatorID,
		hostName:     creatorName,
		members:      make(map[string]*model.Member),
		typing:       make(map[string]struct{}),
		createdAt:    now,
		lastActivity: now,
		limits:       limits,
	}
	s.members[creatorID] = &model.Member{
		ID:         creatorID,
		Name:       creatorName,
		IsOnline:   true,
		JoinedAt:   now.UnixMilli(),
		LastSeenAt: now.UnixMilli(),
	}
	s.joinOrder = append(s.joinOrder, creatorID)
	return s
}

// Code returns the room code.
func (s *Session) Code() string {
	return s.code
}

// Host returns the current host's id and display name.
func (s *Session) Host() (id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostID, s.hostName
}

// MemberCount returns the current membership size.
func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Member returns a copy of the member with the given id.
func (s *Session) Member(id string) (model.Member, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return model.Member{}, false
	}
	return *m, true
}

// LastActivity returns the instant of the last mutating operation.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// AddMember inserts a new member. It rejects with ErrRoomFull when the room
// is at capacity and with ErrMemberTaken when the id is already a member; an
// overwrite would leave a duplicate joinOrder entry and break host failover.
// Host authority is not altered.
func (s *Session) AddMember(id, name string, now time.Time) (model.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.members) >= s.limits.MaxMembers {
		return model.Member{}, ErrRoomFull
	}
	if _, exists := s.members[id]; exists {
		return model.Member{}, ErrMemberTaken
	}

	m := &model.Member{
		ID:         id,
		Name:       name,
		IsOnline:   true,
		JoinedAt:   now.UnixMilli(),
		LastSeenAt: now.UnixMilli(),
	}
	s.members[id] = m
	s.joinOrder = append(s.joinOrder, id)
	s.lastActivity = now
	return *m, nil
}

// RemoveResult describes what a RemoveMember call did.
type RemoveResult struct {
	Removed     model.Member
	WasMember   bool
	HostChanged bool
	NewHostID   string
	NewHostName string
	Empty       bool
}

// RemoveMember removes a member and drops it from the typing set. When the
// removed member held host authority and membership remains non-empty, host
// authority transfers to the earliest-joined remaining member in the same
// operation, so no observable state ever has a missing host.
func (s *Session) RemoveMember(id string, now time.Time) RemoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[id]
	if !ok {
		return RemoveResult{}
	}
	res := RemoveResult{Removed: *m, WasMember: true}

	delete(s.members, id)
	delete(s.typing, id)
	for i, mid := range s.joinOrder {
		if mid == id {
			s.joinOrder = append(s.joinOrder[:i], s.joinOrder[i+1:]...)
			break
		}
	}

	if len(s.members) == 0 {
		res.Empty = true
		s.lastActivity = now
		return res
	}

	if s.hostID == id {
		newHostID := s.joinOrder[0]
		s.hostID = newHostID
		s.hostName = s.members[newHostID].Name
		res.HostChanged = true
		res.NewHostID = s.hostID
		res.NewHostName = s.hostName
	}
	s.lastActivity = now
	return res
}

// PostMessage appends a chat message, evicting the oldest entries beyond the
// retention bound. The caller validates length bounds before calling; the
// entity only defends against transcript bloat by trimming.
func (s *Session) PostMessage(authorID, body, kind string, now time.Time) (model.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	author, ok := s.members[authorID]
	if !ok {
		return model.ChatMessage{}, ErrNotAMember
	}

	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) > model.MessageMaxLen {
		// Cut on a rune boundary; a byte slice could split a code point and
		// store invalid UTF-8 in the transcript.
		body = string([]rune(body)[:model.MessageMaxLen])
	}
	if kind != model.MsgKindSystem {
		kind = model.MsgKindText
	}

	msg := model.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    author.ID,
		UserName:  author.Name,
		Message:   body,
		Type:      kind,
		Timestamp: now.UnixMilli(),
		Delivered: true,
	}
	s.messages = append(s.messages, msg)
	if over := len(s.messages) - s.limits.MessageRetention; over > 0 {
		s.messages = s.messages[over:]
	}
	s.lastActivity = now
	return msg, nil
}

// SetTyping sets or clears a member's typing flag. Idempotent, and a no-op
// for ids that are not current members.
func (s *Session) SetTyping(memberID string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[memberID]; !ok {
		return
	}
	if isTyping {
		s.typing[memberID] = struct{}{}
	} else {
		delete(s.typing, memberID)
	}
}

// TypingNames returns the display names of members currently typing, in join
// order.
func (s *Session) TypingNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typingNamesLocked()
}

func (s *Session) typingNamesLocked() []string {
	names := make([]string, 0, len(s.typing))
	for _, id := range s.joinOrder {
		if _, ok := s.typing[id]; ok {
			names = append(names, s.members[id].Name)
		}
	}
	return names
}

// UpdateTrack replaces the current track. Host only. A track change always
// resets the clock to paused at position zero; starting playback requires a
// separate playback-control action.
func (s *Session) UpdateTrack(requesterID string, track model.Track, now time.Time) (model.PlaybackClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requesterID != s.hostID {
		return model.PlaybackClock{}, ErrNotHost
	}

	t := track
	s.track = &t
	s.playback = model.PlaybackClock{
		IsPlaying: false,
		Position:  0,
		Timestamp: now.UnixMilli(),
		TrackID:   track.ID,
	}
	s.lastActivity = now
	return s.playback, nil
}

// UpdatePlayback overwrites the playback clock. Host only. Position is
// stored as sent; out-of-range values are a host trust boundary, and only
// derivation clamps (see clock.Derive).
func (s *Session) UpdatePlayback(requesterID string, isPlaying bool, position int64, now time.Time) (model.PlaybackClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if requesterID != s.hostID {
		return model.PlaybackClock{}, ErrNotHost
	}

	trackID := ""
	if s.track != nil {
		trackID = s.track.ID
	}
	s.playback = model.PlaybackClock{
		IsPlaying: isPlaying,
		Position:  position,
		Timestamp: now.UnixMilli(),
		TrackID:   trackID,
	}
	s.lastActivity = now
	return s.playback, nil
}

// MarkSeen updates a member's last-seen timestamp. Observability only; a
// stale member is never evicted on this signal.
func (s *Session) MarkSeen(memberID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.members[memberID]; ok {
		m.LastSeenAt = now.UnixMilli()
	}
}

// Snapshot returns the full read-only projection of the room, with the chat
// transcript truncated to the snapshot bound (most recent first retained).
func (s *Session) Snapshot() model.RoomState {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := make([]model.Member, 0, len(s.members))
	for _, id := range s.joinOrder {
		members = append(members, *s.members[id])
	}

	msgs := s.messages
	if len(msgs) > s.limits.SnapshotMessages {
		msgs = msgs[len(msgs)-s.limits.SnapshotMessages:]
	}
	messages := make([]model.ChatMessage, len(msgs))
	copy(messages, msgs)

	var track *model.Track
	if s.track != nil {
		t := *s.track
		track = &t
	}

	return model.RoomState{
		RoomID:      s.code,
		HostID:      s.hostID,
		HostName:    s.hostName,
		Members:     members,
		MemberCount: len(members),
		Messages:    messages,
		Track:       track,
		Playback:    s.playback,
		TypingUsers: s.typingNamesLocked(),
		CreatedAt:   s.createdAt.UnixMilli(),
	}
}

// LiveClock returns the playback clock with its position already extrapolated
// to now, so a resyncing client receives a live position rather than a stale
// snapshot. The stored clock is not mutated.
func (s *Session) LiveClock(now time.Time) model.PlaybackClock {
	s.mu.Lock()
	defer s.mu.Unlock()

	var duration int64
	if s.track != nil {
		duration = s.track.Duration
	}
	playing, pos := clock.Derive(s.playback, duration, now.UnixMilli())
	return model.PlaybackClock{
		IsPlaying: playing,
		Position:  pos,
		Timestamp: now.UnixMilli(),
		TrackID:   s.playback.TrackID,
	}
}

// TrackDuration returns the duration of the current track, 0 when none is
// loaded.
func (s *Session) TrackDuration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.track == nil {
		return 0
	}
	return s.track.Duration
}
