package model

// Member is one participant in a room. Identity is session-scoped and lives
// exactly as long as the member's connection.
type Member struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsOnline   bool   `json:"isOnline"`
	JoinedAt   int64  `json:"joinedAt"`   // unix milliseconds
	LastSeenAt int64  `json:"lastSeenAt"` // unix milliseconds
}

// ChatMessage is one transcript entry. Immutable once created.
type ChatMessage struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Message   string `json:"message"`
	Type      string `json:"type"` // text, system
	Timestamp int64  `json:"timestamp"`
	Delivered bool   `json:"delivered"`
}

// PlaybackClock is the authoritative synchronization anchor for a room.
// Position is the play-head position at the instant Timestamp was recorded;
// the live position at any later instant is derived, never stored.
type PlaybackClock struct {
	IsPlaying bool   `json:"isPlaying"`
	Position  int64  `json:"position"`  // milliseconds at Timestamp
	Timestamp int64  `json:"timestamp"` // unix milliseconds, server clock
	TrackID   string `json:"trackId,omitempty"`
}

// RoomState is the full read-only projection of a room, used for broadcasts
// and resync responses.
type RoomState struct {
	RoomID      string        `json:"roomId"`
	HostID      string        `json:"hostId"`
	HostName    string        `json:"hostName"`
	Members     []Member      `json:"members"`
	MemberCount int           `json:"memberCount"`
	Messages    []ChatMessage `json:"messages"`
	Track       *Track        `json:"currentTrack,omitempty"`
	Playback    PlaybackClock `json:"playback"`
	TypingUsers []string      `json:"typingUsers"`
	CreatedAt   int64         `json:"createdAt"`
}

// Message kinds.
const (
	MsgKindText   = "text"
	MsgKindSystem = "system"
)

// Validation bounds shared by the router and the entity layer.
const (
	NameMinLen    = 1
	NameMaxLen    = 50
	MessageMinLen = 1
	MessageMaxLen = 1000
	RoomCodeLen   = 6
)
