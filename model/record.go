package model

import "time"

// Persisted records for the best-effort durable store. The live room, not the
// store, is authoritative; these exist for history only.

// RoomRecord is the persisted form of a room.
type RoomRecord struct {
	Code      string     `json:"code" gorm:"primaryKey;size:6"`
	HostName  string     `json:"hostName" gorm:"size:50"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
}

func (RoomRecord) TableName() string {
	return "rooms"
}

// RoomMemberRecord is the persisted form of a room membership span.
type RoomMemberRecord struct {
	ID       int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomCode string     `json:"roomCode" gorm:"size:6;index;not null"`
	MemberID string     `json:"memberId" gorm:"size:36;index;not null"`
	Name     string     `json:"name" gorm:"size:50"`
	JoinedAt time.Time  `json:"joinedAt"`
	LeftAt   *time.Time `json:"leftAt,omitempty"`
}

func (RoomMemberRecord) TableName() string {
	return "room_members"
}

// RoomMessageRecord is the persisted form of a chat message.
type RoomMessageRecord struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	RoomCode  string    `json:"roomCode" gorm:"size:6;index;not null"`
	MemberID  string    `json:"memberId" gorm:"size:36;not null"`
	Name      string    `json:"name" gorm:"size:50"`
	Body      string    `json:"body" gorm:"type:text;not null"`
	Kind      string    `json:"kind" gorm:"size:20;default:'text'"`
	CreatedAt time.Time `json:"createdAt" gorm:"index"`
}

func (RoomMessageRecord) TableName() string {
	return "room_messages"
}

// PlaybackStateRecord is the persisted form of a playback clock snapshot.
type PlaybackStateRecord struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomCode  string    `json:"roomCode" gorm:"size:6;index;not null"`
	TrackID   string    `json:"trackId" gorm:"size:64"`
	IsPlaying bool      `json:"isPlaying"`
	Position  int64     `json:"position"`  // milliseconds
	Timestamp int64     `json:"timestamp"` // unix milliseconds
	UpdatedBy string    `json:"updatedBy" gorm:"size:36"`
	CreatedAt time.Time `json:"createdAt"`
}

func (PlaybackStateRecord) TableName() string {
	return "playback_states"
}
