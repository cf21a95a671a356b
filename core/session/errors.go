package session

import "errors"

// Typed domain errors. The event router maps these onto wire error events;
// they are rejected before any mutation takes place.
var (
	ErrNotHost     = errors.New("only the host can control playback")
	ErrNotAMember  = errors.New("not a member of this room")
	ErrRoomFull    = errors.New("room is full")
	ErrMemberTaken = errors.New("member id already in the room")
	ErrCodeSpace   = errors.New("could not generate a unique room code")
)
