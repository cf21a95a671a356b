// Package repository is the best-effort durable store. The live room is the
// source of truth; writes here happen after the in-memory mutation and
// broadcast, and their failure is logged and swallowed, never rolled back.
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"soundroom/model"
)

// Store records room history. Each call is independent; no cross-record
// transactional guarantees are assumed by the core.
type Store interface {
	SaveRoom(ctx context.Context, room *model.RoomRecord) error
	CloseRoom(ctx context.Context, code string, at time.Time) error
	SaveMember(ctx context.Context, member *model.RoomMemberRecord) error
	MarkMemberLeft(ctx context.Context, roomCode, memberID string, at time.Time) error
	SaveMessage(ctx context.Context, msg *model.RoomMessageRecord) error
	SavePlayback(ctx context.Context, state *model.PlaybackStateRecord) error
	RecentMessages(ctx context.Context, roomCode string, limit int) ([]model.RoomMessageRecord, error)
}

// GormStore implements Store on MySQL via GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open GORM handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the store's tables.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(
		&model.RoomRecord{},
		&model.RoomMemberRecord{},
		&model.RoomMessageRecord{},
		&model.PlaybackStateRecord{},
	)
}

// SaveRoom inserts or updates a room record.
func (s *GormStore) SaveRoom(ctx context.Context, room *model.RoomRecord) error {
	return s.db.WithContext(ctx).Save(room).Error
}

// CloseRoom stamps a room record closed.
func (s *GormStore) CloseRoom(ctx context.Context, code string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&model.RoomRecord{}).
		Where("code = ?", code).
		Update("closed_at", at).Error
}

// SaveMember inserts a membership span.
func (s *GormStore) SaveMember(ctx context.Context, member *model.RoomMemberRecord) error {
	return s.db.WithContext(ctx).Create(member).Error
}

// MarkMemberLeft closes the open membership span for a member.
func (s *GormStore) MarkMemberLeft(ctx context.Context, roomCode, memberID string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&model.RoomMemberRecord{}).
		Where("room_code = ? AND member_id = ? AND left_at IS NULL", roomCode, memberID).
		Update("left_at", at).Error
}

// SaveMessage inserts a chat message record.
func (s *GormStore) SaveMessage(ctx context.Context, msg *model.RoomMessageRecord) error {
	return s.db.WithContext(ctx).Create(msg).Error
}

// SavePlayback inserts a playback clock snapshot record.
func (s *GormStore) SavePlayback(ctx context.Context, state *model.PlaybackStateRecord) error {
	return s.db.WithContext(ctx).Create(state).Error
}

// RecentMessages returns the most recent messages for a room, oldest first.
func (s *GormStore) RecentMessages(ctx context.Context, roomCode string, limit int) ([]model.RoomMessageRecord, error) {
	var records []model.RoomMessageRecord
	err := s.db.WithContext(ctx).
		Where("room_code = ?", roomCode).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
