// Package store is the persistent tier adapter: rooms, participants and
// submissions in Postgres via GORM. Everything above it treats this as the
// source of truth; the in-process and cache tiers are rebuilt from here.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	glogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("record not found")

type Store struct {
	db *gorm.DB
}

// Open connects to Postgres and migrates the schema. A failure here is
// fatal to the process: without the persistent tier there is no source of
// truth to serve.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: glogger.Default.LogMode(glogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&RoomRecord{}, &SubmissionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) CreateRoom(ctx context.Context, rec *RoomRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) RoomByID(ctx context.Context, roomID string) (*RoomRecord, error) {
	var rec RoomRecord
	err := s.db.WithContext(ctx).First(&rec, "room_id = ?", roomID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) RoomByCode(ctx context.Context, roomCode string) (*RoomRecord, error) {
	var rec RoomRecord
	err := s.db.WithContext(ctx).First(&rec, "room_code = ?", roomCode).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// SaveCode writes through the current shared buffer and its version.
func (s *Store) SaveCode(ctx context.Context, roomID, code string, version int64, modifiedBy string) error {
	return s.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("room_id = ?", roomID).
		Updates(map[string]any{
			"code":             code,
			"version":          version,
			"last_modified_by": modifiedBy,
		}).Error
}

// MarkStarted records the durable start marker.
func (s *Store) MarkStarted(ctx context.Context, roomID string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("room_id = ?", roomID).
		Updates(map[string]any{"status": StatusInProgress, "started_at": at}).Error
}

// MarkEnded records the durable end marker, the signal reconstruction relies
// on to never resurrect a finished battle.
func (s *Store) MarkEnded(ctx context.Context, roomID string, at time.Time, reason string) error {
	return s.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("room_id = ?", roomID).
		Updates(map[string]any{"status": StatusEnded, "ended_at": at, "end_reason": reason}).Error
}

func (s *Store) SetRoomActive(ctx context.Context, roomID string, active bool) error {
	return s.db.WithContext(ctx).Model(&RoomRecord{}).
		Where("room_id = ?", roomID).
		Update("is_active", active).Error
}

// UpsertParticipant records membership history inside the room row. The
// participant list is a JSON column: rooms are small and single-writer per
// process, so read-modify-write inside a transaction is enough.
func (s *Store) UpsertParticipant(ctx context.Context, roomID string, p ParticipantRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec RoomRecord
		if err := tx.First(&rec, "room_id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		replaced := false
		for i := range rec.Participants {
			if rec.Participants[i].UserID == p.UserID {
				// Keep the original join time across reconnects.
				p.JoinedAt = rec.Participants[i].JoinedAt
				rec.Participants[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			rec.Participants = append(rec.Participants, p)
		}
		return tx.Model(&rec).Update("participants", rec.Participants).Error
	})
}

// SetParticipantActive flips the stored connection flag on leave/join.
func (s *Store) SetParticipantActive(ctx context.Context, roomID, userID string, active bool, lastSeen time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec RoomRecord
		if err := tx.First(&rec, "room_id = ?", roomID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		for i := range rec.Participants {
			if rec.Participants[i].UserID == userID {
				rec.Participants[i].IsActive = active
				rec.Participants[i].LastSeen = lastSeen
				return tx.Model(&rec).Update("participants", rec.Participants).Error
			}
		}
		return nil
	})
}

// SaveSubmission upserts the one row per (session, user). The first row's
// id and creation time survive resubmission, so submission order stays
// anchored to the first attempt.
func (s *Store) SaveSubmission(ctx context.Context, rec *SubmissionRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SubmissionRecord
		err := tx.First(&existing, "session_id = ? AND user_id = ?", rec.SessionID, rec.UserID).Error
		switch {
		case err == nil:
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt
			return tx.Save(rec).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(rec).Error
		default:
			return err
		}
	})
}

// SubmissionsByRoom returns the durable submissions in first-submitted
// order, the shape fallback reconstruction and reconciliation consume.
func (s *Store) SubmissionsByRoom(ctx context.Context, roomID string) ([]SubmissionRecord, error) {
	var rows []SubmissionRecord
	err := s.db.WithContext(ctx).
		Where("session_id = ?", roomID).
		Order("created_at asc, id asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
