package store

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Room statuses persisted with the record. Status is the durable battle
// lifecycle marker: reconstruction must never have to guess whether a battle
// ended from submission rows alone.
const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusEnded      = "ended"
)

// Room modes.
const (
	ModeCollaborative = "collaborative"
	ModeBattle        = "battle"
)

// ParticipantRecord is one historical member of a room. IsActive tracks the
// last known connection state; the live users set remains the authority
// while the room is warm.
type ParticipantRecord struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	Role        string    `json:"role"`
	IsActive    bool      `json:"isActive"`
	JoinedAt    time.Time `json:"joinedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// RoomRecord is the persisted projection of a room: the source of truth the
// faster tiers are rebuilt from.
type RoomRecord struct {
	RoomID         string              `gorm:"primaryKey;size:64" json:"roomId"`
	RoomCode       string              `gorm:"uniqueIndex;size:12;not null" json:"roomCode"`
	HostID         string              `gorm:"size:64;index" json:"hostId"`
	Status         string              `gorm:"size:16;not null;default:waiting" json:"status"`
	Mode           string              `gorm:"size:16;not null" json:"mode"`
	Language       string              `gorm:"size:32" json:"language"`
	Code           string              `gorm:"type:text" json:"code"`
	Version        int64               `json:"version"`
	LastModifiedBy string              `gorm:"size:64" json:"lastModifiedBy"`
	ProblemID      string              `gorm:"size:64" json:"problemId"`
	Difficulty     string              `gorm:"size:16" json:"difficulty"`
	DurationMin    int                 `json:"durationMinutes"`
	StartedAt      *time.Time          `json:"startedAt,omitempty"`
	EndedAt        *time.Time          `json:"endedAt,omitempty"`
	EndReason      string              `gorm:"size:24" json:"endReason,omitempty"`
	IsActive       bool                `gorm:"default:true" json:"isActive"`
	Participants   []ParticipantRecord `gorm:"serializer:json;type:jsonb" json:"participants"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
}

func (RoomRecord) TableName() string { return "battle_rooms" }

// SubmissionRecord is the durable record of one user's submission in one
// room. One row per (session, user); resubmission overwrites the verdict but
// keeps the original id, so ksuid order reflects first-submission time.
type SubmissionRecord struct {
	ID              string    `gorm:"primaryKey;size:27" json:"id"`
	SessionID       string    `gorm:"size:64;uniqueIndex:idx_session_user;index" json:"sessionId"`
	UserID          string    `gorm:"size:64;uniqueIndex:idx_session_user" json:"userId"`
	Code            string    `gorm:"type:text" json:"code"`
	PassedTestCases int       `json:"passedTestCases"`
	TotalTestCases  int       `json:"totalTestCases"`
	ExecutionMs     int       `json:"executionTime"`
	CodeLength      int       `json:"codeLength"`
	Score           float64   `json:"score"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (SubmissionRecord) TableName() string { return "battle_submissions" }

func (s *SubmissionRecord) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = ksuid.New().String()
	}
	return nil
}
