package room

import (
	"encoding/json"
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
)

// Snapshot is the cache-tier image of a room: everything needed to rebuild a
// usable State without the persistent tier. Cursors, viewports and follow
// relationships are connection-scoped and deliberately absent; a restored
// room starts with those empty.
type Snapshot struct {
	RoomID         string          `json:"roomId"`
	RoomCode       string          `json:"roomCode"`
	Language       string          `json:"language"`
	Mode           string          `json:"mode"`
	Code           string          `json:"code"`
	Version        int64           `json:"version"`
	LastModified   time.Time       `json:"lastModified"`
	LastModifiedBy string          `json:"lastModifiedBy,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	IsActive       bool            `json:"isActive"`
	Users          []Participant   `json:"users"`
	Battle         *BattleSnapshot `json:"battle,omitempty"`
}

// BattleSnapshot mirrors battle.State for the cache tier.
type BattleSnapshot struct {
	ProblemID   string                    `json:"problemId"`
	Difficulty  string                    `json:"difficulty"`
	HostID      string                    `json:"hostId"`
	Duration    time.Duration             `json:"duration"`
	TotalTests  int                       `json:"totalTests"`
	Started     bool                      `json:"started"`
	StartedAt   time.Time                 `json:"startedAt,omitempty"`
	Ended       bool                      `json:"ended"`
	EndedAt     time.Time                 `json:"endedAt,omitempty"`
	EndReason   string                    `json:"endReason,omitempty"`
	Submissions map[string]battle.Summary `json:"submissions,omitempty"`
}

// MarshalBinary lets go-redis store snapshots directly.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalBinary lets go-redis scan snapshots directly.
func (s *Snapshot) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, s)
}

// SnapshotOf captures the cacheable part of a live state.
func SnapshotOf(s *State) *Snapshot {
	snap := &Snapshot{
		RoomID:         s.RoomID,
		RoomCode:       s.RoomCode,
		Language:       s.Language,
		Mode:           s.Mode,
		Code:           s.Code,
		Version:        s.Version,
		LastModified:   s.LastModified,
		LastModifiedBy: s.LastModifiedBy,
		CreatedAt:      s.CreatedAt,
		IsActive:       s.IsActive,
		Users:          make([]Participant, 0, len(s.Users)),
	}
	for _, p := range s.Users {
		snap.Users = append(snap.Users, p)
	}
	if b := s.Battle; b != nil {
		bs := &BattleSnapshot{
			ProblemID:  b.ProblemID,
			Difficulty: b.Difficulty,
			HostID:     b.HostID,
			Duration:   b.Duration,
			TotalTests: b.TotalTests,
			Started:    b.Started,
			StartedAt:  b.StartedAt,
			Ended:      b.Ended,
			EndedAt:    b.EndedAt,
			EndReason:  b.EndReason,
		}
		if len(b.Submissions) > 0 {
			bs.Submissions = make(map[string]battle.Summary, len(b.Submissions))
			for id, sum := range b.Submissions {
				bs.Submissions[id] = sum
			}
		}
		snap.Battle = bs
	}
	return snap
}

// Restore rebuilds a live state from a snapshot. Connection-scoped maps come
// back empty and every user is marked inactive until they reconnect.
func (snap *Snapshot) Restore() *State {
	s := NewState(snap.RoomID, snap.RoomCode, snap.Language, snap.Mode, snap.CreatedAt)
	s.Code = snap.Code
	s.Version = snap.Version
	s.LastModified = snap.LastModified
	s.LastModifiedBy = snap.LastModifiedBy
	s.IsActive = snap.IsActive
	for _, p := range snap.Users {
		p.IsActive = false
		s.Users[p.UserID] = p
	}
	if bs := snap.Battle; bs != nil {
		b := battle.New(bs.ProblemID, bs.Difficulty, bs.HostID, bs.Duration, bs.TotalTests)
		b.Started = bs.Started
		b.StartedAt = bs.StartedAt
		b.Ended = bs.Ended
		b.EndedAt = bs.EndedAt
		b.EndReason = bs.EndReason
		for id, sum := range bs.Submissions {
			b.Submissions[id] = sum
		}
		s.Battle = b
	}
	return s
}
