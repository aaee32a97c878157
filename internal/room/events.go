package room

import (
	"sort"
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

// RoomStateSyncPayload is the authoritative snapshot pushed to a client on
// join, on reconnect-request and after a bulk resync.
type RoomStateSyncPayload struct {
	RoomID   string                      `json:"roomId"`
	RoomCode string                      `json:"roomCode"`
	Language string                      `json:"language"`
	Mode     string                      `json:"mode"`
	Code     string                      `json:"code"`
	Version  int64                       `json:"version"`
	Users    []types.RosterEntry         `json:"users"`
	Cursors  map[string]types.CursorInfo `json:"cursors"`
	Battle   *BattleInfo                 `json:"battle,omitempty"`
}

// BattleInfo is the battle lifecycle as shown to clients. Submitted lists
// user ids only; scores stay hidden until the battle ends.
type BattleInfo struct {
	ProblemID       string     `json:"problemId"`
	Difficulty      string     `json:"difficulty"`
	HostID          string     `json:"hostId"`
	DurationMinutes int        `json:"durationMinutes"`
	Started         bool       `json:"started"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	Ended           bool       `json:"ended"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	EndReason       string     `json:"endReason,omitempty"`
	Submitted       []string   `json:"submitted"`
}

// BattleStartedPayload announces the start to every member.
type BattleStartedPayload struct {
	RoomID          string    `json:"roomId"`
	ProblemID       string    `json:"problemId"`
	Difficulty      string    `json:"difficulty"`
	DurationMinutes int       `json:"durationMinutes"`
	StartedAt       time.Time `json:"startedAt"`
}

// BattleSubmissionPayload announces one member's recorded submission.
type BattleSubmissionPayload struct {
	RoomID string `json:"roomId"`
	battle.Summary
}

// BattleEndedPayload carries the terminal transition and the standings known
// at that moment.
type BattleEndedPayload struct {
	RoomID  string             `json:"roomId"`
	Reason  string             `json:"reason"`
	EndedAt time.Time          `json:"endedAt"`
	Results []battle.ResultRow `json:"results"`
}

// BattleInfoOf projects battle state into its client-facing shape.
func BattleInfoOf(b *battle.State) *BattleInfo {
	if b == nil {
		return nil
	}
	info := &BattleInfo{
		ProblemID:       b.ProblemID,
		Difficulty:      b.Difficulty,
		HostID:          b.HostID,
		DurationMinutes: int(b.Duration / time.Minute),
		Started:         b.Started,
		Ended:           b.Ended,
		EndReason:       b.EndReason,
		Submitted:       make([]string, 0, len(b.Submissions)),
	}
	if b.Started {
		at := b.StartedAt
		info.StartedAt = &at
	}
	if b.Ended {
		at := b.EndedAt
		info.EndedAt = &at
	}
	for id := range b.Submissions {
		info.Submitted = append(info.Submitted, id)
	}
	sort.Strings(info.Submitted)
	return info
}
