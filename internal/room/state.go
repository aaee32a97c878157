// Package room owns live room state and the per-room actor that serializes
// every mutation of it. One goroutine per room is the whole concurrency
// story: join/leave, code sync, cursors, follows and battle transitions all
// pass through the room's inbox one message at a time.
package room

import (
	"hash/fnv"
	"sort"
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

// Room modes.
const (
	ModeCollaborative = "collaborative"
	ModeBattle        = "battle"
)

// Participant roles.
const (
	RoleHost        = "host"
	RoleParticipant = "participant"
)

// FollowModeViewport is the only follow mode: mirror the followed user's
// viewport.
const FollowModeViewport = "viewport"

// Participant is a member of the live users set: presence in State.Users is
// the authoritative "currently connected" signal.
type Participant struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	Role        string    `json:"role"`
	Color       string    `json:"color"`
	IsActive    bool      `json:"isActive"`
	JoinedAt    time.Time `json:"joinedAt"`
	LastSeen    time.Time `json:"lastSeen"`
}

// CursorState is one user's cursor; it lives and dies with the connection
// and is never persisted.
type CursorState struct {
	Position    types.Position        `json:"position"`
	Selection   *types.SelectionRange `json:"selection,omitempty"`
	Color       string                `json:"color"`
	DisplayName string                `json:"displayName"`
	UpdatedAt   time.Time             `json:"updatedAt"`
}

// FollowRelationship records that its key (the follower) mirrors
// FollowingID's viewport. At most one per follower per room.
type FollowRelationship struct {
	FollowingID string    `json:"followingId"`
	RoomID      string    `json:"roomId"`
	Mode        string    `json:"mode"`
	StartedAt   time.Time `json:"startedAt"`
}

// State is the live, in-process source of truth for one room while warm.
type State struct {
	RoomID         string
	RoomCode       string
	Language       string
	Mode           string
	Code           string
	Version        int64
	LastModified   time.Time
	LastModifiedBy string
	CreatedAt      time.Time
	IsActive       bool

	Users     map[string]Participant
	Cursors   map[string]CursorState
	Following map[string]FollowRelationship
	Viewports map[string]types.Viewport

	Battle *battle.State
}

// NewState builds an empty live state with all collections ready.
func NewState(roomID, roomCode, language, mode string, createdAt time.Time) *State {
	return &State{
		RoomID:    roomID,
		RoomCode:  roomCode,
		Language:  language,
		Mode:      mode,
		CreatedAt: createdAt,
		IsActive:  true,
		Users:     make(map[string]Participant),
		Cursors:   make(map[string]CursorState),
		Following: make(map[string]FollowRelationship),
		Viewports: make(map[string]types.Viewport),
	}
}

// spliceCode applies a delta as a contiguous byte-range replacement, with
// out-of-range offsets clamped to the buffer.
func spliceCode(code string, d types.Delta) string {
	start, end := d.RangeStart, d.RangeEnd
	if start < 0 {
		start = 0
	}
	if start > len(code) {
		start = len(code)
	}
	if end < start {
		end = start
	}
	if end > len(code) {
		end = len(code)
	}
	return code[:start] + d.Text + code[end:]
}

// cursorPalette are the display colors cycled by user id hash. Assignment is
// deterministic so a user keeps their color across reconnects and processes.
var cursorPalette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#008080",
}

// ColorFor returns the deterministic display color for a user.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return cursorPalette[h.Sum32()%uint32(len(cursorPalette))]
}

// roster returns the users set as a stable wire roster, ordered by join time
// then id.
func (s *State) roster() []types.RosterEntry {
	out := make([]types.RosterEntry, 0, len(s.Users))
	for _, p := range s.Users {
		out = append(out, types.RosterEntry{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Avatar:      p.Avatar,
			Role:        p.Role,
			Color:       p.Color,
			IsActive:    p.IsActive,
			JoinedAt:    p.JoinedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// wireCursors converts the cursors map to its outbound shape.
func (s *State) wireCursors() map[string]types.CursorInfo {
	out := make(map[string]types.CursorInfo, len(s.Cursors))
	for id, c := range s.Cursors {
		out[id] = types.CursorInfo{
			Position:    c.Position,
			Selection:   c.Selection,
			Color:       c.Color,
			DisplayName: c.DisplayName,
			UpdatedAt:   c.UpdatedAt,
		}
	}
	return out
}

// activeUserIDs lists currently connected users, the set battle auto-end
// coverage is judged against.
func (s *State) activeUserIDs() []string {
	ids := make([]string, 0, len(s.Users))
	for id, p := range s.Users {
		if p.IsActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// entrants is the battle roster for ranking: every live user, active or not.
func (s *State) entrants() []battle.Entrant {
	roster := s.roster()
	out := make([]battle.Entrant, 0, len(roster))
	for _, r := range roster {
		out = append(out, battle.Entrant{UserID: r.UserID, DisplayName: r.DisplayName})
	}
	return out
}
