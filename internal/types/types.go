package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Inbound event names. The set is closed: Decode rejects anything else.
const (
	EvtJoinRoom         = "join-room"
	EvtLeaveRoom        = "leave-room"
	EvtCodeChange       = "code-change"
	EvtCodeSync         = "code-sync"
	EvtCursorMove       = "cursor-move"
	EvtStartFollowing   = "start-following"
	EvtStopFollowing    = "stop-following"
	EvtViewportSync     = "viewport-sync"
	EvtSubmit           = "submit"
	EvtReconnectRequest = "reconnect-request"
)

// Outbound event names. code-change, cursor-move and viewport-sync are
// echoed under their inbound names, tagged with the author.
const (
	EvtRoomStateSync    = "room-state-sync"
	EvtVersionMismatch  = "version-mismatch"
	EvtUsersInRoom      = "users-in-room"
	EvtUserJoined       = "user-joined-room"
	EvtUserLeft         = "user-left-collab-room"
	EvtFollowStarted    = "follow-started"
	EvtFollowStopped    = "follow-stopped"
	EvtBattleStarted    = "battle-started"
	EvtBattleSubmission = "battle-submission"
	EvtBattleEnded      = "battle-ended"
	EvtError            = "error"
)

var (
	ErrUnknownEvent = errors.New("unknown event type")
	ErrBadPayload   = errors.New("malformed event payload")
)

// Position is a cursor location in the shared buffer.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// SelectionRange is an optional selected span.
type SelectionRange struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Delta is a contiguous splice of the shared code: the byte range
// [RangeStart, RangeEnd) is replaced by Text. A full-buffer replace is the
// degenerate case RangeStart=0, RangeEnd=len(code).
type Delta struct {
	RangeStart int    `json:"rangeStart"`
	RangeEnd   int    `json:"rangeEnd"`
	Text       string `json:"text"`
}

// VisibleRange is the span of lines a client currently renders.
type VisibleRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Viewport is a client's scroll state, relayed to followers.
type Viewport struct {
	ScrollTop    float64      `json:"scrollTop"`
	ScrollLeft   float64      `json:"scrollLeft"`
	VisibleRange VisibleRange `json:"visibleRange"`
	Timestamp    int64        `json:"timestamp"`
}

// UserInfo identifies a joining participant.
type UserInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

// ClientEvent is the closed union of inbound events.
type ClientEvent interface{ isClientEvent() }

type JoinRoom struct {
	RoomID   string   `json:"roomId"`
	Language string   `json:"language"`
	UserInfo UserInfo `json:"userInfo"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type CodeChange struct {
	RoomID string `json:"roomId"`
	// nil means the sender never observed a version (new-joiner race);
	// the change is then treated as a full sync, never as a plain delta.
	ExpectedVersion *int64 `json:"expectedVersion"`
	Delta           Delta  `json:"delta"`
}

type CodeSync struct {
	RoomID   string `json:"roomId"`
	FullCode string `json:"fullCode"`
}

type CursorMove struct {
	RoomID    string          `json:"roomId"`
	Position  Position        `json:"position"`
	Selection *SelectionRange `json:"selection,omitempty"`
}

type StartFollowing struct {
	TargetID string `json:"targetId"`
}

type StopFollowing struct{}

type ViewportSync struct {
	Viewport
}

type Submit struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type ReconnectRequest struct {
	RoomID string `json:"roomId"`
}

func (JoinRoom) isClientEvent()         {}
func (LeaveRoom) isClientEvent()        {}
func (CodeChange) isClientEvent()       {}
func (CodeSync) isClientEvent()         {}
func (CursorMove) isClientEvent()       {}
func (StartFollowing) isClientEvent()   {}
func (StopFollowing) isClientEvent()    {}
func (ViewportSync) isClientEvent()     {}
func (Submit) isClientEvent()           {}
func (ReconnectRequest) isClientEvent() {}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses one inbound frame into its typed variant. Unknown types and
// payloads missing required fields are rejected here, at the boundary.
func Decode(data []byte) (ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch env.Type {
	case EvtJoinRoom:
		var ev JoinRoom
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.RoomID == "" || ev.UserInfo.UserID == "" {
			return nil, fmt.Errorf("%w: join-room requires roomId and userInfo.userId", ErrBadPayload)
		}
		return ev, nil

	case EvtLeaveRoom:
		var ev LeaveRoom
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case EvtCodeChange:
		var ev CodeChange
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.RoomID == "" {
			return nil, fmt.Errorf("%w: code-change requires roomId", ErrBadPayload)
		}
		if ev.Delta.RangeStart < 0 || ev.Delta.RangeEnd < ev.Delta.RangeStart {
			return nil, fmt.Errorf("%w: code-change delta range is inverted", ErrBadPayload)
		}
		return ev, nil

	case EvtCodeSync:
		var ev CodeSync
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.RoomID == "" {
			return nil, fmt.Errorf("%w: code-sync requires roomId", ErrBadPayload)
		}
		return ev, nil

	case EvtCursorMove:
		var ev CursorMove
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case EvtStartFollowing:
		var ev StartFollowing
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.TargetID == "" {
			return nil, fmt.Errorf("%w: start-following requires targetId", ErrBadPayload)
		}
		return ev, nil

	case EvtStopFollowing:
		return StopFollowing{}, nil

	case EvtViewportSync:
		var ev ViewportSync
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	case EvtSubmit:
		var ev Submit
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		if ev.RoomID == "" {
			return nil, fmt.Errorf("%w: submit requires roomId", ErrBadPayload)
		}
		return ev, nil

	case EvtReconnectRequest:
		var ev ReconnectRequest
		if err := unmarshalPayload(env.Payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
}

func unmarshalPayload(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// ServerEvent is one outbound frame. Payloads are typed per event; the
// envelope is marshaled once at the transport edge.
type ServerEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// RosterEntry is a participant as shown to clients.
type RosterEntry struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar,omitempty"`
	Role        string    `json:"role"`
	Color       string    `json:"color"`
	IsActive    bool      `json:"isActive"`
	JoinedAt    time.Time `json:"joinedAt"`
}

// CursorInfo is one user's cursor as shown to clients.
type CursorInfo struct {
	Position    Position        `json:"position"`
	Selection   *SelectionRange `json:"selection,omitempty"`
	Color       string          `json:"color"`
	DisplayName string          `json:"displayName"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type CodeChangeBroadcast struct {
	Delta      Delta  `json:"delta"`
	NewVersion int64  `json:"newVersion"`
	AuthorID   string `json:"authorId"`
}

type VersionMismatchPayload struct {
	AuthoritativeCode    string `json:"authoritativeCode"`
	AuthoritativeVersion int64  `json:"authoritativeVersion"`
}

type RosterPayload struct {
	Users []RosterEntry `json:"users"`
}

type UserJoinedPayload struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

// CursorBroadcast flattens one user's cursor next to their id, matching the
// inbound cursor-move shape.
type CursorBroadcast struct {
	UserID      string          `json:"userId"`
	Position    Position        `json:"position"`
	Selection   *SelectionRange `json:"selection,omitempty"`
	Color       string          `json:"color"`
	DisplayName string          `json:"displayName"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type FollowPayload struct {
	FollowerID string `json:"followerId"`
	TargetID   string `json:"targetId"`
}

type ViewportBroadcast struct {
	UserID   string   `json:"userId"`
	Viewport Viewport `json:"viewport"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
