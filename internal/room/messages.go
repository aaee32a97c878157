package room

import (
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/judge"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

// roomMsg is the closed set of messages the room loop consumes. Everything
// that touches room state arrives as one of these.
type roomMsg interface{ isRoomMsg() }

type joinMsg struct {
	user   types.UserInfo
	outbox chan types.ServerEvent
	reply  chan error
}

type leaveMsg struct {
	userID string
	// outbox, when non-nil, identifies the leaving connection; a leave whose
	// channel was already replaced by a newer connection is stale and ignored.
	outbox chan types.ServerEvent
	reply  chan error
}

type deltaMsg struct {
	userID   string
	expected *int64
	delta    types.Delta
	reply    chan deltaReply
}

type deltaReply struct {
	res DeltaResult
	err error
}

type fullSyncMsg struct {
	userID string
	code   string
	reply  chan syncReply
}

type syncReply struct {
	version int64
	err     error
}

type resyncMsg struct {
	userID string
	reply  chan error
}

type cursorMsg struct {
	userID    string
	position  types.Position
	selection *types.SelectionRange
}

type followMsg struct {
	followerID string
	targetID   string
	reply      chan error
}

type unfollowMsg struct {
	followerID string
	reply      chan error
}

type viewportMsg struct {
	userID   string
	viewport types.Viewport
}

type startBattleMsg struct {
	by    string
	reply chan startReply
}

type startReply struct {
	at  time.Time
	err error
}

type prepareSubmitMsg struct {
	userID  string
	codeLen int
	reply   chan prepareReply
}

type prepareReply struct {
	problemID string
	language  string
	err       error
}

type completeSubmitMsg struct {
	userID  string
	code    string
	verdict judge.Result
	reply   chan submitReply
}

type submitReply struct {
	sum   battle.Summary
	ended bool
	err   error
}

type endBattleMsg struct {
	by    string
	reply chan endReply
}

type endReply struct {
	at  time.Time
	err error
}

type resultsMsg struct {
	persisted []battle.Summary
	reply     chan resultsReply
}

type resultsReply struct {
	view ResultsView
	err  error
}

type viewMsg struct {
	reply chan View
}

type battleTimerFired struct{ gen uint64 }

type idleTimerFired struct{ gen uint64 }

type shutdownMsg struct{}

func (joinMsg) isRoomMsg()           {}
func (leaveMsg) isRoomMsg()          {}
func (deltaMsg) isRoomMsg()          {}
func (fullSyncMsg) isRoomMsg()       {}
func (resyncMsg) isRoomMsg()         {}
func (cursorMsg) isRoomMsg()         {}
func (followMsg) isRoomMsg()         {}
func (unfollowMsg) isRoomMsg()       {}
func (viewportMsg) isRoomMsg()       {}
func (startBattleMsg) isRoomMsg()    {}
func (prepareSubmitMsg) isRoomMsg()  {}
func (completeSubmitMsg) isRoomMsg() {}
func (endBattleMsg) isRoomMsg()      {}
func (resultsMsg) isRoomMsg()        {}
func (viewMsg) isRoomMsg()           {}
func (battleTimerFired) isRoomMsg()  {}
func (idleTimerFired) isRoomMsg()    {}
func (shutdownMsg) isRoomMsg()       {}

// DeltaResult is the outcome of a versioned code change. A version mismatch
// is a normal outcome, not an error: Accepted is false and Mismatch carries
// the authoritative recovery payload for the sender.
type DeltaResult struct {
	Accepted   bool
	NewVersion int64
	Mismatch   *types.VersionMismatchPayload
}

// SubmitTicket is what a submission needs before evaluation: which problem
// to judge and in which language. Evaluation runs outside the room loop.
type SubmitTicket struct {
	ProblemID string
	Language  string
}

// View is a read-only copy of the room for HTTP reads and tests.
type View struct {
	RoomID   string
	RoomCode string
	Language string
	Mode     string
	Code     string
	Version  int64
	IsActive bool
	Users    []types.RosterEntry
	Battle   *battle.State
	Clients  int
}

// ResultsView is the standings projection served over HTTP and broadcast on
// battle end.
type ResultsView struct {
	RoomID     string             `json:"roomId"`
	ProblemID  string             `json:"problemId"`
	Difficulty string             `json:"difficulty"`
	Started    bool               `json:"started"`
	StartedAt  time.Time          `json:"startedAt,omitempty"`
	Ended      bool               `json:"ended"`
	EndedAt    time.Time          `json:"endedAt,omitempty"`
	EndReason  string             `json:"endReason,omitempty"`
	Results    []battle.ResultRow `json:"results"`
}
