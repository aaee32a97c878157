package room

import (
	"context"
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/judge"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

// The exported methods are the only way in: each one is a message send into
// the loop plus a wait for its reply. They return ErrRoomClosed when racing
// eviction and the caller's context error when it gives up first.

func (r *Room) send(ctx context.Context, m roomMsg) error {
	select {
	case r.inbox <- m:
		return nil
	case <-r.ctx.Done():
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join registers a connection for the user and pushes the authoritative
// room-state-sync into outbox before any broadcast can reach it. A second
// connection for the same user replaces the first.
func (r *Room) Join(ctx context.Context, user types.UserInfo, outbox chan types.ServerEvent) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, joinMsg{user: user, outbox: outbox, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

// Leave disconnects the user: presence off, cursor gone, follow links cut.
// Their participant entry stays for history and results. outbox identifies
// the leaving connection; pass nil to leave unconditionally.
func (r *Room) Leave(ctx context.Context, userID string, outbox chan types.ServerEvent) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, leaveMsg{userID: userID, outbox: outbox, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

// ApplyDelta runs one versioned code change. expected == nil means the
// sender never saw a version and the delta text is a full buffer.
func (r *Room) ApplyDelta(ctx context.Context, userID string, expected *int64, d types.Delta) (DeltaResult, error) {
	reply := make(chan deltaReply, 1)
	if err := r.send(ctx, deltaMsg{userID: userID, expected: expected, delta: d, reply: reply}); err != nil {
		return DeltaResult{}, err
	}
	select {
	case rep := <-reply:
		return rep.res, rep.err
	case <-r.ctx.Done():
		return DeltaResult{}, ErrRoomClosed
	}
}

// FullSync replaces the whole buffer and bumps the version.
func (r *Room) FullSync(ctx context.Context, userID, code string) (int64, error) {
	reply := make(chan syncReply, 1)
	if err := r.send(ctx, fullSyncMsg{userID: userID, code: code, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case rep := <-reply:
		return rep.version, rep.err
	case <-r.ctx.Done():
		return 0, ErrRoomClosed
	}
}

// Resync pushes the authoritative state to one user.
func (r *Room) Resync(ctx context.Context, userID string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, resyncMsg{userID: userID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

// SetCursor records and broadcasts a cursor move. Fire and forget: cursor
// traffic is too chatty to round-trip.
func (r *Room) SetCursor(ctx context.Context, userID string, pos types.Position, sel *types.SelectionRange) error {
	return r.send(ctx, cursorMsg{userID: userID, position: pos, selection: sel})
}

// StartFollow makes followerID mirror targetID's viewport, replacing any
// previous follow.
func (r *Room) StartFollow(ctx context.Context, followerID, targetID string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, followMsg{followerID: followerID, targetID: targetID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

// StopFollow ends the follower's follow, if any.
func (r *Room) StopFollow(ctx context.Context, followerID string) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, unfollowMsg{followerID: followerID, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

// SetViewport records the user's viewport and relays it to their followers.
func (r *Room) SetViewport(ctx context.Context, userID string, vp types.Viewport) error {
	return r.send(ctx, viewportMsg{userID: userID, viewport: vp})
}

// StartBattle flips the battle to running. Host only.
func (r *Room) StartBattle(ctx context.Context, by string) (time.Time, error) {
	reply := make(chan startReply, 1)
	if err := r.send(ctx, startBattleMsg{by: by, reply: reply}); err != nil {
		return time.Time{}, err
	}
	select {
	case rep := <-reply:
		return rep.at, rep.err
	case <-r.ctx.Done():
		return time.Time{}, ErrRoomClosed
	}
}

// PrepareSubmit gates a submission before evaluation and returns what the
// judge needs. The actual evaluation must happen outside the loop.
func (r *Room) PrepareSubmit(ctx context.Context, userID string, codeLen int) (SubmitTicket, error) {
	reply := make(chan prepareReply, 1)
	if err := r.send(ctx, prepareSubmitMsg{userID: userID, codeLen: codeLen, reply: reply}); err != nil {
		return SubmitTicket{}, err
	}
	select {
	case rep := <-reply:
		return SubmitTicket{ProblemID: rep.problemID, Language: rep.language}, rep.err
	case <-r.ctx.Done():
		return SubmitTicket{}, ErrRoomClosed
	}
}

// CompleteSubmit re-gates a judged submission, persists it and installs the
// live summary. The returned bool reports whether this submission completed
// coverage and ended the battle.
func (r *Room) CompleteSubmit(ctx context.Context, userID, code string, verdict judge.Result) (battle.Summary, bool, error) {
	reply := make(chan submitReply, 1)
	if err := r.send(ctx, completeSubmitMsg{userID: userID, code: code, verdict: verdict, reply: reply}); err != nil {
		return battle.Summary{}, false, err
	}
	select {
	case rep := <-reply:
		return rep.sum, rep.ended, rep.err
	case <-r.ctx.Done():
		return battle.Summary{}, false, ErrRoomClosed
	}
}

// EndBattle ends the battle manually. Host only.
func (r *Room) EndBattle(ctx context.Context, by string) (time.Time, error) {
	reply := make(chan endReply, 1)
	if err := r.send(ctx, endBattleMsg{by: by, reply: reply}); err != nil {
		return time.Time{}, err
	}
	select {
	case rep := <-reply:
		return rep.at, rep.err
	case <-r.ctx.Done():
		return time.Time{}, ErrRoomClosed
	}
}

// Results builds the standings, reconciling the live summaries with the
// persisted rows the caller fetched.
func (r *Room) Results(ctx context.Context, persisted []battle.Summary) (ResultsView, error) {
	reply := make(chan resultsReply, 1)
	if err := r.send(ctx, resultsMsg{persisted: persisted, reply: reply}); err != nil {
		return ResultsView{}, err
	}
	select {
	case rep := <-reply:
		return rep.view, rep.err
	case <-r.ctx.Done():
		return ResultsView{}, ErrRoomClosed
	}
}

// View returns a race-free copy of the room for reads and tests.
func (r *Room) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := r.send(ctx, viewMsg{reply: reply}); err != nil {
		return View{}, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-r.ctx.Done():
		return View{}, ErrRoomClosed
	}
}

// Shutdown stops the loop and closes every client channel. Idempotent.
func (r *Room) Shutdown() {
	select {
	case r.inbox <- shutdownMsg{}:
	case <-r.ctx.Done():
	}
}

// Submit is the whole submission path: gate inside the loop, evaluate
// outside it, then re-gate and persist the verdict inside it. The battle may
// legitimately end mid-evaluation, in which case the verdict is discarded
// and battle.ErrAlreadyEnded comes back.
func Submit(ctx context.Context, r *Room, j Judge, userID, code string) (battle.Summary, bool, error) {
	ticket, err := r.PrepareSubmit(ctx, userID, len(code))
	if err != nil {
		return battle.Summary{}, false, err
	}
	verdict, err := j.Evaluate(ctx, ticket.ProblemID, ticket.Language, code)
	if err != nil {
		return battle.Summary{}, false, err
	}
	return r.CompleteSubmit(ctx, userID, code, verdict)
}
