package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/judge"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

var (
	// ErrRoomClosed is returned for any call that races the room's eviction
	// or shutdown.
	ErrRoomClosed = errors.New("room is closed")
	// ErrNotBattleRoom rejects battle operations on collaborative rooms.
	ErrNotBattleRoom = errors.New("room is not in battle mode")
	// ErrNotParticipant rejects operations from users not in the room.
	ErrNotParticipant = errors.New("user is not a participant of this room")
	// ErrSelfFollow rejects following yourself.
	ErrSelfFollow = errors.New("cannot follow yourself")
	// ErrCodeTooLarge rejects code past the configured size limit.
	ErrCodeTooLarge = errors.New("code exceeds the size limit")
	// ErrTierUnavailable wraps a storage-tier failure on a path that cannot
	// tolerate one, such as the durable submission write.
	ErrTierUnavailable = errors.New("storage tier unavailable")
)

const (
	inboxSize      = 64
	persistTimeout = 5 * time.Second
	defaultMaxCode = 256 << 10
)

// Persistence is the slice of the persistent tier the room loop writes.
// Submission and lifecycle writes happen inside the loop; everything else is
// best-effort write-through off the loop.
type Persistence interface {
	SaveCode(ctx context.Context, roomID, code string, version int64, modifiedBy string) error
	MarkStarted(ctx context.Context, roomID string, at time.Time) error
	MarkEnded(ctx context.Context, roomID string, at time.Time, reason string) error
	SetRoomActive(ctx context.Context, roomID string, active bool) error
	RecordJoin(ctx context.Context, roomID string, p Participant) error
	SetParticipantActive(ctx context.Context, roomID, userID string, active bool, lastSeen time.Time) error
	RecordSubmission(ctx context.Context, roomID string, sum battle.Summary, code string) (battle.Summary, error)
}

// SnapshotWriter is the slice of the cache tier the room loop writes.
type SnapshotWriter interface {
	SetSnapshot(ctx context.Context, snap *Snapshot) error
}

// Judge evaluates a submission against its problem's hidden tests.
// Evaluation runs outside the room loop; only the verdict re-enters it.
type Judge interface {
	Evaluate(ctx context.Context, problemID, language, code string) (judge.Result, error)
}

// Deps wires a room to the slower tiers. Store and Cache may be nil, which
// turns the corresponding writes off; tests rely on that.
type Deps struct {
	Log          *zap.Logger
	Store        Persistence
	Cache        SnapshotWriter
	MaxCodeBytes int
	IdleTTL      time.Duration
	OnEvict      func(*Room)
}

// Room is the actor owning one live room. All state behind it is touched by
// exactly one goroutine; the exported methods are message sends.
type Room struct {
	id      string
	inbox   chan roomMsg
	state   *State
	clients map[string]chan types.ServerEvent
	deps    Deps
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	battleTimer *time.Timer
	battleGen   uint64
	idleTimer   *time.Timer
	idleGen     uint64
}

// New starts the room loop over the given state. If the state carries a
// running battle whose deadline already passed (a reconstruction after the
// process lost the timer), the loop ends it immediately.
func New(parent context.Context, state *State, deps Deps) *Room {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.MaxCodeBytes <= 0 {
		deps.MaxCodeBytes = defaultMaxCode
	}
	ctx, cancel := context.WithCancel(parent)
	r := &Room{
		id:      state.RoomID,
		inbox:   make(chan roomMsg, inboxSize),
		state:   state,
		clients: make(map[string]chan types.ServerEvent),
		deps:    deps,
		log:     deps.Log.With(zap.String("roomId", state.RoomID)),
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.loop()
	return r
}

func (r *Room) ID() string { return r.id }

// Done closes when the loop has shut down.
func (r *Room) Done() <-chan struct{} { return r.ctx.Done() }

func (r *Room) loop() {
	if b := r.state.Battle; b.Unresolved() {
		remain := time.Until(b.StartedAt.Add(b.Duration))
		if remain <= 0 {
			r.finishBattle(battle.EndReasonTimeout)
		} else {
			r.armBattleTimer(remain)
		}
	}
	r.maybeArmIdle()

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return
		case m := <-r.inbox:
			if _, ok := m.(shutdownMsg); ok {
				r.shutdown()
				return
			}
			r.handle(m)
		}
	}
}

func (r *Room) handle(m roomMsg) {
	switch msg := m.(type) {
	case joinMsg:
		r.handleJoin(msg)
	case leaveMsg:
		r.handleLeave(msg)
	case deltaMsg:
		r.handleDelta(msg)
	case fullSyncMsg:
		r.handleFullSync(msg)
	case resyncMsg:
		r.handleResync(msg)
	case cursorMsg:
		r.handleCursor(msg)
	case followMsg:
		r.handleFollow(msg)
	case unfollowMsg:
		r.handleUnfollow(msg)
	case viewportMsg:
		r.handleViewport(msg)
	case startBattleMsg:
		r.handleStartBattle(msg)
	case prepareSubmitMsg:
		r.handlePrepareSubmit(msg)
	case completeSubmitMsg:
		r.handleCompleteSubmit(msg)
	case endBattleMsg:
		r.handleEndBattle(msg)
	case resultsMsg:
		r.handleResults(msg)
	case viewMsg:
		msg.reply <- r.view()
	case battleTimerFired:
		r.handleBattleTimer(msg)
	case idleTimerFired:
		r.handleIdleTimer(msg)
	}
}

func (r *Room) shutdown() {
	for id, ch := range r.clients {
		close(ch)
		delete(r.clients, id)
	}
	r.stopBattleTimer()
	r.stopIdleTimer()
	r.cancel()
}

// --- membership ---

func (r *Room) handleJoin(m joinMsg) {
	now := time.Now()
	u := m.user
	p, existed := r.state.Users[u.UserID]
	if !existed {
		role := RoleParticipant
		if b := r.state.Battle; b != nil {
			if b.HostID == u.UserID {
				role = RoleHost
			}
		} else if len(r.state.Users) == 0 {
			role = RoleHost
		}
		p = Participant{
			UserID:   u.UserID,
			Role:     role,
			Color:    ColorFor(u.UserID),
			JoinedAt: now,
		}
	}
	if u.DisplayName != "" {
		p.DisplayName = u.DisplayName
	}
	if p.DisplayName == "" {
		p.DisplayName = u.UserID
	}
	if u.Avatar != "" {
		p.Avatar = u.Avatar
	}
	if p.Color == "" {
		p.Color = ColorFor(u.UserID)
	}
	p.IsActive = true
	p.LastSeen = now
	r.state.Users[u.UserID] = p

	if old, ok := r.clients[u.UserID]; ok && old != m.outbox {
		close(old)
	}
	r.clients[u.UserID] = m.outbox
	r.stopIdleTimer()

	// The joiner gets the authoritative snapshot before anything else.
	m.outbox <- r.stateSyncEvent()

	r.broadcast(types.ServerEvent{
		Type: types.EvtUserJoined,
		Payload: types.UserJoinedPayload{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Color:       p.Color,
		},
	}, u.UserID)
	r.broadcast(r.rosterEvent(), "")

	r.persistAsync("join", func(ctx context.Context) error {
		return r.deps.Store.RecordJoin(ctx, r.id, p)
	})
	r.cacheSnapshot()
	m.reply <- nil
}

func (r *Room) handleLeave(m leaveMsg) {
	cur, connected := r.clients[m.userID]
	if m.outbox != nil && (!connected || cur != m.outbox) {
		// A newer connection replaced this one; its leave must not touch it.
		m.reply <- nil
		return
	}
	if connected {
		close(cur)
		delete(r.clients, m.userID)
	}
	p, ok := r.state.Users[m.userID]
	if !ok {
		m.reply <- nil
		return
	}
	now := time.Now()
	p.IsActive = false
	p.LastSeen = now
	r.state.Users[m.userID] = p
	delete(r.state.Cursors, m.userID)
	delete(r.state.Viewports, m.userID)

	if rel, following := r.state.Following[m.userID]; following {
		delete(r.state.Following, m.userID)
		r.broadcast(followEvent(types.EvtFollowStopped, m.userID, rel.FollowingID), "")
	}
	for follower, rel := range r.state.Following {
		if rel.FollowingID == m.userID {
			delete(r.state.Following, follower)
			r.broadcast(followEvent(types.EvtFollowStopped, follower, m.userID), "")
		}
	}

	r.broadcast(types.ServerEvent{
		Type:    types.EvtUserLeft,
		Payload: types.UserLeftPayload{UserID: m.userID},
	}, "")
	r.broadcast(r.rosterEvent(), "")

	r.persistAsync("leave", func(ctx context.Context) error {
		return r.deps.Store.SetParticipantActive(ctx, r.id, m.userID, false, now)
	})
	r.cacheSnapshot()

	// The active set shrank; remaining coverage may now be complete.
	if b := r.state.Battle; b.Unresolved() && b.AllSubmitted(r.state.activeUserIDs()) {
		r.finishBattle(battle.EndReasonAllSubmitted)
	}
	r.maybeArmIdle()
	m.reply <- nil
}

// --- code sync ---

func (r *Room) handleDelta(m deltaMsg) {
	if _, ok := r.clients[m.userID]; !ok {
		m.reply <- deltaReply{err: ErrNotParticipant}
		return
	}
	// No observed version means the sender is blind to history; their
	// payload is a full buffer, not a splice.
	if m.expected == nil {
		v, err := r.applyFullSync(m.userID, m.delta.Text)
		m.reply <- deltaReply{res: DeltaResult{Accepted: err == nil, NewVersion: v}, err: err}
		return
	}
	if *m.expected != r.state.Version {
		m.reply <- deltaReply{res: DeltaResult{
			Mismatch: &types.VersionMismatchPayload{
				AuthoritativeCode:    r.state.Code,
				AuthoritativeVersion: r.state.Version,
			},
		}}
		return
	}
	next := spliceCode(r.state.Code, m.delta)
	if len(next) > r.deps.MaxCodeBytes {
		m.reply <- deltaReply{err: ErrCodeTooLarge}
		return
	}
	now := time.Now()
	r.state.Code = next
	r.state.Version++
	r.state.LastModified = now
	r.state.LastModifiedBy = m.userID

	r.broadcast(types.ServerEvent{
		Type: types.EvtCodeChange,
		Payload: types.CodeChangeBroadcast{
			Delta:      m.delta,
			NewVersion: r.state.Version,
			AuthorID:   m.userID,
		},
	}, m.userID)
	r.persistCode()
	r.cacheSnapshot()
	m.reply <- deltaReply{res: DeltaResult{Accepted: true, NewVersion: r.state.Version}}
}

func (r *Room) handleFullSync(m fullSyncMsg) {
	if _, ok := r.clients[m.userID]; !ok {
		m.reply <- syncReply{err: ErrNotParticipant}
		return
	}
	v, err := r.applyFullSync(m.userID, m.code)
	m.reply <- syncReply{version: v, err: err}
}

// applyFullSync overwrites the shared buffer unconditionally, bumps the
// version and pushes the authoritative state to every member.
func (r *Room) applyFullSync(userID, code string) (int64, error) {
	if len(code) > r.deps.MaxCodeBytes {
		return 0, ErrCodeTooLarge
	}
	r.state.Code = code
	r.state.Version++
	r.state.LastModified = time.Now()
	r.state.LastModifiedBy = userID
	r.broadcast(r.stateSyncEvent(), "")
	r.persistCode()
	r.cacheSnapshot()
	return r.state.Version, nil
}

func (r *Room) handleResync(m resyncMsg) {
	if _, ok := r.clients[m.userID]; !ok {
		m.reply <- ErrNotParticipant
		return
	}
	r.sendTo(m.userID, r.stateSyncEvent())
	m.reply <- nil
}

// --- presence ---

func (r *Room) handleCursor(m cursorMsg) {
	p, ok := r.state.Users[m.userID]
	if !ok {
		return
	}
	if _, connected := r.clients[m.userID]; !connected {
		return
	}
	now := time.Now()
	r.state.Cursors[m.userID] = CursorState{
		Position:    m.position,
		Selection:   m.selection,
		Color:       p.Color,
		DisplayName: p.DisplayName,
		UpdatedAt:   now,
	}
	r.broadcast(types.ServerEvent{
		Type: types.EvtCursorMove,
		Payload: types.CursorBroadcast{
			UserID:      m.userID,
			Position:    m.position,
			Selection:   m.selection,
			Color:       p.Color,
			DisplayName: p.DisplayName,
			UpdatedAt:   now,
		},
	}, m.userID)
}

func (r *Room) handleFollow(m followMsg) {
	if _, ok := r.clients[m.followerID]; !ok {
		m.reply <- ErrNotParticipant
		return
	}
	if m.followerID == m.targetID {
		m.reply <- ErrSelfFollow
		return
	}
	if _, ok := r.clients[m.targetID]; !ok {
		m.reply <- ErrNotParticipant
		return
	}
	if rel, ok := r.state.Following[m.followerID]; ok {
		if rel.FollowingID == m.targetID {
			m.reply <- nil
			return
		}
		r.broadcast(followEvent(types.EvtFollowStopped, m.followerID, rel.FollowingID), "")
	}
	r.state.Following[m.followerID] = FollowRelationship{
		FollowingID: m.targetID,
		RoomID:      r.id,
		Mode:        FollowModeViewport,
		StartedAt:   time.Now(),
	}
	r.broadcast(followEvent(types.EvtFollowStarted, m.followerID, m.targetID), "")
	m.reply <- nil
}

func (r *Room) handleUnfollow(m unfollowMsg) {
	rel, ok := r.state.Following[m.followerID]
	if !ok {
		// Stopping when not following is a no-op, not an error.
		m.reply <- nil
		return
	}
	delete(r.state.Following, m.followerID)
	r.broadcast(followEvent(types.EvtFollowStopped, m.followerID, rel.FollowingID), "")
	m.reply <- nil
}

func (r *Room) handleViewport(m viewportMsg) {
	if _, ok := r.clients[m.userID]; !ok {
		return
	}
	r.state.Viewports[m.userID] = m.viewport
	ev := types.ServerEvent{
		Type:    types.EvtViewportSync,
		Payload: types.ViewportBroadcast{UserID: m.userID, Viewport: m.viewport},
	}
	for follower, rel := range r.state.Following {
		if rel.FollowingID == m.userID {
			r.sendTo(follower, ev)
		}
	}
}

// --- battle ---

func (r *Room) handleStartBattle(m startBattleMsg) {
	b := r.state.Battle
	if b == nil {
		m.reply <- startReply{err: ErrNotBattleRoom}
		return
	}
	if m.by != b.HostID {
		m.reply <- startReply{err: battle.ErrNotHost}
		return
	}
	if len(r.state.activeUserIDs()) == 0 {
		m.reply <- startReply{err: battle.ErrNoParticipants}
		return
	}
	now := time.Now()
	if err := b.Start(now); err != nil {
		m.reply <- startReply{err: err}
		return
	}
	if r.deps.Store != nil {
		ctx, cancel := persistCtx()
		if err := r.deps.Store.MarkStarted(ctx, r.id, now); err != nil {
			r.log.Error("persist battle start failed", zap.Error(err))
		}
		cancel()
	}
	r.armBattleTimer(b.Duration)
	r.broadcast(types.ServerEvent{
		Type: types.EvtBattleStarted,
		Payload: BattleStartedPayload{
			RoomID:          r.id,
			ProblemID:       b.ProblemID,
			Difficulty:      b.Difficulty,
			DurationMinutes: int(b.Duration / time.Minute),
			StartedAt:       now,
		},
	}, "")
	r.log.Info("battle started", zap.String("problemId", b.ProblemID))
	r.cacheSnapshot()
	m.reply <- startReply{at: now}
}

func (r *Room) handlePrepareSubmit(m prepareSubmitMsg) {
	b := r.state.Battle
	switch {
	case b == nil:
		m.reply <- prepareReply{err: ErrNotBattleRoom}
	case b.Ended:
		m.reply <- prepareReply{err: battle.ErrAlreadyEnded}
	case !b.Started:
		m.reply <- prepareReply{err: battle.ErrNotStarted}
	case m.codeLen > r.deps.MaxCodeBytes:
		m.reply <- prepareReply{err: ErrCodeTooLarge}
	default:
		if _, ok := r.clients[m.userID]; !ok {
			m.reply <- prepareReply{err: ErrNotParticipant}
			return
		}
		m.reply <- prepareReply{problemID: b.ProblemID, language: r.state.Language}
	}
}

func (r *Room) handleCompleteSubmit(m completeSubmitMsg) {
	b := r.state.Battle
	switch {
	case b == nil:
		m.reply <- submitReply{err: ErrNotBattleRoom}
		return
	case b.Ended:
		// The battle ended while this submission was being judged.
		m.reply <- submitReply{err: battle.ErrAlreadyEnded}
		return
	case !b.Started:
		m.reply <- submitReply{err: battle.ErrNotStarted}
		return
	}
	if _, ok := r.state.Users[m.userID]; !ok {
		m.reply <- submitReply{err: ErrNotParticipant}
		return
	}

	now := time.Now()
	total := b.TotalTests
	if total <= 0 {
		total = m.verdict.Total
	}
	passed := m.verdict.Passed
	if passed < 0 {
		passed = 0
	}
	if passed > total {
		passed = total
	}
	execMs := m.verdict.ExecutionMs
	if execMs < 0 {
		execMs = 0
	}
	sum := battle.Summary{
		UserID:      m.userID,
		Passed:      passed,
		Total:       total,
		CodeLength:  len(m.code),
		ExecutionMs: execMs,
		Score:       battle.CompositeScore(passed, total, execMs, len(m.code)),
		SubmittedAt: now,
	}

	// Durable first: the live summary is written only after its row is.
	if r.deps.Store != nil {
		ctx, cancel := persistCtx()
		effective, err := r.deps.Store.RecordSubmission(ctx, r.id, sum, m.code)
		cancel()
		if err != nil {
			m.reply <- submitReply{err: fmt.Errorf("%w: persist submission: %v", ErrTierUnavailable, err)}
			return
		}
		sum = effective
	}
	if err := b.RecordSubmission(sum); err != nil {
		m.reply <- submitReply{err: err}
		return
	}
	r.broadcast(types.ServerEvent{
		Type:    types.EvtBattleSubmission,
		Payload: BattleSubmissionPayload{RoomID: r.id, Summary: sum},
	}, "")

	ended := false
	if b.AllSubmitted(r.state.activeUserIDs()) {
		if _, err := r.finishBattle(battle.EndReasonAllSubmitted); err == nil {
			ended = true
		}
	} else {
		r.cacheSnapshot()
	}
	m.reply <- submitReply{sum: sum, ended: ended}
}

func (r *Room) handleEndBattle(m endBattleMsg) {
	b := r.state.Battle
	if b == nil {
		m.reply <- endReply{err: ErrNotBattleRoom}
		return
	}
	if m.by != b.HostID {
		m.reply <- endReply{err: battle.ErrNotHost}
		return
	}
	at, err := r.finishBattle(battle.EndReasonManual)
	m.reply <- endReply{at: at, err: err}
}

// finishBattle is the single terminal transition. Whichever trigger reaches
// it first wins; later callers get ErrAlreadyEnded from the machine.
func (r *Room) finishBattle(reason string) (time.Time, error) {
	b := r.state.Battle
	now := time.Now()
	if err := b.End(reason, now); err != nil {
		return time.Time{}, err
	}
	r.stopBattleTimer()
	if r.deps.Store != nil {
		ctx, cancel := persistCtx()
		if err := r.deps.Store.MarkEnded(ctx, r.id, now, reason); err != nil {
			r.log.Error("persist battle end marker failed", zap.Error(err))
		}
		cancel()
	}
	rows := battle.Rank(b, r.state.entrants(), nil)
	r.broadcast(types.ServerEvent{
		Type: types.EvtBattleEnded,
		Payload: BattleEndedPayload{
			RoomID:  r.id,
			Reason:  reason,
			EndedAt: now,
			Results: rows,
		},
	}, "")
	r.log.Info("battle ended", zap.String("reason", reason), zap.Int("submissions", len(b.Submissions)))
	r.cacheSnapshot()
	r.maybeArmIdle()
	return now, nil
}

func (r *Room) handleResults(m resultsMsg) {
	b := r.state.Battle
	if b == nil {
		m.reply <- resultsReply{err: ErrNotBattleRoom}
		return
	}
	view := ResultsView{
		RoomID:     r.id,
		ProblemID:  b.ProblemID,
		Difficulty: b.Difficulty,
		Started:    b.Started,
		StartedAt:  b.StartedAt,
		Ended:      b.Ended,
		EndedAt:    b.EndedAt,
		EndReason:  b.EndReason,
		Results:    battle.Rank(b, r.state.entrants(), m.persisted),
	}
	m.reply <- resultsReply{view: view}
}

func (r *Room) view() View {
	return View{
		RoomID:   r.state.RoomID,
		RoomCode: r.state.RoomCode,
		Language: r.state.Language,
		Mode:     r.state.Mode,
		Code:     r.state.Code,
		Version:  r.state.Version,
		IsActive: r.state.IsActive,
		Users:    r.state.roster(),
		Battle:   r.state.Battle.Clone(),
		Clients:  len(r.clients),
	}
}

// --- timers ---

func (r *Room) handleBattleTimer(m battleTimerFired) {
	if m.gen != r.battleGen {
		return
	}
	if b := r.state.Battle; !b.Unresolved() {
		return
	}
	r.finishBattle(battle.EndReasonTimeout)
}

func (r *Room) handleIdleTimer(m idleTimerFired) {
	if m.gen != r.idleGen {
		return
	}
	if len(r.clients) != 0 {
		return
	}
	if r.state.Battle.Unresolved() {
		return
	}
	r.evict()
}

// evict flushes a final snapshot, releases the room from the registry and
// stops the loop. A later join rebuilds it from the cache or the store.
func (r *Room) evict() {
	r.log.Info("room idle, evicting")
	if r.deps.Cache != nil {
		ctx, cancel := persistCtx()
		if err := r.deps.Cache.SetSnapshot(ctx, SnapshotOf(r.state)); err != nil {
			r.log.Warn("final snapshot write failed", zap.Error(err))
		}
		cancel()
	}
	if b := r.state.Battle; b != nil && b.Ended {
		r.persistAsync("deactivate", func(ctx context.Context) error {
			return r.deps.Store.SetRoomActive(ctx, r.id, false)
		})
	}
	if r.deps.OnEvict != nil {
		r.deps.OnEvict(r)
	}
	r.cancel()
}

func (r *Room) armBattleTimer(d time.Duration) {
	r.stopBattleTimer()
	r.battleGen++
	gen := r.battleGen
	r.battleTimer = time.AfterFunc(d, func() {
		select {
		case r.inbox <- battleTimerFired{gen: gen}:
		case <-r.ctx.Done():
		}
	})
}

// stopBattleTimer also bumps the generation so an already-fired message is
// recognized as stale.
func (r *Room) stopBattleTimer() {
	r.battleGen++
	if r.battleTimer != nil {
		r.battleTimer.Stop()
		r.battleTimer = nil
	}
}

func (r *Room) maybeArmIdle() {
	if len(r.clients) != 0 || r.deps.IdleTTL <= 0 {
		return
	}
	if r.state.Battle.Unresolved() {
		return
	}
	r.armIdleTimer(r.deps.IdleTTL)
}

func (r *Room) armIdleTimer(d time.Duration) {
	r.stopIdleTimer()
	r.idleGen++
	gen := r.idleGen
	r.idleTimer = time.AfterFunc(d, func() {
		select {
		case r.inbox <- idleTimerFired{gen: gen}:
		case <-r.ctx.Done():
		}
	})
}

func (r *Room) stopIdleTimer() {
	r.idleGen++
	if r.idleTimer != nil {
		r.idleTimer.Stop()
		r.idleTimer = nil
	}
}

// --- fan-out ---

// broadcast delivers to every connected client except one. A client whose
// outbox is full is dropped rather than allowed to block the loop; its
// writer sees the closed channel and tears the connection down.
func (r *Room) broadcast(ev types.ServerEvent, except string) {
	for id, ch := range r.clients {
		if id == except {
			continue
		}
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(r.clients, id)
		}
	}
}

func (r *Room) sendTo(userID string, ev types.ServerEvent) {
	ch, ok := r.clients[userID]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		close(ch)
		delete(r.clients, userID)
	}
}

func (r *Room) stateSyncEvent() types.ServerEvent {
	s := r.state
	return types.ServerEvent{
		Type: types.EvtRoomStateSync,
		Payload: RoomStateSyncPayload{
			RoomID:   s.RoomID,
			RoomCode: s.RoomCode,
			Language: s.Language,
			Mode:     s.Mode,
			Code:     s.Code,
			Version:  s.Version,
			Users:    s.roster(),
			Cursors:  s.wireCursors(),
			Battle:   BattleInfoOf(s.Battle),
		},
	}
}

func (r *Room) rosterEvent() types.ServerEvent {
	return types.ServerEvent{
		Type:    types.EvtUsersInRoom,
		Payload: types.RosterPayload{Users: r.state.roster()},
	}
}

func followEvent(typ, followerID, targetID string) types.ServerEvent {
	return types.ServerEvent{
		Type:    typ,
		Payload: types.FollowPayload{FollowerID: followerID, TargetID: targetID},
	}
}

// --- slow-tier writes ---

func persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}

// persistAsync runs a best-effort write off the loop. Failures are logged
// and otherwise tolerated; the in-process state stays authoritative.
func (r *Room) persistAsync(op string, fn func(context.Context) error) {
	if r.deps.Store == nil {
		return
	}
	log := r.log
	go func() {
		ctx, cancel := persistCtx()
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Warn("write-through failed", zap.String("op", op), zap.Error(err))
		}
	}()
}

func (r *Room) persistCode() {
	code, version, by := r.state.Code, r.state.Version, r.state.LastModifiedBy
	r.persistAsync("code", func(ctx context.Context) error {
		return r.deps.Store.SaveCode(ctx, r.id, code, version, by)
	})
}

// cacheSnapshot captures the state synchronously and writes it out
// asynchronously, so the cache tier never sees a torn room.
func (r *Room) cacheSnapshot() {
	if r.deps.Cache == nil {
		return
	}
	snap := SnapshotOf(r.state)
	log := r.log
	cache := r.deps.Cache
	go func() {
		ctx, cancel := persistCtx()
		defer cancel()
		if err := cache.SetSnapshot(ctx, snap); err != nil {
			log.Debug("cache write-behind failed", zap.Error(err))
		}
	}()
}
