package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/judge"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

// --- fakes ---

type fakeStore struct {
	mu             sync.Mutex
	joins          []Participant
	codes          []string
	startedCount   int
	endReasons     []string
	inactiveMarks  int
	roomActive     []bool
	rows           []battle.Summary
	subIDs         map[string]string
	nextID         int
	failSubmission error
}

func newFakeStore() *fakeStore {
	return &fakeStore{subIDs: make(map[string]string)}
}

func (f *fakeStore) SaveCode(_ context.Context, _, code string, _ int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeStore) MarkStarted(_ context.Context, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startedCount++
	return nil
}

func (f *fakeStore) MarkEnded(_ context.Context, _ string, _ time.Time, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endReasons = append(f.endReasons, reason)
	return nil
}

func (f *fakeStore) SetRoomActive(_ context.Context, _ string, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roomActive = append(f.roomActive, active)
	return nil
}

func (f *fakeStore) RecordJoin(_ context.Context, _ string, p Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, p)
	return nil
}

func (f *fakeStore) SetParticipantActive(_ context.Context, _, _ string, active bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !active {
		f.inactiveMarks++
	}
	return nil
}

func (f *fakeStore) RecordSubmission(_ context.Context, _ string, sum battle.Summary, _ string) (battle.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSubmission != nil {
		return battle.Summary{}, f.failSubmission
	}
	if id, ok := f.subIDs[sum.UserID]; ok {
		sum.SubmissionID = id
	} else {
		f.nextID++
		sum.SubmissionID = fmt.Sprintf("sub-%d", f.nextID)
		f.subIDs[sum.UserID] = sum.SubmissionID
	}
	f.rows = append(f.rows, sum)
	return sum, nil
}

func (f *fakeStore) ended() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.endReasons...)
}

func (f *fakeStore) started() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startedCount
}

func (f *fakeStore) submissionRows() []battle.Summary {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]battle.Summary(nil), f.rows...)
}

type fakeCache struct {
	mu    sync.Mutex
	snaps []*Snapshot
}

func (f *fakeCache) SetSnapshot(_ context.Context, snap *Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeCache) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.snaps)
}

type fakeJudge struct {
	mu       sync.Mutex
	verdicts []judge.Result
	err      error
}

func (f *fakeJudge) Evaluate(_ context.Context, _, _, _ string) (judge.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return judge.Result{}, f.err
	}
	if len(f.verdicts) == 0 {
		return judge.Result{Total: 3}, nil
	}
	v := f.verdicts[0]
	f.verdicts = f.verdicts[1:]
	return v, nil
}

// --- channel helpers ---

func recvEvent(t *testing.T, ch <-chan types.ServerEvent, within time.Duration) types.ServerEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		return ev
	case <-time.After(within):
		t.Fatalf("timed out waiting for an event")
		return types.ServerEvent{} // unreachable
	}
}

func recvEventOfType(t *testing.T, ch <-chan types.ServerEvent, typ string, within time.Duration) types.ServerEvent {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("outbox closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
			return types.ServerEvent{} // unreachable
		}
	}
}

func recvNoEvent(t *testing.T, ch <-chan types.ServerEvent, within time.Duration) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			return
		}
		t.Fatalf("expected no event within %v, got %s: %+v", within, ev.Type, ev.Payload)
	case <-time.After(within):
	}
}

func recvClosed(t *testing.T, ch <-chan types.ServerEvent, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("outbox still open after %v", within)
			return
		}
	}
}

func drainEvents(ch chan types.ServerEvent) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// --- room helpers ---

func collabState() *State {
	return NewState("room-1", "ABC123", "javascript", ModeCollaborative, time.Now())
}

func battleStateFor(d time.Duration) *State {
	s := NewState("room-1", "ABC123", "javascript", ModeBattle, time.Now())
	s.Battle = battle.New("two-sum", "easy", "host", d, 3)
	return s
}

func startRoom(t *testing.T, state *State, deps Deps) *Room {
	t.Helper()
	r := New(context.Background(), state, deps)
	t.Cleanup(r.Shutdown)
	return r
}

func joinUser(t *testing.T, r *Room, userID string) chan types.ServerEvent {
	t.Helper()
	out := make(chan types.ServerEvent, 16)
	if err := r.Join(context.Background(), types.UserInfo{UserID: userID, DisplayName: userID}, out); err != nil {
		t.Fatalf("join %s: %v", userID, err)
	}
	sync := recvEvent(t, out, time.Second)
	if sync.Type != types.EvtRoomStateSync {
		t.Fatalf("first frame to a joiner must be room-state-sync, got %s", sync.Type)
	}
	return out
}

// --- membership ---

func TestRoom_Join_SnapshotFirstThenBroadcasts(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{})

	aOut := make(chan types.ServerEvent, 16)
	if err := r.Join(bg, types.UserInfo{UserID: "a", DisplayName: "Ada"}, aOut); err != nil {
		t.Fatalf("join: %v", err)
	}
	sync := recvEvent(t, aOut, time.Second)
	if sync.Type != types.EvtRoomStateSync {
		t.Fatalf("want room-state-sync, got %s", sync.Type)
	}
	payload := sync.Payload.(RoomStateSyncPayload)
	if payload.RoomID != "room-1" || payload.Version != 0 || payload.Mode != ModeCollaborative {
		t.Fatalf("bad sync payload: %+v", payload)
	}
	if len(payload.Users) != 1 || payload.Users[0].Role != RoleHost {
		t.Fatalf("first joiner of a collaborative room hosts it: %+v", payload.Users)
	}
	recvEventOfType(t, aOut, types.EvtUsersInRoom, time.Second)

	bOut := joinUser(t, r, "b")

	joined := recvEventOfType(t, aOut, types.EvtUserJoined, time.Second)
	jp := joined.Payload.(types.UserJoinedPayload)
	if jp.UserID != "b" || jp.Color != ColorFor("b") {
		t.Fatalf("bad user-joined payload: %+v", jp)
	}
	roster := recvEventOfType(t, aOut, types.EvtUsersInRoom, time.Second)
	users := roster.Payload.(types.RosterPayload).Users
	if len(users) != 2 {
		t.Fatalf("want 2 roster entries, got %+v", users)
	}
	if users[1].Role != RoleParticipant {
		t.Fatalf("second joiner is a participant: %+v", users[1])
	}
	_ = bOut
}

func TestRoom_Join_SecondConnectionReplacesFirst(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{})

	out1 := joinUser(t, r, "a")
	out2 := make(chan types.ServerEvent, 16)
	if err := r.Join(bg, types.UserInfo{UserID: "a"}, out2); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	recvClosed(t, out1, time.Second)
	if ev := recvEvent(t, out2, time.Second); ev.Type != types.EvtRoomStateSync {
		t.Fatalf("replacement connection gets a fresh sync, got %s", ev.Type)
	}

	// The replaced connection's deferred leave must not disconnect the new one.
	if err := r.Leave(bg, "a", out1); err != nil {
		t.Fatalf("stale leave: %v", err)
	}
	v, err := r.View(bg)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.Clients != 1 {
		t.Fatalf("stale leave tore down the live connection: %+v", v)
	}

	if err := r.Leave(bg, "a", out2); err != nil {
		t.Fatalf("real leave: %v", err)
	}
	recvClosed(t, out2, time.Second)
	if v, _ := r.View(bg); v.Clients != 0 {
		t.Fatalf("want 0 clients after leave, got %d", v.Clients)
	}
}

func TestRoom_Leave_KeepsHistoryAndCutsFollows(t *testing.T) {
	bg := context.Background()
	st := newFakeStore()
	r := startRoom(t, collabState(), Deps{Store: st})

	aOut := joinUser(t, r, "a")
	bOut := joinUser(t, r, "b")
	cOut := joinUser(t, r, "c")
	if err := r.StartFollow(bg, "c", "b"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	drainEvents(aOut)
	drainEvents(cOut)

	if err := r.Leave(bg, "b", nil); err != nil {
		t.Fatalf("leave: %v", err)
	}
	recvClosed(t, bOut, time.Second)

	// Order: the follow link is cut, then the departure, then the roster.
	stopped := recvEvent(t, aOut, time.Second)
	if stopped.Type != types.EvtFollowStopped {
		t.Fatalf("want follow-stopped first, got %s", stopped.Type)
	}
	fp := stopped.Payload.(types.FollowPayload)
	if fp.FollowerID != "c" || fp.TargetID != "b" {
		t.Fatalf("bad follow-stopped payload: %+v", fp)
	}
	left := recvEvent(t, aOut, time.Second)
	if left.Type != types.EvtUserLeft || left.Payload.(types.UserLeftPayload).UserID != "b" {
		t.Fatalf("want user-left for b, got %+v", left)
	}
	roster := recvEvent(t, aOut, time.Second)
	users := roster.Payload.(types.RosterPayload).Users
	if len(users) != 3 {
		t.Fatalf("leavers stay on the roster: %+v", users)
	}
	for _, u := range users {
		if u.UserID == "b" && u.IsActive {
			t.Fatalf("left user still marked active: %+v", u)
		}
	}
	_ = cOut
}

// --- code sync ---

func TestRoom_ApplyDelta_VersionGate(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{})
	aOut := joinUser(t, r, "a")
	bOut := joinUser(t, r, "b")
	drainEvents(aOut)
	drainEvents(bOut)

	v0 := int64(0)
	res, err := r.ApplyDelta(bg, "a", &v0, types.Delta{RangeStart: 0, RangeEnd: 0, Text: "hello"})
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if !res.Accepted || res.NewVersion != 1 || res.Mismatch != nil {
		t.Fatalf("want accepted v1, got %+v", res)
	}

	ev := recvEvent(t, bOut, time.Second)
	if ev.Type != types.EvtCodeChange {
		t.Fatalf("want code-change, got %s", ev.Type)
	}
	cb := ev.Payload.(types.CodeChangeBroadcast)
	if cb.NewVersion != 1 || cb.AuthorID != "a" || cb.Delta.Text != "hello" {
		t.Fatalf("bad broadcast: %+v", cb)
	}
	recvNoEvent(t, aOut, 120*time.Millisecond) // the author already applied it

	// A stale version gets the authoritative state back, and nothing changes.
	res, err = r.ApplyDelta(bg, "b", &v0, types.Delta{RangeStart: 0, RangeEnd: 0, Text: "clobber"})
	if err != nil {
		t.Fatalf("stale delta: %v", err)
	}
	if res.Accepted || res.Mismatch == nil {
		t.Fatalf("stale delta must be refused with a mismatch, got %+v", res)
	}
	if res.Mismatch.AuthoritativeCode != "hello" || res.Mismatch.AuthoritativeVersion != 1 {
		t.Fatalf("bad mismatch payload: %+v", res.Mismatch)
	}
	recvNoEvent(t, aOut, 120*time.Millisecond)

	if _, err := r.ApplyDelta(bg, "ghost", &v0, types.Delta{}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("unconnected author: want ErrNotParticipant, got %v", err)
	}
}

func TestRoom_ApplyDelta_NilVersionIsFullSync(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{})
	aOut := joinUser(t, r, "a")
	bOut := joinUser(t, r, "b")
	drainEvents(aOut)
	drainEvents(bOut)

	res, err := r.ApplyDelta(bg, "a", nil, types.Delta{Text: "fresh buffer"})
	if err != nil {
		t.Fatalf("blind delta: %v", err)
	}
	if !res.Accepted || res.NewVersion != 1 {
		t.Fatalf("want accepted v1, got %+v", res)
	}

	// A blind write resyncs everyone, author included.
	for _, ch := range []chan types.ServerEvent{aOut, bOut} {
		ev := recvEventOfType(t, ch, types.EvtRoomStateSync, time.Second)
		sp := ev.Payload.(RoomStateSyncPayload)
		if sp.Code != "fresh buffer" || sp.Version != 1 {
			t.Fatalf("bad resync payload: %+v", sp)
		}
	}
}

func TestRoom_FullSyncAndResync(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{})
	aOut := joinUser(t, r, "a")

	v, err := r.FullSync(bg, "a", "const x = 1")
	if err != nil || v != 1 {
		t.Fatalf("full sync: v=%d err=%v", v, err)
	}
	recvEventOfType(t, aOut, types.EvtRoomStateSync, time.Second)
	drainEvents(aOut)

	if err := r.Resync(bg, "a"); err != nil {
		t.Fatalf("resync: %v", err)
	}
	ev := recvEvent(t, aOut, time.Second)
	sp := ev.Payload.(RoomStateSyncPayload)
	if ev.Type != types.EvtRoomStateSync || sp.Code != "const x = 1" || sp.Version != 1 {
		t.Fatalf("bad resync: %+v", sp)
	}

	if _, err := r.FullSync(bg, "ghost", "x"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("want ErrNotParticipant, got %v", err)
	}
}

func TestRoom_CodeSizeLimit(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{MaxCodeBytes: 8})
	joinUser(t, r, "a")

	v0 := int64(0)
	if _, err := r.ApplyDelta(bg, "a", &v0, types.Delta{Text: "123456789"}); !errors.Is(err, ErrCodeTooLarge) {
		t.Fatalf("oversize delta: want ErrCodeTooLarge, got %v", err)
	}
	if _, err := r.FullSync(bg, "a", "123456789"); !errors.Is(err, ErrCodeTooLarge) {
		t.Fatalf("oversize full sync: want ErrCodeTooLarge, got %v", err)
	}
	if v, _ := r.View(bg); v.Version != 0 || v.Code != "" {
		t.Fatalf("rejected writes must not change state: %+v", v)
	}
}

// --- presence ---

func TestRoom_Cursor_BroadcastsExceptAuthor(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{})
	aOut := joinUser(t, r, "a")
	bOut := joinUser(t, r, "b")
	drainEvents(aOut)
	drainEvents(bOut)

	if err := r.SetCursor(bg, "a", types.Position{Line: 3, Column: 7}, nil); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	ev := recvEvent(t, bOut, time.Second)
	if ev.Type != types.EvtCursorMove {
		t.Fatalf("want cursor-move, got %s", ev.Type)
	}
	cb := ev.Payload.(types.CursorBroadcast)
	if cb.UserID != "a" || cb.Position.Line != 3 || cb.Color != ColorFor("a") {
		t.Fatalf("bad cursor broadcast: %+v", cb)
	}
	recvNoEvent(t, aOut, 120*time.Millisecond)

	// Cursor noise from a non-member is dropped on the floor.
	_ = r.SetCursor(bg, "ghost", types.Position{}, nil)
	if _, err := r.View(bg); err != nil {
		t.Fatalf("view: %v", err)
	}
	recvNoEvent(t, bOut, 120*time.Millisecond)
}

func TestRoom_FollowAndViewportRelay(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{})
	aOut := joinUser(t, r, "a")
	bOut := joinUser(t, r, "b")
	cOut := joinUser(t, r, "c")
	drainEvents(aOut)
	drainEvents(bOut)
	drainEvents(cOut)

	if err := r.StartFollow(bg, "b", "a"); err != nil {
		t.Fatalf("follow: %v", err)
	}
	started := recvEventOfType(t, cOut, types.EvtFollowStarted, time.Second)
	fp := started.Payload.(types.FollowPayload)
	if fp.FollowerID != "b" || fp.TargetID != "a" {
		t.Fatalf("bad follow-started: %+v", fp)
	}
	drainEvents(aOut)
	drainEvents(bOut)

	vp := types.Viewport{ScrollTop: 120.5, VisibleRange: types.VisibleRange{From: 10, To: 42}, Timestamp: 99}
	if err := r.SetViewport(bg, "a", vp); err != nil {
		t.Fatalf("viewport: %v", err)
	}
	ev := recvEvent(t, bOut, time.Second)
	if ev.Type != types.EvtViewportSync {
		t.Fatalf("want viewport-sync, got %s", ev.Type)
	}
	vb := ev.Payload.(types.ViewportBroadcast)
	if vb.UserID != "a" || vb.Viewport.ScrollTop != 120.5 || vb.Viewport.VisibleRange.To != 42 {
		t.Fatalf("bad viewport relay: %+v", vb)
	}
	// Only followers of the author hear about it.
	recvNoEvent(t, cOut, 120*time.Millisecond)
	recvNoEvent(t, aOut, 120*time.Millisecond)

	// Following someone else first stops the old link.
	if err := r.StartFollow(bg, "b", "c"); err != nil {
		t.Fatalf("refollow: %v", err)
	}
	stopped := recvEventOfType(t, aOut, types.EvtFollowStopped, time.Second)
	sp := stopped.Payload.(types.FollowPayload)
	if sp.FollowerID != "b" || sp.TargetID != "a" {
		t.Fatalf("bad follow-stopped: %+v", sp)
	}
	recvEventOfType(t, aOut, types.EvtFollowStarted, time.Second)

	if err := r.StopFollow(bg, "b"); err != nil {
		t.Fatalf("unfollow: %v", err)
	}
	drainEvents(bOut)
	if err := r.SetViewport(bg, "c", vp); err != nil {
		t.Fatalf("viewport: %v", err)
	}
	if _, err := r.View(bg); err != nil {
		t.Fatalf("view: %v", err)
	}
	recvNoEvent(t, bOut, 120*time.Millisecond)

	// Stopping twice is fine; bad targets are not.
	if err := r.StopFollow(bg, "b"); err != nil {
		t.Fatalf("idempotent unfollow: %v", err)
	}
	if err := r.StartFollow(bg, "b", "b"); !errors.Is(err, ErrSelfFollow) {
		t.Fatalf("want ErrSelfFollow, got %v", err)
	}
	if err := r.StartFollow(bg, "b", "ghost"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("want ErrNotParticipant for absent target, got %v", err)
	}
	if err := r.StartFollow(bg, "ghost", "a"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("want ErrNotParticipant for absent follower, got %v", err)
	}
}

func TestRoom_SlowClientIsDropped(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, collabState(), Deps{})
	aOut := joinUser(t, r, "a")
	drainEvents(aOut)

	// b's outbox fills with its join frames and is never drained.
	bOut := make(chan types.ServerEvent, 2)
	if err := r.Join(bg, types.UserInfo{UserID: "b"}, bOut); err != nil {
		t.Fatalf("join: %v", err)
	}
	drainEvents(aOut)

	if err := r.SetCursor(bg, "a", types.Position{Line: 1}, nil); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	v, err := r.View(bg)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if v.Clients != 1 {
		t.Fatalf("slow client must be dropped, clients=%d", v.Clients)
	}
	recvClosed(t, bOut, time.Second)
}

// --- battle lifecycle ---

func TestRoom_StartBattle_Gates(t *testing.T) {
	bg := context.Background()
	st := newFakeStore()
	r := startRoom(t, battleStateFor(15*time.Minute), Deps{Store: st})
	hostOut := joinUser(t, r, "host")
	guestOut := joinUser(t, r, "guest")
	drainEvents(hostOut)
	drainEvents(guestOut)

	if _, err := r.StartBattle(bg, "guest"); !errors.Is(err, battle.ErrNotHost) {
		t.Fatalf("guest start: want ErrNotHost, got %v", err)
	}

	at, err := r.StartBattle(bg, "host")
	if err != nil || at.IsZero() {
		t.Fatalf("host start: at=%v err=%v", at, err)
	}
	for _, ch := range []chan types.ServerEvent{hostOut, guestOut} {
		ev := recvEventOfType(t, ch, types.EvtBattleStarted, time.Second)
		bp := ev.Payload.(BattleStartedPayload)
		if bp.ProblemID != "two-sum" || bp.DurationMinutes != 15 {
			t.Fatalf("bad battle-started payload: %+v", bp)
		}
	}
	if _, err := r.StartBattle(bg, "host"); !errors.Is(err, battle.ErrAlreadyStarted) {
		t.Fatalf("double start: want ErrAlreadyStarted, got %v", err)
	}
	if st.started() != 1 {
		t.Fatalf("start must be persisted exactly once, got %d", st.started())
	}
}

func TestRoom_StartBattle_RequiresModeAndParticipants(t *testing.T) {
	bg := context.Background()

	collab := startRoom(t, collabState(), Deps{})
	joinUser(t, collab, "host")
	if _, err := collab.StartBattle(bg, "host"); !errors.Is(err, ErrNotBattleRoom) {
		t.Fatalf("collab start: want ErrNotBattleRoom, got %v", err)
	}

	empty := startRoom(t, battleStateFor(15*time.Minute), Deps{})
	if _, err := empty.StartBattle(bg, "host"); !errors.Is(err, battle.ErrNoParticipants) {
		t.Fatalf("empty start: want ErrNoParticipants, got %v", err)
	}
}

func TestRoom_SubmitFlow_AutoEndsOnFullCoverage(t *testing.T) {
	bg := context.Background()
	st := newFakeStore()
	fj := &fakeJudge{verdicts: []judge.Result{
		{Passed: 3, Total: 3, ExecutionMs: 100},
		{Passed: 1, Total: 3, ExecutionMs: 40},
	}}
	r := startRoom(t, battleStateFor(15*time.Minute), Deps{Store: st})
	hostOut := joinUser(t, r, "host")
	guestOut := joinUser(t, r, "guest")
	if _, err := r.StartBattle(bg, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	drainEvents(hostOut)
	drainEvents(guestOut)

	code := "function a() { return 1 }"
	sum, ended, err := Submit(bg, r, fj, "host", code)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ended {
		t.Fatalf("battle must wait for the second participant")
	}
	if sum.SubmissionID != "sub-1" || sum.Passed != 3 {
		t.Fatalf("bad summary: %+v", sum)
	}
	if want := battle.CompositeScore(3, 3, 100, len(code)); sum.Score != want {
		t.Fatalf("score %v, want %v", sum.Score, want)
	}
	ev := recvEventOfType(t, guestOut, types.EvtBattleSubmission, time.Second)
	bp := ev.Payload.(BattleSubmissionPayload)
	if bp.UserID != "host" || bp.Passed != 3 {
		t.Fatalf("bad battle-submission payload: %+v", bp)
	}

	_, ended, err = Submit(bg, r, fj, "guest", "function b() {}")
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !ended {
		t.Fatalf("full coverage must end the battle")
	}
	endedEv := recvEventOfType(t, hostOut, types.EvtBattleEnded, time.Second)
	ep := endedEv.Payload.(BattleEndedPayload)
	if ep.Reason != battle.EndReasonAllSubmitted {
		t.Fatalf("want all-submitted, got %q", ep.Reason)
	}
	if len(ep.Results) != 2 || ep.Results[0].UserID != "host" || !ep.Results[0].IsWinner {
		t.Fatalf("bad standings: %+v", ep.Results)
	}

	if reasons := st.ended(); len(reasons) != 1 || reasons[0] != battle.EndReasonAllSubmitted {
		t.Fatalf("persisted end reasons: %v", reasons)
	}
	if rows := st.submissionRows(); len(rows) != 2 {
		t.Fatalf("want 2 persisted submissions, got %+v", rows)
	}

	if _, _, err := Submit(bg, r, fj, "host", "late"); !errors.Is(err, battle.ErrAlreadyEnded) {
		t.Fatalf("submit after end: want ErrAlreadyEnded, got %v", err)
	}

	view, err := r.Results(bg, nil)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if !view.Ended || view.EndReason != battle.EndReasonAllSubmitted || len(view.Results) != 2 {
		t.Fatalf("bad results view: %+v", view)
	}
}

func TestRoom_Submit_PersistFailureLeavesBattleUntouched(t *testing.T) {
	bg := context.Background()
	st := newFakeStore()
	st.failSubmission = errors.New("db down")
	r := startRoom(t, battleStateFor(15*time.Minute), Deps{Store: st})
	joinUser(t, r, "host")
	guestOut := joinUser(t, r, "guest")
	if _, err := r.StartBattle(bg, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	drainEvents(guestOut)

	_, _, err := r.CompleteSubmit(bg, "host", "code", judge.Result{Passed: 3, Total: 3})
	if !errors.Is(err, ErrTierUnavailable) {
		t.Fatalf("want ErrTierUnavailable, got %v", err)
	}
	v, _ := r.View(bg)
	if len(v.Battle.Submissions) != 0 {
		t.Fatalf("failed persist must not install a live summary: %+v", v.Battle.Submissions)
	}
	recvNoEvent(t, guestOut, 120*time.Millisecond)
}

func TestRoom_Submit_GatesBeforeEvaluation(t *testing.T) {
	bg := context.Background()
	r := startRoom(t, battleStateFor(15*time.Minute), Deps{MaxCodeBytes: 64})
	joinUser(t, r, "host")

	if _, err := r.PrepareSubmit(bg, "host", 10); !errors.Is(err, battle.ErrNotStarted) {
		t.Fatalf("before start: want ErrNotStarted, got %v", err)
	}
	if _, err := r.StartBattle(bg, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := r.PrepareSubmit(bg, "host", 65); !errors.Is(err, ErrCodeTooLarge) {
		t.Fatalf("oversize: want ErrCodeTooLarge, got %v", err)
	}
	if _, err := r.PrepareSubmit(bg, "ghost", 10); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("stranger: want ErrNotParticipant, got %v", err)
	}
	ticket, err := r.PrepareSubmit(bg, "host", 10)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if ticket.ProblemID != "two-sum" || ticket.Language != "javascript" {
		t.Fatalf("bad ticket: %+v", ticket)
	}
}

func TestRoom_Submit_JudgeFailureLeavesBattleUntouched(t *testing.T) {
	bg := context.Background()
	fj := &fakeJudge{err: judge.ErrUnavailable}
	r := startRoom(t, battleStateFor(15*time.Minute), Deps{})
	joinUser(t, r, "host")
	if _, err := r.StartBattle(bg, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, _, err := Submit(bg, r, fj, "host", "code"); !errors.Is(err, judge.ErrUnavailable) {
		t.Fatalf("want judge.ErrUnavailable, got %v", err)
	}
	v, _ := r.View(bg)
	if len(v.Battle.Submissions) != 0 {
		t.Fatalf("failed evaluation must not record anything: %+v", v.Battle.Submissions)
	}
}

func TestRoom_LastSubmitterLeaving_CompletesCoverage(t *testing.T) {
	bg := context.Background()
	fj := &fakeJudge{verdicts: []judge.Result{{Passed: 2, Total: 3}}}
	r := startRoom(t, battleStateFor(15*time.Minute), Deps{})
	hostOut := joinUser(t, r, "host")
	joinUser(t, r, "guest")
	if _, err := r.StartBattle(bg, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, ended, err := Submit(bg, r, fj, "host", "code"); err != nil || ended {
		t.Fatalf("host submit: ended=%v err=%v", ended, err)
	}
	// The only participant still missing walks away; coverage is now complete.
	if err := r.Leave(bg, "guest", nil); err != nil {
		t.Fatalf("leave: %v", err)
	}
	ev := recvEventOfType(t, hostOut, types.EvtBattleEnded, 2*time.Second)
	if ep := ev.Payload.(BattleEndedPayload); ep.Reason != battle.EndReasonAllSubmitted {
		t.Fatalf("want all-submitted after leaver, got %q", ep.Reason)
	}
}

// --- timers ---

func TestRoom_BattleTimer_EndsOnDeadline(t *testing.T) {
	bg := context.Background()
	st := newFakeStore()
	r := startRoom(t, battleStateFor(80*time.Millisecond), Deps{Store: st})
	hostOut := joinUser(t, r, "host")
	if _, err := r.StartBattle(bg, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	ev := recvEventOfType(t, hostOut, types.EvtBattleEnded, 2*time.Second)
	if ep := ev.Payload.(BattleEndedPayload); ep.Reason != battle.EndReasonTimeout {
		t.Fatalf("want timeout, got %q", ep.Reason)
	}
	if reasons := st.ended(); len(reasons) != 1 || reasons[0] != battle.EndReasonTimeout {
		t.Fatalf("persisted reasons: %v", reasons)
	}
}

func TestRoom_ManualEnd_BeatsTimer(t *testing.T) {
	bg := context.Background()
	st := newFakeStore()
	r := startRoom(t, battleStateFor(150*time.Millisecond), Deps{Store: st})
	hostOut := joinUser(t, r, "host")
	if _, err := r.StartBattle(bg, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := r.EndBattle(bg, "guest"); !errors.Is(err, battle.ErrNotHost) {
		t.Fatalf("guest end: want ErrNotHost, got %v", err)
	}
	if _, err := r.EndBattle(bg, "host"); err != nil {
		t.Fatalf("end: %v", err)
	}
	ev := recvEventOfType(t, hostOut, types.EvtBattleEnded, time.Second)
	if ep := ev.Payload.(BattleEndedPayload); ep.Reason != battle.EndReasonManual {
		t.Fatalf("want manual, got %q", ep.Reason)
	}
	if _, err := r.EndBattle(bg, "host"); !errors.Is(err, battle.ErrAlreadyEnded) {
		t.Fatalf("double end: want ErrAlreadyEnded, got %v", err)
	}

	// The armed timer is stale now; its firing must not produce a second end.
	recvNoEvent(t, hostOut, 400*time.Millisecond)
	if reasons := st.ended(); len(reasons) != 1 || reasons[0] != battle.EndReasonManual {
		t.Fatalf("persisted reasons: %v", reasons)
	}
}

func TestRoom_ExpiredBattle_EndsImmediatelyOnRebuild(t *testing.T) {
	bg := context.Background()
	st := newFakeStore()
	state := battleStateFor(5 * time.Minute)
	state.Battle.Started = true
	state.Battle.StartedAt = time.Now().Add(-10 * time.Minute)

	r := startRoom(t, state, Deps{Store: st})
	v, err := r.View(bg)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !v.Battle.Ended || v.Battle.EndReason != battle.EndReasonTimeout {
		t.Fatalf("expired battle must close on rebuild: %+v", v.Battle)
	}
	if reasons := st.ended(); len(reasons) != 1 || reasons[0] != battle.EndReasonTimeout {
		t.Fatalf("persisted reasons: %v", reasons)
	}
}

func TestRoom_RunningBattle_ResumesOnRebuild(t *testing.T) {
	bg := context.Background()
	state := battleStateFor(30 * time.Minute)
	state.Battle.Started = true
	state.Battle.StartedAt = time.Now().Add(-time.Minute)

	r := startRoom(t, state, Deps{})
	v, err := r.View(bg)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !v.Battle.Started || v.Battle.Ended {
		t.Fatalf("battle with time left must keep running: %+v", v.Battle)
	}
}

// --- eviction ---

func TestRoom_IdleEviction(t *testing.T) {
	bg := context.Background()
	fc := &fakeCache{}
	evicted := make(chan *Room, 1)
	deps := Deps{
		Cache:   fc,
		IdleTTL: 60 * time.Millisecond,
		OnEvict: func(r *Room) { evicted <- r },
	}
	r := startRoom(t, collabState(), deps)
	joinUser(t, r, "a")
	if err := r.Leave(bg, "a", nil); err != nil {
		t.Fatalf("leave: %v", err)
	}

	select {
	case got := <-evicted:
		if got != r {
			t.Fatalf("evicted a different room")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("idle room was never evicted")
	}
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("evicted room still running")
	}
	if fc.count() == 0 {
		t.Fatalf("eviction must flush a final snapshot")
	}
	if err := r.Join(bg, types.UserInfo{UserID: "a"}, make(chan types.ServerEvent, 1)); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("join after eviction: want ErrRoomClosed, got %v", err)
	}
}

func TestRoom_RejoinCancelsIdleEviction(t *testing.T) {
	bg := context.Background()
	evicted := make(chan *Room, 1)
	deps := Deps{IdleTTL: 80 * time.Millisecond, OnEvict: func(r *Room) { evicted <- r }}
	r := startRoom(t, collabState(), deps)
	joinUser(t, r, "a")
	if err := r.Leave(bg, "a", nil); err != nil {
		t.Fatalf("leave: %v", err)
	}
	joinUser(t, r, "a")

	// The armed timer is stale now; its firing must not evict an occupied room.
	select {
	case <-evicted:
		t.Fatalf("rejoin must cancel the pending eviction")
	case <-time.After(250 * time.Millisecond):
	}
	if v, err := r.View(bg); err != nil || v.Clients != 1 {
		t.Fatalf("room must still be live: clients=%d err=%v", v.Clients, err)
	}
}

func TestRoom_UnresolvedBattle_BlocksEviction(t *testing.T) {
	bg := context.Background()
	evicted := make(chan *Room, 1)
	deps := Deps{IdleTTL: 50 * time.Millisecond, OnEvict: func(r *Room) { evicted <- r }}
	r := startRoom(t, battleStateFor(time.Hour), deps)
	joinUser(t, r, "host")
	if _, err := r.StartBattle(bg, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Leave(bg, "host", nil); err != nil {
		t.Fatalf("leave: %v", err)
	}

	select {
	case <-evicted:
		t.Fatalf("a running battle must pin its room in memory")
	case <-time.After(250 * time.Millisecond):
	}
	if _, err := r.View(bg); err != nil {
		t.Fatalf("room must still answer: %v", err)
	}
}

func TestRoom_Shutdown_ClosesEveryClient(t *testing.T) {
	bg := context.Background()
	r := New(context.Background(), collabState(), Deps{})
	aOut := joinUser(t, r, "a")
	bOut := joinUser(t, r, "b")

	r.Shutdown()
	recvClosed(t, aOut, time.Second)
	recvClosed(t, bOut, time.Second)

	if err := r.Join(bg, types.UserInfo{UserID: "c"}, make(chan types.ServerEvent, 1)); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("join after shutdown: want ErrRoomClosed, got %v", err)
	}
	if _, err := r.View(bg); !errors.Is(err, ErrRoomClosed) {
		t.Fatalf("view after shutdown: want ErrRoomClosed, got %v", err)
	}
}
