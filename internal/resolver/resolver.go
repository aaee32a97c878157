// Package resolver turns a room id into a live room actor, walking the
// tiers in speed order: the hub's warm registry, then the Redis snapshot,
// then the Postgres record. Whatever tier answers, the result is installed
// upward so the next resolve is cheaper.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/hub"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/judge"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/room"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/store"
)

const resolveTimeout = 10 * time.Second

// ErrShuttingDown is returned when a resolve races process shutdown.
var ErrShuttingDown = errors.New("resolver is shutting down")

// NotFoundError reports a room no tier knows, naming the tiers consulted.
type NotFoundError struct {
	RoomID string
	Tiers  []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("room %s not found (checked %s)", e.RoomID, strings.Join(e.Tiers, ", "))
}

// Cache is the snapshot tier. GetSnapshot returns (nil, nil) on a miss; an
// error means the tier failed and the resolve falls through to the store.
type Cache interface {
	GetSnapshot(ctx context.Context, roomID string) (*room.Snapshot, error)
	SetSnapshot(ctx context.Context, snap *room.Snapshot) error
}

// RoomSource is the persistent tier as the resolver reads it.
type RoomSource interface {
	RoomByID(ctx context.Context, roomID string) (*store.RoomRecord, error)
	SubmissionsByRoom(ctx context.Context, roomID string) ([]store.SubmissionRecord, error)
}

type Resolver struct {
	log   *zap.Logger
	hub   *hub.Hub
	cache Cache // nil disables the middle tier
	db    RoomSource
	deps  room.Deps
	base  context.Context
	group singleflight.Group
}

// New builds a resolver. base bounds the lifetime of every room it creates;
// deps is the template wired into each one.
func New(base context.Context, log *zap.Logger, h *hub.Hub, c Cache, db RoomSource, deps room.Deps) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		log:   log,
		hub:   h,
		cache: c,
		db:    db,
		deps:  deps,
		base:  base,
	}
}

// Resolve returns the live room for the id, rebuilding it from the fastest
// tier that has it. Concurrent resolves of the same cold room collapse into
// one rebuild; every caller gets the same actor.
func (rv *Resolver) Resolve(ctx context.Context, roomID string) (*room.Room, error) {
	if r := rv.hub.Get(ctx, roomID); r != nil {
		return r, nil
	}
	v, err, _ := rv.group.Do(roomID, func() (any, error) {
		return rv.resolveCold(roomID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*room.Room), nil
}

// resolveCold runs under singleflight, detached from any one caller's
// context: the first requester hanging up must not poison the shared result.
func (rv *Resolver) resolveCold(roomID string) (*room.Room, error) {
	ctx, cancel := context.WithTimeout(rv.base, resolveTimeout)
	defer cancel()

	// Someone may have installed the room while we queued.
	if r := rv.hub.Get(ctx, roomID); r != nil {
		return r, nil
	}
	tiers := []string{"memory"}

	var state *room.State
	if rv.cache != nil {
		tiers = append(tiers, "cache")
		snap, err := rv.cache.GetSnapshot(ctx, roomID)
		switch {
		case err != nil:
			rv.log.Warn("cache tier failed during resolve",
				zap.String("roomId", roomID), zap.Error(err))
		case snap != nil:
			state = snap.Restore()
		}
	}

	if state == nil {
		tiers = append(tiers, "store")
		rec, err := rv.db.RoomByID(ctx, roomID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{RoomID: roomID, Tiers: tiers}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: resolve read: %v", room.ErrTierUnavailable, err)
		}
		subs, err := rv.db.SubmissionsByRoom(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve read: %v", room.ErrTierUnavailable, err)
		}
		state = Reconstruct(rec, subs)
		rv.log.Info("room reconstructed from store",
			zap.String("roomId", roomID), zap.Int("submissions", len(subs)))
		rv.reinstallCache(state)
	}

	return rv.install(state)
}

// Install wraps a state in a live actor and registers it, yielding to any
// concurrently registered room with the same id.
func (rv *Resolver) Install(state *room.State) (*room.Room, error) {
	return rv.install(state)
}

func (rv *Resolver) install(state *room.State) (*room.Room, error) {
	r := room.New(rv.base, state, rv.deps)
	winner := rv.hub.Install(rv.base, r)
	if winner == nil {
		r.Shutdown()
		return nil, ErrShuttingDown
	}
	if winner != r {
		r.Shutdown()
	}
	return winner, nil
}

// reinstallCache primes the middle tier after a store-path rebuild so the
// next cold resolve stops one tier earlier. Best effort.
func (rv *Resolver) reinstallCache(state *room.State) {
	if rv.cache == nil {
		return
	}
	snap := room.SnapshotOf(state)
	log := rv.log
	c := rv.cache
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()
		if err := c.SetSnapshot(ctx, snap); err != nil {
			log.Debug("cache reinstall failed", zap.String("roomId", snap.RoomID), zap.Error(err))
		}
	}()
}

// Reconstruct rebuilds live state from the persistent record. Participants
// come back inactive, cursors and follows come back empty, and the battle
// lifecycle is taken from the durable status markers so a finished battle
// can never restart.
func Reconstruct(rec *store.RoomRecord, subs []store.SubmissionRecord) *room.State {
	s := room.NewState(rec.RoomID, rec.RoomCode, rec.Language, rec.Mode, rec.CreatedAt)
	s.Code = rec.Code
	s.Version = rec.Version
	s.LastModifiedBy = rec.LastModifiedBy
	s.LastModified = rec.UpdatedAt
	s.IsActive = rec.IsActive

	for _, p := range rec.Participants {
		s.Users[p.UserID] = room.Participant{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			Avatar:      p.Avatar,
			Role:        p.Role,
			Color:       room.ColorFor(p.UserID),
			IsActive:    false,
			JoinedAt:    p.JoinedAt,
			LastSeen:    p.LastSeen,
		}
	}

	if rec.Mode == store.ModeBattle {
		s.Battle = reconstructBattle(rec, subs)
	}
	return s
}

func reconstructBattle(rec *store.RoomRecord, subs []store.SubmissionRecord) *battle.State {
	total := 0
	if p, ok := judge.ByID(rec.ProblemID); ok {
		total = p.TotalTests
	} else {
		for _, row := range subs {
			if row.TotalTestCases > total {
				total = row.TotalTestCases
			}
		}
	}
	duration := time.Duration(rec.DurationMin) * time.Minute
	b := battle.New(rec.ProblemID, rec.Difficulty, rec.HostID, duration, total)

	for _, row := range subs {
		b.Submissions[row.UserID] = row.Summary()
	}

	switch rec.Status {
	case store.StatusInProgress:
		b.Started = true
		b.StartedAt = startFallback(rec, subs)
	case store.StatusEnded:
		b.Started = true
		b.StartedAt = startFallback(rec, subs)
		b.Ended = true
		if rec.EndedAt != nil {
			b.EndedAt = *rec.EndedAt
		} else {
			b.EndedAt = rec.UpdatedAt
		}
		b.EndReason = rec.EndReason
	default:
		// Rows written before the status markers existed imply a start.
		if len(subs) > 0 {
			b.Started = true
			b.StartedAt = startFallback(rec, subs)
		}
	}
	return b
}

func startFallback(rec *store.RoomRecord, subs []store.SubmissionRecord) time.Time {
	if rec.StartedAt != nil {
		return *rec.StartedAt
	}
	if len(subs) > 0 {
		return subs[0].CreatedAt
	}
	return rec.CreatedAt
}
