// Package hub is the registry of warm rooms. It is itself an actor: one
// goroutine owns the map, so resolve, install and evict can race freely
// without a lock, and exactly one room actor exists per id at a time.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/room"
)

type HubMsg interface{ isHubMsg() }

type GetRoom struct {
	RoomID string
	Reply  chan *room.Room
}

// InstallRoom registers a constructed room unless one with the same id is
// already live. The reply is the registered room either way; a loser must
// shut its candidate down.
type InstallRoom struct {
	Room  *room.Room
	Reply chan *room.Room
}

// RemoveRoom unregisters the room, but only while the registration still
// points at Room. An eviction racing a fresh install must not tear the
// replacement down.
type RemoveRoom struct {
	RoomID string
	Room   *room.Room
}

type CountRooms struct {
	Reply chan int
}

type ShutdownHub struct{}

func (GetRoom) isHubMsg()     {}
func (InstallRoom) isHubMsg() {}
func (RemoveRoom) isHubMsg()  {}
func (CountRooms) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*room.Room
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*room.Room),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case GetRoom:
				msg.Reply <- h.rooms[msg.RoomID] // may be nil

			case InstallRoom:
				id := msg.Room.ID()
				if existing := h.rooms[id]; existing != nil {
					msg.Reply <- existing
					break
				}
				h.rooms[id] = msg.Room
				h.log.Debug("room installed", zap.String("roomId", id))
				msg.Reply <- msg.Room

			case RemoveRoom:
				if msg.Room != nil && h.rooms[msg.RoomID] != msg.Room {
					break
				}
				delete(h.rooms, msg.RoomID)
				h.log.Debug("room removed", zap.String("roomId", msg.RoomID))

			case CountRooms:
				msg.Reply <- len(h.rooms)

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for _, r := range h.rooms {
		r.Shutdown()
	}
	clear(h.rooms)
	h.cancel()
}

// Get returns the warm room for the id, or nil when the room is cold or the
// hub is shutting down.
func (h *Hub) Get(ctx context.Context, roomID string) *room.Room {
	reply := make(chan *room.Room, 1)
	select {
	case h.inbox <- GetRoom{RoomID: roomID, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case r := <-reply:
		return r
	case <-h.ctx.Done():
		return nil
	}
}

// Install registers r unless its id is already live and returns the
// registered room, or nil when the hub is shutting down.
func (h *Hub) Install(ctx context.Context, r *room.Room) *room.Room {
	reply := make(chan *room.Room, 1)
	select {
	case h.inbox <- InstallRoom{Room: r, Reply: reply}:
	case <-h.ctx.Done():
		return nil
	case <-ctx.Done():
		return nil
	}
	select {
	case winner := <-reply:
		return winner
	case <-h.ctx.Done():
		return nil
	}
}

// Remove drops the registration while it still points at r.
func (h *Hub) Remove(roomID string, r *room.Room) {
	select {
	case h.inbox <- RemoveRoom{RoomID: roomID, Room: r}:
	case <-h.ctx.Done():
	}
}

// Count reports the number of warm rooms.
func (h *Hub) Count(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.inbox <- CountRooms{Reply: reply}:
	case <-h.ctx.Done():
		return 0
	case <-ctx.Done():
		return 0
	}
	select {
	case n := <-reply:
		return n
	case <-h.ctx.Done():
		return 0
	}
}

// Shutdown stops every room and then the hub loop itself.
func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}
