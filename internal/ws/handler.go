// Package ws is the WebSocket edge. A connection binds to exactly one room
// via its first join-room event; after that the session pumps decoded events
// into the room actor and relays the actor's broadcasts back out.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/faults"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/resolver"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/room"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

const (
	outboxSize    = 32
	localSize     = 8
	joinTimeout   = 15 * time.Second
	readTimeout   = 60 * time.Second
	writeTimeout  = 5 * time.Second
	submitTimeout = 30 * time.Second
)

type Handler struct {
	log     *zap.Logger
	rv      *resolver.Resolver
	judge   room.Judge
	origins []string
	maxRead int64
}

func NewHandler(log *zap.Logger, rv *resolver.Resolver, j room.Judge, origins []string, maxCodeBytes int) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		log:     log,
		rv:      rv,
		judge:   j,
		origins: origins,
		// Frames carry whole code buffers plus envelope overhead.
		maxRead: int64(maxCodeBytes) + 4096,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(h.maxRead)

	ctx := r.Context()

	// Nothing is routable until the client says which room it wants.
	jctx, cancel := context.WithTimeout(ctx, joinTimeout)
	_, data, err := conn.Read(jctx)
	cancel()
	if err != nil {
		return
	}
	ev, err := types.Decode(data)
	if err != nil {
		_ = writeEvent(ctx, conn, errorEvent(faults.Code(err), err))
		conn.Close(websocket.StatusPolicyViolation, "expected join-room")
		return
	}
	join, ok := ev.(types.JoinRoom)
	if !ok {
		err := errors.New("first event must be join-room")
		_ = writeEvent(ctx, conn, errorEvent(faults.CodeValidation, err))
		conn.Close(websocket.StatusPolicyViolation, "expected join-room")
		return
	}

	rm, err := h.rv.Resolve(ctx, join.RoomID)
	if err != nil {
		_ = writeEvent(ctx, conn, errorEvent(faults.Code(err), err))
		return
	}

	s := &session{
		log: h.log.With(
			zap.String("roomId", rm.ID()),
			zap.String("userId", join.UserInfo.UserID),
		),
		conn:   conn,
		room:   rm,
		judge:  h.judge,
		roomID: rm.ID(),
		userID: join.UserInfo.UserID,
		outbox: make(chan types.ServerEvent, outboxSize),
		local:  make(chan types.ServerEvent, localSize),
	}
	s.run(ctx, join.UserInfo)
}

// session is one connection bound to one room. The room actor owns outbox
// and is the only writer to it; local carries this session's own error and
// conflict frames so the single writer goroutine stays the only conn writer.
type session struct {
	log    *zap.Logger
	conn   *websocket.Conn
	room   *room.Room
	judge  room.Judge
	roomID string
	userID string
	outbox chan types.ServerEvent
	local  chan types.ServerEvent
}

func (s *session) run(ctx context.Context, user types.UserInfo) {
	writeCtx, writeCancel := context.WithCancel(context.Background())
	defer writeCancel()
	go s.writer(writeCtx)

	if err := s.room.Join(ctx, user, s.outbox); err != nil {
		s.sendLocal(ctx, errorEvent(faults.Code(err), err))
		return
	}
	defer func() {
		lctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_ = s.room.Leave(lctx, s.userID, s.outbox)
	}()

	s.log.Debug("session joined")
	s.reader(ctx)
}

func (s *session) reader(ctx context.Context) {
	for {
		rctx, cancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := s.conn.Read(rctx)
		cancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				s.log.Debug("read ended", zap.Error(err))
			}
			return
		}
		ev, err := types.Decode(data)
		if err != nil {
			s.sendLocal(ctx, errorEvent(faults.Code(err), err))
			continue
		}
		if leave := s.dispatch(ctx, ev); leave {
			return
		}
	}
}

// dispatch routes one decoded event into the room. The returned bool asks
// the reader to end the session.
func (s *session) dispatch(ctx context.Context, ev types.ClientEvent) bool {
	switch ev := ev.(type) {
	case types.JoinRoom:
		s.sendLocal(ctx, errorEvent(faults.CodeValidation, errors.New("already joined a room")))

	case types.LeaveRoom:
		return true // the deferred leave does the work

	case types.CodeChange:
		if !s.sameRoom(ctx, ev.RoomID) {
			return false
		}
		res, err := s.room.ApplyDelta(ctx, s.userID, ev.ExpectedVersion, ev.Delta)
		if err != nil {
			s.sendLocal(ctx, errorEvent(faults.Code(err), err))
			return false
		}
		if !res.Accepted && res.Mismatch != nil {
			// Only the conflicting sender hears about it.
			s.sendLocal(ctx, types.ServerEvent{
				Type:    types.EvtVersionMismatch,
				Payload: *res.Mismatch,
			})
		}

	case types.CodeSync:
		if !s.sameRoom(ctx, ev.RoomID) {
			return false
		}
		if _, err := s.room.FullSync(ctx, s.userID, ev.FullCode); err != nil {
			s.sendLocal(ctx, errorEvent(faults.Code(err), err))
		}

	case types.CursorMove:
		_ = s.room.SetCursor(ctx, s.userID, ev.Position, ev.Selection)

	case types.StartFollowing:
		if err := s.room.StartFollow(ctx, s.userID, ev.TargetID); err != nil {
			s.sendLocal(ctx, errorEvent(faults.Code(err), err))
		}

	case types.StopFollowing:
		if err := s.room.StopFollow(ctx, s.userID); err != nil {
			s.sendLocal(ctx, errorEvent(faults.Code(err), err))
		}

	case types.ViewportSync:
		_ = s.room.SetViewport(ctx, s.userID, ev.Viewport)

	case types.Submit:
		if !s.sameRoom(ctx, ev.RoomID) {
			return false
		}
		// Judging is slow; it must not stall this reader.
		go s.submit(ctx, ev.Code)

	case types.ReconnectRequest:
		if err := s.room.Resync(ctx, s.userID); err != nil {
			s.sendLocal(ctx, errorEvent(faults.Code(err), err))
		}
	}
	return false
}

// submit runs the submission path detached from the connection: a verdict
// that took seconds to compute still counts if the socket dropped meanwhile.
func (s *session) submit(parent context.Context, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()
	if _, _, err := room.Submit(ctx, s.room, s.judge, s.userID, code); err != nil {
		s.log.Info("submission failed", zap.Error(err))
		s.sendLocal(parent, errorEvent(faults.SubmitCode(err), err))
	}
}

func (s *session) sameRoom(ctx context.Context, roomID string) bool {
	if roomID == "" || roomID == s.roomID {
		return true
	}
	s.sendLocal(ctx, errorEvent(faults.CodeValidation,
		fmt.Errorf("event roomId %q does not match joined room", roomID)))
	return false
}

func (s *session) writer(ctx context.Context) {
	for {
		select {
		case ev, ok := <-s.outbox:
			if !ok {
				// The room dropped or replaced this connection. Closing the
				// conn unblocks the reader too.
				s.conn.Close(websocket.StatusGoingAway, "connection closed by room")
				return
			}
			if err := writeEvent(ctx, s.conn, ev); err != nil {
				return
			}
		case ev := <-s.local:
			if err := writeEvent(ctx, s.conn, ev); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) sendLocal(ctx context.Context, ev types.ServerEvent) {
	select {
	case s.local <- ev:
	case <-ctx.Done():
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev types.ServerEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func errorEvent(code string, err error) types.ServerEvent {
	return types.ServerEvent{
		Type:    types.EvtError,
		Payload: types.ErrorPayload{Code: code, Message: err.Error()},
	}
}
