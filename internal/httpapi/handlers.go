// Package httpapi is the REST edge: room and battle lifecycle operations,
// standings, and health. Mutations go through the same room actors as the
// WebSocket edge, so both surfaces see one serialized view of each room.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/faults"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/hub"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/judge"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/resolver"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/room"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/store"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

const (
	defaultDurationMin = 15
	maxDurationMin     = 120
	defaultLanguage    = "javascript"
)

// Storage is the slice of the persistent tier the REST edge reads and
// writes directly: room creation, code lookup, and the durable submission
// rows the results endpoint reconciles against.
type Storage interface {
	CreateRoom(ctx context.Context, rec *store.RoomRecord) error
	RoomByCode(ctx context.Context, roomCode string) (*store.RoomRecord, error)
	SubmissionsByRoom(ctx context.Context, roomID string) ([]store.SubmissionRecord, error)
}

type API struct {
	log   *zap.Logger
	db    Storage
	rv    *resolver.Resolver
	hub   *hub.Hub
	judge room.Judge
}

func NewAPI(log *zap.Logger, db Storage, rv *resolver.Resolver, h *hub.Hub, j room.Judge) *API {
	if log == nil {
		log = zap.NewNop()
	}
	return &API{log: log, db: db, rv: rv, hub: h, judge: j}
}

// GenerateCode returns a short join code for a new room.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := 0; i < 6; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func (a *API) uniqueCode(ctx context.Context) (string, error) {
	for i := 0; i < 5; i++ {
		code, err := GenerateCode()
		if err != nil {
			return "", err
		}
		_, err = a.db.RoomByCode(ctx, code)
		if errors.Is(err, store.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return "", fmt.Errorf("%w: code lookup: %v", room.ErrTierUnavailable, err)
		}
		a.log.Debug("room code collision, regenerating", zap.String("code", code))
	}
	return "", errors.New("could not allocate a unique room code")
}

type createRoomRequest struct {
	HostID   string `json:"hostId"`
	Language string `json:"language"`
}

// CreateRoom creates a collaborative editing room.
func (a *API) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, faults.CodeValidation, err)
		return
	}
	if req.HostID == "" {
		writeError(w, faults.CodeValidation, errors.New("hostId is required"))
		return
	}
	if req.Language == "" {
		req.Language = defaultLanguage
	}
	a.createRoom(w, r, req.HostID, req.Language, nil, 0)
}

type createBattleRequest struct {
	HostID          string `json:"hostId"`
	Difficulty      string `json:"difficulty"`
	DurationMinutes int    `json:"durationMinutes"`
	Language        string `json:"language"`
}

// CreateBattle creates a battle room: a problem is drawn for the requested
// difficulty and the room waits for the host to start the countdown.
func (a *API) CreateBattle(w http.ResponseWriter, r *http.Request) {
	var req createBattleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, faults.CodeValidation, err)
		return
	}
	if req.HostID == "" {
		writeError(w, faults.CodeValidation, errors.New("hostId is required"))
		return
	}
	if req.Difficulty == "" {
		req.Difficulty = judge.DifficultyEasy
	}
	problem, err := judge.Pick(req.Difficulty)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = defaultDurationMin
	}
	if req.DurationMinutes > maxDurationMin {
		req.DurationMinutes = maxDurationMin
	}
	if req.Language == "" {
		req.Language = defaultLanguage
	}
	a.createRoom(w, r, req.HostID, req.Language, &problem, req.DurationMinutes)
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request, hostID, language string, problem *judge.Problem, durationMin int) {
	ctx := r.Context()
	roomCode, err := a.uniqueCode(ctx)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	roomID := uuid.NewString()

	rec := &store.RoomRecord{
		RoomID:       roomID,
		RoomCode:     roomCode,
		HostID:       hostID,
		Status:       store.StatusWaiting,
		Mode:         store.ModeCollaborative,
		Language:     language,
		IsActive:     true,
		Participants: []store.ParticipantRecord{},
	}
	if problem != nil {
		rec.Mode = store.ModeBattle
		rec.ProblemID = problem.ID
		rec.Difficulty = problem.Difficulty
		rec.DurationMin = durationMin
	}
	if err := a.db.CreateRoom(ctx, rec); err != nil {
		err = fmt.Errorf("%w: create room: %v", room.ErrTierUnavailable, err)
		writeError(w, faults.Code(err), err)
		return
	}

	state := room.NewState(roomID, roomCode, language, rec.Mode, time.Now())
	if problem != nil {
		state.Battle = battle.New(problem.ID, problem.Difficulty, hostID,
			time.Duration(durationMin)*time.Minute, problem.TotalTests)
	}
	if _, err := a.rv.Install(state); err != nil {
		writeError(w, faults.Code(err), err)
		return
	}

	resp := map[string]any{
		"roomId":   roomID,
		"roomCode": roomCode,
		"mode":     rec.Mode,
		"language": language,
	}
	if problem != nil {
		resp["problem"] = problem
		resp["durationMinutes"] = durationMin
	}
	a.log.Info("room created",
		zap.String("roomId", roomID),
		zap.String("mode", rec.Mode),
		zap.String("roomCode", roomCode))
	writeJSON(w, http.StatusCreated, resp)
}

type joinRequest struct {
	RoomCode string `json:"roomCode"`
	UserID   string `json:"userId"`
}

// JoinBattle resolves a join code to the room a client should open its
// socket against. Membership itself binds on the socket join event.
func (a *API) JoinBattle(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, faults.CodeValidation, err)
		return
	}
	if req.RoomCode == "" || req.UserID == "" {
		writeError(w, faults.CodeValidation, errors.New("roomCode and userId are required"))
		return
	}
	ctx := r.Context()
	rec, err := a.db.RoomByCode(ctx, req.RoomCode)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			err = fmt.Errorf("%w: code lookup: %v", room.ErrTierUnavailable, err)
		}
		writeError(w, faults.Code(err), err)
		return
	}
	if !rec.IsActive || rec.Status == store.StatusEnded {
		writeError(w, faults.CodeValidation, errors.New("this room has already ended"))
		return
	}
	rm, err := a.rv.Resolve(ctx, rec.RoomID)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	view, err := rm.View(ctx)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.lobbyOf(view))
}

type startRequest struct {
	UserID string `json:"userId"`
}

// StartBattle begins the countdown. Host only.
func (a *API) StartBattle(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, faults.CodeValidation, err)
		return
	}
	ctx := r.Context()
	rm, err := a.rv.Resolve(ctx, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	startedAt, err := rm.StartBattle(ctx, req.UserID)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":    rm.ID(),
		"startedAt": startedAt,
	})
}

type submitRequest struct {
	UserID string `json:"userId"`
	Code   string `json:"code"`
}

// Submit judges and records one user's solution.
func (a *API) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, faults.CodeValidation, err)
		return
	}
	if req.UserID == "" {
		writeError(w, faults.CodeValidation, errors.New("userId is required"))
		return
	}
	ctx := r.Context()
	rm, err := a.rv.Resolve(ctx, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	sum, ended, err := room.Submit(ctx, rm, a.judge, req.UserID, req.Code)
	if err != nil {
		writeError(w, faults.SubmitCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":      rm.ID(),
		"submission":  sum,
		"battleEnded": ended,
	})
}

// EndBattle ends the battle early. Host only.
func (a *API) EndBattle(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, faults.CodeValidation, err)
		return
	}
	ctx := r.Context()
	rm, err := a.rv.Resolve(ctx, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	endedAt, err := rm.EndBattle(ctx, req.UserID)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"roomId":  rm.ID(),
		"endedAt": endedAt,
		"reason":  battle.EndReasonManual,
	})
}

// Lobby returns the live room view.
func (a *API) Lobby(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rm, err := a.rv.Resolve(ctx, chi.URLParam(r, "roomID"))
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	view, err := rm.View(ctx)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a.lobbyOf(view))
}

type lobbyResponse struct {
	RoomID    string              `json:"roomId"`
	RoomCode  string              `json:"roomCode"`
	Mode      string              `json:"mode"`
	Language  string              `json:"language"`
	Version   int64               `json:"version"`
	Users     []types.RosterEntry `json:"users"`
	Connected int                 `json:"connected"`
	Battle    *room.BattleInfo    `json:"battle,omitempty"`
	Problem   *judge.Problem      `json:"problem,omitempty"`
}

func (a *API) lobbyOf(view room.View) lobbyResponse {
	resp := lobbyResponse{
		RoomID:    view.RoomID,
		RoomCode:  view.RoomCode,
		Mode:      view.Mode,
		Language:  view.Language,
		Version:   view.Version,
		Users:     view.Users,
		Connected: view.Clients,
		Battle:    room.BattleInfoOf(view.Battle),
	}
	if view.Battle != nil {
		if p, ok := judge.ByID(view.Battle.ProblemID); ok {
			resp.Problem = &p
		}
	}
	return resp
}

// Results serves the standings: live summaries reconciled against the
// durable submission rows, every participant included.
func (a *API) Results(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roomID := chi.URLParam(r, "roomID")

	rows, err := a.db.SubmissionsByRoom(ctx, roomID)
	if err != nil {
		err = fmt.Errorf("%w: submissions read: %v", room.ErrTierUnavailable, err)
		writeError(w, faults.Code(err), err)
		return
	}
	persisted := make([]battle.Summary, 0, len(rows))
	for _, row := range rows {
		persisted = append(persisted, row.Summary())
	}

	rm, err := a.rv.Resolve(ctx, roomID)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	view, err := rm.Results(ctx, persisted)
	if err != nil {
		writeError(w, faults.Code(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Healthz reports process liveness and the warm room count.
func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  a.hub.Count(r.Context()),
	})
}

func decodeBody(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code string, err error) {
	writeJSON(w, faults.Status(code), map[string]any{
		"error": types.ErrorPayload{Code: code, Message: err.Error()},
	})
}
