// Package faults maps errors from the room, battle, resolver and judge
// layers onto the wire error codes shared by the WebSocket and HTTP edges.
package faults

import (
	"errors"
	"net/http"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/judge"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/resolver"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/room"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/store"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/types"
)

const (
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeVersionConflict    = "VERSION_CONFLICT"
	CodeTierUnavailable    = "TIER_UNAVAILABLE"
	CodeSubmissionRejected = "SUBMISSION_REJECTED"
	CodeInternal           = "INTERNAL"
)

// Code classifies an error for the wire.
func Code(err error) string {
	var nf *resolver.NotFoundError
	if errors.As(err, &nf) {
		return CodeNotFound
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, room.ErrTierUnavailable),
		errors.Is(err, room.ErrRoomClosed),
		errors.Is(err, resolver.ErrShuttingDown),
		errors.Is(err, judge.ErrUnavailable):
		return CodeTierUnavailable
	case errors.Is(err, room.ErrNotParticipant),
		errors.Is(err, room.ErrSelfFollow),
		errors.Is(err, room.ErrCodeTooLarge),
		errors.Is(err, room.ErrNotBattleRoom),
		errors.Is(err, types.ErrBadPayload),
		errors.Is(err, types.ErrUnknownEvent),
		errors.Is(err, judge.ErrUnknownDifficulty):
		return CodeValidation
	case errors.Is(err, battle.ErrNotHost),
		errors.Is(err, battle.ErrAlreadyStarted),
		errors.Is(err, battle.ErrNotStarted),
		errors.Is(err, battle.ErrAlreadyEnded),
		errors.Is(err, battle.ErrNoParticipants):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// SubmitCode classifies an error from the submission path, where racing the
// battle's end is its own category rather than a validation slip.
func SubmitCode(err error) string {
	if errors.Is(err, battle.ErrAlreadyEnded) || errors.Is(err, battle.ErrNotStarted) {
		return CodeSubmissionRejected
	}
	return Code(err)
}

// Status maps a wire code to an HTTP status.
func Status(code string) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeVersionConflict, CodeSubmissionRejected:
		return http.StatusConflict
	case CodeTierUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
