package store

import (
	"context"

	"github.com/Prathamesh0903/CollabQuest-sub001/internal/battle"
	"github.com/Prathamesh0903/CollabQuest-sub001/internal/room"
)

var _ room.Persistence = (*Store)(nil)

// RecordJoin writes a live participant through to the room row.
func (s *Store) RecordJoin(ctx context.Context, roomID string, p room.Participant) error {
	return s.UpsertParticipant(ctx, roomID, ParticipantRecord{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Avatar:      p.Avatar,
		Role:        p.Role,
		IsActive:    p.IsActive,
		JoinedAt:    p.JoinedAt,
		LastSeen:    p.LastSeen,
	})
}

// RecordSubmission persists a live summary together with its code and
// returns the effective summary: on resubmission the stored row keeps its
// original id, and the caller's summary must carry that id too.
func (s *Store) RecordSubmission(ctx context.Context, roomID string, sum battle.Summary, code string) (battle.Summary, error) {
	rec := &SubmissionRecord{
		ID:              sum.SubmissionID,
		SessionID:       roomID,
		UserID:          sum.UserID,
		Code:            code,
		PassedTestCases: sum.Passed,
		TotalTestCases:  sum.Total,
		ExecutionMs:     sum.ExecutionMs,
		CodeLength:      sum.CodeLength,
		Score:           sum.Score,
	}
	if err := s.SaveSubmission(ctx, rec); err != nil {
		return battle.Summary{}, err
	}
	sum.SubmissionID = rec.ID
	return sum, nil
}

// Summary projects a stored row into its live shape. SubmittedAt falls back
// to the row's creation time, the first-attempt anchor.
func (r SubmissionRecord) Summary() battle.Summary {
	return battle.Summary{
		SubmissionID: r.ID,
		UserID:       r.UserID,
		Passed:       r.PassedTestCases,
		Total:        r.TotalTestCases,
		CodeLength:   r.CodeLength,
		ExecutionMs:  r.ExecutionMs,
		Score:        r.Score,
		SubmittedAt:  r.CreatedAt,
	}
}
