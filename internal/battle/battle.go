// Package battle holds the battle lifecycle state machine and result
// ranking. It is pure: the owning room loop serializes every mutation, so
// nothing here locks.
package battle

import (
	"errors"
	"time"
)

var (
	ErrAlreadyStarted = errors.New("battle already started")
	ErrNotStarted     = errors.New("battle not started")
	ErrAlreadyEnded   = errors.New("battle already ended")
	ErrNoParticipants = errors.New("battle requires at least one active participant")
	ErrNotHost        = errors.New("only the battle host may do this")
)

// End reasons recorded on the terminal transition.
const (
	EndReasonAllSubmitted = "all-submitted"
	EndReasonTimeout      = "timeout"
	EndReasonManual       = "manual"
)

// State is the live battle attached to a room in battle mode.
// Created -> Started -> Ended, strictly one way.
type State struct {
	ProblemID  string        `json:"problemId"`
	Difficulty string        `json:"difficulty"`
	HostID     string        `json:"hostId"`
	Duration   time.Duration `json:"duration"`
	TotalTests int           `json:"totalTests"`

	Started   bool      `json:"started"`
	StartedAt time.Time `json:"startedAt,omitempty"`
	Ended     bool      `json:"ended"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
	EndReason string    `json:"endReason,omitempty"`

	// Submissions is the live summary cache, keyed by user. The persisted
	// submission rows are the durable record; entries here are written only
	// after their row is stored.
	Submissions map[string]Summary `json:"submissions"`
}

// Summary is the live projection of one persisted submission.
type Summary struct {
	SubmissionID string    `json:"submissionId"`
	UserID       string    `json:"userId"`
	Passed       int       `json:"passed"`
	Total        int       `json:"total"`
	CodeLength   int       `json:"codeLength"`
	ExecutionMs  int       `json:"executionTimeMs"`
	Score        float64   `json:"compositeScore"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

func New(problemID, difficulty, hostID string, duration time.Duration, totalTests int) *State {
	return &State{
		ProblemID:   problemID,
		Difficulty:  difficulty,
		HostID:      hostID,
		Duration:    duration,
		TotalTests:  totalTests,
		Submissions: make(map[string]Summary),
	}
}

// Start flips Created -> Started. It is the only entry to the running state.
func (s *State) Start(now time.Time) error {
	if s.Ended {
		return ErrAlreadyEnded
	}
	if s.Started {
		return ErrAlreadyStarted
	}
	s.Started = true
	s.StartedAt = now
	return nil
}

// End flips Started -> Ended. Exactly one caller wins; everyone else gets
// ErrAlreadyEnded and must treat it as "someone beat me to it", not a fault.
func (s *State) End(reason string, now time.Time) error {
	if s.Ended {
		return ErrAlreadyEnded
	}
	if !s.Started {
		return ErrNotStarted
	}
	s.Ended = true
	s.EndedAt = now
	s.EndReason = reason
	return nil
}

// RecordSubmission installs a summary for its user, overwriting any earlier
// one. Rejected outside the running window with zero effect.
func (s *State) RecordSubmission(sum Summary) error {
	if s.Ended {
		return ErrAlreadyEnded
	}
	if !s.Started {
		return ErrNotStarted
	}
	s.Submissions[sum.UserID] = sum
	return nil
}

// AllSubmitted reports whether every listed user has a recorded submission.
// An empty list never auto-ends a battle.
func (s *State) AllSubmitted(userIDs []string) bool {
	if len(userIDs) == 0 {
		return false
	}
	for _, id := range userIDs {
		if _, ok := s.Submissions[id]; !ok {
			return false
		}
	}
	return true
}

// Unresolved reports whether the battle still pins its room in memory:
// a started battle that has not ended must survive everyone disconnecting.
func (s *State) Unresolved() bool {
	return s != nil && s.Started && !s.Ended
}

// Clone deep-copies the state so snapshots and cache writes never share the
// live submissions map with the room loop.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Submissions = make(map[string]Summary, len(s.Submissions))
	for k, v := range s.Submissions {
		cp.Submissions[k] = v
	}
	return &cp
}
