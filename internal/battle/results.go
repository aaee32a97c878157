package battle

import (
	"sort"
	"time"
)

// Entrant is a battle participant as known to the room roster.
type Entrant struct {
	UserID      string
	DisplayName string
}

// ResultRow is one line of the final standings.
type ResultRow struct {
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Passed      int       `json:"passed"`
	Total       int       `json:"total"`
	Score       float64   `json:"compositeScore"`
	ExecutionMs int       `json:"executionTimeMs"`
	CodeLength  int       `json:"codeLength"`
	Submitted   bool      `json:"submitted"`
	SubmittedAt time.Time `json:"submittedAt,omitempty"`
	Rank        int       `json:"rank"`
	IsWinner    bool      `json:"isWinner"`
}

// Rank builds the ordered results view. Live summaries are the primary
// source; persisted rows override them wherever the two disagree or the live
// map lost an entry, so every row shown is derivable from a durable record.
// Every roster entrant appears: users who never submitted get a zero summary
// with the problem's test total and sink to the bottom. Submitters missing
// from the roster (participant record lost) still get a row, keyed by id.
//
// Order: score desc, execution time asc, code length asc, submission id asc
// (ksuids sort by creation time), then insertion order. Rank collapses only
// over identical (score, time, size) keys; every rank-1 row is a winner.
func Rank(s *State, roster []Entrant, persisted []Summary) []ResultRow {
	merged := make(map[string]Summary, len(s.Submissions))
	for id, sum := range s.Submissions {
		merged[id] = sum
	}
	for _, row := range persisted {
		if live, ok := merged[row.UserID]; !ok || !summariesAgree(live, row) {
			merged[row.UserID] = row
		}
	}

	names := make(map[string]string, len(roster))
	rows := make([]ResultRow, 0, len(roster)+len(merged))
	seen := make(map[string]bool, len(roster))

	for _, e := range roster {
		names[e.UserID] = e.DisplayName
		seen[e.UserID] = true
		rows = append(rows, buildRow(e.UserID, e.DisplayName, merged, s.TotalTests))
	}

	// Submitters outside the roster, in deterministic order.
	extra := make([]string, 0)
	for id := range merged {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	for _, id := range extra {
		rows = append(rows, buildRow(id, id, merged, s.TotalTests))
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Submitted != b.Submitted {
			return a.Submitted
		}
		if a.ExecutionMs != b.ExecutionMs {
			return a.ExecutionMs < b.ExecutionMs
		}
		if a.CodeLength != b.CodeLength {
			return a.CodeLength < b.CodeLength
		}
		ai, bi := merged[a.UserID].SubmissionID, merged[b.UserID].SubmissionID
		if ai != bi {
			return ai < bi
		}
		return false
	})

	for i := range rows {
		if i > 0 && sameRankKey(rows[i], rows[i-1]) {
			rows[i].Rank = rows[i-1].Rank
		} else {
			rows[i].Rank = i + 1
		}
		rows[i].IsWinner = rows[i].Rank == 1
	}
	return rows
}

func buildRow(userID, displayName string, merged map[string]Summary, totalTests int) ResultRow {
	if sum, ok := merged[userID]; ok {
		return ResultRow{
			UserID:      userID,
			DisplayName: displayName,
			Passed:      sum.Passed,
			Total:       sum.Total,
			Score:       sum.Score,
			ExecutionMs: sum.ExecutionMs,
			CodeLength:  sum.CodeLength,
			Submitted:   true,
			SubmittedAt: sum.SubmittedAt,
		}
	}
	return ResultRow{
		UserID:      userID,
		DisplayName: displayName,
		Total:       totalTests,
	}
}

func summariesAgree(live, stored Summary) bool {
	return live.Passed == stored.Passed &&
		live.Total == stored.Total &&
		live.Score == stored.Score &&
		live.ExecutionMs == stored.ExecutionMs &&
		live.CodeLength == stored.CodeLength
}

func sameRankKey(a, b ResultRow) bool {
	return a.Score == b.Score &&
		a.Submitted == b.Submitted &&
		a.ExecutionMs == b.ExecutionMs &&
		a.CodeLength == b.CodeLength
}
