package judge

import (
	"errors"
	"math/rand"
)

var ErrUnknownDifficulty = errors.New("unknown difficulty")

// Problem describes one battle challenge. Test cases live with the execution
// service; rooms only need the identity and the test total.
type Problem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Difficulty  string `json:"difficulty"`
	Description string `json:"description"`
	TotalTests  int    `json:"totalTests"`
}

const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

var catalog = []Problem{
	{ID: "two-sum", Title: "Two Sum", Difficulty: DifficultyEasy,
		Description: "Return indices of the two numbers that add up to the target.", TotalTests: 3},
	{ID: "reverse-string", Title: "Reverse String", Difficulty: DifficultyEasy,
		Description: "Reverse the input string in place.", TotalTests: 3},
	{ID: "valid-parentheses", Title: "Valid Parentheses", Difficulty: DifficultyMedium,
		Description: "Decide whether the bracket sequence is balanced.", TotalTests: 5},
	{ID: "longest-substring", Title: "Longest Substring Without Repeats", Difficulty: DifficultyMedium,
		Description: "Length of the longest substring without repeating characters.", TotalTests: 5},
	{ID: "merge-k-lists", Title: "Merge K Sorted Lists", Difficulty: DifficultyHard,
		Description: "Merge k sorted linked lists into one sorted list.", TotalTests: 8},
	{ID: "median-two-arrays", Title: "Median of Two Sorted Arrays", Difficulty: DifficultyHard,
		Description: "Find the median of two sorted arrays in logarithmic time.", TotalTests: 8},
}

// Pick selects a random problem of the given difficulty.
func Pick(difficulty string) (Problem, error) {
	var pool []Problem
	for _, p := range catalog {
		if p.Difficulty == difficulty {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		return Problem{}, ErrUnknownDifficulty
	}
	return pool[rand.Intn(len(pool))], nil
}

// ByID looks a problem up, for lobby views and reconstruction.
func ByID(id string) (Problem, bool) {
	for _, p := range catalog {
		if p.ID == id {
			return p, true
		}
	}
	return Problem{}, false
}
