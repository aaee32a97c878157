package battle

import "math"

// Penalty caps. Beyond these, slower or larger solutions stop losing points;
// correctness keeps its weight regardless.
const (
	maxPenalizedMs    = 20000
	maxPenalizedBytes = 10000
)

// CompositeScore maps a submission to its ranking scalar:
// 1000 * pass ratio, minus up to 100 points for execution time and up to 100
// for code size, floored at zero and rounded to two decimals. Deterministic,
// monotonic in passed for fixed time/size, strictly penalized by slower and
// larger solutions inside the caps.
func CompositeScore(passed, total, executionMs, codeLength int) float64 {
	if total <= 0 || passed <= 0 {
		return 0
	}
	if passed > total {
		passed = total
	}

	base := 1000 * float64(passed) / float64(total)
	timePenalty := float64(min(executionMs, maxPenalizedMs)) / 200
	sizePenalty := float64(min(codeLength, maxPenalizedBytes)) / 100

	score := base - timePenalty - sizePenalty
	if score < 0 {
		return 0
	}
	return math.Round(score*100) / 100
}
