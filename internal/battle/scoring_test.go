package battle

import "testing"

func TestCompositeScore(t *testing.T) {
	cases := []struct {
		name        string
		passed      int
		total       int
		executionMs int
		codeLength  int
		want        float64
	}{
		{name: "perfect instant solution", passed: 10, total: 10, want: 1000},
		{name: "half passed", passed: 5, total: 10, want: 500},
		{name: "zero passed scores zero", passed: 0, total: 10, executionMs: 50, codeLength: 10, want: 0},
		{name: "zero total scores zero", passed: 5, total: 0, want: 0},
		{name: "passed clamped to total", passed: 12, total: 10, want: 1000},
		{name: "time penalty", passed: 10, total: 10, executionMs: 250, want: 998.75},
		{name: "size penalty", passed: 10, total: 10, codeLength: 150, want: 998.5},
		{name: "both penalties", passed: 10, total: 10, executionMs: 250, codeLength: 150, want: 997.25},
		{name: "penalties cap at 100 each", passed: 10, total: 10, executionMs: 100000, codeLength: 100000, want: 800},
		{name: "floored at zero", passed: 1, total: 10, executionMs: 20000, codeLength: 10000, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CompositeScore(tc.passed, tc.total, tc.executionMs, tc.codeLength)
			if got != tc.want {
				t.Fatalf("CompositeScore(%d, %d, %d, %d) = %v, want %v",
					tc.passed, tc.total, tc.executionMs, tc.codeLength, got, tc.want)
			}
		})
	}
}

func TestCompositeScore_MonotonicInPassed(t *testing.T) {
	prev := -1.0
	for passed := 0; passed <= 10; passed++ {
		got := CompositeScore(passed, 10, 500, 300)
		if got < prev {
			t.Fatalf("score dropped from %v to %v at passed=%d", prev, got, passed)
		}
		prev = got
	}
}

func TestCompositeScore_SlowerSolutionNeverOutscoresFaster(t *testing.T) {
	fast := CompositeScore(10, 10, 100, 500)
	slow := CompositeScore(10, 10, 5000, 500)
	if slow >= fast {
		t.Fatalf("slow %v >= fast %v", slow, fast)
	}
}
