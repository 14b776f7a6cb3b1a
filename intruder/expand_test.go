package intruder_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vsthakur101/webapi-moderator/intruder"
	"github.com/vsthakur101/webapi-moderator/storage"
)

func TestTotalRequests(t *testing.T) {
	c := qt.New(t)

	c.Assert(intruder.TotalRequests(intruder.StrategySniper, 2, []int{3}), qt.Equals, 6)
	c.Assert(intruder.TotalRequests(intruder.StrategyBatteringRam, 3, []int{4}), qt.Equals, 4)
	c.Assert(intruder.TotalRequests(intruder.StrategyPitchfork, 2, []int{3, 5}), qt.Equals, 3)
	c.Assert(intruder.TotalRequests(intruder.StrategyClusterBomb, 2, []int{2, 3}), qt.Equals, 6)
	c.Assert(intruder.TotalRequests(intruder.StrategySniper, 0, []int{3}), qt.Equals, 0)
	c.Assert(intruder.TotalRequests(intruder.StrategyClusterBomb, 2, nil), qt.Equals, 0)
}

func TestExpandSniper(t *testing.T) {
	c := qt.New(t)

	combos := intruder.Expand(intruder.StrategySniper, 2, [][]string{{"a", "b"}})

	// positions outer, payloads inner
	c.Assert(combos, qt.DeepEquals, [][]string{
		{"a", ""},
		{"b", ""},
		{"", "a"},
		{"", "b"},
	})
}

func TestExpandBatteringRam(t *testing.T) {
	c := qt.New(t)

	combos := intruder.Expand(intruder.StrategyBatteringRam, 3, [][]string{{"x", "y"}})

	c.Assert(combos, qt.DeepEquals, [][]string{
		{"x", "x", "x"},
		{"y", "y", "y"},
	})
}

func TestExpandPitchfork(t *testing.T) {
	c := qt.New(t)

	combos := intruder.Expand(intruder.StrategyPitchfork, 2, [][]string{{"a", "b", "c"}, {"1", "2"}})

	// bounded by the shortest set
	c.Assert(combos, qt.DeepEquals, [][]string{
		{"a", "1"},
		{"b", "2"},
	})
}

func TestExpandClusterBombLexicographic(t *testing.T) {
	c := qt.New(t)

	combos := intruder.Expand(intruder.StrategyClusterBomb, 2, [][]string{{"a", "b"}, {"1", "2"}})

	c.Assert(combos, qt.DeepEquals, [][]string{
		{"a", "1"},
		{"a", "2"},
		{"b", "1"},
		{"b", "2"},
	})
}

func TestApplyPayloads(t *testing.T) {
	c := qt.New(t)

	//        0123456789
	template := "id=§1§&x=§2§"
	// positions cover the placeholder spans
	positions := []storage.IntruderPosition{
		{Start: 3, End: 8, Index: 0},
		{Start: 11, End: 16, Index: 1},
	}
	// byte offsets: "id=" is 0-2, first placeholder "§1§" spans 3..8 (§ is 2 bytes)
	out := intruder.ApplyPayloads(template, positions, []string{"42", "y"})
	c.Assert(out, qt.Equals, "id=42&x=y")
}

func TestApplyPayloadsIgnoresOutOfRange(t *testing.T) {
	c := qt.New(t)

	template := "abc"
	positions := []storage.IntruderPosition{{Start: 10, End: 12, Index: 0}}

	c.Assert(intruder.ApplyPayloads(template, positions, []string{"x"}), qt.Equals, "abc")
}

func TestApplyPayloadsEmpty(t *testing.T) {
	c := qt.New(t)

	c.Assert(intruder.ApplyPayloads("abc", nil, []string{"x"}), qt.Equals, "abc")
	c.Assert(intruder.ApplyPayloads("abc", []storage.IntruderPosition{{Start: 0, End: 1}}, nil), qt.Equals, "abc")
}
