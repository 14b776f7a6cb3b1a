package analyzer_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/vsthakur101/webapi-moderator/analyzer"
)

func TestCompareIdentical(t *testing.T) {
	c := qt.New(t)

	result := analyzer.Compare("same", "same")
	c.Assert(result.Identical, qt.IsTrue)
	c.Assert(result.FirstDiffAt, qt.Equals, -1)
	c.Assert(result.LinesChanged, qt.Equals, 0)
}

func TestCompareFirstDiffOffset(t *testing.T) {
	c := qt.New(t)

	result := analyzer.Compare("abcdef", "abcxef")
	c.Assert(result.Identical, qt.IsFalse)
	c.Assert(result.FirstDiffAt, qt.Equals, 3)
}

func TestCompareLineDiff(t *testing.T) {
	c := qt.New(t)

	left := "alpha\nbeta\ngamma"
	right := "alpha\nBETA\ngamma"

	result := analyzer.Compare(left, right)
	c.Assert(result.LinesChanged, qt.Equals, 1)

	var changed []analyzer.DiffSegment
	for _, seg := range result.Segments {
		if seg.Type == "changed" {
			changed = append(changed, seg)
		}
	}
	c.Assert(changed, qt.HasLen, 1)
	c.Assert(changed[0].Left, qt.Equals, "beta")
	c.Assert(changed[0].Right, qt.Equals, "BETA")
}

func TestCompareAddedLines(t *testing.T) {
	c := qt.New(t)

	result := analyzer.Compare("a\nb", "a\nx\nb")
	c.Assert(result.LinesChanged, qt.Equals, 1)

	found := false
	for _, seg := range result.Segments {
		if seg.Type == "added" && seg.Right == "x" {
			found = true
		}
	}
	c.Assert(found, qt.IsTrue)
}

func TestCompareJSONAware(t *testing.T) {
	c := qt.New(t)

	result := analyzer.Compare(`{"a":1,"b":"x"}`, `{"a":2,"b":"x","c":true}`)

	c.Assert(result.JSONAware, qt.IsTrue)
	c.Assert(result.JSONDiffs, qt.Contains, "a: 1 -> 2")
	c.Assert(result.JSONDiffs, qt.Contains, "c: added")
}

func TestCompareNonJSONSkipsJSONDiff(t *testing.T) {
	c := qt.New(t)

	result := analyzer.Compare("plain text <html>", "other text")
	c.Assert(result.JSONAware, qt.IsFalse)
}
