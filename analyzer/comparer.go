package analyzer

import (
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// DiffSegment is one hunk of a comparison.
type DiffSegment struct {
	Type  string `json:"type"` // equal, added, removed, changed
	Left  string `json:"left,omitempty"`
	Right string `json:"right,omitempty"`
}

// CompareResult summarizes a two-way comparison.
type CompareResult struct {
	Identical    bool          `json:"identical"`
	LeftLength   int           `json:"left_length"`
	RightLength  int           `json:"right_length"`
	SameLength   bool          `json:"same_length"`
	FirstDiffAt  int           `json:"first_diff_at"` // -1 when identical
	LinesChanged int           `json:"lines_changed"`
	Segments     []DiffSegment `json:"segments"`
	JSONAware    bool          `json:"json_aware"`
	JSONDiffs    []string      `json:"json_diffs,omitempty"`
}

// Compare diffs two payloads line by line, adding a JSON-aware field diff
// when both sides parse as JSON.
func Compare(left, right string) CompareResult {
	result := CompareResult{
		LeftLength:  len(left),
		RightLength: len(right),
		SameLength:  len(left) == len(right),
		FirstDiffAt: firstDiff(left, right),
	}
	result.Identical = left == right
	if result.Identical {
		result.Segments = []DiffSegment{{Type: "equal", Left: left, Right: right}}
		return result
	}

	result.Segments, result.LinesChanged = diffLines(left, right)

	if gjson.Valid(left) && gjson.Valid(right) {
		result.JSONAware = true
		result.JSONDiffs = jsonDiffs(gjson.Parse(left), gjson.Parse(right), "")
	}
	return result
}

func firstDiff(left, right string) int {
	n := len(left)
	if len(right) < n {
		n = len(right)
	}
	for i := 0; i < n; i++ {
		if left[i] != right[i] {
			return i
		}
	}
	if len(left) != len(right) {
		return n
	}
	return -1
}

// diffLines aligns lines greedily: equal runs pass through, mismatches
// pair up as changed, leftovers are added/removed.
func diffLines(left, right string) ([]DiffSegment, int) {
	leftLines := strings.Split(left, "\n")
	rightLines := strings.Split(right, "\n")

	var segments []DiffSegment
	changed := 0
	i, j := 0, 0
	for i < len(leftLines) && j < len(rightLines) {
		if leftLines[i] == rightLines[j] {
			segments = append(segments, DiffSegment{Type: "equal", Left: leftLines[i], Right: rightLines[j]})
			i++
			j++
			continue
		}

		// resync: does the left line appear later on the right?
		if idx := indexOf(rightLines[j:], leftLines[i]); idx > 0 && idx <= 3 {
			for k := 0; k < idx; k++ {
				segments = append(segments, DiffSegment{Type: "added", Right: rightLines[j+k]})
				changed++
			}
			j += idx
			continue
		}
		if idx := indexOf(leftLines[i:], rightLines[j]); idx > 0 && idx <= 3 {
			for k := 0; k < idx; k++ {
				segments = append(segments, DiffSegment{Type: "removed", Left: leftLines[i+k]})
				changed++
			}
			i += idx
			continue
		}

		segments = append(segments, DiffSegment{Type: "changed", Left: leftLines[i], Right: rightLines[j]})
		changed++
		i++
		j++
	}
	for ; i < len(leftLines); i++ {
		segments = append(segments, DiffSegment{Type: "removed", Left: leftLines[i]})
		changed++
	}
	for ; j < len(rightLines); j++ {
		segments = append(segments, DiffSegment{Type: "added", Right: rightLines[j]})
		changed++
	}
	return segments, changed
}

func indexOf(lines []string, needle string) int {
	for i, l := range lines {
		if l == needle {
			return i
		}
	}
	return -1
}

// jsonDiffs walks both documents and reports paths whose values differ.
func jsonDiffs(left, right gjson.Result, path string) []string {
	var diffs []string

	if left.Type != right.Type {
		diffs = append(diffs, describeDiff(path, left, right))
		return diffs
	}

	switch {
	case left.IsObject():
		seen := make(map[string]bool)
		left.ForEach(func(key, lv gjson.Result) bool {
			seen[key.String()] = true
			rv := right.Get(keyPath(key.String()))
			child := joinPath(path, key.String())
			if !rv.Exists() {
				diffs = append(diffs, child+": removed")
				return true
			}
			diffs = append(diffs, jsonDiffs(lv, rv, child)...)
			return true
		})
		right.ForEach(func(key, _ gjson.Result) bool {
			if !seen[key.String()] {
				diffs = append(diffs, joinPath(path, key.String())+": added")
			}
			return true
		})
	case left.IsArray():
		la := left.Array()
		ra := right.Array()
		n := len(la)
		if len(ra) < n {
			n = len(ra)
		}
		for i := 0; i < n; i++ {
			diffs = append(diffs, jsonDiffs(la[i], ra[i], joinPath(path, strconv.Itoa(i)))...)
		}
		if len(la) != len(ra) {
			diffs = append(diffs, path+": array length changed")
		}
	default:
		if left.Raw != right.Raw {
			diffs = append(diffs, describeDiff(path, left, right))
		}
	}
	return diffs
}

func describeDiff(path string, left, right gjson.Result) string {
	if path == "" {
		path = "$"
	}
	return path + ": " + left.Raw + " -> " + right.Raw
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func keyPath(key string) string {
	if strings.ContainsAny(key, ".*?") {
		return strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`).Replace(key)
	}
	return key
}
