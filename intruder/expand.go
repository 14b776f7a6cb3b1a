// Package intruder executes payload-set combinatorial attacks with four
// positioning strategies.
package intruder

import (
	"sort"

	"github.com/vsthakur101/webapi-moderator/storage"
)

// Attack strategies.
const (
	StrategySniper       = "sniper"
	StrategyBatteringRam = "battering_ram"
	StrategyPitchfork    = "pitchfork"
	StrategyClusterBomb  = "cluster_bomb"
)

// TotalRequests computes the attack's combinatorial cardinality.
func TotalRequests(strategy string, numPositions int, payloadCounts []int) int {
	if len(payloadCounts) == 0 || numPositions == 0 {
		return 0
	}
	switch strategy {
	case StrategySniper:
		max := 0
		for _, c := range payloadCounts {
			if c > max {
				max = c
			}
		}
		return numPositions * max
	case StrategyBatteringRam:
		max := 0
		for _, c := range payloadCounts {
			if c > max {
				max = c
			}
		}
		return max
	case StrategyPitchfork:
		min := payloadCounts[0]
		for _, c := range payloadCounts[1:] {
			if c < min {
				min = c
			}
		}
		return min
	case StrategyClusterBomb:
		total := 1
		for _, c := range payloadCounts {
			total *= c
		}
		return total
	}
	return 0
}

// Expand produces the ordered payload combinations for the attack. Each
// combination holds one value per position; sniper leaves untested
// positions empty.
func Expand(strategy string, numPositions int, payloadSets [][]string) [][]string {
	if len(payloadSets) == 0 || numPositions == 0 {
		return nil
	}

	switch strategy {
	case StrategySniper:
		// positions outer, payloads inner
		var combos [][]string
		for pos := 0; pos < numPositions; pos++ {
			setIdx := pos
			if setIdx >= len(payloadSets) {
				setIdx = len(payloadSets) - 1
			}
			for _, payload := range payloadSets[setIdx] {
				combo := make([]string, numPositions)
				combo[pos] = payload
				combos = append(combos, combo)
			}
		}
		return combos

	case StrategyBatteringRam:
		var combos [][]string
		for _, payload := range payloadSets[0] {
			combo := make([]string, numPositions)
			for i := range combo {
				combo[i] = payload
			}
			combos = append(combos, combo)
		}
		return combos

	case StrategyPitchfork:
		n := len(payloadSets[0])
		for _, set := range payloadSets[1:] {
			if len(set) < n {
				n = len(set)
			}
		}
		combos := make([][]string, 0, n)
		for i := 0; i < n; i++ {
			combo := make([]string, numPositions)
			for pos := 0; pos < numPositions; pos++ {
				setIdx := pos
				if setIdx >= len(payloadSets) {
					setIdx = len(payloadSets) - 1
				}
				combo[pos] = payloadSets[setIdx][i]
			}
			combos = append(combos, combo)
		}
		return combos

	case StrategyClusterBomb:
		// cartesian product in lexicographic index order
		sets := make([][]string, numPositions)
		for pos := 0; pos < numPositions; pos++ {
			setIdx := pos
			if setIdx >= len(payloadSets) {
				setIdx = len(payloadSets) - 1
			}
			sets[pos] = payloadSets[setIdx]
			if len(sets[pos]) == 0 {
				return nil
			}
		}
		total := 1
		for _, set := range sets {
			total *= len(set)
		}
		combos := make([][]string, 0, total)
		indices := make([]int, numPositions)
		for {
			combo := make([]string, numPositions)
			for pos, idx := range indices {
				combo[pos] = sets[pos][idx]
			}
			combos = append(combos, combo)

			pos := numPositions - 1
			for pos >= 0 {
				indices[pos]++
				if indices[pos] < len(sets[pos]) {
					break
				}
				indices[pos] = 0
				pos--
			}
			if pos < 0 {
				return combos
			}
		}
	}
	return nil
}

// ApplyPayloads substitutes payloads into the template at the given byte
// positions. Replacement runs back to front so earlier offsets stay valid.
func ApplyPayloads(template string, positions []storage.IntruderPosition, payloads []string) string {
	if len(positions) == 0 || len(payloads) == 0 {
		return template
	}

	type indexed struct {
		orig int
		pos  storage.IntruderPosition
	}
	sorted := make([]indexed, 0, len(positions))
	for i, p := range positions {
		sorted = append(sorted, indexed{orig: i, pos: p})
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].pos.Start > sorted[j].pos.Start
	})

	result := template
	for _, ip := range sorted {
		if ip.orig >= len(payloads) {
			continue
		}
		start, end := ip.pos.Start, ip.pos.End
		if start < 0 || end > len(result) || start > end {
			continue
		}
		result = result[:start] + payloads[ip.orig] + result[end:]
	}
	return result
}
