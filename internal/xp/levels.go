// Package xp maintains the per-user XP ledger: Fibonacci-scaled level
// thresholds, a golden-ratio streak bonus, and a daily earning cap.
package xp

// BaseUnit scales the Fibonacci level curve: level n's threshold is
// BaseUnit times the sum of the first n-1 Fibonacci terms.
const BaseUnit = 100

// maxLevel bounds the precomputed threshold table. Thresholds grow so
// fast that level 40 is already out of reach in practice.
const maxLevel = 40

// thresholds[i] is the cumulative XP required to reach level i+1, so
// thresholds[0] = 0 for level 1.
var thresholds = buildThresholds()

func buildThresholds() []int {
	t := make([]int, maxLevel)
	fib := 1
	prev := 0
	sum := 0
	for i := 1; i < maxLevel; i++ {
		sum += fib
		t[i] = sum * BaseUnit
		fib, prev = fib+prev, fib
	}
	return t
}

// LevelForXP returns the highest level whose cumulative threshold is at
// most totalXP. The minimum level is 1.
func LevelForXP(totalXP int) int {
	level := 1
	for i := 1; i < len(thresholds); i++ {
		if totalXP < thresholds[i] {
			break
		}
		level = i + 1
	}
	return level
}

// ThresholdForLevel returns the cumulative XP required to reach level.
// Levels at or below 1 require 0; levels beyond the table return the
// last threshold.
func ThresholdForLevel(level int) int {
	if level <= 1 {
		return 0
	}
	if level > len(thresholds) {
		return thresholds[len(thresholds)-1]
	}
	return thresholds[level-1]
}
