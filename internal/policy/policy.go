// Package policy holds the shared gameplay constants: the golden-ratio
// curve parameters and the pass thresholds used by both quest scoring
// and lesson validation. Quests and quizzes share one pass threshold;
// treating them as separately tunable led to divergent copies in an
// earlier iteration.
package policy

// Phi is the golden ratio, the base of the streak-bonus growth curve.
const Phi = 1.618033988749895

// InvPhi is 1/Phi. It caps the streak bonus and doubles as the
// pass threshold for scored submissions.
const InvPhi = 0.6180339887498949

// PassThreshold is the minimum score fraction (score/100) required to
// pass a scored quest or quiz submission.
const PassThreshold = InvPhi

// VideoThreshold is the watched fraction at which a video lesson counts
// as completed.
const VideoThreshold = 0.8

// ScoreBonus returns the XP bonus multiplier for a passing score
// (0-100 scale). Tiers are exclusive; the highest qualifying tier wins.
func ScoreBonus(score float64) float64 {
	switch {
	case score >= 90:
		return 0.20
	case score >= 80:
		return 0.10
	default:
		return 0
	}
}
