package xp

import (
	"math"
	"time"

	"github.com/asdfhub/learnbuild/internal/policy"
)

// StreakTimeout is the maximum gap between activity before the streak
// resets. Streaks count calendar days, but a gap longer than this
// breaks the chain even across adjacent-looking dates.
const StreakTimeout = 48 * time.Hour

// StreakBonus returns the XP multiplier earned by a consecutive-day
// streak: phi^(streak/7) - 1, clamped to 1/phi. A streak of one day or
// less earns nothing.
func StreakBonus(streak int) float64 {
	if streak <= 1 {
		return 0
	}
	bonus := math.Pow(policy.Phi, float64(streak)/7) - 1
	if bonus > policy.InvPhi {
		return policy.InvPhi
	}
	return bonus
}

// dayKey formats t as a calendar-date key ("2006-01-02") in local time.
func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
