package learnbuild

import (
	"github.com/asdfhub/learnbuild/internal/module"
	"github.com/asdfhub/learnbuild/internal/quest"
	"github.com/asdfhub/learnbuild/internal/xp"
)

// Dashboard is the aggregate read model the CLI renders.
type Dashboard struct {
	User    string                 `json:"user"`
	Profile xp.ProfileView         `json:"profile"`
	Quests  quest.Summary          `json:"quests"`
	Tracks  []module.TrackProgress `json:"tracks"`
	Pending int                    `json:"pendingWrites"`
	Online  bool                   `json:"online"`
}

// BadgeContext is the snapshot handed to badge evaluators.
type BadgeContext struct {
	TotalXP          int                `json:"totalXP"`
	Level            int                `json:"level"`
	Streak           int                `json:"streak"`
	QuestsCompleted  int                `json:"questsCompleted"`
	ModulesCompleted int                `json:"modulesCompleted"`
	TrackProgress    map[string]float64 `json:"trackProgress"`
}

// Dashboard aggregates the current user's progress across all managers.
func (s *System) Dashboard() Dashboard {
	var tracks []module.TrackProgress
	for _, t := range s.Modules.Tracks() {
		tracks = append(tracks, s.Modules.TrackProgress(t))
	}
	return Dashboard{
		User:    s.userID,
		Profile: s.XP.Profile(),
		Quests:  s.Quests.ProgressSummary(),
		Tracks:  tracks,
		Pending: s.store.PendingWrites(),
		Online:  s.store.Online(),
	}
}

// BadgeContext snapshots the counters badge rules are written against.
// Track progress is the module completion percentage per track.
func (s *System) BadgeContext() BadgeContext {
	progress := make(map[string]float64)
	for _, t := range s.Modules.Tracks() {
		progress[t] = s.Modules.TrackProgress(t).Percent
	}
	return BadgeContext{
		TotalXP:          s.XP.TotalXP(),
		Level:            s.XP.Level(),
		Streak:           s.XP.Streak(),
		QuestsCompleted:  s.Quests.ProgressSummary().Completed,
		ModulesCompleted: s.Modules.CompletedCount(),
		TrackProgress:    progress,
	}
}
