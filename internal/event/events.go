// Package event provides a typed publish/subscribe bus. Every event is
// a concrete struct carrying its own payload; the set of kinds is closed.
package event

// Kind identifies an event variant.
type Kind string

const (
	KindQuestUnlocked  Kind = "quest.unlocked"
	KindQuestStarted   Kind = "quest.started"
	KindQuestSubmitted Kind = "quest.submitted"
	KindQuestCompleted Kind = "quest.completed"
	KindQuestFailed    Kind = "quest.failed"
	KindQuestAbandoned Kind = "quest.abandoned"
	KindQuestRetried   Kind = "quest.retried"

	KindModuleStarted   Kind = "module.started"
	KindLessonStarted   Kind = "module.lesson_started"
	KindLessonCompleted Kind = "module.lesson_completed"
	KindModuleCompleted Kind = "module.completed"

	KindXPGained      Kind = "xp.gained"
	KindLevelUp       Kind = "xp.level_up"
	KindStreakUpdated Kind = "xp.streak_updated"

	KindSyncOffline Kind = "sync.offline"
	KindSyncQueued  Kind = "sync.queued"
	KindSyncFlushed Kind = "sync.flushed"
	KindSyncDropped Kind = "sync.dropped"
)

// Event is implemented by every event variant.
type Event interface {
	Kind() Kind
}

type QuestUnlocked struct {
	QuestID string
}

func (QuestUnlocked) Kind() Kind { return KindQuestUnlocked }

type QuestStarted struct {
	QuestID string
}

func (QuestStarted) Kind() Kind { return KindQuestStarted }

type QuestSubmitted struct {
	QuestID string
	Score   float64
}

func (QuestSubmitted) Kind() Kind { return KindQuestSubmitted }

type QuestCompleted struct {
	QuestID string
	Score   float64
	XP      int
}

func (QuestCompleted) Kind() Kind { return KindQuestCompleted }

type QuestFailed struct {
	QuestID  string
	Score    float64
	Feedback string
}

func (QuestFailed) Kind() Kind { return KindQuestFailed }

type QuestAbandoned struct {
	QuestID string
}

func (QuestAbandoned) Kind() Kind { return KindQuestAbandoned }

type QuestRetried struct {
	QuestID string
}

func (QuestRetried) Kind() Kind { return KindQuestRetried }

type ModuleStarted struct {
	ModuleID string
}

func (ModuleStarted) Kind() Kind { return KindModuleStarted }

type LessonStarted struct {
	ModuleID string
	LessonID string
}

func (LessonStarted) Kind() Kind { return KindLessonStarted }

type LessonCompleted struct {
	ModuleID string
	LessonID string
	Score    float64
	XP       int
}

func (LessonCompleted) Kind() Kind { return KindLessonCompleted }

type ModuleCompleted struct {
	ModuleID string
	BonusXP  int
}

func (ModuleCompleted) Kind() Kind { return KindModuleCompleted }

type XPGained struct {
	Amount   int
	Base     int
	Bonus    int
	Source   string
	SourceID string
	TotalXP  int
}

func (XPGained) Kind() Kind { return KindXPGained }

type LevelUp struct {
	Level   int
	TotalXP int
}

func (LevelUp) Kind() Kind { return KindLevelUp }

type StreakUpdated struct {
	Streak int
}

func (StreakUpdated) Kind() Kind { return KindStreakUpdated }

// SyncOffline signals that a write was accepted while the remote store
// is unreachable.
type SyncOffline struct {
	Key string
}

func (SyncOffline) Kind() Kind { return KindSyncOffline }

// SyncQueued signals that a remote write failed and was queued for retry.
type SyncQueued struct {
	Key      string
	Attempts int
}

func (SyncQueued) Kind() Kind { return KindSyncQueued }

// SyncFlushed signals that a previously queued write reached the remote.
type SyncFlushed struct {
	Key string
}

func (SyncFlushed) Kind() Kind { return KindSyncFlushed }

// SyncDropped signals that a queued write exhausted its retry budget
// and was discarded. The data did not durably save.
type SyncDropped struct {
	Key      string
	Attempts int
}

func (SyncDropped) Kind() Kind { return KindSyncDropped }
