package module

import "time"

// State is a module's derived lifecycle position. It is computed from
// progress and prerequisites, never stored.
type State string

const (
	StateLocked     State = "LOCKED"
	StateAvailable  State = "AVAILABLE"
	StateInProgress State = "IN_PROGRESS"
	StateCompleted  State = "COMPLETED"
)

// LessonRecord captures a completed lesson.
type LessonRecord struct {
	CompletedAt  time.Time `json:"completedAt"`
	Score        float64   `json:"score,omitempty"`
	TimeSpentSec int       `json:"timeSpentSec,omitempty"`
}

// Progress is the mutable per-user record for one module.
type Progress struct {
	StartedAt    *time.Time              `json:"startedAt,omitempty"`
	CompletedAt  *time.Time              `json:"completedAt,omitempty"`
	LessonStarts map[string]time.Time    `json:"lessonStarts,omitempty"`
	LessonsDone  map[string]LessonRecord `json:"lessonsDone,omitempty"`
	VideoWatched map[string]float64      `json:"videoWatched,omitempty"`
	TimeSpentSec int                     `json:"timeSpentSec"`
}

func newProgress() *Progress {
	return &Progress{
		LessonStarts: make(map[string]time.Time),
		LessonsDone:  make(map[string]LessonRecord),
		VideoWatched: make(map[string]float64),
	}
}

// normalize backfills nil maps after JSON decoding.
func (p *Progress) normalize() {
	if p.LessonStarts == nil {
		p.LessonStarts = make(map[string]time.Time)
	}
	if p.LessonsDone == nil {
		p.LessonsDone = make(map[string]LessonRecord)
	}
	if p.VideoWatched == nil {
		p.VideoWatched = make(map[string]float64)
	}
}

// allDone reports whether every lesson in def is completed.
func (p *Progress) allDone(def Definition) bool {
	for _, l := range def.Lessons {
		if _, ok := p.LessonsDone[l.ID]; !ok {
			return false
		}
	}
	return true
}
