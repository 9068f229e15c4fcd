package module

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asdfhub/learnbuild/internal/event"
	"github.com/asdfhub/learnbuild/internal/logger"
	"github.com/asdfhub/learnbuild/internal/policy"
	"github.com/asdfhub/learnbuild/internal/syncstore"
)

// Store is the persistence surface the manager needs. Satisfied by
// *syncstore.Store.
type Store interface {
	Write(ctx context.Context, key string, v any) error
	Read(ctx context.Context, key string, dest any) error
}

// Submission carries lesson completion input. Score only matters for
// quiz lessons.
type Submission struct {
	Score        float64        `json:"score,omitempty"`
	TimeSpentSec int            `json:"timeSpentSec,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Result reports a lesson completion attempt.
type Result struct {
	Completed       bool    `json:"completed"`
	Score           float64 `json:"score,omitempty"`
	XP              int     `json:"xp"`
	ModuleCompleted bool    `json:"moduleCompleted"`
	BonusXP         int     `json:"bonusXp,omitempty"`
	Feedback        string  `json:"feedback,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// TrackProgress summarizes module completion within a track.
type TrackProgress struct {
	Track     string  `json:"track"`
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Percent   float64 `json:"percent"`
}

// Manager owns module definitions and per-user progress. The keyPrefix
// sits between "module:" and the user id in persisted keys.
type Manager struct {
	mu        sync.Mutex
	defs      map[string]Definition
	order     []string
	progress  map[string]*Progress
	index     []string
	userID    string
	keyPrefix string
	pending   []event.Event
	store     Store
	bus       *event.Bus
	log       *logger.Logger
	now       func() time.Time
}

// NewManager validates and registers the definitions.
func NewManager(defs []Definition, keyPrefix string, store Store, bus *event.Bus, log *logger.Logger) (*Manager, error) {
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		if known[d.ID] {
			return nil, fmt.Errorf("duplicate module id %q", d.ID)
		}
		known[d.ID] = true
	}
	m := &Manager{
		defs:      make(map[string]Definition, len(defs)),
		progress:  make(map[string]*Progress),
		keyPrefix: keyPrefix,
		store:     store,
		bus:       bus,
		log:       log.With("component", "module"),
		now:       time.Now,
	}
	for _, d := range defs {
		if err := d.Validate(known); err != nil {
			return nil, err
		}
		m.defs[d.ID] = d
		m.order = append(m.order, d.ID)
	}
	return m, nil
}

// Definition returns the registered definition for id.
func (m *Manager) Definition(id string) (Definition, bool) {
	d, ok := m.defs[id]
	return d, ok
}

// SetUser switches the active user and reloads persisted progress.
func (m *Manager) SetUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
	m.progress = make(map[string]*Progress)
	m.index = nil

	var ids []string
	if err := m.store.Read(ctx, m.indexKey(), &ids); err != nil {
		// Only an absent index means a fresh user; a failed read must
		// surface so a later persist cannot shrink the durable index.
		if errors.Is(err, syncstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("restore module index: %w", err)
	}
	m.index = ids
	for _, id := range ids {
		var p Progress
		if err := m.store.Read(ctx, m.progressKey(id), &p); err != nil {
			m.log.Warn("module progress missing for indexed module", "module", id, "error", err)
			continue
		}
		p.normalize()
		m.progress[id] = &p
	}
	return nil
}

// IsAvailable reports whether every prerequisite module is completed.
func (m *Manager) IsAvailable(moduleID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.availableLocked(moduleID)
}

func (m *Manager) availableLocked(moduleID string) bool {
	def, ok := m.defs[moduleID]
	if !ok {
		return false
	}
	for _, p := range def.Prerequisites {
		if m.stateLocked(p) != StateCompleted {
			return false
		}
	}
	return true
}

// StateOf derives the module's lifecycle state.
func (m *Manager) StateOf(moduleID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(moduleID)
}

func (m *Manager) stateLocked(moduleID string) State {
	def, ok := m.defs[moduleID]
	if !ok {
		return StateLocked
	}
	if !m.availableLocked(moduleID) {
		return StateLocked
	}
	p := m.progress[moduleID]
	if p == nil || p.StartedAt == nil {
		return StateAvailable
	}
	if p.allDone(def) {
		return StateCompleted
	}
	return StateInProgress
}

// StartModule begins a module. Starting an already-started module is a
// no-op beyond returning true.
func (m *Manager) StartModule(ctx context.Context, moduleID string) bool {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()
	return m.startModuleLocked(ctx, moduleID)
}

func (m *Manager) startModuleLocked(ctx context.Context, moduleID string) bool {
	if _, ok := m.defs[moduleID]; !ok {
		return false
	}
	if !m.availableLocked(moduleID) {
		return false
	}
	p := m.progress[moduleID]
	if p != nil && p.StartedAt != nil {
		return true
	}
	if p == nil {
		p = newProgress()
		m.progress[moduleID] = p
	}
	now := m.now()
	p.StartedAt = &now
	m.persistLocked(ctx, moduleID)
	m.emit(event.ModuleStarted{ModuleID: moduleID})
	return true
}

// StartLesson begins a lesson, auto-starting the parent module.
// Idempotent for already-started lessons.
func (m *Manager) StartLesson(ctx context.Context, moduleID, lessonID string) bool {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()

	def, ok := m.defs[moduleID]
	if !ok {
		return false
	}
	if _, ok := def.Lesson(lessonID); !ok {
		return false
	}
	if !m.startModuleLocked(ctx, moduleID) {
		return false
	}
	p := m.progress[moduleID]
	if _, started := p.LessonStarts[lessonID]; started {
		return true
	}
	p.LessonStarts[lessonID] = m.now()
	m.persistLocked(ctx, moduleID)
	m.emit(event.LessonStarted{ModuleID: moduleID, LessonID: lessonID})
	return true
}

// CompleteLesson validates the submission against the lesson type and,
// on success, records completion, accumulates time spent, and cascades
// module completion (with its flat XP bonus) when this was the last
// lesson.
func (m *Manager) CompleteLesson(ctx context.Context, moduleID, lessonID string, sub Submission) Result {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()

	def, ok := m.defs[moduleID]
	if !ok {
		return Result{Error: fmt.Sprintf("unknown module %q", moduleID)}
	}
	lesson, ok := def.Lesson(lessonID)
	if !ok {
		return Result{Error: fmt.Sprintf("unknown lesson %q in module %q", lessonID, moduleID)}
	}
	if sub.Score < 0 || sub.Score > 100 {
		return Result{Error: fmt.Sprintf("score %g is outside the 0-100 range", sub.Score)}
	}
	if !m.availableLocked(moduleID) {
		return Result{Error: "module is locked"}
	}
	if !m.startModuleLocked(ctx, moduleID) {
		return Result{Error: "module could not be started"}
	}
	p := m.progress[moduleID]
	if _, done := p.LessonsDone[lessonID]; done {
		return Result{Completed: true}
	}

	switch lesson.Type {
	case LessonQuiz:
		if sub.Score/100 < policy.PassThreshold {
			return Result{
				Score:    sub.Score,
				Feedback: fmt.Sprintf("score %.0f%% is below the %.1f%% pass mark", sub.Score, policy.PassThreshold*100),
			}
		}
	case LessonVideo:
		if p.VideoWatched[lessonID] < policy.VideoThreshold {
			return Result{
				Feedback: fmt.Sprintf("watched %.0f%% of the video, %.0f%% required",
					p.VideoWatched[lessonID]*100, policy.VideoThreshold*100),
			}
		}
	default:
		// Articles, projects, and challenges pass once a submission is
		// recorded.
	}

	return m.recordCompletionLocked(ctx, def, lesson, sub)
}

// UpdateVideoProgress stores the running maximum watched fraction for a
// video lesson and auto-completes it once the threshold is crossed.
// The stored fraction never decreases.
func (m *Manager) UpdateVideoProgress(ctx context.Context, moduleID, lessonID string, fraction float64) Result {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()

	def, ok := m.defs[moduleID]
	if !ok {
		return Result{Error: fmt.Sprintf("unknown module %q", moduleID)}
	}
	lesson, ok := def.Lesson(lessonID)
	if !ok || lesson.Type != LessonVideo {
		return Result{Error: fmt.Sprintf("lesson %q is not a video", lessonID)}
	}
	if !m.startModuleLocked(ctx, moduleID) {
		return Result{Error: "module is locked"}
	}
	p := m.progress[moduleID]
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	if fraction > p.VideoWatched[lessonID] {
		p.VideoWatched[lessonID] = fraction
		m.persistLocked(ctx, moduleID)
	}

	if _, done := p.LessonsDone[lessonID]; done {
		return Result{Completed: true}
	}
	if p.VideoWatched[lessonID] >= policy.VideoThreshold {
		return m.recordCompletionLocked(ctx, def, lesson, Submission{})
	}
	return Result{}
}

// recordCompletionLocked marks a lesson done and checks whether the
// whole module just finished.
func (m *Manager) recordCompletionLocked(ctx context.Context, def Definition, lesson Lesson, sub Submission) Result {
	p := m.progress[def.ID]
	if _, started := p.LessonStarts[lesson.ID]; !started {
		p.LessonStarts[lesson.ID] = m.now()
	}
	p.LessonsDone[lesson.ID] = LessonRecord{
		CompletedAt:  m.now(),
		Score:        sub.Score,
		TimeSpentSec: sub.TimeSpentSec,
	}
	p.TimeSpentSec += sub.TimeSpentSec

	res := Result{Completed: true, Score: sub.Score, XP: lesson.XP}
	m.emit(event.LessonCompleted{
		ModuleID: def.ID,
		LessonID: lesson.ID,
		Score:    sub.Score,
		XP:       lesson.XP,
	})

	if p.allDone(def) && p.CompletedAt == nil {
		now := m.now()
		p.CompletedAt = &now
		res.ModuleCompleted = true
		res.BonusXP = def.CompletionBonus
		m.emit(event.ModuleCompleted{ModuleID: def.ID, BonusXP: def.CompletionBonus})
	}
	m.persistLocked(ctx, def.ID)
	return res
}

// TrackProgress returns completed/total module counts for a track.
func (m *Manager) TrackProgress(track string) TrackProgress {
	m.mu.Lock()
	defer m.mu.Unlock()
	tp := TrackProgress{Track: track}
	for _, id := range m.order {
		if m.defs[id].Track != track {
			continue
		}
		tp.Total++
		if m.stateLocked(id) == StateCompleted {
			tp.Completed++
		}
	}
	if tp.Total > 0 {
		tp.Percent = float64(tp.Completed) / float64(tp.Total) * 100
	}
	return tp
}

// Tracks returns every distinct track in registration order.
func (m *Manager) Tracks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var tracks []string
	seen := make(map[string]bool)
	for _, id := range m.order {
		t := m.defs[id].Track
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tracks = append(tracks, t)
	}
	return tracks
}

// CompletedCount returns how many modules the user has completed.
func (m *Manager) CompletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range m.order {
		if m.stateLocked(id) == StateCompleted {
			n++
		}
	}
	return n
}

// ProgressOf returns a copy of the user's progress for a module, if any.
func (m *Manager) ProgressOf(moduleID string) (Progress, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.progress[moduleID]
	if p == nil {
		return Progress{}, false
	}
	return *p, true
}

// emit queues an event for publication after the lock is released.
// Publishing under the lock would deadlock any subscriber that reads
// manager state.
func (m *Manager) emit(e event.Event) {
	m.pending = append(m.pending, e)
}

// flushPending publishes queued events in emission order. It must run
// after the mutating method has released the lock.
func (m *Manager) flushPending() {
	m.mu.Lock()
	evs := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, e := range evs {
		m.bus.Publish(e)
	}
}

func (m *Manager) persistLocked(ctx context.Context, moduleID string) {
	if err := m.store.Write(ctx, m.progressKey(moduleID), m.progress[moduleID]); err != nil {
		m.log.Warn("persist module progress failed", "module", moduleID, "error", err)
	}
	for _, existing := range m.index {
		if existing == moduleID {
			return
		}
	}
	m.index = append(m.index, moduleID)
	if err := m.store.Write(ctx, m.indexKey(), m.index); err != nil {
		m.log.Warn("persist module index failed", "error", err)
	}
}

func (m *Manager) progressKey(moduleID string) string {
	return fmt.Sprintf("module:%s%s:%s", m.keyPrefix, m.userID, moduleID)
}

func (m *Manager) indexKey() string {
	return fmt.Sprintf("module:%s%s:index", m.keyPrefix, m.userID)
}
