package quest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

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

// Submission carries a scored quest submission.
type Submission struct {
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Result reports the outcome of a submission. Validation problems set
// Error; scoring failures set Feedback. Nothing here is a Go error:
// callers always get a value back.
type Result struct {
	Passed   bool    `json:"passed"`
	Score    float64 `json:"score"`
	XP       int     `json:"xp"`
	Feedback string  `json:"feedback,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Summary buckets every registered quest by derived progress state.
type Summary struct {
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	InProgress int     `json:"inProgress"` // active or pending verification
	Available  int     `json:"available"`
	Failed     int     `json:"failed"`
	Locked     int     `json:"locked"` // locked or never touched
	Percent    float64 `json:"percent"`
}

// Manager owns all quest definitions and one Machine per quest for the
// active user. Every successful transition is persisted through the
// Store and announced on the bus.
type Manager struct {
	mu       sync.Mutex
	defs     map[string]Definition
	order    []string
	machines map[string]*Machine
	index    []string
	userID   string
	pending  []event.Event
	store    Store
	bus      *event.Bus
	log      *logger.Logger
}

// NewManager validates and registers the definitions. Prerequisite
// references may point at any quest in defs regardless of order.
func NewManager(defs []Definition, store Store, bus *event.Bus, log *logger.Logger) (*Manager, error) {
	known := make(map[string]bool, len(defs))
	for _, d := range defs {
		if known[d.ID] {
			return nil, fmt.Errorf("duplicate quest id %q", d.ID)
		}
		known[d.ID] = true
	}
	m := &Manager{
		defs:     make(map[string]Definition, len(defs)),
		machines: make(map[string]*Machine),
		store:    store,
		bus:      bus,
		log:      log.With("component", "quest"),
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

// SetUser switches the active user: all in-memory machines are dropped
// and the user's persisted quests are reloaded from the index key.
func (m *Manager) SetUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
	m.machines = make(map[string]*Machine)
	m.index = nil

	var ids []string
	if err := m.store.Read(ctx, m.indexKey(), &ids); err != nil {
		// No index yet is a fresh user. Anything else is a read we
		// must not mistake for one, or a later persist would rewrite
		// the index with only this session's quests.
		if errors.Is(err, syncstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("restore quest index: %w", err)
	}
	m.index = ids
	for _, id := range ids {
		var machine Machine
		if err := m.store.Read(ctx, m.questKey(id), &machine); err != nil {
			m.log.Warn("quest state missing for indexed quest", "quest", id, "error", err)
			continue
		}
		m.machines[id] = &machine
	}
	return nil
}

// CheckPrerequisites reports whether every prerequisite of questID is
// completed. Vacuously true with no prerequisites.
func (m *Manager) CheckPrerequisites(questID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prerequisitesMetLocked(questID)
}

func (m *Manager) prerequisitesMetLocked(questID string) bool {
	def, ok := m.defs[questID]
	if !ok {
		return false
	}
	for _, p := range def.Prerequisites {
		mac := m.machines[p]
		if mac == nil || mac.State() != StateCompleted {
			return false
		}
	}
	return true
}

// StartQuest moves a quest to ACTIVE, auto-unlocking it first when it
// is locked (or untouched) and its prerequisites are met. Returns false
// on unmet prerequisites, a missing definition, or an illegal state.
func (m *Manager) StartQuest(ctx context.Context, questID string) bool {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()
	if _, ok := m.defs[questID]; !ok {
		return false
	}

	mac := m.machines[questID]
	if mac == nil {
		if !m.prerequisitesMetLocked(questID) {
			return false
		}
		mac = NewMachine(questID, StateLocked)
		m.machines[questID] = mac
	}
	if mac.State() == StateLocked {
		if !m.prerequisitesMetLocked(questID) {
			return false
		}
		mac.Perform(ActionUnlock, nil)
		m.persistLocked(ctx, mac)
		m.emit(event.QuestUnlocked{QuestID: questID})
	}
	if !mac.Perform(ActionStart, nil) {
		return false
	}
	m.persistLocked(ctx, mac)
	m.emit(event.QuestStarted{QuestID: questID})
	return true
}

// SubmitQuest takes an ACTIVE quest through PENDING and synchronously
// verifies the submission: pass at score/100 >= the shared pass
// threshold, with a bonus XP tier for high scores. A completed quest
// cascade-unlocks every quest whose prerequisites are now satisfied.
func (m *Manager) SubmitQuest(ctx context.Context, questID string, sub Submission) Result {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()

	def, ok := m.defs[questID]
	if !ok {
		return Result{Error: fmt.Sprintf("unknown quest %q", questID)}
	}
	if sub.Score < 0 || sub.Score > 100 {
		return Result{Error: fmt.Sprintf("score %g is outside the 0-100 range", sub.Score)}
	}
	mac := m.machines[questID]
	if mac == nil || !mac.Perform(ActionSubmit, map[string]any{"score": sub.Score}) {
		return Result{Error: "quest is not active"}
	}
	m.persistLocked(ctx, mac)
	m.emit(event.QuestSubmitted{QuestID: questID, Score: sub.Score})

	if sub.Score/100 < policy.PassThreshold {
		feedback := fmt.Sprintf("score %.0f%% is below the %.1f%% pass mark", sub.Score, policy.PassThreshold*100)
		mac.Perform(ActionReject, map[string]any{"score": sub.Score, "feedback": feedback})
		m.persistLocked(ctx, mac)
		m.emit(event.QuestFailed{QuestID: questID, Score: sub.Score, Feedback: feedback})
		return Result{Score: sub.Score, Feedback: feedback}
	}

	xp := int(math.Round(float64(def.XP) * (1 + policy.ScoreBonus(sub.Score))))
	mac.Perform(ActionVerify, map[string]any{"score": sub.Score, "xp": xp})
	m.persistLocked(ctx, mac)
	m.emit(event.QuestCompleted{QuestID: questID, Score: sub.Score, XP: xp})
	m.cascadeUnlocksLocked(ctx)
	return Result{Passed: true, Score: sub.Score, XP: xp}
}

// RetryQuest resets a FAILED quest to AVAILABLE.
func (m *Manager) RetryQuest(ctx context.Context, questID string) bool {
	return m.simpleTransition(ctx, questID, ActionRetry, event.QuestRetried{QuestID: questID})
}

// AbandonQuest returns an ACTIVE or PENDING quest to AVAILABLE.
func (m *Manager) AbandonQuest(ctx context.Context, questID string) bool {
	return m.simpleTransition(ctx, questID, ActionAbandon, event.QuestAbandoned{QuestID: questID})
}

func (m *Manager) simpleTransition(ctx context.Context, questID string, action Action, ev event.Event) bool {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()
	mac := m.machines[questID]
	if mac == nil || !mac.Perform(action, nil) {
		return false
	}
	m.persistLocked(ctx, mac)
	m.emit(ev)
	return true
}

// ForceState is the recovery escape hatch: it bypasses transition
// validation and must only be used by data-repair paths.
func (m *Manager) ForceState(ctx context.Context, questID string, to State, reason string) bool {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()
	if _, ok := m.defs[questID]; !ok {
		return false
	}
	mac := m.machines[questID]
	if mac == nil {
		mac = NewMachine(questID, StateLocked)
		m.machines[questID] = mac
	}
	mac.Force(to, reason)
	m.persistLocked(ctx, mac)
	return true
}

// MachineState returns the current state for questID, or false when the
// quest has never been touched by this user.
func (m *Manager) MachineState(questID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mac := m.machines[questID]
	if mac == nil {
		return "", false
	}
	return mac.State(), true
}

// ProgressSummary buckets all registered quests and computes the
// overall completion percentage.
func (m *Manager) ProgressSummary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Summary{Total: len(m.order)}
	for _, id := range m.order {
		mac := m.machines[id]
		if mac == nil {
			s.Locked++
			continue
		}
		switch mac.State() {
		case StateCompleted:
			s.Completed++
		case StateActive, StatePending:
			s.InProgress++
		case StateAvailable:
			s.Available++
		case StateFailed:
			s.Failed++
		default:
			s.Locked++
		}
	}
	if s.Total > 0 {
		s.Percent = float64(s.Completed) / float64(s.Total) * 100
	}
	return s
}

// cascadeUnlocksLocked unlocks every quest whose full prerequisite set
// is now satisfied, in registration order.
func (m *Manager) cascadeUnlocksLocked(ctx context.Context) {
	for _, id := range m.order {
		mac := m.machines[id]
		if mac != nil && mac.State() != StateLocked {
			continue
		}
		if !m.prerequisitesMetLocked(id) {
			continue
		}
		if mac == nil {
			mac = NewMachine(id, StateLocked)
			m.machines[id] = mac
		}
		mac.Perform(ActionUnlock, map[string]any{"cascade": true})
		m.persistLocked(ctx, mac)
		m.emit(event.QuestUnlocked{QuestID: id})
	}
}

// persistLocked writes the machine and keeps the per-user index key in
// sync. Persistence failures are the sync store's problem; the
// in-memory transition already happened.
func (m *Manager) persistLocked(ctx context.Context, mac *Machine) {
	id := mac.QuestID()
	if err := m.store.Write(ctx, m.questKey(id), mac); err != nil {
		m.log.Warn("persist quest failed", "quest", id, "error", err)
	}
	for _, existing := range m.index {
		if existing == id {
			return
		}
	}
	m.index = append(m.index, id)
	if err := m.store.Write(ctx, m.indexKey(), m.index); err != nil {
		m.log.Warn("persist quest index failed", "error", err)
	}
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

func (m *Manager) questKey(questID string) string {
	return fmt.Sprintf("quest:%s:%s", m.userID, questID)
}

func (m *Manager) indexKey() string {
	return fmt.Sprintf("quest:%s:index", m.userID)
}
