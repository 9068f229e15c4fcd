package xp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/asdfhub/learnbuild/internal/event"
	"github.com/asdfhub/learnbuild/internal/logger"
	"github.com/asdfhub/learnbuild/internal/syncstore"
)

// ErrDailyLimit is returned by AddXP when the daily earning cap is
// already exhausted: nothing is awarded.
var ErrDailyLimit = errors.New("daily XP limit reached")

// DefaultDailyCap bounds XP earned per calendar day.
const DefaultDailyCap = 1000

// historyLimit bounds the per-user award log.
const historyLimit = 100

// Store is the persistence surface the manager needs. Satisfied by
// *syncstore.Store.
type Store interface {
	Write(ctx context.Context, key string, v any) error
	Read(ctx context.Context, key string, dest any) error
}

// Entry is one award in the bounded history log.
type Entry struct {
	Amount     int       `json:"amount"`
	BaseAmount int       `json:"baseAmount"`
	Bonus      int       `json:"bonus"`
	Source     string    `json:"source"`
	SourceID   string    `json:"sourceId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// profile is the persisted ledger. TotalXP never decreases.
type profile struct {
	TotalXP      int       `json:"totalXP"`
	Streak       int       `json:"streak"`
	TodayXP      int       `json:"todayXP"`
	TodayKey     string    `json:"todayKey"`
	LastActivity time.Time `json:"lastActivity"`
	History      []Entry   `json:"history"`
}

// AwardResult reports a successful AddXP.
type AwardResult struct {
	Awarded   bool
	Amount    int // what was actually credited after the cap
	Base      int
	Bonus     int
	Capped    bool
	TotalXP   int
	Level     int
	LeveledUp bool
}

// ProfileView is the derived read model for display.
type ProfileView struct {
	UserID         string  `json:"userId"`
	TotalXP        int     `json:"totalXP"`
	Level          int     `json:"level"`
	XPIntoLevel    int     `json:"xpIntoLevel"`
	XPForNextLevel int     `json:"xpForNextLevel"`
	Percent        float64 `json:"percent"`
	Rank           Rank    `json:"rank"`
	Streak         int     `json:"streak"`
	StreakBonus    float64 `json:"streakBonus"`
	TodayXP        int     `json:"todayXP"`
	DailyCap       int     `json:"dailyCap"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithDailyCap overrides DefaultDailyCap.
func WithDailyCap(cap int) Option {
	return func(m *Manager) { m.dailyCap = cap }
}

// WithClock injects the time source. Tests use this to cross day
// boundaries.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager is the single source of truth for a user's XP ledger, level,
// streak, and daily cap.
type Manager struct {
	mu       sync.Mutex
	store    Store
	bus      *event.Bus
	log      *logger.Logger
	userID   string
	pending  []event.Event
	profile  profile
	dailyCap int
	now      func() time.Time
}

// NewManager creates an XP manager. Call SetUser before awarding.
func NewManager(store Store, bus *event.Bus, log *logger.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		bus:      bus,
		log:      log.With("component", "xp"),
		dailyCap: DefaultDailyCap,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetUser switches the active user and loads their persisted profile.
func (m *Manager) SetUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
	m.profile = profile{}
	if err := m.store.Read(ctx, m.profileKey(), &m.profile); err != nil {
		// A missing profile is a fresh user; any other failure must
		// not be, or a later award would overwrite the stored profile
		// with an empty one.
		if !errors.Is(err, syncstore.ErrNotFound) {
			return fmt.Errorf("restore xp profile: %w", err)
		}
		m.profile = profile{}
	}
	return nil
}

// AddXP credits amount (plus the streak bonus) against the daily cap.
// The award is clamped to the remaining daily allowance; when the
// allowance is already gone, ErrDailyLimit is returned and nothing
// changes.
func (m *Manager) AddXP(ctx context.Context, amount int, source, sourceID string) (AwardResult, error) {
	if amount <= 0 {
		return AwardResult{}, fmt.Errorf("xp amount must be positive, got %d", amount)
	}
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()
	m.rolloverLocked()

	remaining := m.dailyCap - m.profile.TodayXP
	if remaining <= 0 {
		return AwardResult{}, ErrDailyLimit
	}

	bonus := int(math.Round(float64(amount) * StreakBonus(m.profile.Streak)))
	total := amount + bonus
	capped := false
	if total > remaining {
		total = remaining
		capped = true
	}

	levelBefore := LevelForXP(m.profile.TotalXP)
	m.profile.TotalXP += total
	m.profile.TodayXP += total
	m.profile.History = append(m.profile.History, Entry{
		Amount:     total,
		BaseAmount: amount,
		Bonus:      bonus,
		Source:     source,
		SourceID:   sourceID,
		Timestamp:  m.now(),
	})
	if len(m.profile.History) > historyLimit {
		m.profile.History = m.profile.History[len(m.profile.History)-historyLimit:]
	}
	levelAfter := LevelForXP(m.profile.TotalXP)

	m.persistLocked(ctx)
	m.emit(event.XPGained{
		Amount:   total,
		Base:     amount,
		Bonus:    bonus,
		Source:   source,
		SourceID: sourceID,
		TotalXP:  m.profile.TotalXP,
	})
	if levelAfter > levelBefore {
		m.emit(event.LevelUp{Level: levelAfter, TotalXP: m.profile.TotalXP})
	}

	return AwardResult{
		Awarded:   true,
		Amount:    total,
		Base:      amount,
		Bonus:     bonus,
		Capped:    capped,
		TotalXP:   m.profile.TotalXP,
		Level:     levelAfter,
		LeveledUp: levelAfter > levelBefore,
	}, nil
}

// RecordActivity advances the consecutive-day streak. Crossing into a
// new calendar day within the timeout increments the streak; a longer
// gap resets it to 1; repeated activity on the same day changes
// nothing.
func (m *Manager) RecordActivity(ctx context.Context) int {
	m.mu.Lock()
	defer m.flushPending()
	defer m.mu.Unlock()
	m.rolloverLocked()

	now := m.now()
	last := m.profile.LastActivity
	changed := false

	switch {
	case last.IsZero():
		m.profile.Streak = 1
		changed = true
	case dayKey(now) == dayKey(last):
		// Same calendar day: streak unchanged.
	case now.Sub(last) < StreakTimeout:
		m.profile.Streak++
		changed = true
	default:
		m.profile.Streak = 1
		changed = true
	}

	m.profile.LastActivity = now
	m.persistLocked(ctx)
	if changed {
		m.emit(event.StreakUpdated{Streak: m.profile.Streak})
	}
	return m.profile.Streak
}

// TotalXP returns the ledger total. It only ever increases.
func (m *Manager) TotalXP() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile.TotalXP
}

// Level returns the current level.
func (m *Manager) Level() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return LevelForXP(m.profile.TotalXP)
}

// Streak returns the current consecutive-day streak.
func (m *Manager) Streak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile.Streak
}

// History returns a copy of the bounded award log, oldest first.
func (m *Manager) History() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.profile.History))
	copy(out, m.profile.History)
	return out
}

// Profile derives the display view of the ledger.
func (m *Manager) Profile() ProfileView {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked()

	level := LevelForXP(m.profile.TotalXP)
	floor := ThresholdForLevel(level)
	ceil := ThresholdForLevel(level + 1)
	required := ceil - floor
	into := m.profile.TotalXP - floor
	percent := 0.0
	if required > 0 {
		percent = float64(into) / float64(required) * 100
	}

	return ProfileView{
		UserID:         m.userID,
		TotalXP:        m.profile.TotalXP,
		Level:          level,
		XPIntoLevel:    into,
		XPForNextLevel: required,
		Percent:        percent,
		Rank:           RankForLevel(level),
		Streak:         m.profile.Streak,
		StreakBonus:    StreakBonus(m.profile.Streak),
		TodayXP:        m.profile.TodayXP,
		DailyCap:       m.dailyCap,
	}
}

// rolloverLocked resets the daily counter when the calendar date
// changes.
func (m *Manager) rolloverLocked() {
	key := dayKey(m.now())
	if m.profile.TodayKey != key {
		m.profile.TodayKey = key
		m.profile.TodayXP = 0
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

func (m *Manager) persistLocked(ctx context.Context) {
	if err := m.store.Write(ctx, m.profileKey(), &m.profile); err != nil {
		m.log.Warn("persist xp profile failed", "error", err)
	}
}

func (m *Manager) profileKey() string {
	return fmt.Sprintf("xp:profile:%s", m.userID)
}
