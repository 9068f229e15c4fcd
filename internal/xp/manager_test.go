package xp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/asdfhub/learnbuild/internal/event"
	"github.com/asdfhub/learnbuild/internal/logger"
	"github.com/asdfhub/learnbuild/internal/syncstore"
)

type memStore struct {
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Write(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.data[key] = string(b)
	return nil
}

func (s *memStore) Read(_ context.Context, key string, dest any) error {
	raw, ok := s.data[key]
	if !ok {
		return syncstore.ErrNotFound
	}
	return json.Unmarshal([]byte(raw), dest)
}

// fakeClock is a settable time source.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, opts ...Option) (*Manager, *memStore, *event.Bus, *fakeClock) {
	t.Helper()
	store := newMemStore()
	bus := event.NewBus(0)
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	all := append([]Option{WithClock(clock.now)}, opts...)
	m := NewManager(store, bus, logger.Nop(), all...)
	if err := m.SetUser(context.Background(), "u1"); err != nil {
		t.Fatalf("SetUser: %v", err)
	}
	return m, store, bus, clock
}

func TestAddXPBasics(t *testing.T) {
	m, store, _, _ := newTestManager(t)
	ctx := context.Background()

	res, err := m.AddXP(ctx, 100, "quest", "intro")
	if err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	if !res.Awarded || res.Amount != 100 || res.Bonus != 0 {
		t.Errorf("result = %+v, want 100 with no bonus at streak 0", res)
	}
	if m.TotalXP() != 100 {
		t.Errorf("total = %d, want 100", m.TotalXP())
	}
	if m.Level() != 2 {
		t.Errorf("level = %d, want 2 at 100 XP", m.Level())
	}
	if _, ok := store.data["xp:profile:u1"]; !ok {
		t.Error("profile not persisted under xp:profile:u1")
	}

	if _, err := m.AddXP(ctx, 0, "quest", "x"); err == nil {
		t.Error("AddXP(0) accepted")
	}
	if _, err := m.AddXP(ctx, -5, "quest", "x"); err == nil {
		t.Error("AddXP(-5) accepted")
	}
}

func TestTotalXPNeverDecreases(t *testing.T) {
	m, _, _, clock := newTestManager(t)
	ctx := context.Background()

	prev := 0
	amounts := []int{50, 10, 300, 1, 700, 44}
	for _, a := range amounts {
		m.AddXP(ctx, a, "test", "")
		if m.TotalXP() < prev {
			t.Fatalf("total dropped from %d to %d", prev, m.TotalXP())
		}
		prev = m.TotalXP()
		clock.advance(26 * time.Hour) // fresh cap each day
	}
}

func TestDailyCapClampsAndRejects(t *testing.T) {
	m, _, _, clock := newTestManager(t, WithDailyCap(150))
	ctx := context.Background()

	res, err := m.AddXP(ctx, 100, "quest", "a")
	if err != nil || res.Capped {
		t.Fatalf("first award = %+v, %v", res, err)
	}

	// 100 earned, 50 remaining: the next 100 clamps to 50.
	res, err = m.AddXP(ctx, 100, "quest", "b")
	if err != nil {
		t.Fatalf("second award: %v", err)
	}
	if !res.Capped || res.Amount != 50 {
		t.Errorf("second award = %+v, want capped at 50", res)
	}
	if m.TotalXP() != 150 {
		t.Errorf("total = %d, want 150", m.TotalXP())
	}

	// Cap exhausted: explicit failure, nothing awarded.
	_, err = m.AddXP(ctx, 10, "quest", "c")
	if !errors.Is(err, ErrDailyLimit) {
		t.Errorf("err = %v, want ErrDailyLimit", err)
	}
	if m.TotalXP() != 150 {
		t.Errorf("total moved to %d after rejected award", m.TotalXP())
	}

	// The cap resets on the calendar date change, not a rolling window.
	clock.advance(16 * time.Hour) // 01:00 next day
	res, err = m.AddXP(ctx, 10, "quest", "d")
	if err != nil || res.Amount != 10 {
		t.Errorf("post-midnight award = %+v, %v", res, err)
	}
}

func TestStreakBonusAppliesToAwards(t *testing.T) {
	m, _, _, clock := newTestManager(t, WithDailyCap(100000))
	ctx := context.Background()

	// Build a 7-day streak.
	for i := 0; i < 7; i++ {
		m.RecordActivity(ctx)
		clock.advance(24 * time.Hour)
	}
	if m.Streak() != 7 {
		t.Fatalf("streak = %d, want 7", m.Streak())
	}

	res, err := m.AddXP(ctx, 100, "quest", "a")
	if err != nil {
		t.Fatalf("AddXP: %v", err)
	}
	// Bonus at streak 7 is 1/phi: round(100 * 0.618) = 62.
	if res.Bonus != 62 || res.Amount != 162 {
		t.Errorf("award = %+v, want bonus 62 and total 162", res)
	}
}

func TestRecordActivityStreakRules(t *testing.T) {
	m, _, bus, clock := newTestManager(t)
	ctx := context.Background()
	var updates []int
	bus.Subscribe(event.KindStreakUpdated, func(e event.Event) {
		updates = append(updates, e.(event.StreakUpdated).Streak)
	})

	if got := m.RecordActivity(ctx); got != 1 {
		t.Errorf("first activity streak = %d, want 1", got)
	}
	// Same day: no change.
	clock.advance(2 * time.Hour)
	if got := m.RecordActivity(ctx); got != 1 {
		t.Errorf("same-day streak = %d, want 1", got)
	}
	// Next day within the timeout: increment.
	clock.advance(22 * time.Hour)
	if got := m.RecordActivity(ctx); got != 2 {
		t.Errorf("next-day streak = %d, want 2", got)
	}
	// A gap beyond 48h resets to 1.
	clock.advance(72 * time.Hour)
	if got := m.RecordActivity(ctx); got != 1 {
		t.Errorf("post-gap streak = %d, want 1", got)
	}

	want := []int{1, 2, 1}
	if len(updates) != len(want) {
		t.Fatalf("streak events = %v, want %v", updates, want)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Errorf("streak event %d = %d, want %d", i, updates[i], want[i])
		}
	}
}

func TestLevelUpEvent(t *testing.T) {
	m, _, bus, _ := newTestManager(t)
	var levels []int
	bus.Subscribe(event.KindLevelUp, func(e event.Event) {
		levels = append(levels, e.(event.LevelUp).Level)
	})

	m.AddXP(context.Background(), 50, "quest", "a") // 50: still level 1
	m.AddXP(context.Background(), 60, "quest", "b") // 110: level 2

	if len(levels) != 1 || levels[0] != 2 {
		t.Errorf("level-up events = %v, want [2]", levels)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	m, _, _, clock := newTestManager(t, WithDailyCap(1000000))
	ctx := context.Background()

	for i := 0; i < historyLimit+20; i++ {
		if _, err := m.AddXP(ctx, 1, "drip", ""); err != nil {
			t.Fatalf("AddXP %d: %v", i, err)
		}
		clock.advance(time.Minute)
	}

	h := m.History()
	if len(h) != historyLimit {
		t.Fatalf("history len = %d, want %d", len(h), historyLimit)
	}
	// FIFO trim keeps the newest entries.
	if !h[len(h)-1].Timestamp.After(h[0].Timestamp) {
		t.Error("history not ordered oldest first")
	}
}

func TestProfileViewAndReload(t *testing.T) {
	m, store, bus, clock := newTestManager(t)
	ctx := context.Background()

	m.RecordActivity(ctx)
	m.AddXP(ctx, 250, "quest", "a")

	view := m.Profile()
	if view.Level != 3 || view.TotalXP != 250 {
		t.Errorf("view = %+v, want level 3 at 250 XP", view)
	}
	if view.XPIntoLevel != 50 || view.XPForNextLevel != 200 {
		t.Errorf("view progress = into %d / required %d, want 50/200", view.XPIntoLevel, view.XPForNextLevel)
	}
	if view.Rank.Title != "Apprentice" {
		t.Errorf("rank = %q, want Apprentice", view.Rank.Title)
	}

	// A new manager over the same store restores the ledger.
	m2 := NewManager(store, bus, logger.Nop(), WithClock(clock.now))
	if err := m2.SetUser(ctx, "u1"); err != nil {
		t.Fatalf("SetUser: %v", err)
	}
	if m2.TotalXP() != 250 || m2.Streak() != 1 {
		t.Errorf("reloaded total=%d streak=%d, want 250/1", m2.TotalXP(), m2.Streak())
	}
}

// flakyStore fails every read of one key with a transient error.
type flakyStore struct {
	*memStore
	failKey string
}

func (s *flakyStore) Read(ctx context.Context, key string, dest any) error {
	if key == s.failKey {
		return errors.New("remote unavailable")
	}
	return s.memStore.Read(ctx, key, dest)
}

func TestSetUserSurfacesProfileReadFailure(t *testing.T) {
	m, store, bus, clock := newTestManager(t)
	ctx := context.Background()
	m.AddXP(ctx, 250, "quest", "a")

	flaky := &flakyStore{memStore: store, failKey: "xp:profile:u1"}
	m2 := NewManager(flaky, bus, logger.Nop(), WithClock(clock.now))
	if err := m2.SetUser(ctx, "u1"); err == nil {
		t.Fatal("SetUser with a failing profile read = nil, want error")
	}

	// Once the store recovers the stored profile is still intact.
	flaky.failKey = ""
	if err := m2.SetUser(ctx, "u1"); err != nil {
		t.Fatalf("SetUser after recovery: %v", err)
	}
	if m2.TotalXP() != 250 {
		t.Errorf("restored total = %d, want 250", m2.TotalXP())
	}
}
