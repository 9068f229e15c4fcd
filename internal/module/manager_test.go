package module

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

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

func testDefs() []Definition {
	return []Definition{
		{
			ID: "basics", Name: "Basics", Track: "dev",
			Lessons: []Lesson{
				{ID: "a", Title: "Watch", Type: LessonVideo, XP: 50},
				{ID: "b", Title: "Check", Type: LessonQuiz, XP: 50},
			},
			CompletionBonus: 100,
		},
		{
			ID: "advanced", Name: "Advanced", Track: "dev",
			Lessons: []Lesson{
				{ID: "c", Title: "Read", Type: LessonArticle, XP: 25},
			},
			Prerequisites:   []string{"basics"},
			CompletionBonus: 50,
		},
		{
			ID: "bonusround", Name: "Bonus Round", Track: "gaming",
			Lessons: []Lesson{
				{ID: "d", Title: "Play", Type: LessonChallenge, XP: 75},
			},
			CompletionBonus: 25,
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *memStore, *event.Bus) {
	t.Helper()
	store := newMemStore()
	bus := event.NewBus(0)
	m, err := NewManager(testDefs(), "progress:", store, bus, logger.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.SetUser(context.Background(), "u1"); err != nil {
		t.Fatalf("SetUser: %v", err)
	}
	return m, store, bus
}

func completeBasics(t *testing.T, m *Manager) {
	t.Helper()
	ctx := context.Background()
	if res := m.UpdateVideoProgress(ctx, "basics", "a", 0.85); !res.Completed {
		t.Fatalf("video lesson not auto-completed: %+v", res)
	}
	if res := m.CompleteLesson(ctx, "basics", "b", Submission{Score: 70}); !res.Completed {
		t.Fatalf("quiz lesson not completed: %+v", res)
	}
}

func TestDerivedStates(t *testing.T) {
	m, _, _ := newTestManager(t)

	if s := m.StateOf("advanced"); s != StateLocked {
		t.Errorf("advanced = %s, want LOCKED (prereq incomplete)", s)
	}
	if s := m.StateOf("basics"); s != StateAvailable {
		t.Errorf("basics = %s, want AVAILABLE", s)
	}

	m.StartModule(context.Background(), "basics")
	if s := m.StateOf("basics"); s != StateInProgress {
		t.Errorf("basics = %s, want IN_PROGRESS", s)
	}

	completeBasics(t, m)
	if s := m.StateOf("basics"); s != StateCompleted {
		t.Errorf("basics = %s, want COMPLETED", s)
	}
	if s := m.StateOf("advanced"); s != StateAvailable {
		t.Errorf("advanced = %s, want AVAILABLE after prereq done", s)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	m, _, bus := newTestManager(t)
	starts := 0
	bus.Subscribe(event.KindModuleStarted, func(event.Event) { starts++ })
	lessonStarts := 0
	bus.Subscribe(event.KindLessonStarted, func(event.Event) { lessonStarts++ })

	ctx := context.Background()
	if !m.StartLesson(ctx, "basics", "a") {
		t.Fatal("StartLesson failed")
	}
	// Starting the lesson auto-started the module.
	if !m.StartModule(ctx, "basics") {
		t.Fatal("StartModule after auto-start failed")
	}
	m.StartLesson(ctx, "basics", "a")

	if starts != 1 {
		t.Errorf("module started events = %d, want 1", starts)
	}
	if lessonStarts != 1 {
		t.Errorf("lesson started events = %d, want 1", lessonStarts)
	}
}

func TestLockedModuleRejectsWork(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if m.StartModule(ctx, "advanced") {
		t.Error("started locked module")
	}
	if res := m.CompleteLesson(ctx, "advanced", "c", Submission{}); res.Error == "" {
		t.Errorf("locked module accepted lesson completion: %+v", res)
	}
}

func TestQuizThreshold(t *testing.T) {
	tests := []struct {
		score    float64
		wantDone bool
	}{
		{100, true},
		{70, true},
		{62, true},
		{61, false},
		{0, false},
	}
	for _, tt := range tests {
		m, _, _ := newTestManager(t)
		res := m.CompleteLesson(context.Background(), "basics", "b", Submission{Score: tt.score})
		if res.Completed != tt.wantDone {
			t.Errorf("quiz score %.0f: completed = %v, want %v (%s)", tt.score, res.Completed, tt.wantDone, res.Feedback)
		}
		if !tt.wantDone && res.Feedback == "" {
			t.Errorf("quiz score %.0f: failing result missing feedback", tt.score)
		}
	}
}

func TestCompleteLessonRejectsOutOfRangeScore(t *testing.T) {
	m, _, _ := newTestManager(t)
	for _, score := range []float64{-1, 101} {
		res := m.CompleteLesson(context.Background(), "basics", "b", Submission{Score: score})
		if res.Completed || res.Error == "" {
			t.Errorf("score %g: result = %+v, want validation error", score, res)
		}
	}
}

func TestVideoProgressIsMonotonic(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	m.UpdateVideoProgress(ctx, "basics", "a", 0.5)
	m.UpdateVideoProgress(ctx, "basics", "a", 0.3)

	p, ok := m.ProgressOf("basics")
	if !ok {
		t.Fatal("no progress recorded")
	}
	if p.VideoWatched["a"] != 0.5 {
		t.Errorf("watched = %.2f, want 0.5 (never decreases)", p.VideoWatched["a"])
	}

	// Direct completion below the threshold fails.
	if res := m.CompleteLesson(ctx, "basics", "a", Submission{}); res.Completed {
		t.Errorf("video completed at 50%% watched: %+v", res)
	}

	// Crossing the threshold auto-completes exactly once.
	res := m.UpdateVideoProgress(ctx, "basics", "a", 0.85)
	if !res.Completed || res.XP != 50 {
		t.Errorf("auto-completion result = %+v, want completed with 50 xp", res)
	}
	res = m.UpdateVideoProgress(ctx, "basics", "a", 0.95)
	if !res.Completed || res.XP != 0 {
		t.Errorf("repeat update re-awarded: %+v", res)
	}
}

func TestModuleCompletionScenario(t *testing.T) {
	m, _, bus := newTestManager(t)
	var lessonXP []int
	bus.Subscribe(event.KindLessonCompleted, func(e event.Event) {
		lessonXP = append(lessonXP, e.(event.LessonCompleted).XP)
	})
	var bonus []int
	bus.Subscribe(event.KindModuleCompleted, func(e event.Event) {
		bonus = append(bonus, e.(event.ModuleCompleted).BonusXP)
	})

	ctx := context.Background()
	if res := m.UpdateVideoProgress(ctx, "basics", "a", 0.85); !res.Completed {
		t.Fatalf("video not auto-completed: %+v", res)
	}
	res := m.CompleteLesson(ctx, "basics", "b", Submission{Score: 70})
	if !res.Completed {
		t.Fatalf("quiz at 70%% rejected: %+v", res)
	}
	if !res.ModuleCompleted || res.BonusXP != 100 {
		t.Errorf("module completion = %+v, want bonus 100", res)
	}

	if len(lessonXP) != 2 || lessonXP[0] != 50 || lessonXP[1] != 50 {
		t.Errorf("lesson xp events = %v, want [50 50]", lessonXP)
	}
	if len(bonus) != 1 || bonus[0] != 100 {
		t.Errorf("module bonus events = %v, want [100]", bonus)
	}
}

func TestCompletedLessonIsNotReawarded(t *testing.T) {
	m, _, bus := newTestManager(t)
	events := 0
	bus.Subscribe(event.KindLessonCompleted, func(event.Event) { events++ })

	ctx := context.Background()
	m.CompleteLesson(ctx, "bonusround", "d", Submission{TimeSpentSec: 60})
	res := m.CompleteLesson(ctx, "bonusround", "d", Submission{TimeSpentSec: 60})

	if !res.Completed || res.XP != 0 {
		t.Errorf("repeat completion = %+v, want completed with no xp", res)
	}
	if events != 1 {
		t.Errorf("lesson completed events = %d, want 1", events)
	}
}

func TestTimeSpentAccumulates(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	m.UpdateVideoProgress(ctx, "basics", "a", 0.9)
	m.CompleteLesson(ctx, "basics", "b", Submission{Score: 80, TimeSpentSec: 120})

	p, _ := m.ProgressOf("basics")
	if p.TimeSpentSec != 120 {
		t.Errorf("time spent = %d, want 120", p.TimeSpentSec)
	}
	if p.CompletedAt == nil {
		t.Error("module completedAt not set")
	}
}

func TestTrackProgress(t *testing.T) {
	m, _, _ := newTestManager(t)
	completeBasics(t, m)

	dev := m.TrackProgress("dev")
	if dev.Completed != 1 || dev.Total != 2 || dev.Percent != 50 {
		t.Errorf("dev track = %+v, want 1/2 (50%%)", dev)
	}
	gaming := m.TrackProgress("gaming")
	if gaming.Completed != 0 || gaming.Total != 1 {
		t.Errorf("gaming track = %+v, want 0/1", gaming)
	}
}

func TestPersistenceKeysAndReload(t *testing.T) {
	m, store, bus := newTestManager(t)
	completeBasics(t, m)

	if _, ok := store.data["module:progress:u1:basics"]; !ok {
		t.Error("progress not persisted under module:progress:u1:basics")
	}
	var index []string
	if err := store.Read(context.Background(), "module:progress:u1:index", &index); err != nil {
		t.Fatalf("index missing: %v", err)
	}

	m2, err := NewManager(testDefs(), "progress:", store, bus, logger.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m2.SetUser(context.Background(), "u1"); err != nil {
		t.Fatalf("SetUser: %v", err)
	}
	if s := m2.StateOf("basics"); s != StateCompleted {
		t.Errorf("reloaded basics = %s, want COMPLETED", s)
	}
	if m2.CompletedCount() != 1 {
		t.Errorf("reloaded completed count = %d, want 1", m2.CompletedCount())
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

func TestSetUserSurfacesIndexReadFailure(t *testing.T) {
	m, store, _ := newTestManager(t)
	completeBasics(t, m)

	flaky := &flakyStore{memStore: store, failKey: "module:progress:u1:index"}
	m2, err := NewManager(testDefs(), "progress:", flaky, event.NewBus(0), logger.Nop())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m2.SetUser(context.Background(), "u1"); err == nil {
		t.Fatal("SetUser with a failing index read = nil, want error")
	}

	// Once the store recovers the durable index is still intact.
	flaky.failKey = ""
	if err := m2.SetUser(context.Background(), "u1"); err != nil {
		t.Fatalf("SetUser after recovery: %v", err)
	}
	if s := m2.StateOf("basics"); s != StateCompleted {
		t.Errorf("restored basics = %s, want COMPLETED", s)
	}
}
