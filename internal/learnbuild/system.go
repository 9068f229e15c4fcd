// Package learnbuild is the composition root: it wires the event bus,
// the sync store, and the quest, module, and XP managers into one
// System and connects the XP award pipeline to completion events.
package learnbuild

import (
	"context"
	"errors"
	"fmt"

	"github.com/asdfhub/learnbuild/internal/catalog"
	"github.com/asdfhub/learnbuild/internal/config"
	"github.com/asdfhub/learnbuild/internal/event"
	"github.com/asdfhub/learnbuild/internal/logger"
	"github.com/asdfhub/learnbuild/internal/module"
	"github.com/asdfhub/learnbuild/internal/quest"
	"github.com/asdfhub/learnbuild/internal/syncstore"
	"github.com/asdfhub/learnbuild/internal/xp"
)

// BadgeEvaluator is implemented by an external badge system. After any
// XP-bearing completion the System hands it the current BadgeContext.
type BadgeEvaluator interface {
	Evaluate(ctx BadgeContext)
}

// Option configures a System.
type Option func(*options)

type options struct {
	catalog *catalog.Catalog
	remote  syncstore.Remote
	xpOpts  []xp.Option
}

// WithCatalog bypasses config-driven catalog loading.
func WithCatalog(c catalog.Catalog) Option {
	return func(o *options) { o.catalog = &c }
}

// WithRemote injects the remote store, overriding RedisAddr. Tests use
// this to run against a fake.
func WithRemote(r syncstore.Remote) Option {
	return func(o *options) { o.remote = r }
}

// WithXPOptions forwards options to the XP manager.
func WithXPOptions(opts ...xp.Option) Option {
	return func(o *options) { o.xpOpts = append(o.xpOpts, opts...) }
}

// System owns every manager and their shared infrastructure for one
// active user at a time.
type System struct {
	cfg   config.Config
	log   *logger.Logger
	bus   *event.Bus
	cache *syncstore.Cache
	store *syncstore.Store

	Quests  *quest.Manager
	Modules *module.Manager
	XP      *xp.Manager

	catalog catalog.Catalog
	userID  string

	evaluators []BadgeEvaluator
	unsubs     []func()
}

// New builds the full system: catalog, cache, remote, sync store, the
// three managers, and the event wiring between them. An unreachable
// Redis is not fatal; the system starts offline and syncs later.
func New(ctx context.Context, cfg config.Config, log *logger.Logger, opts ...Option) (*System, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cat, err := loadCatalog(cfg, o)
	if err != nil {
		return nil, err
	}

	cache, err := syncstore.OpenCache(cfg.CachePath, cfg.CachePrefix)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	remote := o.remote
	if remote == nil && cfg.RedisAddr != "" {
		remote, err = syncstore.NewRedisRemote(cfg.RedisAddr)
		if err != nil {
			log.Warn("remote store unreachable, starting offline", "addr", cfg.RedisAddr, "error", err)
			remote = nil
		}
	}

	bus := event.NewBus(0)
	store := syncstore.New(remote, cache, bus, log, syncstore.Options{
		MaxAttempts: cfg.SyncMaxAttempts,
		WriteTTL:    cfg.SyncTTL,
	})

	quests, err := quest.NewManager(cat.Quests, store, bus, log)
	if err != nil {
		store.Close()
		cache.Close()
		return nil, err
	}
	modules, err := module.NewManager(cat.Modules, cfg.ModuleKeyPrefix, store, bus, log)
	if err != nil {
		store.Close()
		cache.Close()
		return nil, err
	}
	xpOpts := append([]xp.Option{xp.WithDailyCap(cfg.DailyXPCap)}, o.xpOpts...)
	xpm := xp.NewManager(store, bus, log, xpOpts...)

	s := &System{
		cfg:     cfg,
		log:     log.With("component", "system"),
		bus:     bus,
		cache:   cache,
		store:   store,
		Quests:  quests,
		Modules: modules,
		XP:      xpm,
		catalog: cat,
	}
	s.wireXP()

	if err := s.SwitchUser(ctx, cfg.UserID); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func loadCatalog(cfg config.Config, o options) (catalog.Catalog, error) {
	if o.catalog != nil {
		return *o.catalog, nil
	}
	if cfg.CatalogPath != "" {
		return catalog.LoadFile(cfg.CatalogPath)
	}
	return catalog.Seed()
}

// wireXP subscribes the XP pipeline to completion events. Handlers run
// synchronously on the publisher's goroutine, so a quest completion has
// its XP credited before SubmitQuest returns.
func (s *System) wireXP() {
	s.unsubs = append(s.unsubs,
		s.bus.Subscribe(event.KindQuestCompleted, func(e event.Event) {
			ev := e.(event.QuestCompleted)
			s.award(ev.XP, "quest", ev.QuestID)
		}),
		s.bus.Subscribe(event.KindLessonCompleted, func(e event.Event) {
			ev := e.(event.LessonCompleted)
			s.award(ev.XP, "lesson", ev.ModuleID+"/"+ev.LessonID)
		}),
		s.bus.Subscribe(event.KindModuleCompleted, func(e event.Event) {
			ev := e.(event.ModuleCompleted)
			s.award(ev.BonusXP, "module", ev.ModuleID)
		}),
	)
}

func (s *System) award(amount int, source, sourceID string) {
	ctx := context.Background()
	if amount > 0 {
		if _, err := s.XP.AddXP(ctx, amount, source, sourceID); err != nil {
			if errors.Is(err, xp.ErrDailyLimit) {
				s.log.Info("daily XP cap reached, award skipped", "source", source, "id", sourceID)
			} else {
				s.log.Warn("xp award failed", "source", source, "id", sourceID, "error", err)
			}
		}
	}
	s.XP.RecordActivity(ctx)
	s.evaluateBadges()
}

// SwitchUser re-initializes all per-user state from persisted data.
func (s *System) SwitchUser(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user id must not be empty")
	}
	s.userID = userID
	if err := s.Quests.SetUser(ctx, userID); err != nil {
		return fmt.Errorf("load quests for %q: %w", userID, err)
	}
	if err := s.Modules.SetUser(ctx, userID); err != nil {
		return fmt.Errorf("load modules for %q: %w", userID, err)
	}
	if err := s.XP.SetUser(ctx, userID); err != nil {
		return fmt.Errorf("load xp profile for %q: %w", userID, err)
	}
	s.log.Debug("user switched", "user", userID)
	return nil
}

// UserID returns the active user.
func (s *System) UserID() string {
	return s.userID
}

// Bus exposes the event bus for additional subscribers.
func (s *System) Bus() *event.Bus {
	return s.bus
}

// Catalog returns the loaded definitions.
func (s *System) Catalog() catalog.Catalog {
	return s.catalog
}

// RegisterBadgeEvaluator adds an external badge evaluator. It is called
// with a fresh BadgeContext after every XP-bearing completion.
func (s *System) RegisterBadgeEvaluator(ev BadgeEvaluator) {
	s.evaluators = append(s.evaluators, ev)
}

func (s *System) evaluateBadges() {
	if len(s.evaluators) == 0 {
		return
	}
	bc := s.BadgeContext()
	for _, ev := range s.evaluators {
		ev.Evaluate(bc)
	}
}

// Flush synchronously retries queued remote writes.
func (s *System) Flush(ctx context.Context) int {
	return s.store.Flush(ctx)
}

// PendingWrites returns the number of writes waiting on the remote.
func (s *System) PendingWrites() int {
	return s.store.PendingWrites()
}

// Online reports whether the remote store is being written to.
func (s *System) Online() bool {
	return s.store.Online()
}

// Close stops the sync store and closes the cache. Queued writes stay
// persisted for the next session.
func (s *System) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.store.Close()
	if err := s.cache.Close(); err != nil {
		s.log.Warn("close cache failed", "error", err)
	}
	s.log.Sync()
}
