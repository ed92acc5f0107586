package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/numbot/core/bootstrap"
	coretelegram "github.com/m3rciful/numbot/core/telegram"
	"github.com/m3rciful/numbot/core/telegram/router"
	tgsender "github.com/m3rciful/numbot/core/telegram/sender"
	"github.com/m3rciful/numbot/core/telegram/state"
	"github.com/m3rciful/numbot/internal/access"
	"github.com/m3rciful/numbot/internal/expiry"
	"github.com/m3rciful/numbot/internal/handlers"
	"github.com/m3rciful/numbot/internal/pool"
	"github.com/m3rciful/numbot/internal/relay"
	"github.com/m3rciful/numbot/internal/reset"
	"github.com/m3rciful/numbot/internal/session"
	"github.com/m3rciful/numbot/internal/stats"
	"github.com/m3rciful/numbot/internal/storage"
)

// App bundles the wired services behind the Telegram runtime.
type App struct {
	cfg *Config
	db  *sqlx.DB

	alloc     *pool.Allocator
	scheduler *expiry.Scheduler
	reset     *reset.Service
	handlers  *handlers.Handlers
	fsm       state.Manager
}

// New bootstraps infrastructure and wires the domain services.
func New(cfg *Config) (*App, error) {
	res, err := bootstrap.Run(bootstrap.Options{
		Config:   cfg.CoreConfig(),
		Database: cfg.Database,
	})
	if err != nil {
		return nil, err
	}
	db := res.DB

	slots := storage.NewSlotRepo(db)
	counter := storage.NewCounterRepo(db)
	users := storage.NewUserRepo(db)
	requests := storage.NewRequestRepo(db)
	statsRepo := storage.NewStatsRepo(db)

	ledger := stats.NewLedger(statsRepo, nil)
	sessions := session.NewStore(cfg.App.WhatsappPendingCap)
	alloc := pool.NewAllocator(slots, counter, ledger, pool.Options{TTL: cfg.LeaseTTL()})
	rel := relay.NewRelay(alloc, slots, sessions, counter)
	acc := access.NewService(users, requests, slots, nil)
	fsm := state.NewMemoryManager()

	keywords, err := cfg.Keywords()
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	h := handlers.New(handlers.Config{
		GroupID:          cfg.App.GroupID,
		AdminID:          cfg.Core.Telegram.AdminID,
		WhatsappRate:     cfg.App.WhatsappRate,
		TelegramRate:     cfg.App.TelegramRate,
		PurchaseKeywords: keywords,
		PageSize:         cfg.App.PageSize,
	}, alloc, rel, ledger, acc, sessions, slots, counter, fsm)

	scheduler := expiry.NewScheduler(h.FinalizeDeadline)
	alloc.SetArm(scheduler.Arm)

	resetSvc := reset.NewService(slots, counter, sessions, alloc, ledger, h.NotifyReset, nil)

	modules := bootstrap.Modules{
		Seeders: []bootstrap.Seeder{
			bootstrap.SeederFunc(func(ctx context.Context, _ bootstrap.Storage) error {
				return counter.EnsureRow(ctx)
			}),
			bootstrap.SeederFunc(func(ctx context.Context, _ bootstrap.Storage) error {
				adminID := cfg.Core.Telegram.AdminID
				if adminID == 0 {
					return nil
				}
				return users.Ensure(ctx, adminID, "", access.StatusApproved, access.RoleAdmin)
			}),
		},
	}
	if err := modules.RunSeeders(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("app: seeding failed: %w", err)
	}

	return &App{
		cfg:       cfg,
		db:        db,
		alloc:     alloc,
		scheduler: scheduler,
		reset:     resetSvc,
		handlers:  h,
		fsm:       fsm,
	}, nil
}

// TelegramRunOptions assembles the bot runtime: registry, middleware chain,
// routers and lifecycle hooks.
func (a *App) TelegramRunOptions() (coretelegram.RunOptions, error) {
	reg := coretelegram.NewRegistry()
	a.handlers.Register(reg)

	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID: a.cfg.Core.Telegram.AdminID,
	})
	routes = append(routes, router.TextRoutes(a.fsm, reg, router.TextOptions{})...)
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))

	return coretelegram.RunOptions{
		Config:   a.cfg.CoreConfig(),
		Registry: reg,
		DispatcherOptions: tgsender.Options{
			MaxRetries:   3,
			RetryBackoff: 2 * time.Second,
		},
		Middlewares: coretelegram.DefaultMiddlewares(a.cfg.CoreConfig(), nil),
		Routes:      routes,
		OnStart: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.handlers.SetBot(rt.Bot)
			go a.scheduler.Run(ctx)
			return a.reset.Start(ctx, a.cfg.App.ResetCron)
		},
		OnStop: func(ctx context.Context, rt coretelegram.Runtime) error {
			a.reset.Stop()
			return a.Close()
		},
	}, nil
}

// Close releases held resources.
func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
