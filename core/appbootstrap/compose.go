package appbootstrap

import (
	"context"

	"takedown/api"
	"takedown/config"
	"takedown/core/automation"
	"takedown/core/dedup"
	"takedown/core/metrics"
	"takedown/core/rbac"
	"takedown/core/store"
	"takedown/core/utils"
	"takedown/core/workflow"
)

// Runtime is the fully wired application: the HTTP server plus the
// background scheduler.
type Runtime struct {
	Server    *api.Server
	Scheduler *automation.Scheduler
}

func Compose(cfg *config.AppConfig, db *store.DB, logger *utils.Logger) (*Runtime, error) {
	users := store.NewUsersStore(db)
	cases := store.NewCasesStore(db)

	clock := workflow.SystemClock()
	engine := workflow.NewEngine(cases, users, clock, cfg.Workflow, logger)
	dedupSvc := dedup.NewService(cases, engine, logger)
	aggregator := metrics.NewAggregator(cases, clock)
	scheduler := automation.NewScheduler(cfg.Automation, engine, cases, users, clock, logger)

	policy, err := rbac.NewPolicy()
	if err != nil {
		return nil, err
	}

	server := api.NewServer(cfg, api.ServerDeps{
		Users:   users,
		Cases:   cases,
		Engine:  engine,
		Dedup:   dedupSvc,
		Metrics: aggregator,
		Policy:  policy,
	}, logger)

	return &Runtime{Server: server, Scheduler: scheduler}, nil
}

// EnsureAdmin seeds the configured bootstrap admin when no such user exists
// yet, so a fresh deployment has an account that can provision the rest.
func EnsureAdmin(ctx context.Context, cfg *config.AppConfig, db *store.DB, logger *utils.Logger) error {
	email := cfg.Bootstrap.AdminEmail
	if email == "" {
		return nil
	}
	users := store.NewUsersStore(db)
	existing, err := users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	id, err := users.Create(ctx, &store.User{Email: email, Role: store.RoleAdmin, Active: true})
	if err != nil {
		return err
	}
	logger.Infof("bootstrap: created admin %s (id %s)", email, id)
	return nil
}

func (r *Runtime) Start(ctx context.Context) {
	r.Scheduler.StartWithContext(ctx)
}

func (r *Runtime) Stop(ctx context.Context) error {
	if err := r.Scheduler.StopWithContext(ctx); err != nil {
		return err
	}
	return r.Server.Shutdown(ctx)
}
