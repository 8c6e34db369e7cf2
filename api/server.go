package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"takedown/api/handlers"
	"takedown/config"
	"takedown/core/dedup"
	"takedown/core/metrics"
	"takedown/core/rbac"
	"takedown/core/store"
	"takedown/core/utils"
	"takedown/core/workflow"
)

type ServerDeps struct {
	Users   store.UsersStore
	Cases   store.CasesStore
	Engine  *workflow.Engine
	Dedup   *dedup.Service
	Metrics *metrics.Aggregator
	Policy  *rbac.Policy
}

type Server struct {
	cfg           *config.AppConfig
	deps          ServerDeps
	logger        *utils.Logger
	submitLimiter *requestLimiter
	srv           *http.Server
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	s := &Server{cfg: cfg, deps: deps, logger: logger}
	if cfg.API.SubmitRateLimit > 0 {
		s.submitLimiter = newLimiter(cfg.API.SubmitRateLimit, cfg.API.SubmitRateWindow)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	cases := handlers.NewCasesHandler(s.deps.Engine, s.deps.Dedup, s.deps.Cases, s.deps.Metrics, s.deps.Policy, s.logger)
	users := handlers.NewUsersHandler(s.deps.Users, s.deps.Policy, s.logger)

	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(s.identityMiddleware)
		r.With(s.submitRateLimitMiddleware).Post("/cases", cases.Submit)
		r.Get("/cases/{caseID}", cases.Get)
		r.Get("/cases/{caseID}/events", cases.Events)
		r.Get("/cases/{caseID}/transitions", cases.AvailableTransitions)
		r.Post("/cases/{caseID}/transition", cases.Transition)
		r.Patch("/cases/{caseID}/description", cases.UpdateDescription)
		r.Get("/metrics", cases.Metrics)
		r.Get("/overdue", cases.Overdue)
		r.Get("/users", users.List)
		r.Post("/users", users.Create)
		r.Post("/users/{userID}/role", users.UpdateRole)
	})
	return r
}

func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("api: listening on %s", s.cfg.ListenAddr)
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
