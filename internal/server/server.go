// Package server is the composition root: it builds every store, service
// and handler from the config, mounts the routes and owns the lifecycle of
// the database, the worker pool and the optional linter sandbox.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/archon/internal/analyzer"
	"github.com/sakif/archon/internal/analyzer/sandbox"
	"github.com/sakif/archon/internal/auth"
	"github.com/sakif/archon/internal/blobstore"
	"github.com/sakif/archon/internal/config"
	"github.com/sakif/archon/internal/handler"
	"github.com/sakif/archon/internal/middleware"
	sqliteRepo "github.com/sakif/archon/internal/repository/sqlite"
	"github.com/sakif/archon/internal/scm/github"
	"github.com/sakif/archon/internal/service"
	"github.com/sakif/archon/internal/worker"
)

// Server holds the router and every resource that must be released on
// shutdown.
type Server struct {
	router *chi.Mux
	config *config.Config
	logger *slog.Logger

	db      *sqliteRepo.DB
	pool    *worker.Pool
	sandbox *sandbox.Checker // nil unless enabled and Docker is reachable

	orchestrator *service.AnalysisOrchestrator
}

// New wires the application. The worker pool is created but not started;
// Start does that after recovering interrupted analyses.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := sqliteRepo.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("server: opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}
	if err := s.setup(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setup() error {
	cfg := s.config

	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("server: token service: %w", err)
	}
	sealer, err := auth.NewSealer(cfg.Auth.EncryptionKey)
	if err != nil {
		return fmt.Errorf("server: credential sealer: %w", err)
	}
	provider, err := auth.NewGitHubProvider(auth.GitHubConfig{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		CallbackURL:  cfg.GitHub.CallbackURL,
		Scopes:       cfg.GitHub.Scopes,
	})
	if err != nil {
		return fmt.Errorf("server: GitHub provider: %w", err)
	}
	if !cfg.GitHubEnabled() {
		s.logger.Warn("GitHub OAuth app not configured; connecting accounts will fail")
	}

	gh, err := github.New(github.Options{
		HTTPClient:      &http.Client{Timeout: cfg.GitHub.APITimeout},
		MaxContentBytes: cfg.Content.MaxBytes,
	})
	if err != nil {
		return fmt.Errorf("server: GitHub client: %w", err)
	}
	blobs, err := blobstore.New(cfg.Upload.BlobDir)
	if err != nil {
		return fmt.Errorf("server: blob store: %w", err)
	}

	conns := service.NewIdentityConnectionStore(s.db, sealer, cfg.Cache.CredentialTTL, s.logger)
	oauth := service.NewOAuthHandshake(provider, s.db, conns, cfg.GitHub.StateTTL, cfg.GitHub.ExchangeTimeout, s.logger)
	catalog := service.NewRepositoryCatalog(gh, conns, s.logger)
	registrar := service.NewProjectRegistrar(s.db, catalog, blobs, service.UploadLimits{
		MaxFileBytes:  cfg.Upload.MaxFileBytes,
		MaxTotalBytes: cfg.Upload.MaxTotalBytes,
		MaxFiles:      cfg.Upload.MaxFiles,
	}, s.logger)
	files := service.NewFileTreeService(s.db, gh, conns, blobs, cfg.Content.MaxBytes, s.logger)
	accounts := service.NewAccountService(s.db, tokens, auth.NewPasswordService(), s.logger)

	s.pool = worker.NewPool(cfg.Analysis.Workers, cfg.Analysis.QueueSize, s.logger)
	s.orchestrator = service.NewAnalysisOrchestrator(
		s.db, s.db,
		service.NewSourceLoader(s.db, gh, conns, blobs),
		s.engine(),
		s.pool,
		cfg.Analysis.Timeout,
		s.logger,
	)
	reports := service.NewReportAssembler(s.db, s.db)

	secure := strings.HasPrefix(cfg.Server.FrontendURL, "https://")
	accountH := handler.NewAccountHandler(accounts, cfg.Auth.SessionTTL, secure, s.logger)
	connectionH := handler.NewConnectionHandler(conns, oauth, cfg.Server.FrontendURL, s.logger)
	repositoryH := handler.NewRepositoryHandler(catalog)
	projectH := handler.NewProjectHandler(registrar, files, cfg.Upload.MaxTotalBytes, s.logger)
	analysisH := handler.NewAnalysisHandler(s.orchestrator, reports, s.logger)

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", accountH.HandleRegister)
		r.Post("/auth/login", accountH.HandleLogin)
		r.Post("/auth/logout", accountH.HandleLogout)
		r.Get("/connection/callback", connectionH.HandleCallback)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/me", accountH.HandleMe)

			r.Get("/connection/status", connectionH.HandleStatus)
			r.Get("/connection/authorize", connectionH.HandleAuthorize)
			r.Delete("/connection", connectionH.HandleDisconnect)

			r.Get("/repositories", repositoryH.HandleList)
			r.Post("/repositories/validate", repositoryH.HandleValidate)

			r.Get("/projects", projectH.HandleList)
			r.Post("/projects", projectH.HandleCreate)
			r.Post("/projects/upload", projectH.HandleUpload)
			r.Route("/projects/{id}", func(r chi.Router) {
				r.Get("/", projectH.HandleGet)
				r.Delete("/", projectH.HandleDelete)
				r.Get("/files", projectH.HandleFiles)
				r.Get("/files/content", projectH.HandleFileContent)
				r.Post("/analyze", analysisH.HandleAnalyze)
				r.Get("/analyses", analysisH.HandleHistory)
				r.Get("/report", analysisH.HandleReport)
			})
		})
	})

	return nil
}

// engine registers the pure-Go checker and, when enabled and Docker is
// reachable, the sandboxed linters.
func (s *Server) engine() *analyzer.Engine {
	checkers := []analyzer.Checker{analyzer.NewHeuristicChecker()}

	if s.config.Sandbox.Enabled {
		sb, err := sandbox.New(sandbox.Config{
			Image:       s.config.Sandbox.Image,
			MemoryLimit: s.config.Sandbox.MemoryMB * 1024 * 1024,
			CPULimit:    s.config.Sandbox.CPULimit,
			Timeout:     s.config.Sandbox.Timeout,
			PoolSize:    s.config.Sandbox.PoolSize,
		}, s.logger)
		if err != nil {
			s.logger.Warn("linter sandbox unavailable, running heuristics only",
				slog.String("error", err.Error()),
			)
		} else {
			s.sandbox = sb
			checkers = append(checkers, sb)
		}
	}

	e := analyzer.NewEngine(s.logger, s.config.Analysis.MaxCheckerGoroutines, checkers...)
	s.logger.Info("analysis engine ready", slog.Any("checkers", e.Checkers()))
	return e
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unavailable"}` + "\n"))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// Start serves until SIGINT or SIGTERM, then drains requests, stops the
// workers and closes the database.
//
// Analyses left pending or running by a previous process are failed with
// reason "interrupted" before the pool starts, so no project is stuck with
// an in-flight analysis nobody will finish.
func (s *Server) Start() error {
	defer s.Close()

	n, err := s.orchestrator.RecoverInterrupted(context.Background())
	if err != nil {
		return fmt.Errorf("server: recovering interrupted analyses: %w", err)
	}
	if n > 0 {
		s.logger.Warn("failed analyses interrupted by the previous shutdown", slog.Int64("count", n))
	}
	s.pool.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Uploads and shallow clones can take a while; per-operation
		// timeouts bound the outbound calls instead.
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("database", s.config.Database.Path),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listening: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server: graceful shutdown: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// Close releases resources in reverse order of creation. Running jobs are
// cancelled by the pool and record themselves as interrupted.
func (s *Server) Close() {
	if s.pool != nil {
		s.pool.Stop()
	}
	if s.sandbox != nil {
		if err := s.sandbox.Close(); err != nil {
			s.logger.Warn("closing sandbox", slog.String("error", err.Error()))
		}
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}
