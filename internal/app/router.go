package app

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"ruangobat/internal/app/apiresp"
	"ruangobat/internal/app/observability"
	"ruangobat/internal/assistant"
	"ruangobat/internal/auth"
	"ruangobat/internal/draft"
	"ruangobat/internal/question"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Dependencies are the collaborators wired by main.
type Dependencies struct {
	DB        *sql.DB
	Flows     *draft.Flows
	Store     draft.Store
	Submitter draft.Submitter
	Generator assistant.Generator
	Logger    *zap.Logger
}

func NewRouter(cfg Config, deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errors.New("router: draft store is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	authMW := auth.NewMiddleware(verifier)

	metrics := observability.NewCollector(deps.DB, logger.Named("http"))

	assistantSvc, err := assistant.NewService(deps.Generator, logger.Named("assistant"))
	if err != nil {
		return nil, err
	}
	assistantHandler := assistant.NewHandler(assistantSvc)

	draftSvc := question.NewService(question.ServiceConfig{
		Flows:     deps.Flows,
		Store:     deps.Store,
		Submitter: deps.Submitter,
		Generator: assistantSvc,
		Notifier:  metrics.DraftNotifier(),
		Logger:    logger.Named("draft"),
	})
	draftHandler := question.NewHandler(draftSvc)

	aiLimiter := RateLimitMiddleware(NewIPRateLimiter(cfg.AIRateLimitPerMin, time.Minute))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", csrfHeaderName},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Get("/flows", func(w http.ResponseWriter, r *http.Request) {
			apiresp.WriteOK(w, r, http.StatusOK, map[string]any{"flows": draftSvc.Flows()})
		})

		api.Group(func(secure chi.Router) {
			secure.Use(authMW.RequireAuth)
			secure.Get("/auth/me", authMW.Me)

			secure.Group(func(admin chi.Router) {
				admin.Use(authMW.RequireRoles(cfg.AdminRoles...))
				admin.With(aiLimiter).Post("/assistant/generate", assistantHandler.Preview)
				draftHandler.Routes(admin, aiLimiter)
			})
		})
	})

	return r, nil
}
