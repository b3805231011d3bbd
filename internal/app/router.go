package app

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Ashish1022/proctor-sub000/internal/app/observability"
	"github.com/Ashish1022/proctor-sub000/internal/auth"
	"github.com/Ashish1022/proctor-sub000/internal/proctor"
	"github.com/Ashish1022/proctor-sub000/internal/question"
	"github.com/Ashish1022/proctor-sub000/internal/report"
	"github.com/Ashish1022/proctor-sub000/internal/session"
)

func NewRouter(cfg Config, db *sql.DB) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	collector := observability.NewCollector(db)
	r.Use(collector.Middleware)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	svc := session.NewService(db, cfg.DefaultTestMinutes)
	manager := session.NewManager(svc, observability.CountingSink(collector, svc), session.ManagerConfig{
		Proctor: proctor.Config{
			EnforceFullscreen:    cfg.EnforceFullscreen,
			DetectTabSwitch:      cfg.DetectTabSwitch,
			DetectWindowBlur:     cfg.DetectWindowBlur,
			BlockCopyPaste:       cfg.BlockCopyPaste,
			BlockRightClick:      cfg.BlockRightClick,
			BlockShortcuts:       cfg.BlockShortcuts,
			DetectDevtools:       cfg.DetectDevtools,
			HiddenGrace:          cfg.HiddenGrace(),
			DevtoolsPollInterval: cfg.DevtoolsPollInterval(),
			DevtoolsThresholdPx:  cfg.DevtoolsThresholdPx,
		},
		MaxViolations:     cfg.MaxViolations,
		AutoSubmitOnLimit: cfg.AutoSubmitOnLimit,
	})
	sessionHandler := session.NewHandler(svc, manager)

	reportSvc := report.NewService(db)
	reportHandler := report.NewHandler(reportSvc)

	authoringSvc := question.NewService(db)
	authoringHandler := question.NewHandler(authoringSvc)

	limiter := NewIPRateLimiter(cfg.SessionRateLimitPerMin, time.Minute)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", collector.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(RateLimitMiddleware(limiter))
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.Use(verifier.RequireAuth)

		api.Post("/sessions/start", sessionHandler.Start)
		api.Get("/tests/{id}/questions", sessionHandler.QuestionSet)
		api.Get("/sessions/{id}", sessionHandler.Status)
		api.Put("/sessions/{id}/answers/{questionID}", sessionHandler.SaveAnswer)
		api.Post("/sessions/{id}/flags/{questionID}", sessionHandler.ToggleFlag)
		api.Post("/sessions/{id}/submit", sessionHandler.Submit)
		api.Post("/sessions/{id}/events", sessionHandler.ReportEvent)
		api.Delete("/sessions/{id}", sessionHandler.Abandon)
		api.Get("/sessions/{id}/result", sessionHandler.Result)
		api.Get("/sessions/{id}/violations", sessionHandler.Violations)

		api.Group(func(admin chi.Router) {
			admin.Use(verifier.RequireRoles("admin", "proctor"))
			admin.Post("/admin/tests", authoringHandler.CreateTest)
			admin.Get("/admin/tests/{id}", authoringHandler.GetTest)
			admin.Put("/admin/tests/{id}/active", authoringHandler.SetTestActive)
			admin.Post("/admin/tests/{id}/questions", authoringHandler.UpsertQuestion)
			admin.Get("/admin/tests/{id}/questions", authoringHandler.ListQuestions)
			admin.Get("/admin/tests/{id}/summary", reportHandler.Summary)
			admin.Get("/admin/tests/{id}/results.xlsx", reportHandler.ExportExcel)
		})
	})

	return r
}
