package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/tallyman/internal/middleware"
	"github.com/hitoshi/tallyman/internal/model"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	StatusObserver    middleware.StatusObserver
	TokenParser       middleware.TokenParser
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// 管理API
	LoginService   LoginServiceInterface
	PollService    PollServiceInterface
	RosterService  RosterServiceInterface
	ResultsService ResultsServiceInterface

	// 投票者API
	AccessService AccessServiceInterface
	BallotService BallotServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → (BearerAuth → RateLimit(General)) or RateLimit(Access)
//
// 投票者API（/poll/*）はBearer認証の外に配置し、投票セッショントークンで参加者を識別する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.LoginService)
	pollHandler := NewPollHandler(deps.PollService)
	participantHandler := NewParticipantHandler(deps.PollService, deps.RosterService)
	resultsHandler := NewResultsHandler(deps.ResultsService)
	voterHandler := NewVoterHandler(deps.PollService, deps.AccessService, deps.BallotService)

	// --- 運用 ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- 認証不要のルート ---
	r.With(deps.RateLimiter.AccessMiddleware()).Post("/auth/login", authHandler.Login)

	r.Route("/poll/{id}", func(r chi.Router) {
		r.Get("/public", voterHandler.Public)
		r.Get("/vote-status/{sessionToken}", voterHandler.VoteStatus)
		r.Get("/results/{sessionToken}", resultsHandler.ForSession)

		// トークン総当たり対策としてクライアント×投票単位で制限する
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AccessMiddleware())
			r.Post("/validate-access", voterHandler.ValidateAccess)
			r.Post("/vote", voterHandler.Vote)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewBearerAuthMiddleware(deps.TokenParser))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/polls", func(r chi.Router) {
			r.Get("/", pollHandler.List)
			r.Post("/", pollHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", pollHandler.Get)
				r.Patch("/", pollHandler.Update)
				r.Delete("/", pollHandler.Delete)

				// ライフサイクル
				r.Post("/launch", pollHandler.Launch)
				r.Post("/complete", pollHandler.Complete)
				r.Post("/cancel", pollHandler.Cancel)

				// 設問・日程・設定
				r.Put("/ballot", pollHandler.ReplaceBallot)
				r.Put("/schedule", pollHandler.UpdateSchedule)
				r.Put("/settings", pollHandler.UpdateSettings)
				r.Post("/toggle-emails", pollHandler.ToggleEmails)

				// 担当者・権限
				r.Get("/editors", pollHandler.ListStaff(model.PollRoleEditor))
				r.Put("/editors", pollHandler.AssignStaff(model.PollRoleEditor))
				r.Get("/auditors", pollHandler.ListStaff(model.PollRoleAuditor))
				r.Put("/auditors", pollHandler.AssignStaff(model.PollRoleAuditor))
				r.Get("/permissions", pollHandler.Permissions)

				// 名簿
				r.Route("/participants", func(r chi.Router) {
					r.Get("/", participantHandler.List)
					r.Post("/", participantHandler.Add)
					r.Post("/group", participantHandler.AddGroup)
					r.Put("/group", participantHandler.UpdateGroup)
					r.Delete("/group/{groupId}", participantHandler.RemoveGroup)
					r.Patch("/{participantId}", participantHandler.Update)
					r.Delete("/{participantId}", participantHandler.Remove)
				})

				r.Get("/results", resultsHandler.ForUser)
			})
		})
	})

	return r
}

// healthHandler はDBへの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
