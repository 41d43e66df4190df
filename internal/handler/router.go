package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/apollo/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	APIToken          string
	RateLimiter       *middleware.RateLimiter
	StatusRecorder    middleware.StatusRecorder
	MetricsHandler    http.Handler

	// ルート情報・ヘルスチェック
	Info   AppInfo
	Health HealthChecker

	// 貸出
	LendingService LendingServiceInterface
	LendingQuery   LendingQueryInterface

	// 蔵書
	CatalogService CatalogServiceInterface

	// ユーザー
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → Metrics → Auth → RateLimit(General)
//
// 貸出系の更新操作にはさらにRateLimit(Lending)を適用する。
// GET /・/health・/metrics は認証とレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}

	r.NotFound(middleware.WriteNotFound)
	r.MethodNotAllowed(middleware.WriteNotFound)

	lendingHandler := NewLendingHandler(deps.LendingService, deps.LendingQuery)
	bookHandler := NewBookHandler(deps.CatalogService)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---
	r.Get("/", InfoHandler(deps.Info))
	r.Get("/health", HealthHandler(deps.Health))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.APIToken))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		lendingLimit := deps.RateLimiter.LendingMiddleware()

		r.Route("/users", func(r chi.Router) {
			r.Post("/", userHandler.Register)
			r.Get("/{userID}", userHandler.Get)
		})

		r.Route("/books", func(r chi.Router) {
			r.Post("/", bookHandler.CreateBook)

			r.Route("/{bookID}", func(r chi.Router) {
				r.Get("/", bookHandler.GetBook)
				r.Put("/", bookHandler.EditBook)
				r.Delete("/", bookHandler.DeleteBook)

				r.With(lendingLimit).Post("/withdraw", lendingHandler.Withdraw)
				r.With(lendingLimit).Post("/deposit", lendingHandler.Deposit)
				r.With(lendingLimit).Post("/renew", lendingHandler.Renew)

				r.Get("/loan", lendingHandler.GetLoan)

				r.Route("/reservation", func(r chi.Router) {
					r.Get("/", lendingHandler.GetReservation)
					r.With(lendingLimit).Post("/", lendingHandler.Reserve)
					r.With(lendingLimit).Delete("/", lendingHandler.CancelReservation)
				})

				r.Get("/history", lendingHandler.History)
				r.Get("/history/users", lendingHandler.HistoryUsers)
			})
		})
	})

	return r
}
