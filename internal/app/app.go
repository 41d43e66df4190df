package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/apollo/internal/catalog"
	"github.com/hitoshi/apollo/internal/config"
	"github.com/hitoshi/apollo/internal/database"
	"github.com/hitoshi/apollo/internal/handler"
	"github.com/hitoshi/apollo/internal/lending"
	"github.com/hitoshi/apollo/internal/logger"
	"github.com/hitoshi/apollo/internal/metrics"
	"github.com/hitoshi/apollo/internal/middleware"
	"github.com/hitoshi/apollo/internal/repository"
	"github.com/hitoshi/apollo/internal/repository/memstore"
	"github.com/hitoshi/apollo/internal/user"
)

// defaultHealthcheckPort はSERVER_PORT未設定時のヘルスチェック先ポート。
const defaultHealthcheckPort = "4000"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込みのエラーもJSONで出力できるよう先に仮設定する
	logger.SetupDefault(w, slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = defaultHealthcheckPort
		}
		return runHealthcheck(port)
	}

	var migrateOpts MigrateOptions
	if cmd == CommandMigrate {
		opts, err := ParseMigrateArgs(args[1:])
		if err != nil {
			return err
		}
		migrateOpts = opts
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg, migrateOpts)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// openStore は設定に応じたレコードストアを開く。
// postgresの場合は接続確認まで行う。
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		slog.Warn("using in-memory store; data is lost on shutdown")
		return memstore.New(), nil
	}

	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return repository.NewPostgresStore(db), nil
}

// newServer は全依存関係をワイヤリングしたHTTPサーバーを構築する。
// 戻り値のcleanupはレート制限のバックグラウンド処理を停止する。
func newServer(cfg *config.Config, store repository.Store) (*http.Server, func()) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	lendingService := lending.NewService(store, lending.ServiceConfig{
		ReservationLimit: cfg.ReservationLimit,
		Metrics:          collector,
		Logger:           slog.Default(),
	})
	lendingQuery := lending.NewQuery(store.Books(), store.Loans(), store.Reservations())
	catalogService := catalog.NewService(store.Books(), slog.Default())
	userService := user.NewService(store.Users())

	rateLimiter := middleware.NewRateLimiter(
		middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral, cfg.RateLimitLending),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		APIToken:          cfg.APIToken,
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,
		MetricsHandler:    metrics.Handler(reg),

		Info: handler.AppInfo{
			Name:      cfg.AppName,
			Version:   cfg.AppVersion,
			CreatedBy: cfg.AppAuthors,
		},
		Health: store,

		LendingService: lendingService,
		LendingQuery:   lendingQuery,
		CatalogService: catalogService,
		UserService:    userService,
	})

	if cfg.APIToken == "" {
		slog.Warn("API_TOKEN is not set; authentication is disabled")
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server, rateLimiter.Stop
}

// runServe はAPIサーバーモードで起動する。
// レコードストアを開き、ctxがキャンセルされるとグレースフルシャットダウンしてストアを閉じる。
func runServe(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close store", slog.String("error", err.Error()))
		}
	}()

	server, cleanup := newServer(cfg, store)
	defer cleanup()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runMigrate はoptsで指定されたスキーママイグレーション操作を実行する。
func runMigrate(cfg *config.Config, opts MigrateOptions) error {
	if cfg.StoreDriver != config.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s, got %q", config.StoreDriverPostgres, cfg.StoreDriver)
	}

	log := slog.With(
		slog.String("action", string(opts.Action)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	switch opts.Action {
	case MigrateDown:
		log.Warn("rolling back schema migrations", slog.Int("steps", opts.Steps))
		if err := database.RollbackMigrations(cfg.DatabaseURL, opts.Steps); err != nil {
			return fmt.Errorf("migration rollback failed: %w", err)
		}
	case MigrateVersion:
		v, err := database.CurrentSchemaVersion(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("migration version check failed: %w", err)
		}
		log.Info("schema version",
			slog.Uint64("version", uint64(v.Version)),
			slog.Bool("dirty", v.Dirty),
		)
		return nil
	default:
		log.Info("applying schema migrations")
		if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Info("schema migrations completed")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// ホストを含まない値は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
