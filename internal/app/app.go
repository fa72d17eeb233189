package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/tallyman/internal/auth"
	"github.com/hitoshi/tallyman/internal/ballot"
	"github.com/hitoshi/tallyman/internal/config"
	"github.com/hitoshi/tallyman/internal/database"
	"github.com/hitoshi/tallyman/internal/handler"
	"github.com/hitoshi/tallyman/internal/logger"
	"github.com/hitoshi/tallyman/internal/metrics"
	"github.com/hitoshi/tallyman/internal/middleware"
	"github.com/hitoshi/tallyman/internal/model"
	"github.com/hitoshi/tallyman/internal/poll"
	"github.com/hitoshi/tallyman/internal/repository"
	"github.com/hitoshi/tallyman/internal/roster"
	"github.com/hitoshi/tallyman/internal/security"
	"github.com/hitoshi/tallyman/internal/tally"
	"github.com/hitoshi/tallyman/internal/user"
	"github.com/hitoshi/tallyman/internal/worker/cleanup"
	"github.com/hitoshi/tallyman/internal/worker/lifecycle"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// .envがあれば読み込んでから環境変数のConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := logger.SetupDefault(w)

	// 2. ローカル開発用の.envを読み込む。既存の環境変数は上書きしない
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	level.Set(cfg.SlogLevel())

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
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("session_store", string(cfg.SessionStore)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCreateAdmin:
		return runCreateAdmin(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// openSessionRepo はSESSION_STOREに応じた投票セッションの保存先を返す。
// 戻り値のcloseは呼び出し側で必ず呼ぶこと。
func openSessionRepo(ctx context.Context, cfg *config.Config, db *sql.DB) (repository.VotingSessionRepository, func(), error) {
	if cfg.SessionStore != config.SessionStoreRedis {
		return repository.NewPostgresSessionRepo(db), func() {}, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established", slog.String("addr", opt.Addr))
	return repository.NewRedisSessionRepo(client), func() { client.Close() }, nil
}

// newRegistry はプロセス・ランタイムのメトリクスを登録したレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// services はserveモードで使うサービス群。
type services struct {
	login   *auth.LoginService
	issuer  *auth.TokenIssuer
	polls   *poll.Service
	roster  *roster.Service
	access  *auth.Service
	ballots *ballot.Service
	tally   *tally.Service
}

// buildServices はリポジトリとサービスを組み立て、通知先としてcollectorを設定する。
func buildServices(cfg *config.Config, db *sql.DB, sessionRepo repository.VotingSessionRepository, collector *metrics.Collector) *services {
	// 1. リポジトリ
	pollRepo := repository.NewPostgresPollRepo(db)
	staffRepo := repository.NewPostgresPollStaffRepo(db)
	participantRepo := repository.NewPostgresParticipantRepo(db)
	ballotRepo := repository.NewPostgresBallotRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	groupRepo := repository.NewPostgresGroupRepo(db)

	// 2. ユーザーディレクトリと管理画面ログイン
	directory := user.NewService(userRepo, groupRepo, cfg.DirectoryTimeout)
	issuer := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)

	// 3. ドメインサービス
	pollService := poll.NewService(pollRepo, staffRepo, directory, security.NewTextSanitizer())
	pollService.SetTransitionObserver(collector)

	rosterService := roster.NewService(participantRepo, directory, sessionRepo)

	accessService := auth.NewService(pollService, rosterService, directory, sessionRepo, cfg.VotingSessionTTL)
	accessService.SetObserver(collector)

	ballotService := ballot.NewService(accessService, ballotRepo)
	ballotService.SetObserver(newBallotObserver(slog.Default(), collector))

	tallyService := tally.NewService(ballotRepo, accessService, pollService, rosterService, directory)
	tallyService.SetObserver(collector)

	return &services{
		login:   auth.NewLoginService(directory, issuer),
		issuer:  issuer,
		polls:   pollService,
		roster:  rosterService,
		access:  accessService,
		ballots: ballotService,
		tally:   tallyService,
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionRepo, closeSessions, err := openSessionRepo(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeSessions()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)
	svc := buildServices(cfg, db, sessionRepo, collector)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAccess))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		StatusObserver:    collector,
		TokenParser:       svc.issuer,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),

		LoginService:   svc.login,
		PollService:    svc.polls,
		RosterService:  svc.roster,
		ResultsService: svc.tally,
		AccessService:  svc.access,
		BallotService:  svc.ballots,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("API server starting", slog.String("addr", server.Addr))
	if err := serveUntilDone(ctx, server); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// serveUntilDone はctxがキャンセルされるまでserverを起動し、キャンセル後にシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...", slog.String("addr", server.Addr))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// runWorker はワーカーモードで起動する。
// 投票の自動完了ジョブと、Postgresストア使用時は期限切れ投票セッションの削除ジョブを実行する。
// ジョブのメトリクスはWORKER_METRICS_PORTで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := newRegistry()
	collector := metrics.NewCollector(reg)

	sweepJob := lifecycle.NewSweepJob(db, collector, slog.Default())

	mux := chi.NewRouter()
	mux.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("worker starting",
		slog.Duration("lifecycle_sweep_interval", cfg.LifecycleSweepInterval),
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweepJob.Start(gctx, cfg.LifecycleSweepInterval)
		return nil
	})
	// Redisストアのセッションはキーの有効期限で消える
	if cfg.SessionStore == config.SessionStorePostgres {
		cleanupJob := cleanup.NewSessionCleanupJob(db, collector, slog.Default())
		g.Go(func() error {
			cleanupJob.Start(gctx, cfg.SessionCleanupInterval)
			return nil
		})
	}
	g.Go(func() error {
		return serveUntilDone(gctx, metricsServer)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runCreateAdmin はBOOTSTRAP_ADMIN_*の内容で管理者ユーザーを登録する。
func runCreateAdmin(ctx context.Context, cfg *config.Config) error {
	if cfg.BootstrapAdminEmail == "" || cfg.BootstrapAdminPassword == "" {
		return errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD are required")
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	directory := user.NewService(repository.NewPostgresUserRepo(db), repository.NewPostgresGroupRepo(db), cfg.DirectoryTimeout)
	u, err := directory.CreateUser(ctx, cfg.BootstrapAdminEmail, cfg.BootstrapAdminName, cfg.BootstrapAdminPassword, model.UserRoleAdmin)
	if err != nil {
		return fmt.Errorf("failed to create admin: %w", err)
	}

	slog.Info("admin user created", slog.String("user_id", u.ID))
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
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
