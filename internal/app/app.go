package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chemquest_backend/internal/config"
	"chemquest_backend/internal/controller"
	"chemquest_backend/internal/middleware"
	"chemquest_backend/internal/repository"
	"chemquest_backend/internal/service"
	"chemquest_backend/internal/util"
	"chemquest_backend/pkg/configwatcher"
	"chemquest_backend/pkg/database"
	"chemquest_backend/pkg/logger"
	"chemquest_backend/pkg/monitoring"
	"chemquest_backend/pkg/security"
	"chemquest_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type App struct {
	Config      *config.Config
	Router      *gin.Engine
	DB          *gorm.DB
	Redis       *redis.Client
	Progression *service.ProgressionService

	// ConfigPath 非空时监听该文件并热更新调参
	ConfigPath string

	clock           util.Clock
	stores          *stores
	tracer          *sdktrace.TracerProvider
	ctx             context.Context
	cancel          context.CancelFunc
	background      *errgroup.Group
	configCallbacks []func(*config.Config)
}

type stores struct {
	performance repository.PerformanceStore
	difficulty  repository.DifficultyStore
	streak      repository.StreakStore
	leaderboard repository.LeaderboardStore
	ledger      repository.AttemptLedger
	metrics     repository.MetricsCache
}

type controllers struct {
	progression *controller.ProgressionController
	progress    *controller.ProgressController
	difficulty  *controller.DifficultyController
	streak      *controller.StreakController
	leaderboard *controller.LeaderboardController
	health      *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// initStores 无数据库时所有状态落在进程内存中
func (a *App) initStores(cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*stores, error) {
	s := &stores{}
	if db == nil {
		mem := repository.NewMemoryStore()
		s.performance, s.difficulty, s.streak, s.leaderboard = mem, mem, mem, mem
	} else {
		s.performance = repository.NewPerformanceRepository(db)
		s.difficulty = repository.NewDifficultyRepository(db)
		s.streak = repository.NewStreakRepository(db)
		s.leaderboard = repository.NewLeaderboardRepository(db)
	}

	switch ledgerDriver(cfg.Ledger, db != nil) {
	case util.LedgerRedis:
		if rdb == nil {
			return nil, errors.New("ledger driver redis requires redis.enabled")
		}
		s.ledger = repository.NewRedisLedger(rdb, cfg.Ledger.TTL)
	case util.LedgerDB:
		if db == nil {
			return nil, errors.New("ledger driver db requires a database driver other than memory")
		}
		s.ledger = repository.NewDBLedger(db)
	case util.LedgerMemory:
		s.ledger = repository.NewMemoryLedger(cfg.Ledger.TTL, a.clock)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Ledger.Driver)
	}

	if rdb != nil {
		s.metrics = repository.NewRedisMetricsCache(rdb)
	}
	return s, nil
}

// ledgerDriver 未显式配置时，有数据库就用永久去重的 db 账本
func ledgerDriver(cfg config.LedgerConfig, hasDB bool) string {
	if cfg.Driver != "" {
		return cfg.Driver
	}
	if hasDB {
		return util.LedgerDB
	}
	return util.LedgerMemory
}

func (a *App) initServices(cfg *config.Config, s *stores) (*service.ProgressionService, error) {
	p := cfg.Progression
	shards := p.Aggregator.Shards

	performance := service.NewPerformanceService(s.performance, s.metrics, p, a.clock)
	weakAreas := service.NewWeakAreaService(performance, p.WeakArea, a.clock)
	difficulty := service.NewDifficultyService(s.difficulty, p.Difficulty, shards, a.clock)
	streaks, err := service.NewStreakService(s.streak, p.Streak, shards, a.clock)
	if err != nil {
		return nil, err
	}
	leaderboards := service.NewLeaderboardService(s.leaderboard, p.Leaderboard, a.clock)

	return &service.ProgressionService{
		Ingest:          service.NewIngestService(s.ledger, p.Realms, a.clock),
		Performance:     performance,
		WeakAreas:       weakAreas,
		Difficulty:      difficulty,
		Streaks:         streaks,
		Leaderboards:    leaderboards,
		Recommendations: service.NewRecommendationService(performance, weakAreas, difficulty, streaks, p, a.clock),
	}, nil
}

func (a *App) initControllers(p *service.ProgressionService) *controllers {
	return &controllers{
		progression: controller.NewProgressionController(p, a.clock),
		progress:    controller.NewProgressController(p.Performance, p.WeakAreas, p.Recommendations),
		difficulty:  controller.NewDifficultyController(p.Difficulty),
		streak:      controller.NewStreakController(p.Streaks),
		leaderboard: controller.NewLeaderboardController(p.Leaderboards, a.clock),
		health:      controller.NewHealthController(a.DB, a.Redis),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(middleware.RequestID())
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// applyConfig 热更新：只推送调参，存储和端口等需要重启
func (a *App) applyConfig(cfg *config.Config) {
	if err := a.Progression.UpdateTuning(cfg.Progression); err != nil {
		logger.Log.Error("Rejected reloaded progression tunables", zap.Error(err))
		return
	}
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
	logger.Log.Info("Progression tunables updated")
}

func (a *App) startBackgroundTasks() {
	a.background.Go(func() error {
		runJobs(a.ctx, a.jobs())
		return nil
	})

	if a.ConfigPath != "" {
		a.background.Go(func() error {
			if err := configwatcher.WatchConfig(a.ctx, a.ConfigPath, a.applyConfig); err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
}

// Option 调整 App 的构建方式，主要供测试使用
type Option func(*App)

func WithClock(clock util.Clock) Option {
	return func(a *App) { a.clock = clock }
}

func WithConfigPath(path string) Option {
	return func(a *App) { a.ConfigPath = path }
}

func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		clock:  util.SystemClock{},
	}
	for _, opt := range opts {
		opt(app)
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())
	app.background, app.ctx = errgroup.WithContext(app.ctx)

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	app.DB = db

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("initialize redis: %w", err)
	}
	app.Redis = rdb

	app.stores, err = app.initStores(cfg, db, rdb)
	if err != nil {
		return nil, err
	}
	app.Progression, err = app.initServices(cfg, app.stores)
	if err != nil {
		return nil, err
	}

	hydrateCtx, cancel := context.WithTimeout(app.ctx, 30*time.Second)
	defer cancel()
	if err := app.Progression.Leaderboards.Hydrate(hydrateCtx); err != nil {
		return nil, fmt.Errorf("hydrate leaderboards: %w", err)
	}

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("chemquest-progression", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, fmt.Errorf("initialize tracing: %w", err)
		}
		app.tracer = tp
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, app.initControllers(app.Progression), cfg)

	app.startBackgroundTasks()

	return app, nil
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.Close(ctx)
	logger.Log.Info("Server exiting")
}

// Close 停止后台任务并释放外部连接
func (a *App) Close(ctx context.Context) {
	a.cancel()
	_ = a.background.Wait()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
