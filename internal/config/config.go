package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	Tracing     TracingConfig `mapstructure:"tracing"`
	Redis       RedisConfig
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Ledger      LedgerConfig      `mapstructure:"ledger"`
	Progression ProgressionConfig `mapstructure:"progression"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

type ServerConfig struct {
	Port string
	Mode string
}

// DatabaseConfig Driver 可选 mysql / sqlite / memory
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	Host       string
	Port       int
	User       string
	Password   string
	DBName     string
	Charset    string
	ParseTime  bool
	SQLitePath string `mapstructure:"sqlite_path"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Host     string
	Port     int
	Password string
	DB       int
}

// LedgerConfig 挑战记录去重账本
// Driver 可选 db / redis / memory，为空时有数据库用 db，否则用 memory。
// db 账本永久去重；redis 和 memory 账本只在 TTL 内去重，超过 TTL 的重放会被再次计入。
type LedgerConfig struct {
	Driver string        `mapstructure:"driver"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type ProgressionConfig struct {
	Aggregator  AggregatorConfig  `mapstructure:"aggregator"`
	WeakArea    WeakAreaConfig    `mapstructure:"weak_area"`
	Difficulty  DifficultyConfig  `mapstructure:"difficulty"`
	Streak      StreakConfig      `mapstructure:"streak"`
	Leaderboard LeaderboardConfig `mapstructure:"leaderboard"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	// Realms maps a challenge type to the game realm it lives in.
	Realms map[string]string `mapstructure:"realms"`
}

type AggregatorConfig struct {
	WindowSize           int           `mapstructure:"window_size"`
	ConfidenceSaturation int           `mapstructure:"confidence_saturation"`
	RecencyDecay         float64       `mapstructure:"recency_decay"`
	TrendDelta           float64       `mapstructure:"trend_delta"`
	SummaryCount         int           `mapstructure:"summary_count"`
	MetricsCacheTTL      time.Duration `mapstructure:"metrics_cache_ttl"`
	Shards               int           `mapstructure:"shards"`
}

type WeakAreaConfig struct {
	MinSampleSize   int           `mapstructure:"min_sample_size"`
	WeakThreshold   float64       `mapstructure:"weak_threshold"`
	HighThreshold   float64       `mapstructure:"high_threshold"`
	MediumThreshold float64       `mapstructure:"medium_threshold"`
	RecentWindow    time.Duration `mapstructure:"recent_window"`
}

type DifficultyConfig struct {
	MinLevel         int           `mapstructure:"min_level"`
	MaxLevel         int           `mapstructure:"max_level"`
	StartLevel       int           `mapstructure:"start_level"`
	PromoteThreshold int           `mapstructure:"promote_threshold"`
	DemoteThreshold  int           `mapstructure:"demote_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	PromoteRatio     float64       `mapstructure:"promote_ratio"`
	DemoteRatio      float64       `mapstructure:"demote_ratio"`
	FastTimeRatio    float64       `mapstructure:"fast_time_ratio"`
	SlowTimeRatio    float64       `mapstructure:"slow_time_ratio"`
}

type StreakConfig struct {
	TimeZone              string  `mapstructure:"time_zone"`
	MinMultiplierStreak   int     `mapstructure:"min_multiplier_streak"`
	MultiplierStep        float64 `mapstructure:"multiplier_step"`
	MultiplierCap         float64 `mapstructure:"multiplier_cap"`
	RecoveryGraceDays     int     `mapstructure:"recovery_grace_days"`
	InitialRecoveries     int     `mapstructure:"initial_recoveries"`
	MaxRecoveries         int     `mapstructure:"max_recoveries"`
	RecoveryReplenishDays int     `mapstructure:"recovery_replenish_days"`
	Milestones            []int   `mapstructure:"milestones"`
	ChallengeBonus        float64 `mapstructure:"challenge_bonus"`
	WeeklyRewardBase      float64 `mapstructure:"weekly_reward_base"`
}

type LeaderboardConfig struct {
	DefaultLimit int      `mapstructure:"default_limit"`
	MaxLimit     int      `mapstructure:"max_limit"`
	Categories   []string `mapstructure:"categories"`
}

type JobsConfig struct {
	LeaderboardCompactInterval time.Duration `mapstructure:"leaderboard_compact_interval"`
	MetricsWarmInterval        time.Duration `mapstructure:"metrics_warm_interval"`
	MetricsWarmWindow          time.Duration `mapstructure:"metrics_warm_window"`
	// StateIdleTTL 内存中用户统计的空闲淘汰时间
	StateIdleTTL time.Duration `mapstructure:"state_idle_ttl"`
}

// DefaultProgression 默认调参，配置文件缺省项回落到这里
func DefaultProgression() ProgressionConfig {
	return ProgressionConfig{
		Aggregator: AggregatorConfig{
			WindowSize:           20,
			ConfidenceSaturation: 20,
			RecencyDecay:         0.85,
			TrendDelta:           0.1,
			SummaryCount:         3,
			MetricsCacheTTL:      30 * time.Second,
			Shards:               64,
		},
		WeakArea: WeakAreaConfig{
			MinSampleSize:   3,
			WeakThreshold:   0.6,
			HighThreshold:   0.4,
			MediumThreshold: 0.6,
			RecentWindow:    7 * 24 * time.Hour,
		},
		Difficulty: DifficultyConfig{
			MinLevel:         1,
			MaxLevel:         10,
			StartLevel:       1,
			PromoteThreshold: 3,
			DemoteThreshold:  2,
			Cooldown:         2 * time.Minute,
			PromoteRatio:     0.8,
			DemoteRatio:      0.4,
			FastTimeRatio:    1.0,
			SlowTimeRatio:    2.0,
		},
		Streak: StreakConfig{
			TimeZone:              "UTC",
			MinMultiplierStreak:   3,
			MultiplierStep:        0.05,
			MultiplierCap:         2.5,
			RecoveryGraceDays:     1,
			InitialRecoveries:     1,
			MaxRecoveries:         3,
			RecoveryReplenishDays: 7,
			Milestones:            []int{3, 7, 14, 30, 50},
			ChallengeBonus:        50,
			WeeklyRewardBase:      100,
		},
		Leaderboard: LeaderboardConfig{
			DefaultLimit: 10,
			MaxLimit:     100,
			Categories:   []string{"total-score", "equation-balancing", "stoichiometry", "organic-naming", "molecular-geometry"},
		},
		Jobs: JobsConfig{
			LeaderboardCompactInterval: 10 * time.Minute,
			MetricsWarmInterval:        time.Minute,
			MetricsWarmWindow:          15 * time.Minute,
			StateIdleTTL:               2 * time.Hour,
		},
		Realms: map[string]string{
			"equation-balancing": "reaction-forge",
			"stoichiometry":      "mole-mines",
			"organic-naming":     "carbon-jungle",
			"molecular-geometry": "vsepr-valley",
		},
	}
}

// Default returns a complete in-memory configuration, used by tests and as the
// base that LoadConfig overlays.
func Default() *Config {
	return &Config{
		Server:      ServerConfig{Port: "8080", Mode: "debug"},
		Database:    DatabaseConfig{Driver: "memory", Charset: "utf8mb4", ParseTime: true, SQLitePath: "data/chemquest.db"},
		RateLimit:   RateLimitConfig{MaxRequests: 600, WindowMinutes: 1},
		Ledger:      LedgerConfig{TTL: 72 * time.Hour},
		Progression: DefaultProgression(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.charset", d.Database.Charset)
	v.SetDefault("database.parsetime", d.Database.ParseTime)
	v.SetDefault("database.sqlite_path", d.Database.SQLitePath)
	v.SetDefault("rate_limit.max_requests", d.RateLimit.MaxRequests)
	v.SetDefault("rate_limit.window_minutes", d.RateLimit.WindowMinutes)
	v.SetDefault("ledger.driver", d.Ledger.Driver)
	v.SetDefault("ledger.ttl", d.Ledger.TTL)

	p := d.Progression
	v.SetDefault("progression.aggregator.window_size", p.Aggregator.WindowSize)
	v.SetDefault("progression.aggregator.confidence_saturation", p.Aggregator.ConfidenceSaturation)
	v.SetDefault("progression.aggregator.recency_decay", p.Aggregator.RecencyDecay)
	v.SetDefault("progression.aggregator.trend_delta", p.Aggregator.TrendDelta)
	v.SetDefault("progression.aggregator.summary_count", p.Aggregator.SummaryCount)
	v.SetDefault("progression.aggregator.metrics_cache_ttl", p.Aggregator.MetricsCacheTTL)
	v.SetDefault("progression.aggregator.shards", p.Aggregator.Shards)

	v.SetDefault("progression.weak_area.min_sample_size", p.WeakArea.MinSampleSize)
	v.SetDefault("progression.weak_area.weak_threshold", p.WeakArea.WeakThreshold)
	v.SetDefault("progression.weak_area.high_threshold", p.WeakArea.HighThreshold)
	v.SetDefault("progression.weak_area.medium_threshold", p.WeakArea.MediumThreshold)
	v.SetDefault("progression.weak_area.recent_window", p.WeakArea.RecentWindow)

	v.SetDefault("progression.difficulty.min_level", p.Difficulty.MinLevel)
	v.SetDefault("progression.difficulty.max_level", p.Difficulty.MaxLevel)
	v.SetDefault("progression.difficulty.start_level", p.Difficulty.StartLevel)
	v.SetDefault("progression.difficulty.promote_threshold", p.Difficulty.PromoteThreshold)
	v.SetDefault("progression.difficulty.demote_threshold", p.Difficulty.DemoteThreshold)
	v.SetDefault("progression.difficulty.cooldown", p.Difficulty.Cooldown)
	v.SetDefault("progression.difficulty.promote_ratio", p.Difficulty.PromoteRatio)
	v.SetDefault("progression.difficulty.demote_ratio", p.Difficulty.DemoteRatio)
	v.SetDefault("progression.difficulty.fast_time_ratio", p.Difficulty.FastTimeRatio)
	v.SetDefault("progression.difficulty.slow_time_ratio", p.Difficulty.SlowTimeRatio)

	v.SetDefault("progression.streak.time_zone", p.Streak.TimeZone)
	v.SetDefault("progression.streak.min_multiplier_streak", p.Streak.MinMultiplierStreak)
	v.SetDefault("progression.streak.multiplier_step", p.Streak.MultiplierStep)
	v.SetDefault("progression.streak.multiplier_cap", p.Streak.MultiplierCap)
	v.SetDefault("progression.streak.recovery_grace_days", p.Streak.RecoveryGraceDays)
	v.SetDefault("progression.streak.initial_recoveries", p.Streak.InitialRecoveries)
	v.SetDefault("progression.streak.max_recoveries", p.Streak.MaxRecoveries)
	v.SetDefault("progression.streak.recovery_replenish_days", p.Streak.RecoveryReplenishDays)
	v.SetDefault("progression.streak.milestones", p.Streak.Milestones)
	v.SetDefault("progression.streak.challenge_bonus", p.Streak.ChallengeBonus)
	v.SetDefault("progression.streak.weekly_reward_base", p.Streak.WeeklyRewardBase)

	v.SetDefault("progression.leaderboard.default_limit", p.Leaderboard.DefaultLimit)
	v.SetDefault("progression.leaderboard.max_limit", p.Leaderboard.MaxLimit)
	v.SetDefault("progression.leaderboard.categories", p.Leaderboard.Categories)

	v.SetDefault("progression.jobs.leaderboard_compact_interval", p.Jobs.LeaderboardCompactInterval)
	v.SetDefault("progression.jobs.metrics_warm_interval", p.Jobs.MetricsWarmInterval)
	v.SetDefault("progression.jobs.metrics_warm_window", p.Jobs.MetricsWarmWindow)
	v.SetDefault("progression.jobs.state_idle_ttl", p.Jobs.StateIdleTTL)
	v.SetDefault("progression.realms", p.Realms)
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("CHEMQUEST")
	v.AutomaticEnv()

	setDefaults(v)

	// Database
	v.BindEnv("database.driver", "DATABASE_DRIVER")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")
	v.BindEnv("server.port", "SERVER_PORT")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects tunables that would break the engine's invariants.
func (c *Config) Validate() error {
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}

	p := c.Progression
	if p.Aggregator.WindowSize < 3 {
		return fmt.Errorf("progression.aggregator.window_size must be at least 3, got %d", p.Aggregator.WindowSize)
	}
	if p.Difficulty.MinLevel < 1 || p.Difficulty.MaxLevel < p.Difficulty.MinLevel {
		return fmt.Errorf("progression.difficulty level bounds [%d,%d] are invalid", p.Difficulty.MinLevel, p.Difficulty.MaxLevel)
	}
	if p.Difficulty.StartLevel < p.Difficulty.MinLevel || p.Difficulty.StartLevel > p.Difficulty.MaxLevel {
		return fmt.Errorf("progression.difficulty.start_level %d outside [%d,%d]", p.Difficulty.StartLevel, p.Difficulty.MinLevel, p.Difficulty.MaxLevel)
	}
	if p.Difficulty.PromoteThreshold < 1 || p.Difficulty.DemoteThreshold < 1 {
		return fmt.Errorf("progression.difficulty thresholds must be positive")
	}
	if p.Streak.MultiplierCap < 1 {
		return fmt.Errorf("progression.streak.multiplier_cap must be >= 1, got %v", p.Streak.MultiplierCap)
	}
	if p.Streak.RecoveryGraceDays < 0 {
		return fmt.Errorf("progression.streak.recovery_grace_days must not be negative")
	}
	if _, err := time.LoadLocation(p.Streak.TimeZone); err != nil {
		return fmt.Errorf("progression.streak.time_zone: %w", err)
	}
	if p.WeakArea.WeakThreshold <= 0 || p.WeakArea.WeakThreshold > 1 {
		return fmt.Errorf("progression.weak_area.weak_threshold must be in (0,1]")
	}
	return nil
}
