// Package config загружает конфигурацию сервиса очков ауры из переменных окружения.
// Используется envconfig для маппинга переменных окружения на поля структуры.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Драйверы хранилища и очереди
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config содержит ВСЕ настройки приложения.
type Config struct {
	// --- Database ---
	// В Docker внутри контейнера "localhost" почти всегда неправильно.
	// Дефолт ставим "postgres" (имя сервиса в docker-compose), а для локалки переопределяй DB_HOST=localhost.
	DBHost     string `envconfig:"DB_HOST" default:"postgres"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"aura"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"aura_points"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxConns int32  `envconfig:"DB_MAX_CONNS" default:"25"`
	DBMinConns int32  `envconfig:"DB_MIN_CONNS" default:"5"`

	// --- Redis (очередь отложенных начислений и прогресс квестов) ---
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"redis:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// --- Application ---
	AppEnv      string `envconfig:"APP_ENV" default:"development"`
	AppLogLevel string `envconfig:"APP_LOG_LEVEL" default:"debug"`
	// Если задан — логи дублируются в файл с ротацией
	AppLogPath  string `envconfig:"APP_LOG_PATH"`
	AppTimezone string `envconfig:"APP_TIMEZONE" default:"Europe/Moscow"`

	// --- Drivers ---
	// memory — для локальной разработки без PostgreSQL/Redis
	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	QueueDriver string `envconfig:"QUEUE_DRIVER" default:"redis"`

	// --- HTTP ---
	HTTPAddr           string        `envconfig:"HTTP_ADDR" default:":8080"`
	HTTPRequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"10s"`
	// "*" — любой источник, иначе список через запятую
	HTTPAllowedOrigins []string      `envconfig:"HTTP_ALLOWED_ORIGINS" default:"*"`

	// --- Rate Limiting ---
	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`

	// --- Aura ---
	AuraDailyPointCeiling int64          `envconfig:"AURA_DAILY_POINT_CEILING" default:"200"`
	// Формат: "journal_entry:5,social_post:10"
	AuraCapOverridesRaw   string         `envconfig:"AURA_CAP_OVERRIDES"`
	AuraCapOverrides      map[string]int `envconfig:"-"` // заполним вручную
	AuraQueueKey          string         `envconfig:"AURA_QUEUE_KEY" default:"aura:followon"`
	AuraFollowOnWorkers   int            `envconfig:"AURA_FOLLOWON_WORKERS" default:"2"`

	// --- Feature Flags ---
	FeatureProgressObserver bool `envconfig:"FEATURE_PROGRESS_OBSERVER" default:"true"`
}

// DatabaseDSN возвращает строку подключения к PostgreSQL в формате DSN.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER должен быть postgres или memory, получено %q", c.StoreDriver)
	}
	switch c.QueueDriver {
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("QUEUE_DRIVER должен быть redis или memory, получено %q", c.QueueDriver)
	}
	if c.StoreDriver == DriverPostgres {
		if c.DBPassword == "" {
			return fmt.Errorf("DB_PASSWORD обязателен для STORE_DRIVER=postgres")
		}
		if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
			return fmt.Errorf("некорректные DB_MIN_CONNS/DB_MAX_CONNS")
		}
	}
	if c.AuraDailyPointCeiling <= 0 {
		return fmt.Errorf("AURA_DAILY_POINT_CEILING должен быть > 0")
	}
	if c.AuraFollowOnWorkers <= 0 {
		return fmt.Errorf("AURA_FOLLOWON_WORKERS должен быть > 0")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE должен быть > 0")
	}
	return nil
}

// Load читает переменные окружения и заполняет структуру Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось загрузить конфигурацию: %w", err)
	}

	overrides, err := parseCapOverrides(cfg.AuraCapOverridesRaw)
	if err != nil {
		return nil, fmt.Errorf("AURA_CAP_OVERRIDES parse: %w", err)
	}
	cfg.AuraCapOverrides = overrides

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseCapOverrides(s string) (map[string]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make(map[string]int, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kind, raw, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("bad pair %q, want kind:cap", p)
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("bad cap %q: %w", raw, err)
		}
		if v <= 0 {
			return nil, fmt.Errorf("cap for %q must be > 0", kind)
		}
		out[strings.TrimSpace(kind)] = v
	}
	return out, nil
}
