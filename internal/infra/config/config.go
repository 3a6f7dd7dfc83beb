package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Store struct {
		Driver   string `envconfig:"STORE_DRIVER" default:"postgres"`
		PGDSN    string `envconfig:"PG_DSN"`
		MaxConns int32  `envconfig:"PG_MAX_CONNS" default:"10"`
	} `envconfig:""`

	Cache struct {
		Driver    string        `envconfig:"CACHE_DRIVER" default:"redis"`
		RedisAddr string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
		RedisDB   int           `envconfig:"REDIS_DB" default:"0"`
		TTL       time.Duration `envconfig:"CACHE_TTL" default:"1h"`
	} `envconfig:""`

	Feed struct {
		DefaultLimit int   `envconfig:"FEED_DEFAULT_LIMIT" default:"10"`
		MaxLimit     int   `envconfig:"FEED_MAX_LIMIT" default:"100"`
		RandomSeed   int64 `envconfig:"FEED_RANDOM_SEED" default:"0"`
	} `envconfig:""`

	Auth struct {
		JWTSecret string `envconfig:"JWT_SECRET"`
	} `envconfig:""`

	Queues struct {
		Backend         string        `envconfig:"QUEUE_BACKEND" default:"redis"`
		RabbitURL       string        `envconfig:"RABBITMQ_URL"`
		Recount         string        `envconfig:"RECOUNT_QUEUE_KEY" default:"recount_jobs"`
		RecountInterval time.Duration `envconfig:"RECOUNT_INTERVAL" default:"6h"`
	} `envconfig:""`
}

// Location возвращает часовой пояс для оценки привычек зрителя.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
