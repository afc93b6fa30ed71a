package config

import (
	"log"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv        string `env:"APP_ENV,notEmpty"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	PostgresDSN   string `env:"POSTGRES_DSN,notEmpty"`
	RedisAddr     string `env:"REDIS_ADDR,notEmpty"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	MediaBaseURL  string `env:"MEDIA_BASE_URL"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	WorkerSlots   int    `env:"WORKER_SLOTS" envDefault:"4"`

	// adapter endpoint overrides, used by self-hosted setups and tests
	BlueskyURL   string `env:"BLUESKY_URL"`
	ThreadsURL   string `env:"THREADS_URL"`
	FacebookURL  string `env:"FACEBOOK_URL"`
	InstagramURL string `env:"INSTAGRAM_URL"`
	TumblrURL    string `env:"TUMBLR_URL"`
}

func Load() Config {
	var c Config
	if err := env.Parse(&c); err != nil {
		log.Fatal(err)
	}
	return c
}
