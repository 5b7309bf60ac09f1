// Package config loads the pipeline tuning knobs from the environment.
package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		// CacheDir roots the disk tile cache. Empty selects the user cache
		// directory.
		CacheDir string `env:"CACHE_DIR"`
		// Store selects the byte store backend.
		Store string `env:"STORE" envDefault:"disk"`

		ParallelRequests    int           `env:"PARALLEL_REQUESTS" envDefault:"4"`
		MaxTileLevel        uint32        `env:"MAX_TILE_LEVEL" envDefault:"18"`
		MaxPixelsPerTile    int           `env:"MAX_PIXELS_PER_TILE" envDefault:"256"`
		SpeculativeTileLoad bool          `env:"SPECULATIVE_TILE_LOAD" envDefault:"false"`
		LazyUIRefresh       bool          `env:"LAZY_UI_REFRESH" envDefault:"false"`
		MemBudgetBytes      int64         `env:"MEM_BUDGET_BYTES" envDefault:"268435456"`
		FailCooldown        time.Duration `env:"FAIL_COOLDOWN" envDefault:"30s"`
		RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
		SinkDepth           int           `env:"SINK_DEPTH" envDefault:"64"`

		Logger Logger `envPrefix:"LOGGER_"`
		Redis  Redis  `envPrefix:"REDIS_"`
		SQLite SQLite `envPrefix:"SQLITE_"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD" envDefault:""`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}

	SQLite struct {
		Path string `env:"PATH" envDefault:"tiles.db"`
	}
)

// New reads the configuration from the environment, after loading a .env
// file when one is present. All variables carry the RIDEMAP_ prefix.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "RIDEMAP_"})
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
