package shared

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	HTTPAddr    string
	MetricsAddr string
	DBDriver    string
	DBDSN       string
	RedisAddr   string
	RedisDB     int
	RedisPass   string

	MaxRating       int
	RequireApproval bool
	NullsFirst      bool
	AutoMigrate     bool

	ImportWorkers        int
	ImportPagesPerSecond float64
}

// Load reads the environment, after an optional .env file in the working
// directory.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg(".env could not be read")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from any lookup function.
func FromEnv(getenv func(string) string) Config {
	env := func(k, def string) string {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return v
		}
		return def
	}
	atoi := func(k string, def int) int {
		if v := getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
			log.Warn().Str("key", k).Str("value", v).Msg("not an integer, using default")
		}
		return def
	}
	flag := func(k string, def bool) bool {
		if v := getenv(k); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
			log.Warn().Str("key", k).Str("value", v).Msg("not a boolean, using default")
		}
		return def
	}

	c := Config{
		AppEnv:          env("APP_ENV", "prod"),
		HTTPAddr:        env("HTTP_ADDR", ":8080"),
		MetricsAddr:     env("METRICS_ADDR", ":9100"),
		DBDriver:        env("DB_DRIVER", "mysql"),
		DBDSN:           env("DB_DSN", "root:root@tcp(localhost:3306)/ratings?charset=utf8mb4&loc=UTC"),
		RedisAddr:       env("REDIS_ADDR", "localhost:6379"),
		RedisPass:       env("REDIS_PASSWORD", ""),
		RedisDB:         atoi("REDIS_DB", 0),
		MaxRating:       atoi("MAX_RATING", 5),
		RequireApproval: flag("REQUIRE_APPROVAL", false),
		NullsFirst:      flag("NULLS_FIRST", false),
		AutoMigrate:     flag("AUTO_MIGRATE", true),
		ImportWorkers:   atoi("IMPORT_WORKERS", 4),
	}
	c.ImportPagesPerSecond = 20
	if v := getenv("IMPORT_PAGES_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.ImportPagesPerSecond = f
		} else {
			log.Warn().Str("value", v).Msg("IMPORT_PAGES_PER_SECOND invalid, using default")
		}
	}
	if c.MaxRating < 1 {
		log.Warn().Int("max_rating", c.MaxRating).Msg("MAX_RATING must be positive, using 5")
		c.MaxRating = 5
	}
	if c.ImportWorkers < 1 {
		c.ImportWorkers = 1
	}
	return c
}
