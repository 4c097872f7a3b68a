package config

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigPath names the variable consulted when -config is not given.
const EnvConfigPath = "STABLE_CONFIG"

// Load builds the configuration from defaults, the TOML file at path (if
// any), a .env file in the working directory and STABLE_* overrides. The
// result has not been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	// Missing .env is fine.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadFromFlags parses -config from args and loads.
func LoadFromFlags(fs *flag.FlagSet, args []string) (*Config, error) {
	path := fs.String("config", "", "path to TOML config (defaults to $"+EnvConfigPath+")")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return Load(*path)
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Postgres.DSN, "STABLE_POSTGRES_DSN")
	setInt(&cfg.Postgres.MaxOpenConns, "STABLE_POSTGRES_MAX_OPEN_CONNS")
	setInt(&cfg.Postgres.MaxIdleConns, "STABLE_POSTGRES_MAX_IDLE_CONNS")
	setStr(&cfg.Postgres.MigrationsDir, "STABLE_MIGRATIONS_DIR")
	setBool(&cfg.Postgres.RunMigrations, "STABLE_RUN_MIGRATIONS")

	setStr(&cfg.NATS.URL, "STABLE_NATS_URL")
	setStr(&cfg.NATS.Stream, "STABLE_NATS_STREAM")
	setStr(&cfg.NATS.ReceiptsPrefix, "STABLE_NATS_RECEIPTS_PREFIX")

	setStr(&cfg.Redis.Addr, "STABLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STABLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STABLE_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "STABLE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.ReadTTL, "STABLE_REDIS_READ_TTL")

	setStr(&cfg.Server.GRPCAddr, "STABLE_GRPC_ADDR")
	setStr(&cfg.Server.HTTPAddr, "STABLE_HTTP_ADDR")
	setStr(&cfg.Server.MetricsAddr, "STABLE_METRICS_ADDR")

	setInt(&cfg.Core.PersistChanSize, "STABLE_PERSIST_CHAN_SIZE")
	setInt(&cfg.Core.ProjectionChanSize, "STABLE_PROJECTION_CHAN_SIZE")
	setInt(&cfg.Core.IdempotencyCapacity, "STABLE_IDEMPOTENCY_LRU_CAPACITY")
	setDuration(&cfg.Core.MaxPriceAge, "STABLE_MAX_PRICE_AGE")

	setInt(&cfg.Persistence.BatchSize, "STABLE_PERSIST_BATCH_SIZE")
	setDuration(&cfg.Persistence.FlushTimeout, "STABLE_PERSIST_FLUSH_TIMEOUT")
	setInt64(&cfg.Persistence.SnapshotInterval, "STABLE_SNAPSHOT_INTERVAL")

	setUint64(&cfg.Governance.RatioScale, "STABLE_RATIO_SCALE")
	setUint64(&cfg.Governance.LiquidationBonusBps, "STABLE_LIQUIDATION_BONUS_BPS")
	setUint64(&cfg.Governance.MintFeeBps, "STABLE_MINT_FEE_BPS")

	setStr(&cfg.LogLevel, "STABLE_LOG_LEVEL")
}

// Each helper only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
