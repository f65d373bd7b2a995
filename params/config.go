package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Chain struct {
	ChainID int64
	// MinBlockTime throttles block production so an idle devnet does not spin
	// out empty blocks.
	//
	// Recommended values:
	//   - Devnet:     200ms
	//   - Load tests: 50ms
	MinBlockTime  time.Duration
	MaxBlockBytes int64
	MaxMempoolTxs int
	SkipEmpty     bool
}

type Storage struct {
	DBPath  string
	WALPath string // empty disables the commit log
}

type API struct {
	Addr        string
	CORSOrigins []string
	TxLogPath   string
}

type Log struct {
	File  string
	Level string
}

type Events struct {
	KafkaBrokers []string // empty disables publishing
	KafkaTopic   string
}

type Config struct {
	Chain       Chain
	Storage     Storage
	API         API
	Log         Log
	Events      Events
	EnableTxGen bool
}

func Default() Config {
	return Config{
		Chain: Chain{
			ChainID:       1337,
			MinBlockTime:  200 * time.Millisecond,
			MaxBlockBytes: 1 << 20,
			MaxMempoolTxs: 50_000,
			SkipEmpty:     true,
		},
		Storage: Storage{
			DBPath:  "data/limitorders.db",
			WALPath: "data/commits.log",
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Log: Log{
			File:  "data/node.log",
			Level: "info",
		},
		Events: Events{
			KafkaTopic: "limitorders.events",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v, ok := envInt("CHAIN_ID"); ok {
		cfg.Chain.ChainID = int64(v)
	}
	if v, ok := envInt("BLOCK_TIME_MS"); ok {
		cfg.Chain.MinBlockTime = time.Duration(v) * time.Millisecond
	}
	if v, ok := envInt("MAX_BLOCK_BYTES"); ok {
		cfg.Chain.MaxBlockBytes = int64(v)
	}
	if v, ok := envInt("MEMPOOL_MAX_TXS"); ok {
		cfg.Chain.MaxMempoolTxs = v
	}
	if v := os.Getenv("SKIP_EMPTY_BLOCKS"); v != "" {
		cfg.Chain.SkipEmpty = v == "true"
	}

	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.WALPath = getEnv("WAL_FILE", cfg.Storage.WALPath)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.TxLogPath = getEnv("TX_LOG_FILE", cfg.API.TxLogPath)
	if v := splitList(os.Getenv("CORS_ORIGINS")); len(v) > 0 {
		cfg.API.CORSOrigins = v
	}

	// LOG_FILE set but empty logs to stdout only
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.Log.File = v
	}
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)

	cfg.Events.KafkaBrokers = splitList(os.Getenv("KAFKA_BROKERS"))
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	cfg.EnableTxGen = os.Getenv("ENABLE_TXGEN") == "true"
	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envInt parses key as an int. Unset or unparsable values are ignored.
func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
