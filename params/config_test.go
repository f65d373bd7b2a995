package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_ID", "42")
	t.Setenv("BLOCK_TIME_MS", "50")
	t.Setenv("MAX_BLOCK_BYTES", "4096")
	t.Setenv("API_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CORS_ORIGINS", "https://app.example")
	t.Setenv("ENABLE_TXGEN", "true")
	t.Setenv("MEMPOOL_MAX_TXS", "not-a-number")
	t.Setenv("LOG_FILE", "")

	cfg := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))

	if cfg.Chain.ChainID != 42 || cfg.Chain.MinBlockTime != 50*time.Millisecond || cfg.Chain.MaxBlockBytes != 4096 {
		t.Errorf("chain = %+v", cfg.Chain)
	}
	if cfg.Chain.MaxMempoolTxs != Default().Chain.MaxMempoolTxs {
		t.Errorf("bad int should keep default, got %d", cfg.Chain.MaxMempoolTxs)
	}
	if cfg.API.Addr != ":9090" || len(cfg.API.CORSOrigins) != 1 {
		t.Errorf("api = %+v", cfg.API)
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %q", cfg.Events.KafkaBrokers)
	}
	if !cfg.EnableTxGen {
		t.Error("txgen not enabled")
	}
	if cfg.Log.File != "" {
		t.Errorf("empty LOG_FILE should disable the file, got %q", cfg.Log.File)
	}
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("LOG_LEVEL=debug\nDB_PATH=/tmp/lo.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// godotenv does not override variables already set.
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DB_PATH", "")
	os.Unsetenv("DB_PATH")

	cfg := LoadFromEnv(path)
	if cfg.Log.Level != "warn" {
		t.Errorf("level = %q, want warn", cfg.Log.Level)
	}
	if cfg.Storage.DBPath != "/tmp/lo.db" {
		t.Errorf("db path = %q", cfg.Storage.DBPath)
	}
	os.Unsetenv("DB_PATH")
}
