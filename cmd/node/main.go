package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitorders/params"
	"github.com/uhyunpark/limitorders/pkg/abci"
	"github.com/uhyunpark/limitorders/pkg/api"
	"github.com/uhyunpark/limitorders/pkg/app/limit"
	"github.com/uhyunpark/limitorders/pkg/events"
	"github.com/uhyunpark/limitorders/pkg/metrics"
	"github.com/uhyunpark/limitorders/pkg/storage"
	"github.com/uhyunpark/limitorders/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Log.File != "" {
		logger, err = util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Metrics ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(cfg.Storage.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Storage.DBPath, "err", err)
	}
	defer store.Close()

	var wal storage.WAL = storage.NewNopWAL()
	if cfg.Storage.WALPath != "" {
		fw, err := storage.NewFileWAL(cfg.Storage.WALPath)
		if err != nil {
			sugar.Fatalw("wal_open_failed", "path", cfg.Storage.WALPath, "err", err)
		}
		defer fw.Close()
		wal = fw
	}

	// ---- Events ----
	var pub events.Publisher = events.NopPublisher{}
	if len(cfg.Events.KafkaBrokers) > 0 {
		pub = events.NewKafkaPublisher(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic)
		sugar.Infow("kafka_publisher_enabled", "brokers", cfg.Events.KafkaBrokers, "topic", cfg.Events.KafkaTopic)
	}
	defer pub.Close()

	// ---- App ----
	app, err := limit.NewApp(limit.Options{
		ChainID:       cfg.Chain.ChainID,
		MaxMempoolTxs: cfg.Chain.MaxMempoolTxs,
		Store:         store,
		Logger:        sugar,
		Metrics:       m,
		Publisher:     pub,
	})
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Options{
		Metrics:     m,
		CORSOrigins: cfg.API.CORSOrigins,
		TxLogPath:   cfg.API.TxLogPath,
	})
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.Addr)
		if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if cfg.EnableTxGen {
		txCfg := limit.DefaultFeederConfig()
		if os.Getenv("TXGEN_MODE") == "high" {
			txCfg = limit.HighLoadConfig()
		}
		cancelFeeder, err := limit.StartTxFeeder(ctx, app, cfg.Chain.ChainID, txCfg)
		if err != nil {
			sugar.Fatalw("txgen_failed", "err", err)
		}
		defer cancelFeeder()
		sugar.Infow("txgen_enabled", "batch", txCfg.BatchSize, "interval_ms", txCfg.Interval.Milliseconds(), "accounts", txCfg.NumAccounts)
	} else {
		sugar.Info("txgen_disabled")
	}

	// ---- Block production ----
	head := app.Head()
	if cfg.Storage.WALPath != "" {
		last, ok, err := storage.LastCommit(cfg.Storage.WALPath)
		switch {
		case err != nil:
			sugar.Warnw("commit_log_unreadable", "path", cfg.Storage.WALPath, "err", err)
		case ok && (last.Height != head.Height || last.AppHash != head.AppHash):
			sugar.Warnw("commit_log_mismatch",
				"log_height", last.Height,
				"log_apphash", last.AppHash.Hex(),
				"store_height", head.Height,
				"store_apphash", head.AppHash.Hex())
		}
	}
	producer := abci.NewProducer(app, head.Height)
	producer.MinBlockTime = cfg.Chain.MinBlockTime
	producer.MaxTxBytes = cfg.Chain.MaxBlockBytes
	producer.SkipEmpty = cfg.Chain.SkipEmpty
	producer.Logger = sugar
	producer.WAL = wal

	// Log every N blocks to reduce noise
	const logInterval = 100
	producer.OnCommit = func(height int64, resp abci.ResponseFinalizeBlock) {
		if height%logInterval == 0 || height <= 5 {
			sugar.Infow("chain_progress", "height", height, "txs", len(resp.TxResults), "apphash", resp.AppHash.Hex())
		}
	}

	sugar.Infow("node_starting",
		"chain_id", cfg.Chain.ChainID,
		"height", head.Height,
		"apphash", head.AppHash.Hex(),
		"min_block_time_ms", cfg.Chain.MinBlockTime.Milliseconds(),
		"db", cfg.Storage.DBPath)

	if err := producer.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Errorw("producer_failed", "height", producer.Height(), "err", err)
		// Memory may be ahead of disk; restart restores the last committed block.
		os.Exit(1)
	}
	sugar.Infow("node_stopped", "height", producer.Height())
}
