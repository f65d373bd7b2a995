package limit

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/uhyunpark/limitorders/pkg/app/core/mempool"
)

// TxFeederConfig controls transaction generation rate
type TxFeederConfig struct {
	BatchSize   int           // Number of txs to generate per batch
	Interval    time.Duration // How often to generate batches
	NumAccounts int           // Number of simulated traders
	Assets      []string      // Tickers traded against each other
	Seed        int64
}

// DefaultFeederConfig returns reasonable defaults for a devnet
func DefaultFeederConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:   10,                     // 10 txs per batch
		Interval:    100 * time.Millisecond, // 100 tx/sec
		NumAccounts: 20,
		Assets:      []string{"USDC", "WETH"},
		Seed:        1,
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() TxFeederConfig {
	return TxFeederConfig{
		BatchSize:   100,                    // 100 txs per batch
		Interval:    100 * time.Millisecond, // 1000 tx/sec
		NumAccounts: 200,
		Assets:      []string{"USDC", "WETH", "WBTC"},
		Seed:        1,
	}
}

// StartTxFeeder starts a background goroutine that continuously feeds signed
// transactions to the app. Returns a cancel function to stop the feeder.
func StartTxFeeder(ctx context.Context, app *App, chainID int64, cfg TxFeederConfig) (context.CancelFunc, error) {
	gen, err := NewSignedTxGenerator(cfg.NumAccounts, cfg.Assets, chainID, app.Exchange(), cfg.Seed, app.Nonce)
	if err != nil {
		return nil, err
	}

	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		startTime := time.Now()
		lastReport := startTime
		totalTxs, dropped := 0, 0

		log.Printf("[txfeeder] Started - batch %d every %v, %d accounts", cfg.BatchSize, cfg.Interval, cfg.NumAccounts)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(startTime)
				log.Printf("[txfeeder] Stopped - generated %d txs in %v (%.1f tx/sec)",
					totalTxs, elapsed.Round(time.Second), float64(totalTxs)/elapsed.Seconds())
				return

			case <-ticker.C:
				for _, tx := range gen.GenerateBatch(cfg.BatchSize) {
					if _, err := app.PushTx(tx); err != nil {
						if errors.Is(err, mempool.ErrFull) {
							dropped++
							continue
						}
						log.Printf("[txfeeder] push failed: %v", err)
						continue
					}
					totalTxs++
				}

				if time.Since(lastReport) >= 10*time.Second {
					lastReport = time.Now()
					elapsed := time.Since(startTime)
					log.Printf("[txfeeder] Stats - total: %d, dropped: %d, rate: %.1f tx/sec, mempool: %d",
						totalTxs, dropped, float64(totalTxs)/elapsed.Seconds(), app.MempoolLen())
				}
			}
		}
	}()

	return cancel, nil
}
