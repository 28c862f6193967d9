// Package worker parses valuation worker flags and launches the worker
// runtime.
package worker

import (
	"context"
	"flag"
	"time"

	entrypoint "github.com/openfund/openfund/internal/platform/cmd"
)

// Config holds worker command configuration.
type Config struct {
	DBPath            string        `env:"OPENFUND_WORKER_DB_PATH" envDefault:"data/journal.db"`
	ValuationInterval time.Duration `env:"OPENFUND_WORKER_VALUATION_INTERVAL" envDefault:"30s"`
	Assets            string        `env:"OPENFUND_WORKER_ASSETS" envDefault:"TGOLD:200000000000"`
	FundSymbol        string        `env:"OPENFUND_WORKER_FUND_SYMBOL" envDefault:"OFND"`
	ManagementFeeBps  uint          `env:"OPENFUND_WORKER_MANAGEMENT_FEE_BPS" envDefault:"100"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "The journal SQLite database path")
	fs.DurationVar(&cfg.ValuationInterval, "valuation-interval", cfg.ValuationInterval, "Mark-to-market valuation interval")
	fs.StringVar(&cfg.Assets, "assets", cfg.Assets, "Seed assets as comma-separated SYMBOL:price pairs (8-decimal USD)")
	fs.StringVar(&cfg.FundSymbol, "fund-symbol", cfg.FundSymbol, "Fund share token symbol")
	fs.UintVar(&cfg.ManagementFeeBps, "management-fee-bps", cfg.ManagementFeeBps, "Fund management fee in basis points")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the worker runtime.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWorker, func(ctx context.Context) error {
		runtime, err := buildRuntime(cfg)
		if err != nil {
			return err
		}
		defer runtime.Close()
		return runtime.Run(ctx)
	})
}
