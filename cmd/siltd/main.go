package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	siltdb "github.com/oarkflow/siltdb"
	"github.com/oarkflow/siltdb/protocol"
)

// getDBPath resolves the data directory: flag > env > default, mirroring
// the teacher's cmd/velocity/main.go getDBPath.
func getDBPath(c *cli.Command) string {
	if c.IsSet("db-path") {
		return c.String("db-path")
	}
	if p := os.Getenv("SILTDB_PATH"); p != "" {
		return p
	}
	return c.String("db-path")
}

func main() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	app := &cli.Command{
		Name:    "siltd",
		Usage:   "siltdb embedded storage engine server",
		Version: "1.0.0",

		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db-path", Aliases: []string{"d"}, Usage: "database directory", Value: filepath.Join(home, ".siltdb")},
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "listen address", Value: "127.0.0.1:7777"},
			&cli.IntFlag{Name: "memtable-size-mb", Usage: "memtable flush threshold in MiB", Value: 32},
			&cli.IntFlag{Name: "cache-size", Usage: "decoded-record cache capacity", Value: 10000},
			&cli.FloatFlag{Name: "bloom-fp-rate", Usage: "target bloom filter false positive rate", Value: 0.01},
			&cli.BoolFlag{Name: "compress", Usage: "enable flate compression of SST values", Value: false},
			&cli.IntFlag{Name: "rate-limit-ops", Usage: "per-connection token bucket refill rate (R_conn, ops/s)", Value: 16},
			&cli.IntFlag{Name: "rate-limit-burst", Usage: "per-connection token bucket capacity (B_conn)", Value: 64},
			&cli.StringFlag{Name: "user", Usage: "bootstrap username", Value: "admin"},
			&cli.StringFlag{Name: "password", Usage: "bootstrap password", Value: "admin"},
		},

		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := siltdb.DefaultConfig(getDBPath(c))
			cfg.MaxMemtableSize = int64(c.Int("memtable-size-mb")) * 1024 * 1024
			cfg.CacheSize = int(c.Int("cache-size"))
			cfg.BloomFalsePositiveRate = c.Float("bloom-fp-rate")
			cfg.EnableCompression = c.Bool("compress")
			cfg.RateLimitOpsPerSec = int(c.Int("rate-limit-ops"))
			cfg.RateLimitBurst = int(c.Int("rate-limit-burst"))

			engine, err := siltdb.Open(cfg)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer engine.Close()

			creds := protocol.NewCredentialsTable()
			if err := creds.SetPassword(c.String("user"), c.String("password")); err != nil {
				return fmt.Errorf("failed to set bootstrap credentials: %w", err)
			}

			server := protocol.NewServerWithRateLimit(engine, creds, "siltd-1", cfg.RateLimitOpsPerSec, cfg.RateLimitBurst)
			log.Printf("siltdb listening on %s (data: %s)", c.String("listen"), cfg.Dir)
			return server.ListenAndServe(c.String("listen"))
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
