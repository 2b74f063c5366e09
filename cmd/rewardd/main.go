package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "rewardd",
		Short:        "Multi-pool reward accrual ledger",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay vault share transfers from chain into the reward ledger",
		RunE:  runSync,
	}

	syncCmd.Flags().String("rpc", "", "RPC URL")
	syncCmd.Flags().Uint64("from", 0, "start block (inclusive)")
	syncCmd.Flags().Uint64("to", 0, "end block (inclusive), 0 means latest")
	syncCmd.Flags().StringSlice("admin", nil, "admin addresses (comma-separated)")
	syncCmd.Flags().StringSlice("pool", nil, "pools as id:vault:decimals:rate (repeatable)")
	syncCmd.Flags().Uint64("batch-size", 2000, "blocks per batch")
	syncCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	syncCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	syncCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	syncCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	syncCmd.Flags().String("listen", "", "serve the read API on this address while syncing")
	syncCmd.Flags().StringSlice("cors", nil, "allowed CORS origins for the read API")
	addStoreFlags(syncCmd)
	syncCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(syncCmd)

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Replay a YAML scenario against an in-memory ledger",
		RunE:  runSimulate,
	}

	simulateCmd.Flags().String("scenario", "", "scenario YAML file")
	simulateCmd.Flags().String("out", "", "report JSON path, stdout when empty")
	addStoreFlags(simulateCmd)
	simulateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(simulateCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve earned and pending views from the stored ledger",
		RunE:  runServe,
	}

	serveCmd.Flags().String("rpc", "", "optional RPC URL for share token reads")
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().StringSlice("cors", nil, "allowed CORS origins")
	serveCmd.Flags().Duration("reload", 30*time.Second, "ledger reload interval, 0 disables")
	serveCmd.Flags().StringSlice("admin", nil, "admin addresses (comma-separated)")
	serveCmd.Flags().StringSlice("pool", nil, "pools as id:vault:decimals:rate (repeatable)")
	addStoreFlags(serveCmd)
	serveCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", "file", "snapshot store (file, sqlite, postgres, none)")
	cmd.Flags().String("store-path", "./data/ledger.json", "snapshot file or sqlite database path")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("ledger-name", "default", "ledger name in Postgres")
	cmd.Flags().String("events", "", "optional JSONL path for ledger events")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
