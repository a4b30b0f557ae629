package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/civicworks/complaint-forecast/internal/config"
	"github.com/civicworks/complaint-forecast/internal/ingest"
	"github.com/civicworks/complaint-forecast/internal/precompute"
	"github.com/civicworks/complaint-forecast/internal/store"
	"github.com/civicworks/complaint-forecast/internal/utils"
)

var (
	flagConfig  string
	flagRecords string
	flagTable   string
	flagStore   string
)

var rootCmd = &cobra.Command{
	Use:   "forecast-precompute",
	Short: "Materialize the monthly complaint aggregation tables",
	Long: "Rebuilds the monthly volume and severity aggregation tables from the " +
		"raw complaint records, fully overwriting any prior precompute output.",
	RunE: run,

	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Path to configuration file")
	rootCmd.Flags().StringVar(&flagRecords, "records", "", "Records source (CSV file or sqlite database), overrides config")
	rootCmd.Flags().StringVar(&flagTable, "table", "", "Records table name for sqlite sources, overrides config")
	rootCmd.Flags().StringVar(&flagStore, "store", "", "Aggregate store path, overrides config")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagRecords != "" {
		cfg.Data.RecordsPath = flagRecords
	}
	if flagTable != "" {
		cfg.Data.RecordsTable = flagTable
	}
	if flagStore != "" {
		cfg.Data.StorePath = flagStore
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	ctx := cmd.Context()

	records, err := ingest.Load(ctx, cfg.Data, logger)
	if err != nil {
		return err
	}

	aggregates, err := store.Open(cfg.Data.StorePath)
	if err != nil {
		return err
	}
	defer aggregates.Close()

	stats, err := precompute.NewRunner(aggregates, logger).Run(ctx, records)
	if err != nil {
		return err
	}

	logger.Info("precompute finished",
		slog.Int("records", stats.Records),
		slog.Duration("duration", stats.Duration))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
