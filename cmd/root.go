package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sheetpipe/sheetpipe/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sheetpipe",
	Short: "Spreadsheet-to-table extraction pipeline",
	Long:  "Ingests uploaded spreadsheets, infers their logical tables with Claude, extracts typed columnar output, validates it, and publishes a queryable catalog.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
