package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mvonrenteln/FlowScribe-sub000/internal/config"
	"github.com/mvonrenteln/FlowScribe-sub000/internal/logging"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flowscribe",
	Short: "FlowScribe - structured LLM output toolkit",
	Long: `FlowScribe turns unreliable LLM text into validated structured data.

It extracts JSON from prose and code fences, repairs common syntax damage,
validates against a schema with type coercion, and recovers complete
elements from truncated arrays. The batch commands schedule many items with
bounded concurrency while keeping results in input order.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.Build(level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "flowscribe.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
