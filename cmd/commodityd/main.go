// commodityd serves the USDA commodity planning API: static reference data
// lookups plus streamed model-backed calculations.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"commodityd/internal/commodity"
	"commodityd/internal/config"
	"commodityd/internal/gemini"
	"commodityd/internal/refdata"
	"commodityd/internal/server"
)

var (
	cfgPath string
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "commodityd",
	Short: "Commodity planning relay for school food programs",
	Long: `commodityd loads USDA commodity and meal pattern reference data and
exposes an HTTP API that streams model-backed allocation, compliance,
budget, and entitlement calculations over SSE.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		var err error
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		// The verbose flag wins; otherwise the config decides level and format.
		if !verbose {
			zapCfg := zap.NewProductionConfig()
			if level, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
				zapCfg.Level = level
			}
			if cfg.Logging.Format == "text" {
				zapCfg.Encoding = "console"
			}
			if rebuilt, err := zapCfg.Build(); err == nil {
				logger = rebuilt
			}
		}

		store, err := refdata.Load(cfg.Data.Dir, logger)
		if err != nil {
			return fmt.Errorf("load reference data: %w", err)
		}
		catalog := commodity.NewCatalog(store, logger)
		logger.Info("catalog ready",
			zap.Int("records", catalog.Len()),
			zap.Strings("slugs", catalog.Slugs()))

		client := gemini.NewClient(gemini.Config{
			APIKey:             cfg.Gemini.APIKey,
			BaseURL:            cfg.Gemini.BaseURL,
			Model:              cfg.Gemini.Model,
			Timeout:            cfg.GetGeminiTimeout(),
			EnableGoogleSearch: cfg.Gemini.EnableGoogleSearch,
			EnableURLContext:   cfg.Gemini.EnableURLContext,
		}, logger)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := server.New(cfg, logger, store, catalog, client)
		return srv.ListenAndServe(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultConfig()
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
