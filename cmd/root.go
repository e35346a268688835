package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/touchlink/gateway/internal/application"
	"github.com/touchlink/gateway/internal/config"
	"github.com/touchlink/gateway/internal/logger"
	"go.uber.org/zap"

	"github.com/spf13/cobra"
)

var (
	cfgFile string         // Path to custom config file (optional)
	cfg     *config.Config // Global reference to loaded configuration
)

// rootCmd defines the main CLI command for the gateway
var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Touchlink gateway is a realtime device session and command router",
	Long:  `Realtime WebSocket gateway routing commands, presence and audio sessions between user apps and their paired devices.`,
	Example: `
  gateway start --ws-addr :8080
  gateway start --log-level debug --metrics-port 9090
  gateway start --config /path/to/config.yaml`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version command
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile, nil)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		// Override config with command line flags if specified
		flags := cmd.Flags()
		if flags.Changed("gateway-name") {
			cfg.Gateway.Name, _ = flags.GetString("gateway-name")
		}
		if flags.Changed("ws-addr") {
			cfg.Gateway.WSAddr, _ = flags.GetString("ws-addr")
		}
		if flags.Changed("db-host") {
			cfg.Database.Server, _ = flags.GetString("db-host")
		}
		if flags.Changed("db-port") {
			cfg.Database.Port, _ = flags.GetInt("db-port")
		}
		if flags.Changed("metrics-port") {
			portStr, _ := flags.GetString("metrics-port")
			cfg.Metrics.Port, _ = strconv.Atoi(portStr)
		}
		if flags.Changed("log-level") {
			cfg.Logging.Level, _ = flags.GetString("log-level")
			if err := logger.UpdateLevel(cfg.Logging.Level); err != nil {
				return fmt.Errorf("invalid log level: %v", err)
			}
		}

		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		// Default behavior: show help when no subcommand is provided
		if err := cmd.Help(); err != nil {
			fmt.Fprintf(os.Stderr, "Error displaying help: %v\n", err)
		}
	},
}

// Execute runs the root command with the provided context
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init is automatically called before main(), sets up flags
func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to custom config file (optional)")

	rootCmd.PersistentFlags().String("gateway-name", "", "Name of the gateway (max 30 chars)")
	rootCmd.PersistentFlags().String("ws-addr", "", "WebSocket listen address (host:port)")
	rootCmd.PersistentFlags().String("db-host", "localhost", "Telemetry database host")
	rootCmd.PersistentFlags().IntP("db-port", "", 5432, "Telemetry database port")
	rootCmd.PersistentFlags().String("log-level", "info", "Logging level (debug, info, warn, error, fatal)")
	rootCmd.PersistentFlags().String("log-file", "", "Path to the log file")
	rootCmd.PersistentFlags().String("log-format", "console", "Log output format (console or json)")
	rootCmd.PersistentFlags().String("metrics-port", "8181", "Port for Prometheus metrics server")

	// A simple version subcommand
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version number of the gateway",
		Long:  "Print the version number of the gateway along with build information",
		Run: func(cmd *cobra.Command, args []string) {
			if detailed, _ := cmd.Flags().GetBool("detailed"); detailed {
				fmt.Println(GetFullVersionInfo())
			} else {
				fmt.Println(GetVersionWithPrefix())
			}
		},
	}
	versionCmd.Flags().BoolP("detailed", "d", false, "Show detailed version information")
	rootCmd.AddCommand(versionCmd)

	// Add start subcommand
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the gateway server",
		Long:  "Start the gateway server with the specified configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfgFile, _ = cmd.Flags().GetString("config")
			if cfgFile != "" {
				absPath, err := filepath.Abs(cfgFile)
				if err != nil {
					logger.Error("Failed to resolve absolute path for config", zap.Error(err))
					os.Exit(1)
				}
				cfgFile = absPath
				logger.Info("Using config file", zap.String("config_file", cfgFile))
			}

			ctx := cmd.Context()

			logger.Info("Starting gateway...")
			app, err := application.New(ctx, cfg)
			if err != nil {
				logger.Error("Failed to initialize the gateway", zap.Error(err))
				os.Exit(1)
			}

			// Graceful shutdown on signal
			go func() {
				<-ctx.Done()
				app.Shutdown()
			}()

			if err := app.Start(); err != nil {
				logger.Error("Gateway server error", zap.Error(err))
				os.Exit(1)
			}

			logger.Info("Gateway has shut down successfully.")
		},
	}

	rootCmd.AddCommand(startCmd)
}
