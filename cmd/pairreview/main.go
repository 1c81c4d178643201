// Package main is the entry point for the pair-review application.
// pair-review is a local-first AI code review service: it serves review
// sessions over HTTP on localhost and orchestrates AI CLI backends against
// the working tree of a git repository.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pairreview/pairreview/consts"
	"github.com/pairreview/pairreview/internal/config"
	"github.com/pairreview/pairreview/internal/database"
	"github.com/pairreview/pairreview/internal/provider"
	"github.com/pairreview/pairreview/internal/server"
	"github.com/pairreview/pairreview/internal/store"
	"github.com/pairreview/pairreview/pkg/logger"
	"github.com/pairreview/pairreview/pkg/telemetry"
)

// Build information - set via ldflags during build
// These variables are linked to consts package for global access
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// init synchronizes build info to consts package for global access
func init() {
	consts.Version = Version
	consts.BuildTime = BuildTime
	consts.GitCommit = GitCommit
}

// configPath holds the path to the configuration file
var configPath string

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "pairreview",
	Short: "pair-review - Local AI Code Review Service",
	Long: `pair-review is a local-first code review service. It captures the diff of
a working tree, lets you annotate it, and orchestrates AI CLI backends to
review the change alongside you.`,
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pair-review server",
	Long: `Start the HTTP server on localhost.

The server stores its state under the user data directory and talks to
AI provider CLIs installed on this machine. Run 'pairreview check' to see
which providers are available.`,
	Run: runServe,
}

// checkCmd reports which AI provider CLIs are usable on this machine
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check AI provider availability",
	Run:   runCheck,
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", consts.ProjectName, Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
	},
}

func init() {
	// Disable auto-generated completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: ~/.pair-review/config.yaml)")

	// Add commands
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)

	// Serve command flags
	serveCmd.Flags().String("host", "", "server host (overrides config)")
	serveCmd.Flags().Int("port", 0, "server port (overrides config)")
	serveCmd.Flags().Bool("debug", false, "enable debug mode")
	serveCmd.Flags().Bool("yolo", false, "run provider CLIs without the conservative tool allow-list")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration from the --config path, or from the
// default location when no path is given
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault()
}

// runServe starts the pair-review server
func runServe(cmd *cobra.Command, args []string) {
	// Record server start time
	consts.SetStartedAt(time.Now())

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override config with command line flags
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Port = port
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Debug = true
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	}
	if yolo, _ := cmd.Flags().GetBool("yolo"); yolo {
		cfg.Yolo = true
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting "+consts.ProjectName,
		zap.String("version", Version),
	)

	// Initialize telemetry (OpenTelemetry traces and metrics)
	tel, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			logger.Error("Failed to shutdown telemetry", zap.Error(err))
		}
	}()

	// Initialize database
	if err := database.Init(); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer database.Close()

	// Create store instance for dependency injection
	dataStore := store.NewStore(database.Get())

	// Create and start the server
	srv := server.New(cfg, dataStore)
	if err := srv.Start(); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}

	printBanner(cfg)

	// Block until a shutdown signal arrives
	srv.WaitForShutdown()
}

// printBanner prints the startup banner to the terminal. Logging goes to the
// structured logger; the banner is for the human who just launched the tool.
func printBanner(cfg *config.Config) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	bold.Printf("  %s %s\n", consts.ProjectName, consts.Version)
	fmt.Printf("  Listening on ")
	cyan.Printf("http://%s\n", cfg.Address())
	if cfg.Yolo {
		color.New(color.FgYellow).Println("  Yolo mode: provider tool restrictions disabled")
	}
	fmt.Println()
}

// runCheck prints the provider catalog with availability markers
func runCheck(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	registry := provider.NewRegistry(cfg)

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	fmt.Printf("%s provider check\n\n", consts.ProjectName)
	anyAvailable := false
	for _, def := range registry.List() {
		if def.Available() {
			anyAvailable = true
			green.Printf("  ✓ %s\n", def.ID)
			for _, m := range def.Models {
				marker := " "
				if m.Default {
					marker = "*"
				}
				faint.Printf("    %s %s (%s)\n", marker, m.ID, m.Tier)
			}
		} else {
			red.Printf("  ✗ %s\n", def.ID)
			if def.InstallInstructions != "" {
				faint.Printf("      %s\n", def.InstallInstructions)
			}
		}
	}
	fmt.Println()
	if !anyAvailable {
		fmt.Println("No provider CLIs found on PATH. Install at least one to run analyses.")
		os.Exit(1)
	}
}
