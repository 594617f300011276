package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/trendpulse/internal/config"
	"github.com/TobiSchelling/trendpulse/internal/database"
	"github.com/TobiSchelling/trendpulse/internal/history"
	"github.com/TobiSchelling/trendpulse/internal/llm"
	"github.com/TobiSchelling/trendpulse/internal/logging"
	"github.com/TobiSchelling/trendpulse/internal/refresh"
	"github.com/TobiSchelling/trendpulse/internal/tokens"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "trendpulse",
	Short:        "Recurring research summaries on the topics you follow",
	Long:         "trendpulse refreshes topic streams on a schedule, asking a search API only for what changed since the last summary.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			setupLogging("info")
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		setupLogging(cfg.Logging.Level)
		return nil
	},
}

func setupLogging(level string) {
	if verbose {
		level = "debug"
	}
	slog.SetDefault(logging.New(level, os.Stderr))
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(summariesCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(backfillCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("trendpulse", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/trendpulse/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Export your API key as PERPLEXITY_API_KEY, then add a stream with: trendpulse streams add")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and stream status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := cmd.Context()
		stats, err := db.GetStats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		streams, err := db.ListStreams(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Database: %s\n", db.Path())
		if cfg.APIKey() == "" {
			fmt.Printf("API key: not set (export %s)\n", cfg.API.APIKeyEnv)
		} else {
			fmt.Println("API key: configured")
		}
		fmt.Println("\nStreams:")
		fmt.Printf("  Total: %d\n", stats.Streams)
		fmt.Printf("  Refreshed at least once: %d\n", stats.RefreshedStreams)
		fmt.Println("\nSummaries:")
		fmt.Printf("  Total: %d\n", stats.Summaries)
		fmt.Printf("  API tokens used: %d\n", stats.TotalTokens)
		fmt.Printf("  Estimated content tokens: %d\n", stats.EstimatedContentTokens)

		if len(streams) > 0 {
			fmt.Println("\nLast refresh:")
			for _, st := range streams {
				fmt.Printf("  [%d] %-40s %s\n", st.ID, truncate(st.Query, 40), lastUpdated(st))
			}
		}
		return nil
	},
}

func openDB() (*database.DB, error) {
	return database.Open(cfg.DBPath())
}

// newClient builds the search client from the loaded config.
func newClient() (*llm.Client, error) {
	settings, err := apiSettings(cfg)
	if err != nil {
		return nil, err
	}
	client := llm.NewClient(settings)
	if !client.IsConfigured() {
		return nil, fmt.Errorf("API key not set; export %s", cfg.API.APIKeyEnv)
	}
	return client, nil
}

// newRefresher wires a Refresher to db and the search client.
func newRefresher(db *database.DB) (*refresh.Refresher, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}

	assembler := history.New(tokens.Default())
	assembler.TokenCap = cfg.Context.TokenCap
	assembler.MinFragmentTokens = cfg.Context.MinFragmentTokens
	assembler.AllWithinBudgetFetch = cfg.Context.AllWithinBudgetFetch
	if cfg.Context.Separator != "" {
		assembler.Separator = cfg.Context.Separator
	}

	r := refresh.New(refresh.SessionOpener(db), client, assembler)
	r.MaxAttempts = cfg.Refresh.MaxAttempts
	r.RetryDelay = cfg.Refresh.RetryDelay
	r.KeepSummaries = cfg.Refresh.KeepSummaries
	return r, nil
}

func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s ID: %s", kind, s)
	}
	return id, nil
}

func lastUpdated(st database.Stream) string {
	if st.LastUpdated == nil {
		return "never"
	}
	return st.LastUpdated.Local().Format("2006-01-02 15:04")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
