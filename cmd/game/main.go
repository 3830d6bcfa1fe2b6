package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tatianab/trainer-tales/internal/config"
	"github.com/tatianab/trainer-tales/internal/logging"
)

var (
	// Global flags
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "game",
	Short: "Trainer Tales, a Pokémon text adventure",
	Long: `Trainer Tales runs a Pokémon text adventure over a persistent session
document. Narration comes from a language model; saving, seeding, encounters
and progression are deterministic.

Run without arguments to play in the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return err
		}
		// The terminal UI owns stdout, so play logs to a file.
		if !cmd.HasParent() || cmd.Name() == "play" {
			logger, err = logging.ToFile(filepath.Join(cfg.SaveDir, "game.log"), cfg.LogLevel, verbose)
		} else {
			logger, err = logging.New(cfg.LogLevel, cfg.LogFormat, verbose)
		}
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runPlay,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(campaignCmd)
	rootCmd.AddCommand(dexCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
