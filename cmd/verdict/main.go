package main

import (
	"fmt"
	"os"

	"github.com/cmwaters/verdict/internal/config"
	"github.com/cmwaters/verdict/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
)

const (
	programName = "verdict"
)

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func commonRun() zerolog.Logger {
	level := zerolog.InfoLevel
	if globalFlags.debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("component", programName).Logger()
	// Configure max processes with our logger wrapper, toss undo func
	_, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		logger.Info().Msgf(format, v...)
	}))
	if err != nil {
		logger.Fatal().Err(err).Msg("setting GOMAXPROCS")
	}
	logger.Info().Str("version", version.GetVersionString()).Msg("starting")
	return logger
}

func main() {
	rootCmd := &cobra.Command{
		Use:   programName,
		Short: "Deadline-bound voting engine that dispatches accepted calls",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				fmt.Fprintln(os.Stderr, "no config found in context")
				os.Exit(1)
			}
			serveRun(cmd, args, cfg)
		},
	}

	// Global flags
	rootCmd.PersistentFlags().
		BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	rootCmd.PersistentFlags().
		StringVar(&configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		String("store", "", "store plugin to use, one of memory, sqlite, postgres or badger")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// Override config with command line flags
		if store, _ := cmd.Root().PersistentFlags().GetString("store"); store != "" {
			cfg.StorePlugin = store
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		cmd.SetContext(config.WithContext(cmd.Context(), cfg))
		return nil
	}

	// Subcommands
	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(encodeCommand())
	rootCmd.AddCommand(inspectCommand())
	rootCmd.AddCommand(versionCommand())

	// Execute cobra command
	if err := rootCmd.Execute(); err != nil {
		// NOTE: we purposely don't display the error, since cobra will have already displayed it
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.GetVersionString())
		},
	}
}
