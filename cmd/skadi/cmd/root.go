/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ssargent/skadidb/pkg/config"
	"github.com/ssargent/skadidb/pkg/status"
	"github.com/ssargent/skadidb/pkg/store"
)

// NewRootCmd builds the skadi command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skadi",
		Short: "SkadiDB - Embeddable KV Store",
		Long: `SkadiDB is an embeddable key-value store with fixed-size keys,
merge-based updates and ordered iteration.`,
		Version:       store.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Config file (default "+config.GetDefaultConfigPath()+")")
	flags.StringP("path", "d", "", "Directory backing the store")
	flags.String("cache-size", "", "Cache budget, e.g. 64MiB")
	flags.String("disk-size", "", "Device budget, e.g. 1GiB")
	flags.Int("key-size", 0, "Maximum key size in bytes")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newCreateCmd(),
		newPutCmd(),
		newUpdateCmd(),
		newDeleteCmd(),
		newGetCmd(),
		newScanCmd(),
		newStatsCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// Execute runs the CLI. This is called by main.main().
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(status.Code(err))
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
// An explicit --config must exist; the default path is optional.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	explicit := configPath != ""
	if !explicit {
		configPath = config.GetDefaultConfigPath()
	}

	cfg := config.DefaultConfig()
	if explicit || config.ConfigExists(configPath) {
		var err error
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("path") {
		cfg.DataDir, _ = flags.GetString("path")
	}
	if flags.Changed("cache-size") {
		cfg.Store.CacheSize, _ = flags.GetString("cache-size")
	}
	if flags.Changed("disk-size") {
		cfg.Store.DiskSize, _ = flags.GetString("disk-size")
	}
	if flags.Changed("key-size") {
		cfg.Store.KeySize, _ = flags.GetInt("key-size")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	return cfg.Logging.NewLogger(cmd.ErrOrStderr())
}

// openStore mounts the configured store, or formats a new one when create
// is set. The caller closes it.
func openStore(cmd *cobra.Command, create bool) (*store.Store, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	sc, err := cfg.StoreConfig(logger)
	if err != nil {
		return nil, nil, err
	}

	var s *store.Store
	if create {
		s, err = store.Create(sc)
	} else {
		s, err = store.Open(sc)
		if errors.Is(err, status.ErrNotFound) {
			err = errors.WithHint(err, "run 'skadi create' first")
		}
	}
	if err != nil {
		return nil, nil, err
	}
	return s, cfg, nil
}

// withStore opens the store around fn and reports close failures.
func withStore(cmd *cobra.Command, fn func(s *store.Store) error) (err error) {
	s, _, err := openStore(cmd, false)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}
