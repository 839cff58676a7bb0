package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/skadidb/pkg/config"
)

func newCreateCmd() *cobra.Command {
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Format a new store",
		Long: `Format a new store at the configured path.

Examples:
  skadi create --path ./data --key-size 32 --disk-size 4GiB
  skadi create --path ./data --save-config`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			saveConfig, _ := cmd.Flags().GetBool("save-config")

			s, cfg, err := openStore(cmd, true)
			if err != nil {
				return err
			}
			stats, err := s.Stats()
			if err != nil {
				_ = s.Close()
				return err
			}
			if err := s.Close(); err != nil {
				return err
			}

			cmd.Printf("Created store at %s\n", cfg.DataDir)
			cmd.Printf("Key size: %d bytes, extents: %d\n", cfg.Store.KeySize, stats.ExtentsTotal)

			if saveConfig {
				configPath, _ := cmd.Flags().GetString("config")
				if configPath == "" {
					configPath = config.GetDefaultConfigPath()
				}
				if err := config.SaveConfig(cfg, configPath); err != nil {
					return err
				}
				cmd.Printf("Configuration saved to %s\n", configPath)
			}
			return nil
		},
	}
	createCmd.Flags().Bool("save-config", false, "Write the effective configuration to the config file")
	return createCmd
}
