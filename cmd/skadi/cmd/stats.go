package cmd

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ssargent/skadidb/pkg/store"
)

func newStatsCmd() *cobra.Command {
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")
			return withStore(cmd, func(s *store.Store) error {
				stats, err := s.Stats()
				if err != nil {
					return err
				}
				if asJSON {
					out, err := json.MarshalIndent(stats, "", "  ")
					if err != nil {
						return errors.Wrap(err, "failed to encode stats")
					}
					cmd.Println(string(out))
					return nil
				}

				cmd.Printf("Version:        %s\n", store.Version())
				cmd.Printf("Extents:        %d / %d\n", stats.ExtentsInUse, stats.ExtentsTotal)
				cmd.Printf("Disk usage:     %s\n", humanize.IBytes(stats.Tree.DiskUsage))
				cmd.Printf("Device full:    %t\n", stats.Tree.Full)
				cmd.Printf("Cache hits:     %d\n", stats.Cache.Hits)
				cmd.Printf("Cache misses:   %d\n", stats.Cache.Misses)
				cmd.Printf("Block cache:    %s\n", humanize.IBytes(uint64(stats.Cache.BlockCache)))
				return nil
			})
		},
	}
	statsCmd.Flags().Bool("json", false, "Print stats as JSON")
	return statsCmd
}
