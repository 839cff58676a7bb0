package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/skadidb/pkg/store"
)

func newScanCmd() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List keys in order",
		Long: `List live keys in ascending order, one "key<TAB>value" per line.

Examples:
  skadi scan
  skadi scan --start user- --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			var start []byte
			if cmd.Flags().Changed("start") {
				s, _ := cmd.Flags().GetString("start")
				start = []byte(s)
			}

			return withStore(cmd, func(s *store.Store) error {
				it, err := s.NewIterator(start)
				if err != nil {
					return err
				}
				defer it.Close()

				for n := 0; it.Valid() && (limit <= 0 || n < limit); n++ {
					key, value := it.Current()
					cmd.Printf("%s\t%s\n", key, value)
					if err := it.Next(); err != nil {
						return err
					}
				}
				return it.Status()
			})
		},
	}
	scanCmd.Flags().String("start", "", "First key to list")
	scanCmd.Flags().Int("limit", 0, "Maximum number of keys (0 for all)")
	return scanCmd
}
