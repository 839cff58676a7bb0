package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/skadidb/pkg/store"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a key",
		Long: `Delete a key. Deleting a key that does not exist is not an error.

Example:
  skadi delete mykey`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.Store) error {
				if err := s.Delete([]byte(args[0])); err != nil {
					return err
				}
				cmd.Printf("Successfully deleted key '%s'\n", args[0])
				return nil
			})
		},
	}
}
