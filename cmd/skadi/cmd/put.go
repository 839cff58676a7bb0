package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssargent/skadidb/pkg/store"
)

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Put a key-value pair",
		Long: `Set the value of a key, replacing any previous value.

Example:
  skadi put mykey myvalue`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := []byte(args[0]), []byte(args[1])
			return withStore(cmd, func(s *store.Store) error {
				if err := s.Insert(key, value); err != nil {
					return err
				}
				cmd.Printf("Successfully put key '%s'\n", args[0])
				return nil
			})
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <key> <delta>",
		Short: "Merge a delta into a key",
		Long: `Merge a delta into the value of a key. With the default merge
policy the delta replaces the value.

Example:
  skadi update mykey newvalue`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, delta := []byte(args[0]), []byte(args[1])
			return withStore(cmd, func(s *store.Store) error {
				if err := s.Update(key, delta); err != nil {
					return err
				}
				cmd.Printf("Successfully updated key '%s'\n", args[0])
				return nil
			})
		},
	}
}
