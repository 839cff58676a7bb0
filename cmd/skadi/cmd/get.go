package cmd

import (
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ssargent/skadidb/pkg/status"
	"github.com/ssargent/skadidb/pkg/store"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(s *store.Store) error {
				res := store.NewLookupResult(nil)
				if err := s.Lookup([]byte(args[0]), res); err != nil {
					return err
				}
				if !res.Found() {
					return errors.Wrapf(status.ErrNotFound, "key '%s' not found", args[0])
				}
				value, _ := res.Value()
				cmd.Println(string(value))
				return nil
			})
		},
	}
}
