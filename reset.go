package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/aware-sync/internal/config"
	"github.com/tonimelisma/aware-sync/internal/cursor"
)

func newResetCmd() *cobra.Command {
	var retriesOnly, all bool

	cmd := &cobra.Command{
		Use:   "reset [collection]...",
		Short: "Clear saved cursors so collections upload from the start",
		Long: `Clear the persisted cursor and retry counter of each named collection.
The next sync uploads every record still in the AWARE database.

--retries-only keeps the cursors and only clears the concurrent-run retry
counters. Refuses to run while sync --watch holds the state database.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) > 0) {
				return errors.New("name one or more collections, or pass --all")
			}

			cc := mustCLIContext(cmd.Context())

			release, err := acquirePIDFile(config.PIDFilePath(cc.Cfg.State.Path))
			if err != nil {
				return fmt.Errorf("cannot reset while sync --watch is running: %w", err)
			}
			defer release()

			state, err := cursor.Open(cc.Cfg.State.Path, cc.Logger)
			if err != nil {
				return err
			}
			defer state.Close()

			if all {
				entries, err := state.List(cmd.Context())
				if err != nil {
					return err
				}

				for _, e := range entries {
					args = append(args, e.Collection)
				}
			}

			for _, name := range args {
				if !retriesOnly {
					if err := state.ClearLastUploadedID(cmd.Context(), name); err != nil {
						return err
					}
				}

				if err := state.ResetRetryCount(cmd.Context(), name); err != nil {
					return err
				}

				if retriesOnly {
					cc.Statusf("Reset retry counter of %s\n", name)
				} else {
					cc.Statusf("Reset %s\n", name)
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&retriesOnly, "retries-only", false, "only clear retry counters")
	cmd.Flags().BoolVar(&all, "all", false, "reset every collection with saved state")

	return cmd
}
