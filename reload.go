package main

import (
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/aware-sync/internal/config"
)

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask a running sync --watch to re-read its configuration",
		Long: `Send SIGHUP to the sync --watch process that holds the PID file next to
the state database. The watcher applies the new interval, conditions and
parallelism without restarting.`,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pid, err := signalWatcher(config.PIDFilePath(cc.Cfg.State.Path), syscall.SIGHUP)
			if err != nil {
				return err
			}

			cc.Statusf("Sent reload to sync --watch (PID %d)\n", pid)

			return nil
		},
	}
}
