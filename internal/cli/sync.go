package cli

import (
	"github.com/spf13/cobra"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	Refresh bool
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued check-ins and check-outs",
		Long: `Replay offline check-ins and check-outs against the backend, oldest first.

Replay stops at the first record the backend cannot be reached for; that
record and every later one stay queued. With --refresh, sessions are
re-downloaded afterwards.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "re-download sessions after replay")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	app, err := opts.open()
	if err != nil {
		return f.Fail(err)
	}
	defer app.Close()

	summary, err := app.Engine.SyncPending(cmd.Context())
	if err != nil {
		return f.Fail(err)
	}
	f.VerboseLog("sync: %s", summary)

	if opts.Refresh && summary.Deferred == 0 {
		sessions, err := app.Engine.RefreshSessions(cmd.Context())
		if err != nil {
			return f.Fail(err)
		}
		f.VerboseLog("refreshed %d session(s)", len(sessions))
	}

	if err := f.Success(syncView{summary}); err != nil {
		return err
	}
	if summary.Deferred > 0 {
		return NewExitError(ExitCommandError, "backend unreachable; records still pending")
	}
	return nil
}
