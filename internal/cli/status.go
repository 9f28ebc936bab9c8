package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/model"
	"github.com/roach88/rollcall/internal/remote"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local attendance and queued work",
		Long: `Show who is checked in according to the local store, and how many
check-ins and check-outs are still waiting to reach the backend.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	app, err := opts.open()
	if err != nil {
		return f.Fail(err)
	}
	defer app.Close()

	ctx := cmd.Context()
	view := statusView{DeviceID: app.Config.DeviceID}

	if app.Config.Token != "" {
		id, err := remote.ParseIdentity(app.Config.Token)
		if err != nil {
			f.VerboseLog("token: %v", err)
		} else {
			view.Staff = id.Subject
			if id.Name != "" {
				view.Staff = id.Name
			}
		}
	}

	if view.CheckedIn, err = app.Store.ListChildren(ctx, func(c model.Child) bool {
		return c.Status == model.StatusCheckedIn
	}); err != nil {
		return f.Fail(err)
	}
	if view.Pending, err = app.Store.PendingRecords(ctx); err != nil {
		return f.Fail(err)
	}
	sessions, err := app.Store.ListSessions(ctx, nil)
	if err != nil {
		return f.Fail(err)
	}
	view.Sessions = len(sessions)

	if len(view.Pending) > 0 {
		view.OldestPending = view.Pending[0].CheckInTime.Format(time.RFC3339)
	}
	return f.Success(view)
}
