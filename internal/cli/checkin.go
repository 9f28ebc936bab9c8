package cli

import (
	"github.com/spf13/cobra"
)

// CheckInOptions holds flags for the checkin command.
type CheckInOptions struct {
	*RootOptions
	By    string
	Notes string
}

// NewCheckInCommand creates the checkin command.
func NewCheckInCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckInOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkin <child-id> <session-id>",
		Short: "Check a child into a session",
		Long: `Check a child into a session.

The check-in is validated against the local copy of the child and session,
written locally, then confirmed with the backend. If the backend cannot be
reached the check-in stays queued until the next sync.

Example:
  rollcall checkin child-42 toddlers-am --by staff-7
  rollcall checkin child-42 toddlers-am --by staff-7 --notes "has inhaler" --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckIn(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.By, "by", "", "staff member performing the check-in (required)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes for this visit")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}

func runCheckIn(opts *CheckInOptions, childID, sessionID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	app, err := opts.open()
	if err != nil {
		return f.Fail(err)
	}
	defer app.Close()

	rec, err := app.Engine.CheckIn(cmd.Context(), childID, sessionID, opts.By, opts.Notes)
	if err != nil {
		return f.Fail(err)
	}
	f.VerboseLog("record %s pending=%q", rec.ID, rec.Pending)
	return f.Success(newRecordView(rec))
}
