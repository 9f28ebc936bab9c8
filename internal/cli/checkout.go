package cli

import (
	"github.com/spf13/cobra"
)

// CheckOutOptions holds flags for the checkout command.
type CheckOutOptions struct {
	*RootOptions
	By    string
	Notes string
}

// NewCheckOutCommand creates the checkout command.
func NewCheckOutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOutOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkout <child-id>",
		Short: "Check a child out of their current session",
		Long: `Check a child out of their current session.

A check-out of a visit whose check-in has not reached the backend yet is
queued behind it and sent by the next sync.

Example:
  rollcall checkout child-42 --by guardian-3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckOut(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.By, "by", "", "person collecting the child (required)")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes for this visit")
	_ = cmd.MarkFlagRequired("by")

	return cmd
}

func runCheckOut(opts *CheckOutOptions, childID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	app, err := opts.open()
	if err != nil {
		return f.Fail(err)
	}
	defer app.Close()

	rec, err := app.Engine.CheckOut(cmd.Context(), childID, opts.By, opts.Notes)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(newRecordView(rec))
}
