package cli

import (
	"github.com/spf13/cobra"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Refresh bool
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions and their capacity",
		Long: `List sessions from the local store.

With --refresh the list is downloaded from the backend first.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Refresh, "refresh", false, "download sessions from the backend first")

	return cmd
}

func runSessions(opts *SessionsOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	app, err := opts.open()
	if err != nil {
		return f.Fail(err)
	}
	defer app.Close()

	if opts.Refresh {
		if _, err := app.Engine.RefreshSessions(cmd.Context()); err != nil {
			return f.Fail(err)
		}
	}

	sessions, err := app.Store.ListSessions(cmd.Context(), nil)
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(sessionsView(sessions))
}
