package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/model"
)

// RegisterOptions holds flags for the register command.
type RegisterOptions struct {
	*RootOptions
	Guardian     string
	FirstName    string
	LastName     string
	DateOfBirth  string
	Medical      string
	Dietary      string
	ContactName  string
	ContactPhone string
	Relationship string
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RegisterOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new child",
		Long: `Register a new child with the backend. Registration needs the backend;
it is not queued offline.

Example:
  rollcall register --guardian g-1 --first Ada --last Lovelace --dob 2019-12-10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Guardian, "guardian", "", "guardian id (required)")
	cmd.Flags().StringVar(&opts.FirstName, "first", "", "first name (required)")
	cmd.Flags().StringVar(&opts.LastName, "last", "", "last name")
	cmd.Flags().StringVar(&opts.DateOfBirth, "dob", "", "date of birth, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&opts.Medical, "medical", "", "medical notes")
	cmd.Flags().StringVar(&opts.Dietary, "dietary", "", "dietary notes")
	cmd.Flags().StringVar(&opts.ContactName, "contact-name", "", "emergency contact name")
	cmd.Flags().StringVar(&opts.ContactPhone, "contact-phone", "", "emergency contact phone")
	cmd.Flags().StringVar(&opts.Relationship, "contact-relationship", "", "emergency contact relationship")
	_ = cmd.MarkFlagRequired("guardian")
	_ = cmd.MarkFlagRequired("first")
	_ = cmd.MarkFlagRequired("dob")

	return cmd
}

func runRegister(opts *RegisterOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	dob, err := time.Parse(time.DateOnly, opts.DateOfBirth)
	if err != nil {
		_ = f.Error(ErrCodeConfig, fmt.Sprintf("invalid --dob %q: want YYYY-MM-DD", opts.DateOfBirth), nil)
		return WrapExitError(ExitCommandError, "invalid --dob", err)
	}

	app, err := opts.open()
	if err != nil {
		return f.Fail(err)
	}
	defer app.Close()

	child, err := app.Engine.RegisterChild(cmd.Context(), model.Registration{
		GuardianID:   opts.Guardian,
		FirstName:    opts.FirstName,
		LastName:     opts.LastName,
		DateOfBirth:  dob,
		MedicalNotes: opts.Medical,
		DietaryNotes: opts.Dietary,
		EmergencyContact: model.EmergencyContact{
			Name:         opts.ContactName,
			Phone:        opts.ContactPhone,
			Relationship: opts.Relationship,
		},
	})
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(childView{child})
}
