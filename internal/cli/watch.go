package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/rollcall/internal/connection"
	"github.com/roach88/rollcall/internal/live"
	"github.com/roach88/rollcall/internal/notify"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Children []string
	Sessions []string
	// Count stops after this many notifications; zero means run until interrupted.
	Count int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live updates and notifications",
		Long: `Connect to the live channel and print notifications as they arrive.

Inbound updates are applied to the local store. Queued check-ins are
replayed every time the connection is (re-)established. Without --child or
--session, every locally known session is watched.

Example:
  rollcall watch --session toddlers-am --child child-42
  rollcall watch --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Children, "child", nil, "child id to watch (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Sessions, "session", nil, "session id to watch (repeatable)")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many notifications")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	app, err := opts.open()
	if err != nil {
		return f.Fail(err)
	}
	defer app.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	notifications := app.Engine.FanOut().Notifications()
	defer notifications.Cancel()

	ch := live.NewChannel(live.DefaultSettings(), app.AuthHeader())
	mgr := connection.New(ch, app.Config.Connection(),
		connection.WithHandler(app.Engine.Handler()),
		connection.WithNotifier(app.Engine.FanOut()),
		connection.WithOnConnected(func(ctx context.Context) {
			summary, err := app.Engine.SyncPending(ctx)
			if err != nil {
				slog.Warn("sync after connect failed", "error", err)
				return
			}
			slog.Info("sync after connect", "summary", summary.String())
		}),
	)
	defer func() {
		if err := mgr.Close(); err != nil {
			slog.Debug("close live channel", "error", err)
		}
	}()
	app.Engine.SetSubscriber(mgr)

	if err := watchTargets(ctx, opts, app); err != nil {
		return f.Fail(err)
	}

	if err := mgr.Connect(ctx); err != nil {
		// The reconnect loop keeps trying; keep watching.
		f.VerboseLog("initial connect failed: %v", err)
	}

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-notifications.C():
			if !ok {
				return nil
			}
			if err := printNotification(f, n); err != nil {
				return err
			}
			seen++
			if opts.Count > 0 && seen >= opts.Count {
				return nil
			}
		}
	}
}

// watchTargets subscribes to the requested entities, or to every local
// session when none were named.
func watchTargets(ctx context.Context, opts *WatchOptions, app *App) error {
	sessions := opts.Sessions
	if len(opts.Children) == 0 && len(sessions) == 0 {
		local, err := app.Store.ListSessions(ctx, nil)
		if err != nil {
			return err
		}
		for _, s := range local {
			sessions = append(sessions, s.ID)
		}
	}

	for _, id := range opts.Children {
		app.Engine.SubscribeToChild(ctx, id, logUpdate)
	}
	for _, id := range sessions {
		app.Engine.SubscribeToSession(ctx, id, logUpdate)
	}
	return nil
}

func logUpdate(u notify.Update) {
	attrs := []any{"event", u.Event}
	if u.Child != nil {
		attrs = append(attrs, "child_id", u.Child.ID, "status", u.Child.Status)
	}
	if u.Session != nil {
		attrs = append(attrs, "session_id", u.Session.ID, "capacity", fmt.Sprintf("%d/%d", u.Session.CurrentCapacity, u.Session.MaxCapacity))
	}
	if u.Record != nil {
		attrs = append(attrs, "record_id", u.Record.ID)
	}
	slog.Debug("entity updated", attrs...)
}

// printNotification writes one notification per line: a JSON object in
// json mode, otherwise "HH:MM:SS [type] Title: message".
func printNotification(f *OutputFormatter, n notify.Notification) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(n)
	}
	_, err := fmt.Fprintf(f.Writer, "%s [%s] %s: %s\n", n.Timestamp.Local().Format("15:04:05"), n.Type, n.Title, n.Message)
	return err
}
