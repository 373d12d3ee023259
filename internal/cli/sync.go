package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ascentlog/syncclient/internal/middleware"
	"github.com/ascentlog/syncclient/internal/models"
)

// maxOutboxRows caps the outbox listing
const maxOutboxRows = 500

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle now",
		Long:  `Bootstraps the local snapshot if needed, pushes the outbox and pulls remote changes.`,
		Args:  cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			r, err := rendererFor(cmd)
			if err != nil {
				return err
			}
			report, err := app.Coordinator.SyncNow(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			return r.Render(report, func() ([]string, [][]string) {
				return nil, [][]string{
					{"Bootstrapped:", strconv.FormatBool(report.Bootstrapped)},
					{"Acknowledged:", strconv.Itoa(report.Push.Acknowledged)},
					{"Failed:", strconv.Itoa(report.Push.Failures)},
					{"Conflicts:", strconv.Itoa(report.Push.Conflicts)},
					{"Auto-resolved:", strconv.Itoa(report.AutoResolved)},
					{"Pulled:", strconv.Itoa(report.Pull.Applied)},
					{"Took:", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String()},
				}
			})
		}),
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync status",
		Args:  cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			r, err := rendererFor(cmd)
			if err != nil {
				return err
			}
			status, err := app.Coordinator.Status(cmd.Context())
			if err != nil {
				return err
			}
			return r.Render(status, func() ([]string, [][]string) { return nil, statusRows(status) })
		}),
	}
}

func statusRows(s *models.SyncStatusResponse) [][]string {
	return [][]string{
		{"Enabled:", strconv.FormatBool(s.IsSyncEnabled)},
		{"User:", orDash(s.UserID)},
		{"Device:", s.DeviceID},
		{"Pending:", strconv.Itoa(s.PendingCount)},
		{"Conflicts:", strconv.Itoa(s.ConflictCount)},
		{"Last sync:", formatTimePtr(s.LastSuccessfulSyncAt)},
		{"Cursor:", orDashPtr(s.LastCursor)},
		{"Failures:", strconv.Itoa(s.ConsecutiveFailures)},
		{"Next attempt:", formatTimePtr(s.NextAttemptAt)},
		{"Bootstrapped:", strconv.FormatBool(s.DidBootstrap)},
	}
}

func newEnableCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable sync for a user",
		Long: `Enables sync for --user. Enabling for a different user than before drops
the outbox, open conflicts and cursors of the previous account.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			switched, err := app.Bootstrap.SetSyncEnabled(cmd.Context(), true, userID)
			if err != nil {
				return err
			}
			if switched {
				fmt.Fprintf(cmd.OutOrStdout(), "Switched account to %s\n", userID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sync enabled for %s\n", userID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id to sync as")
	cmd.MarkFlagRequired("user")
	return cmd
}

func newDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable sync; local data and the outbox are kept",
		Args:  cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			if _, err := app.Bootstrap.SetSyncEnabled(cmd.Context(), false, ""); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Sync disabled")
			return nil
		}),
	}
}

func newOutboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outbox",
		Short: "List pending mutations in push order",
		Args:  cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			r, err := rendererFor(cmd)
			if err != nil {
				return err
			}
			items, err := app.Outbox.ListItems(cmd.Context(), maxOutboxRows)
			if err != nil {
				return err
			}
			return r.Render(items, func() ([]string, [][]string) {
				rows := make([][]string, 0, len(items))
				for _, it := range items {
					flag := ""
					if it.HasConflict {
						flag = "conflict"
					}
					rows = append(rows, []string{
						it.OpID, it.MutationType, it.Entity, it.EntityID,
						strconv.FormatInt(it.BaseVersion, 10), strconv.Itoa(it.Attempts), flag,
					})
				}
				return []string{"OP", "TYPE", "ENTITY", "ID", "BASE", "ATTEMPTS", ""}, rows
			})
		}),
	}
}

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Show the conflict resolution audit trail",
		Args:  cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			r, err := rendererFor(cmd)
			if err != nil {
				return err
			}
			events, err := app.Conflicts.AuditLog(cmd.Context())
			if err != nil {
				return err
			}
			if events == nil {
				events = []*models.SyncConflictTelemetryEvent{}
			}
			return r.Render(events, func() ([]string, [][]string) {
				rows := make([][]string, 0, len(events))
				for _, e := range events {
					rows = append(rows, []string{
						e.Timestamp.Format(time.RFC3339), e.EventType, string(e.Entity), e.EntityID, e.OpID,
					})
				}
				return []string{"WHEN", "EVENT", "ENTITY", "ID", "OP"}, rows
			})
		}),
	}
}

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <api-key>",
		Short: "Print the bcrypt hash of an API key for security.api_key_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := middleware.HashAPIKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func orDashPtr(s *string) string {
	if s == nil {
		return "-"
	}
	return orDash(*s)
}
