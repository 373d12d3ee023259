package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ascentlog/syncclient/internal/models"
)

func newConflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conflicts",
		Aliases: []string{"conflict"},
		Short:   "Review and resolve push conflicts",
	}
	cmd.AddCommand(
		newConflictsListCmd(),
		newConflictsShowCmd(),
		newConflictsKeepMineCmd(),
		newConflictsKeepServerCmd(),
		newConflictsResolveAllCmd(),
		newConflictsAutoCmd(),
	)
	return cmd
}

func newConflictsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List open conflicts",
		Args:    cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			r, err := rendererFor(cmd)
			if err != nil {
				return err
			}
			views, err := app.Conflicts.List(cmd.Context())
			if err != nil {
				return err
			}
			return r.Render(views, func() ([]string, [][]string) {
				rows := make([][]string, 0, len(views))
				for _, v := range views {
					risk := "low"
					if v.HighRisk {
						risk = "high"
					}
					rows = append(rows, []string{
						v.OpID, v.MutationType, v.Entity, v.EntityID,
						formatVersion(v.ServerVersion), risk, string(v.Suggestion),
					})
				}
				return []string{"OP", "TYPE", "ENTITY", "ID", "SERVER", "RISK", "SUGGEST"}, rows
			})
		}),
	}
}

func newConflictsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <opId>",
		Short: "Show both sides of a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			r, err := rendererFor(cmd)
			if err != nil {
				return err
			}
			preview, err := app.Conflicts.Preview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if r.format != FormatTable {
				return r.Render(preview, nil)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Conflict %s: %s %s/%s\n", preview.OpID, preview.MutationType, preview.Entity, preview.EntityID)
			fmt.Fprintf(out, "Server version: %s  High risk: %t  Suggestion: %s\n\n",
				formatVersion(preview.ServerVersion), preview.HighRisk, preview.Suggestion)
			if preview.ServerDeleted {
				fmt.Fprintln(out, "The server row is deleted.")
			}
			if preview.Diff == "" {
				fmt.Fprintln(out, "No field differences.")
				return nil
			}
			fmt.Fprint(out, preview.Diff)
			return nil
		}),
	}
}

func newConflictsKeepMineCmd() *cobra.Command {
	var serverVersion int64
	cmd := &cobra.Command{
		Use:   "keep-mine <opId>",
		Short: "Keep the local change and retry it against the server version",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			var version *int64
			if cmd.Flags().Changed("server-version") {
				version = &serverVersion
			} else {
				preview, err := app.Conflicts.Preview(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				version = preview.ServerVersion
			}

			resolved, err := app.Conflicts.ResolveConflictKeepMine(cmd.Context(), args[0], version)
			if err != nil {
				return err
			}
			return reportResolution(cmd, args[0], resolved, "Kept local change")
		}),
	}
	cmd.Flags().Int64Var(&serverVersion, "server-version", 0, "Server version to rebase onto (defaults to the one recorded with the conflict)")
	return cmd
}

func newConflictsKeepServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keep-server <opId>",
		Short: "Drop the local change and apply the server state",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			resolved, err := app.Conflicts.ResolveConflictKeepServer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return reportResolution(cmd, args[0], resolved, "Kept server state")
		}),
	}
}

func reportResolution(cmd *cobra.Command, opID string, resolved bool, verb string) error {
	if !resolved {
		return fmt.Errorf("%s: %w", opID, models.ErrMutationNotFound)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s for %s\n", verb, opID)
	return nil
}

func newConflictsResolveAllCmd() *cobra.Command {
	var choice string
	cmd := &cobra.Command{
		Use:   "resolve-all",
		Short: "Apply one choice to every open conflict",
		Args:  cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			resolution, err := models.ParseConflictResolution(choice)
			if err != nil {
				return err
			}
			resp, err := app.Conflicts.ResolveAll(cmd.Context(), resolution)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %d, skipped %d\n", resp.Resolved, resp.Skipped)
			return nil
		}),
	}
	cmd.Flags().StringVar(&choice, "choice", "", "keepMine or keepServer")
	cmd.MarkFlagRequired("choice")
	return cmd
}

func newConflictsAutoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auto",
		Short: "Resolve low-risk conflicts automatically",
		Long: `Deleted server rows win; other low-risk conflicts are settled by last writer
wins. Conflicts touching notes or long text are left for review.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			n, err := app.Conflicts.AutoResolveLowRisk(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Auto-resolved %d conflict(s)\n", n)
			return nil
		}),
	}
}

func formatVersion(v *int64) string {
	if v == nil {
		return "deleted"
	}
	return strconv.FormatInt(*v, 10)
}
