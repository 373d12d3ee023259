package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ascentlog/syncclient/internal/models"
)

func newRowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Read and edit local rows; edits are queued for push",
	}
	cmd.AddCommand(
		newRowsListCmd(),
		newRowsGetCmd(),
		newRowsSetCmd(),
		newRowsRmCmd(),
		newRowsLinkCmd(),
		newRowsUnlinkCmd(),
	)
	return cmd
}

func newRowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <entity>",
		Short: "List active rows of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			r, err := rendererFor(cmd)
			if err != nil {
				return err
			}
			entity, err := models.ParseEntityType(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			rows, err := app.Edits.ListActive(cmd.Context(), entity)
			if err != nil {
				return err
			}
			if rows == nil {
				rows = []*models.SyncedRow{}
			}
			return r.Render(rows, func() ([]string, [][]string) {
				out := make([][]string, 0, len(rows))
				for _, row := range rows {
					out = append(out, []string{
						row.ID, orDashPtr(row.ParentID), strconv.FormatInt(row.SyncVersion, 10),
						row.UpdatedAtClient.Format(time.RFC3339), strconv.Itoa(len(row.Fields)),
					})
				}
				return []string{"ID", "PARENT", "VERSION", "UPDATED", "FIELDS"}, out
			})
		}),
	}
}

func newRowsGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <entity> <id>",
		Short: "Show one active row",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			r, err := rendererFor(cmd)
			if err != nil {
				return err
			}
			entity, err := models.ParseEntityType(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			row, err := app.Edits.GetRow(cmd.Context(), entity, args[1])
			if err != nil {
				return err
			}
			if row == nil {
				return fmt.Errorf("%s/%s: %w", entity, args[1], models.ErrRowNotFound)
			}
			return r.Render(row, func() ([]string, [][]string) {
				out := [][]string{
					{"id:", row.ID},
					{"version:", strconv.FormatInt(row.SyncVersion, 10)},
					{"updated:", row.UpdatedAtClient.Format(time.RFC3339)},
				}
				for _, k := range row.Fields.SortedKeys() {
					out = append(out, []string{k + ":", row.Fields[k].String()})
				}
				return nil, out
			})
		}),
	}
}

func newRowsSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <entity> <id> <field=value|field:=json>...",
		Short: "Create or update a row",
		Long: `Sets fields on a row and queues an upsert. field=value stores a string;
field:=json stores a JSON scalar (number, true/false, null or a quoted string).`,
		Args: cobra.MinimumNArgs(3),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			entity, err := models.ParseEntityType(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			fields, err := parseAssignments(args[2:])
			if err != nil {
				return err
			}
			opID, err := app.Edits.SaveRow(cmd.Context(), entity, args[1], fields)
			if err != nil {
				return err
			}
			return reportQueued(cmd, "Saved", entity, args[1], opID)
		}),
	}
}

func newRowsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <entity> <id>",
		Short: "Delete a row",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			entity, err := models.ParseEntityType(args[0])
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			opID, err := app.Edits.DeleteRow(cmd.Context(), entity, args[1])
			if err != nil {
				return err
			}
			return reportQueued(cmd, "Deleted", entity, args[1], opID)
		}),
	}
}

func newRowsLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <combinationId> <exerciseId>",
		Short: "Attach an exercise to a boulder combination",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			id, err := app.Edits.LinkExercise(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Linked %s\n", id)
			return nil
		}),
	}
}

func newRowsUnlinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlink <combinationId> <exerciseId>",
		Short: "Detach an exercise from a boulder combination",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(app *App, cmd *cobra.Command, args []string) error {
			found, err := app.Edits.UnlinkExercise(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no link between %s and %s", args[0], args[1])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Unlinked")
			return nil
		}),
	}
}

func reportQueued(cmd *cobra.Command, verb string, entity models.EntityType, id, opID string) error {
	if opID == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s (sync not enabled, nothing queued)\n", verb, entity, id)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s, queued %s\n", verb, entity, id, opID)
	return nil
}

// parseAssignments turns field=value and field:=json arguments into a payload
func parseAssignments(args []string) (*models.Payload, error) {
	p := models.NewPayload()
	for _, arg := range args {
		if key, raw, ok := strings.Cut(arg, ":="); ok && key != "" && !strings.Contains(key, "=") {
			var v models.Value
			if err := v.UnmarshalJSON([]byte(raw)); err != nil {
				return nil, fmt.Errorf("field %s: %w", key, err)
			}
			p.Set(key, v)
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected field=value or field:=json, got %q", arg)
		}
		p.Set(key, models.StringValue(value))
	}
	return p, nil
}
