package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/callsage/internal/matrix"
)

var profileYes bool

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage scoring matrix profiles",
}

var profileListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return profileListRun(cmd.Context())
	},
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a profile from the default criteria",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return profileCreateRun(cmd.Context(), args[0])
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:     "delete <name>",
	Aliases: []string{"rm"},
	Short:   "Delete a profile (saved reviews keep their own copy of the matrix)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return profileDeleteRun(cmd.Context(), args[0])
	},
}

func init() {
	profileDeleteCmd.Flags().BoolVarP(&profileYes, "yes", "y", false, "Do not ask for confirmation")

	profileCmd.AddCommand(profileListCmd)
	profileCmd.AddCommand(profileCreateCmd)
	profileCmd.AddCommand(profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}

func profileListRun(ctx context.Context) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}
	// Seed the default profile so a fresh install lists something.
	if _, err := mgr.Profile(ctx, ""); err != nil {
		return err
	}
	profiles, err := mgr.Store().ListProfiles(ctx)
	if err != nil {
		return err
	}

	table := ui.Table([]string{"Name", "Criteria", "Total weight", "Updated"})
	for _, p := range profiles {
		if err := table.Append([]string{
			p.Name,
			fmt.Sprintf("%d", len(p.Matrix)),
			fmt.Sprintf("%g", p.Matrix.TotalWeight()),
			p.UpdatedAt.Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func profileCreateRun(ctx context.Context, name string) error {
	if dryRun {
		ui.DryRunMsg("Would create profile %s", name)
		return nil
	}
	mgr, err := getManager()
	if err != nil {
		return err
	}
	if _, err := mgr.Store().GetProfile(ctx, name); err == nil {
		return fmt.Errorf("profile %s already exists", name)
	}
	p, err := mgr.EnsureProfile(ctx, name)
	if err != nil {
		return err
	}
	ui.Success("Created profile %s with %d default criteria", p.Name, len(p.Matrix))
	return nil
}

func profileDeleteRun(ctx context.Context, name string) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}
	if _, err := mgr.Store().GetProfile(ctx, name); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete profile %s", name)
		return nil
	}
	if !profileYes {
		ok, err := confirm(fmt.Sprintf("Delete profile %s", name))
		if err != nil || !ok {
			return err
		}
	}

	if err := mgr.Store().DeleteProfile(ctx, name); err != nil {
		return err
	}
	ui.Success("Deleted profile %s", name)
	if name == matrix.DefaultProfileName {
		ui.Info("The default profile is recreated from the built-in criteria on next use")
	}
	return nil
}
