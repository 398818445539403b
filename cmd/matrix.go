package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/callsage/internal/matrix"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/sessions"
)

var (
	matrixProfile     string
	matrixDescription string
	matrixWeight      float64
	matrixCriterion   string
	matrixYes         bool
)

var matrixCmd = &cobra.Command{
	Use:     "matrix",
	Aliases: []string{"m"},
	Short:   "Manage scoring matrix criteria",
	Long: `Manage the criteria of a scoring matrix profile.

Running bare 'callsage matrix' is the same as 'callsage matrix show'.
Criteria are addressed by id, id prefix or name.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return matrixShowRun(cmd.Context())
	},
}

var matrixShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the criteria and weights of a profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		return matrixShowRun(cmd.Context())
	},
}

var matrixAddCmd = &cobra.Command{
	Use:     "add <criterion>",
	Short:   "Add a criterion (weight 0 unless --weight is given)",
	Example: `  callsage matrix add "Upselling" --description "Offered relevant upgrades" --weight 5`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return matrixAddRun(cmd.Context(), args[0], cmd.Flags().Changed("weight"))
	},
}

var matrixUpdateCmd = &cobra.Command{
	Use:   "update <criterion>",
	Short: "Change a criterion's name, description or weight",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var patch models.CriterionPatch
		if cmd.Flags().Changed("name") {
			patch.Criterion = &matrixCriterion
		}
		if cmd.Flags().Changed("description") {
			patch.Description = &matrixDescription
		}
		if cmd.Flags().Changed("weight") {
			patch.Weight = &matrixWeight
		}
		return matrixUpdateRun(cmd.Context(), args[0], patch)
	},
}

var matrixRemoveCmd = &cobra.Command{
	Use:     "remove <criterion>",
	Aliases: []string{"rm"},
	Short:   "Remove a criterion",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return matrixRemoveRun(cmd.Context(), args[0])
	},
}

var matrixResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop custom criteria and restore the default ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		return matrixResetRun(cmd.Context())
	},
}

var matrixImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create or replace a profile from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return matrixImportRun(cmd.Context(), args[0])
	},
}

var matrixExportCmd = &cobra.Command{
	Use:   "export <file.yaml>",
	Short: "Write a profile to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return matrixExportRun(cmd.Context(), args[0])
	},
}

func init() {
	matrixCmd.PersistentFlags().StringVarP(&matrixProfile, "profile", "p", "", "Scoring matrix profile (default from config)")

	matrixAddCmd.Flags().StringVarP(&matrixDescription, "description", "d", "", "What the agent is assessed on")
	matrixAddCmd.Flags().Float64VarP(&matrixWeight, "weight", "w", 0, "Weight (0 = informational only)")

	matrixUpdateCmd.Flags().StringVar(&matrixCriterion, "name", "", "New criterion name")
	matrixUpdateCmd.Flags().StringVarP(&matrixDescription, "description", "d", "", "New description")
	matrixUpdateCmd.Flags().Float64VarP(&matrixWeight, "weight", "w", 0, "New weight")

	matrixResetCmd.Flags().BoolVarP(&matrixYes, "yes", "y", false, "Do not ask for confirmation")

	matrixCmd.AddCommand(matrixShowCmd)
	matrixCmd.AddCommand(matrixAddCmd)
	matrixCmd.AddCommand(matrixUpdateCmd)
	matrixCmd.AddCommand(matrixRemoveCmd)
	matrixCmd.AddCommand(matrixResetCmd)
	matrixCmd.AddCommand(matrixImportCmd)
	matrixCmd.AddCommand(matrixExportCmd)
	rootCmd.AddCommand(matrixCmd)
}

// loadProfile returns the selected profile, creating it from the defaults
// when it does not exist yet.
func loadProfile(ctx context.Context) (*sessions.Manager, *models.Profile, error) {
	mgr, err := getManager()
	if err != nil {
		return nil, nil, err
	}
	name := matrixProfile
	if name == "" {
		p, err := mgr.Profile(ctx, "")
		return mgr, p, err
	}
	p, err := mgr.EnsureProfile(ctx, name)
	return mgr, p, err
}

// resolveCriterion finds a criterion by exact id, unique id prefix, or name.
func resolveCriterion(m models.ScoringMatrix, ref string) (models.ScoringCriterion, error) {
	if c, ok := m.Get(ref); ok {
		return c, nil
	}
	var matches []models.ScoringCriterion
	for _, c := range m {
		if strings.HasPrefix(c.ID, ref) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		if c, ok := m.Find(ref); ok {
			return c, nil
		}
		return models.ScoringCriterion{}, fmt.Errorf("criterion not found: %s", ref)
	default:
		return models.ScoringCriterion{}, fmt.Errorf("criterion id prefix %q is ambiguous (%d matches)", ref, len(matches))
	}
}

func matrixShowRun(ctx context.Context) error {
	_, p, err := loadProfile(ctx)
	if err != nil {
		return err
	}
	ui.Info("Profile %s", p.Name)
	return ui.Matrix(p.Matrix)
}

func matrixAddRun(ctx context.Context, name string, weightSet bool) error {
	mgr, p, err := loadProfile(ctx)
	if err != nil {
		return err
	}
	c := p.Matrix.Add(strings.TrimSpace(name), matrixDescription)
	if weightSet {
		if err := p.Matrix.Update(c.ID, models.CriterionPatch{Weight: &matrixWeight}); err != nil {
			return err
		}
	}

	if dryRun {
		ui.DryRunMsg("Would add %q to profile %s", name, p.Name)
		return nil
	}
	if err := mgr.SaveMatrix(ctx, p); err != nil {
		return err
	}
	ui.Success("Added %q (%s) to profile %s", name, c.ID, p.Name)
	return nil
}

func matrixUpdateRun(ctx context.Context, ref string, patch models.CriterionPatch) error {
	if patch.Criterion == nil && patch.Description == nil && patch.Weight == nil {
		return fmt.Errorf("nothing to change: use --name, --description or --weight")
	}
	mgr, p, err := loadProfile(ctx)
	if err != nil {
		return err
	}
	c, err := resolveCriterion(p.Matrix, ref)
	if err != nil {
		return err
	}
	if err := p.Matrix.Update(c.ID, patch); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would update %q in profile %s", c.Criterion, p.Name)
		return nil
	}
	if err := mgr.SaveMatrix(ctx, p); err != nil {
		return err
	}
	ui.Success("Updated %q in profile %s", c.Criterion, p.Name)
	return nil
}

func matrixRemoveRun(ctx context.Context, ref string) error {
	mgr, p, err := loadProfile(ctx)
	if err != nil {
		return err
	}
	c, err := resolveCriterion(p.Matrix, ref)
	if err != nil {
		return err
	}
	if err := p.Matrix.Remove(c.ID); err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would remove %q from profile %s", c.Criterion, p.Name)
		return nil
	}
	if err := mgr.SaveMatrix(ctx, p); err != nil {
		return err
	}
	ui.Success("Removed %q from profile %s", c.Criterion, p.Name)
	if len(p.Matrix) == 0 {
		ui.Warning("Profile %s has no criteria left; reviews need at least one", p.Name)
	}
	return nil
}

func matrixResetRun(ctx context.Context) error {
	mgr, p, err := loadProfile(ctx)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would reset profile %s to the default criteria", p.Name)
		return nil
	}
	if !matrixYes {
		ok, err := confirm(fmt.Sprintf("Reset profile %s to the default criteria", p.Name))
		if err != nil || !ok {
			return err
		}
	}

	p.Matrix = matrix.ResetCustom(p.Matrix)
	if err := mgr.SaveMatrix(ctx, p); err != nil {
		return err
	}
	ui.Success("Profile %s reset (%d criteria)", p.Name, len(p.Matrix))
	return nil
}

func matrixImportRun(ctx context.Context, path string) error {
	f, err := matrix.LoadFile(path)
	if err != nil {
		return err
	}
	name := f.Profile
	if matrixProfile != "" {
		name = matrixProfile
	}

	if dryRun {
		ui.DryRunMsg("Would import %d criteria into profile %s", len(f.Criteria), name)
		return nil
	}

	mgr, err := getManager()
	if err != nil {
		return err
	}
	p, err := mgr.EnsureProfile(ctx, name)
	if err != nil {
		return err
	}
	p.Matrix = f.Criteria
	if err := mgr.SaveMatrix(ctx, p); err != nil {
		return err
	}
	ui.Success("Imported %d criteria into profile %s", len(p.Matrix), p.Name)
	return nil
}

func matrixExportRun(ctx context.Context, path string) error {
	_, p, err := loadProfile(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		ui.DryRunMsg("Would write profile %s to %s", p.Name, path)
		return nil
	}
	if err := matrix.SaveFile(path, p.Name, p.Matrix); err != nil {
		return err
	}
	ui.Success("Wrote profile %s to %s", p.Name, path)
	return nil
}
