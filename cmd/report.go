package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/callsage/internal/dataset"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/store"
)

var (
	reportFormat  string
	reportOut     string
	reportAgent   string
	reportProfile string
	reportLimit   int
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export saved reviews as xlsx, JSON, CSV, or Markdown",
	Long: `Export saved reviews.

xlsx writes a workbook with a summary sheet (one row per review, one column
per criterion) and a long-form scores sheet; it needs --out. The other
formats print to stdout.`,
	Example: `  callsage report --out reviews.xlsx
  callsage report --format csv --agent "Priya Shah"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reportRun(cmd.Context())
	},
}

func init() {
	reportCmd.Flags().StringVarP(&reportFormat, "format", "f", "", "Output format: xlsx, json, csv, markdown (default xlsx with --out, else markdown)")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "Output file for xlsx")
	reportCmd.Flags().StringVar(&reportAgent, "agent", "", "Only reviews of this agent")
	reportCmd.Flags().StringVarP(&reportProfile, "profile", "p", "", "Only reviews scored with this profile")
	reportCmd.Flags().IntVarP(&reportLimit, "limit", "l", 0, "Maximum number of reviews (0 = all)")
	rootCmd.AddCommand(reportCmd)
}

func reportRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	reviews, err := s.ListReviews(ctx, store.ReviewListFilter{
		AgentName:   reportAgent,
		ProfileName: reportProfile,
		Limit:       reportLimit,
	})
	if err != nil {
		return err
	}

	format := reportFormat
	if format == "" {
		format = "markdown"
		if reportOut != "" {
			format = "xlsx"
		}
	}

	switch format {
	case "xlsx":
		return reportXLSX(reviews)
	case "json":
		return printJSON(reviews)
	case "csv":
		return reportCSV(reviews)
	case "markdown":
		return reportMarkdown(reviews)
	default:
		return fmt.Errorf("unknown format: %s (use: xlsx, json, csv, markdown)", format)
	}
}

func reportXLSX(reviews []*models.SavedReview) error {
	if reportOut == "" {
		return fmt.Errorf("--out is required for xlsx")
	}
	if len(reviews) == 0 {
		ui.Info("No reviews to export")
		return nil
	}
	if dryRun {
		ui.DryRunMsg("Would write %d review(s) to %s", len(reviews), reportOut)
		return nil
	}
	if err := dataset.Export(reportOut, reviews); err != nil {
		return err
	}
	ui.Success("Wrote %d review(s) to %s", len(reviews), reportOut)
	return nil
}

func reportCSV(reviews []*models.SavedReview) error {
	w := csv.NewWriter(ui.Out)
	if err := w.Write([]string{"ID", "Agent", "Conversation", "Profile", "Overall", "Criterion", "Score", "Justification", "Created"}); err != nil {
		return err
	}
	for _, r := range reviews {
		for _, sc := range r.Scores {
			if err := w.Write([]string{
				r.ID, r.AgentName, r.ConversationID, r.ProfileName,
				fmt.Sprintf("%.2f", r.OverallScore),
				sc.Criterion, fmt.Sprintf("%d", sc.Score), sc.Justification,
				r.CreatedAt.Format("2006-01-02"),
			}); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}

func reportMarkdown(reviews []*models.SavedReview) error {
	fmt.Fprintln(ui.Out, "# Call reviews")
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, "| Agent | Conversation | Overall | Summary | Created |")
	fmt.Fprintln(ui.Out, "|-------|--------------|---------|---------|---------|")
	for _, r := range reviews {
		fmt.Fprintf(ui.Out, "| %s | %s | %.2f | %s | %s |\n",
			mdCell(r.AgentName), mdCell(r.ConversationID), r.OverallScore, mdCell(r.QuickSummary), r.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
