package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/joescharf/callsage/internal/audio"
	"github.com/joescharf/callsage/internal/dataset"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/output"
	"github.com/joescharf/callsage/internal/request"
	"github.com/joescharf/callsage/internal/sessions"
)

var (
	batchDataset     string
	batchOut         string
	batchConcurrency int
	batchFailFast    bool
)

var reviewBatchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Review every call in a spreadsheet",
	Long: `Review every call listed in an xlsx workbook.

The first sheet needs a header row with an agent column and a transcript
and/or audio column; conversation id and duration columns are optional.
Audio paths are resolved relative to the workbook.`,
	Example: `  callsage review batch --dataset calls.xlsx --out reviews.xlsx --concurrency 8`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewBatchRun(cmd.Context())
	},
}

func init() {
	reviewBatchCmd.Flags().StringVarP(&batchDataset, "dataset", "d", "", "Workbook of calls to review (required)")
	reviewBatchCmd.Flags().StringVarP(&batchOut, "out", "o", "", "Write the finished reviews to this xlsx file")
	reviewBatchCmd.Flags().StringVarP(&reviewProfile, "profile", "p", "", "Scoring matrix profile (default from config)")
	reviewBatchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", 0, "Parallel reviews (default review.concurrency)")
	reviewBatchCmd.Flags().BoolVar(&batchFailFast, "fail-fast", false, "Stop at the first failed review")
	_ = reviewBatchCmd.MarkFlagRequired("dataset")
	reviewCmd.AddCommand(reviewBatchCmd)
}

// batchResult is the outcome of reviewing one row.
type batchResult struct {
	Row    dataset.CallRow
	Review *models.SavedReview
	Err    error
}

func reviewBatchRun(ctx context.Context) error {
	rows, err := dataset.Load(batchDataset)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}
	ui.Info("Loaded %d call(s) from %s", len(rows), batchDataset)

	if dryRun {
		for _, r := range rows {
			ui.DryRunMsg("Would review row %d: %s %s", r.Row, r.AgentName, r.ConversationID)
		}
		return nil
	}

	mgr, err := getManager()
	if err != nil {
		return err
	}

	limit := batchConcurrency
	if limit <= 0 {
		limit = viper.GetInt("review.concurrency")
	}
	results, err := runBatch(ctx, mgr, rows, batchRunOptions{
		BaseDir:     filepath.Dir(batchDataset),
		Profile:     reviewProfile,
		Concurrency: limit,
		FailFast:    batchFailFast,
	})
	if err != nil {
		return err
	}

	var done []*models.SavedReview
	table := ui.Table([]string{"Row", "Agent", "Conversation", "Score", "Result"})
	for _, r := range results {
		var status, score string
		if r.Err != nil {
			status = output.Red(output.Truncate(r.Err.Error(), 60))
		} else if r.Review != nil {
			score = output.OverallColor(r.Review.OverallScore)
			status = output.Green(r.Review.ID)
			done = append(done, r.Review)
		} else {
			status = output.Yellow("skipped")
		}
		if err := table.Append([]string{fmt.Sprintf("%d", r.Row.Row), r.Row.AgentName, r.Row.ConversationID, score, status}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	failed := len(rows) - len(done)
	if failed > 0 {
		ui.Warning("%d of %d review(s) did not complete", failed, len(rows))
	} else {
		ui.Success("Reviewed %d call(s)", len(done))
	}

	if batchOut != "" && len(done) > 0 {
		if err := dataset.Export(batchOut, done); err != nil {
			return fmt.Errorf("export reviews: %w", err)
		}
		ui.Success("Wrote %s", batchOut)
	}
	return nil
}

type batchRunOptions struct {
	BaseDir     string
	Profile     string
	Concurrency int
	FailFast    bool
}

// runBatch reviews rows with bounded parallelism. Results keep row order.
// Without FailFast a failed row is recorded and the rest continue.
func runBatch(ctx context.Context, mgr *sessions.Manager, rows []dataset.CallRow, opts batchRunOptions) ([]batchResult, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	results := make([]batchResult, len(rows))
	var completed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, row := range rows {
		results[i].Row = row
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			saved, err := reviewRow(gctx, mgr, row, opts)
			results[i].Review = saved
			results[i].Err = err
			n := completed.Add(1)
			if err != nil {
				appLog.WithError(err).WithField("row", row.Row).Warn("batch review failed")
				if opts.FailFast {
					return fmt.Errorf("row %d: %w", row.Row, err)
				}
				return nil
			}
			ui.VerboseLog("[%d/%d] row %d: %s %.2f", n, len(rows), row.Row, saved.AgentName, saved.OverallScore)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func reviewRow(ctx context.Context, mgr *sessions.Manager, row dataset.CallRow, opts batchRunOptions) (*models.SavedReview, error) {
	in := sessions.GenerateInput{
		Input: request.Input{
			AgentName:            row.AgentName,
			ConversationID:       row.ConversationID,
			ConversationDuration: row.Duration,
			CallTranscript:       row.Transcript,
		},
		Profile: opts.Profile,
	}
	if row.AudioPath != "" {
		path := row.AudioPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(opts.BaseDir, path)
		}
		rec, err := audio.LoadFile(path)
		if err != nil {
			return nil, err
		}
		in.Input = in.WithRecording(rec)
	}
	return mgr.Generate(ctx, in)
}
