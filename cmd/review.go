package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/joescharf/callsage/internal/audio"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/output"
	"github.com/joescharf/callsage/internal/request"
	"github.com/joescharf/callsage/internal/sessions"
	"github.com/joescharf/callsage/internal/store"
)

var (
	reviewAgent          string
	reviewTranscriptFile string
	reviewAudioFile      string
	reviewConversationID string
	reviewDuration       string
	reviewProfile        string
	reviewJSON           bool

	reviewListAgent string
	reviewListLimit int

	reviewEditQuick         string
	reviewEditOverall       string
	reviewEditScores        []string
	reviewEditJustification []string

	reviewDeleteYes bool
)

var reviewCmd = &cobra.Command{
	Use:     "review",
	Aliases: []string{"r"},
	Short:   "Generate, inspect and discuss call reviews",
}

var reviewGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Review a call from a transcript and/or recording",
	Long: `Review a call against a scoring matrix profile.

Provide --transcript (a text file, "-" for stdin), --audio (WAV or MP3), or
both. When both are given the recording is the source of truth.`,
	Example: `  callsage review generate --agent "Priya Shah" --transcript call.txt
  callsage review generate --agent "Sam Jones" --audio call.wav --profile billing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewGenerateRun(cmd.Context())
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a saved review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewShowRun(cmd.Context(), args[0])
	},
}

var reviewListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved reviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewListRun(cmd.Context())
	},
}

var reviewEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Manually correct a review",
	Long: `Manually correct a review's summaries or scores.

Scores are matched to existing criteria by name; the overall score is
recomputed from the matrix weights.`,
	Example: `  callsage review edit 01J9ZK --score "Call Closure=4" --justification "Call Closure=Thanked the caller"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewEditRun(cmd.Context(), args[0])
	},
}

var reviewDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a review and its chat history",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewDeleteRun(cmd.Context(), args[0])
	},
}

func init() {
	reviewGenerateCmd.Flags().StringVarP(&reviewAgent, "agent", "a", "", "Agent's full name (required)")
	reviewGenerateCmd.Flags().StringVarP(&reviewTranscriptFile, "transcript", "t", "", "Transcript file, or - for stdin")
	reviewGenerateCmd.Flags().StringVar(&reviewAudioFile, "audio", "", "Recording file (WAV or MP3)")
	reviewGenerateCmd.Flags().StringVar(&reviewConversationID, "conversation-id", "", "Conversation id to echo into the review")
	reviewGenerateCmd.Flags().StringVar(&reviewDuration, "duration", "", "Call length as HH:MM:SS (derived when omitted)")
	reviewGenerateCmd.Flags().StringVarP(&reviewProfile, "profile", "p", "", "Scoring matrix profile (default from config)")
	reviewGenerateCmd.Flags().BoolVar(&reviewJSON, "json", false, "Print the review as JSON")
	_ = reviewGenerateCmd.MarkFlagRequired("agent")

	reviewShowCmd.Flags().BoolVar(&reviewJSON, "json", false, "Print the review as JSON")

	reviewListCmd.Flags().StringVar(&reviewListAgent, "agent", "", "Only reviews of this agent")
	reviewListCmd.Flags().StringVarP(&reviewProfile, "profile", "p", "", "Only reviews scored with this profile")
	reviewListCmd.Flags().IntVarP(&reviewListLimit, "limit", "l", 20, "Maximum number of reviews")

	reviewEditCmd.Flags().StringVar(&reviewEditQuick, "quick-summary", "", "Replace the quick summary")
	reviewEditCmd.Flags().StringVar(&reviewEditOverall, "overall-summary", "", "Replace the overall summary")
	reviewEditCmd.Flags().StringArrayVar(&reviewEditScores, "score", nil, `Set a score, as "Criterion=N" (repeatable)`)
	reviewEditCmd.Flags().StringArrayVar(&reviewEditJustification, "justification", nil, `Set a justification, as "Criterion=text" (repeatable)`)

	reviewDeleteCmd.Flags().BoolVarP(&reviewDeleteYes, "yes", "y", false, "Do not ask for confirmation")

	reviewCmd.AddCommand(reviewGenerateCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewEditCmd)
	reviewCmd.AddCommand(reviewDeleteCmd)
	rootCmd.AddCommand(reviewCmd)
}

func reviewGenerateRun(ctx context.Context) error {
	in := sessions.GenerateInput{
		Input: request.Input{
			AgentName:            reviewAgent,
			ConversationID:       reviewConversationID,
			ConversationDuration: reviewDuration,
		},
		Profile: reviewProfile,
	}

	if reviewTranscriptFile != "" {
		text, err := readTranscript(reviewTranscriptFile)
		if err != nil {
			return err
		}
		in.CallTranscript = text
	}
	if reviewAudioFile != "" {
		rec, err := audio.LoadFile(reviewAudioFile)
		if err != nil {
			return err
		}
		in.Input = in.WithRecording(rec)
		ui.VerboseLog("Loaded %s (%s, %s)", reviewAudioFile, rec.Payload.MIMEType, rec.Duration)
	}

	if dryRun {
		ui.DryRunMsg("Would review call of %s (profile %q, transcript %d chars, audio %v)",
			in.AgentName, in.Profile, len(in.CallTranscript), in.Audio != nil)
		return nil
	}

	mgr, err := getManager()
	if err != nil {
		return err
	}

	ui.Info("Reviewing call of %s...", output.Cyan(in.AgentName))
	saved, err := mgr.Generate(ctx, in)
	if err != nil {
		return err
	}

	if reviewJSON {
		return printJSON(saved)
	}
	ui.Success("Review %s saved", saved.ID)
	return ui.Review(&saved.Review, saved.ScoringMatrix)
}

// readAllStdin is replaceable in tests.
var readAllStdin = func() ([]byte, error) { return io.ReadAll(os.Stdin) }

// readTranscript reads a transcript file, or stdin for "-".
func readTranscript(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = readAllStdin()
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

func reviewShowRun(ctx context.Context, id string) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}
	saved, err := mgr.Get(ctx, id)
	if err != nil {
		return err
	}
	if reviewJSON {
		return printJSON(saved)
	}

	fmt.Fprintf(ui.Out, "%s %s  profile %s  created %s\n",
		output.Bold("Review"), saved.ID, saved.ProfileName, saved.CreatedAt.Format("2006-01-02 15:04"))
	if saved.ConversationDuration != "" {
		fmt.Fprintf(ui.Out, "Duration: %s\n", saved.ConversationDuration)
	}
	return ui.Review(&saved.Review, saved.ScoringMatrix)
}

func reviewListRun(ctx context.Context) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}
	reviews, err := mgr.List(ctx, store.ReviewListFilter{
		AgentName:   reviewListAgent,
		ProfileName: reviewProfile,
		Limit:       reviewListLimit,
	})
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		ui.Info("No reviews yet. Create one with: callsage review generate")
		return nil
	}

	table := ui.Table([]string{"ID", "Agent", "Conversation", "Score", "Summary", "Created"})
	for _, r := range reviews {
		if err := table.Append([]string{
			r.ID,
			r.AgentName,
			r.ConversationID,
			output.OverallColor(r.OverallScore),
			output.Truncate(r.QuickSummary, 50),
			r.CreatedAt.Format("2006-01-02 15:04"),
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func reviewEditRun(ctx context.Context, id string) error {
	updates, err := buildEditUpdates(reviewEditQuick, reviewEditOverall, reviewEditScores, reviewEditJustification)
	if err != nil {
		return err
	}
	if updates.QuickSummary == nil && updates.OverallSummary == nil && len(updates.Scores) == 0 {
		return fmt.Errorf("nothing to change: use --quick-summary, --overall-summary, --score or --justification")
	}

	if dryRun {
		ui.DryRunMsg("Would update review %s", id)
		return nil
	}

	mgr, err := getManager()
	if err != nil {
		return err
	}
	saved, err := mgr.Edit(ctx, id, updates)
	if err != nil {
		return err
	}
	ui.Success("Review %s updated, overall score %s", saved.ID, output.OverallColor(saved.OverallScore))
	return nil
}

// buildEditUpdates turns edit flags into review updates. Score and
// justification changes for the same criterion are merged.
func buildEditUpdates(quick, overall string, scores, justifications []string) (models.ReviewUpdates, error) {
	var u models.ReviewUpdates
	if quick != "" {
		u.QuickSummary = &quick
	}
	if overall != "" {
		u.OverallSummary = &overall
	}

	index := map[string]int{}
	entry := func(criterion string) *models.ScoreUpdate {
		key := models.NormalizeCriterion(criterion)
		if i, ok := index[key]; ok {
			return &u.Scores[i]
		}
		index[key] = len(u.Scores)
		u.Scores = append(u.Scores, models.ScoreUpdate{Criterion: criterion})
		return &u.Scores[len(u.Scores)-1]
	}

	for _, s := range scores {
		name, value, err := splitAssignment(s)
		if err != nil {
			return u, fmt.Errorf("--score: %w", err)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return u, fmt.Errorf("--score %q: score must be a whole number", s)
		}
		entry(name).Score = &n
	}
	for _, j := range justifications {
		name, value, err := splitAssignment(j)
		if err != nil {
			return u, fmt.Errorf("--justification: %w", err)
		}
		entry(name).Justification = &value
	}
	return u, nil
}

func splitAssignment(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", "", fmt.Errorf("%q is not in Criterion=value form", s)
	}
	return name, strings.TrimSpace(value), nil
}

func reviewDeleteRun(ctx context.Context, id string) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}
	saved, err := mgr.Get(ctx, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete review %s of %s", saved.ID, saved.AgentName)
		return nil
	}
	if !reviewDeleteYes {
		ok, err := confirm(fmt.Sprintf("Delete review %s of %s", saved.ID, saved.AgentName))
		if err != nil || !ok {
			return err
		}
	}

	if err := mgr.Delete(ctx, saved.ID); err != nil {
		return err
	}
	ui.Success("Deleted review %s", saved.ID)
	return nil
}

// confirm asks a yes/no question. A "no" answer is not an error.
func confirm(label string) (bool, error) {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	if _, err := prompt.Run(); err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			ui.Info("Cancelled")
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
