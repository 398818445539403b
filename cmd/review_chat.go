package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/callsage/internal/apperr"
	"github.com/joescharf/callsage/internal/chat"
	"github.com/joescharf/callsage/internal/models"
	"github.com/joescharf/callsage/internal/output"
	"github.com/joescharf/callsage/internal/sessions"
)

var reviewChatCmd = &cobra.Command{
	Use:   "chat <id>",
	Short: "Discuss a review with the assistant",
	Long: `Open an interactive chat about a saved review.

Ask why a criterion got its score, or ask for a correction. Proposed
amendments are shown as a preview and only applied when you confirm.

Commands: /show, /apply, /discard, /reset, /help, /quit`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewChatRun(cmd.Context(), args[0])
	},
}

func init() {
	reviewCmd.AddCommand(reviewChatCmd)
}

const chatHelp = `  /show      show the current review
  /apply     apply the pending amendment
  /discard   drop the pending amendment
  /reset     clear the conversation
  /quit      leave the chat`

// chatREPL handles one line of chat input at a time.
type chatREPL struct {
	mgr      *sessions.Manager
	reviewID string
	out      io.Writer
	// confirm asks a yes/no question before an amendment is applied.
	confirm func(label string) (bool, error)
}

func reviewChatRun(ctx context.Context, id string) error {
	mgr, err := getManager()
	if err != nil {
		return err
	}
	state, err := mgr.History(ctx, id)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            output.Cyan("you> "),
		HistoryFile:       filepath.Join(viper.GetString("state_dir"), "chat_history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    true,

		Stdin:  readline.NewCancelableStdin(os.Stdin),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	repl := &chatREPL{
		mgr:      mgr,
		reviewID: state.ReviewID,
		out:      ui.Out,
		confirm:  readlineConfirm(rl),
	}
	repl.intro(state)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		done, err := repl.handle(ctx, line)
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	fmt.Fprintln(ui.Out, "Goodbye!")
	return nil
}

// readlineConfirm asks through the running readline instance so the prompt
// does not compete with it for stdin.
func readlineConfirm(rl *readline.Instance) func(string) (bool, error) {
	return func(label string) (bool, error) {
		prev := rl.Config.Prompt
		rl.SetPrompt(label + " [y/N] ")
		defer rl.SetPrompt(prev)

		answer, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

func (r *chatREPL) intro(state *sessions.ChatState) {
	fmt.Fprintf(r.out, "%s %s\n", output.Green("sage>"), state.Welcome)
	fmt.Fprintln(r.out, "Type /help for commands.")
	for _, m := range state.Messages {
		r.printMessage(m)
	}
	if state.Pending != nil {
		fmt.Fprintln(r.out, output.Yellow("An amendment is pending: /apply or /discard"))
	}
	fmt.Fprintln(r.out)
}

func (r *chatREPL) printMessage(m models.ChatMessage) {
	if m.Role == models.ChatRoleUser {
		fmt.Fprintf(r.out, "%s %s\n", output.Cyan("you>"), m.Content)
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", output.Green("sage>"), m.Content)
}

// handle processes one input line and reports whether the chat should end.
// Turn failures are printed, not returned, so the chat stays usable.
func (r *chatREPL) handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch strings.ToLower(line) {
	case "":
		return false, nil
	case "/quit", "/exit", "exit", "quit", "q":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
		return false, nil
	case "/show":
		saved, err := r.mgr.Get(ctx, r.reviewID)
		if err != nil {
			return false, err
		}
		return false, ui.Review(&saved.Review, saved.ScoringMatrix)
	case "/apply":
		r.apply(ctx)
		return false, nil
	case "/discard":
		if err := r.mgr.DiscardAmendment(ctx, r.reviewID); err != nil {
			ui.Error("%v", err)
			return false, nil
		}
		ui.Info("Amendment discarded")
		return false, nil
	case "/reset":
		if err := r.mgr.ResetChat(ctx, r.reviewID); err != nil {
			ui.Error("%v", err)
			return false, nil
		}
		ui.Info("Conversation cleared")
		return false, nil
	}

	before, err := r.mgr.Get(ctx, r.reviewID)
	if err != nil {
		return false, err
	}

	reply, err := r.mgr.Chat(ctx, r.reviewID, line)
	if err != nil {
		var ce *apperr.ChatError
		if errors.As(err, &ce) {
			fmt.Fprintf(r.out, "%s %s\n", output.Green("sage>"), chat.ApologyMessage)
			ui.VerboseLog("%v", err)
			return false, nil
		}
		ui.Error("%v", err)
		return false, nil
	}

	fmt.Fprintf(r.out, "%s %s\n", output.Green("sage>"), reply.Text)
	if reply.Kind != chat.ReplyAmendment || reply.Preview == nil {
		return false, nil
	}

	printAmendmentPreview(r.out, &before.Review, reply.Preview)
	ok, err := r.confirm("Apply this amendment?")
	if err != nil {
		return false, err
	}
	if ok {
		r.apply(ctx)
	} else {
		ui.Info("Amendment kept pending: /apply to apply it, /discard to drop it")
	}
	return false, nil
}

func (r *chatREPL) apply(ctx context.Context) {
	saved, explanation, err := r.mgr.ApplyAmendment(ctx, r.reviewID)
	if err != nil {
		ui.Error("%v", err)
		return
	}
	ui.Success("Amendment applied, overall score %s", output.OverallColor(saved.OverallScore))
	if explanation != "" {
		ui.VerboseLog("%s", explanation)
	}
}

// printAmendmentPreview lists what a proposal would change.
func printAmendmentPreview(w io.Writer, current, preview *models.Review) {
	fmt.Fprintln(w, output.Bold("Proposed changes:"))
	changed := false
	for _, next := range preview.Scores {
		for _, cur := range current.Scores {
			if models.NormalizeCriterion(cur.Criterion) != models.NormalizeCriterion(next.Criterion) {
				continue
			}
			if cur.Score != next.Score {
				fmt.Fprintf(w, "  %s: %s -> %s\n", cur.Criterion, output.ScoreColor(cur.Score), output.ScoreColor(next.Score))
				changed = true
			}
			if cur.Justification != next.Justification {
				fmt.Fprintf(w, "  %s justification: %s\n", cur.Criterion, next.Justification)
				changed = true
			}
		}
	}
	if current.QuickSummary != preview.QuickSummary {
		fmt.Fprintf(w, "  Quick summary: %s\n", preview.QuickSummary)
		changed = true
	}
	if current.OverallSummary != preview.OverallSummary {
		fmt.Fprintf(w, "  Overall summary: %s\n", output.Truncate(preview.OverallSummary, 120))
		changed = true
	}
	if !samePoints(current.GoodPoints, preview.GoodPoints) {
		fmt.Fprintf(w, "  Good points: %d item(s)\n", len(preview.GoodPoints))
		changed = true
	}
	if !samePoints(current.AreasForImprovement, preview.AreasForImprovement) {
		fmt.Fprintf(w, "  Areas for improvement: %d item(s)\n", len(preview.AreasForImprovement))
		changed = true
	}
	if current.OverallScore != preview.OverallScore {
		fmt.Fprintf(w, "  Overall score: %s -> %s\n", output.OverallColor(current.OverallScore), output.OverallColor(preview.OverallScore))
		changed = true
	}
	if !changed {
		fmt.Fprintln(w, "  (no effective changes)")
	}
}

func samePoints(a, b []models.TimestampedPoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
