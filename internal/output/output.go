package output

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/callsage/internal/models"
)

// UI writes coloured status lines and tables for the CLI. Warnings and
// errors go to ErrOut, everything else to Out.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New returns a UI bound to stdout and stderr.
func New() *UI {
	return &UI{Out: os.Stdout, ErrOut: os.Stderr}
}

var (
	bold   = color.New(color.Bold).SprintFunc()
	cyan   = color.New(color.FgHiCyan).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	blue   = color.New(color.FgHiBlue).SprintFunc()
)

func Cyan(s string) string   { return cyan(s) }
func Green(s string) string  { return green(s) }
func Yellow(s string) string { return yellow(s) }
func Red(s string) string    { return red(s) }
func Bold(s string) string   { return bold(s) }

// band colours s by where value falls: below low is red, below high is
// yellow, the rest green.
func band(s string, value, low, high float64) string {
	switch {
	case value < low:
		return red(s)
	case value < high:
		return yellow(s)
	default:
		return green(s)
	}
}

// ScoreColor renders a 0-5 criterion score: 0-1 red, 2-3 yellow, 4-5 green.
func ScoreColor(score int) string {
	return band(strconv.Itoa(score), float64(score), 2, 4)
}

// OverallColor renders a 0-100 overall score with two decimals: below 50
// red, below 80 yellow.
func OverallColor(score float64) string {
	return band(strconv.FormatFloat(score, 'f', 2, 64), score, 50, 80)
}

func line(w io.Writer, prefix, format string, a []any) {
	fmt.Fprintf(w, "%s %s\n", prefix, fmt.Sprintf(format, a...))
}

func (u *UI) Info(format string, a ...any)    { line(u.Out, blue("i"), format, a) }
func (u *UI) Success(format string, a ...any) { line(u.Out, green("✓"), format, a) }
func (u *UI) Warning(format string, a ...any) { line(u.ErrOut, yellow("⚠"), format, a) }
func (u *UI) Error(format string, a ...any)   { line(u.ErrOut, red("✗"), format, a) }

// VerboseLog prints only with --verbose.
func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		line(u.Out, blue("  →"), format, a)
	}
}

// DryRunMsg prints only with --dry-run.
func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table returns a borderless, left-aligned table writing to Out.
func (u *UI) Table(headers []string) *tablewriter.Table {
	plain := tw.Rendition{
		Borders:  tw.BorderNone,
		Settings: tw.Settings{Lines: tw.LinesNone, Separators: tw.SeparatorsNone},
	}
	t := tablewriter.NewTable(u.Out,
		tablewriter.WithRendition(plain),
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithPadding(tw.Padding{Right: "  "}),
	)
	t.Header(headers)
	return t
}

// Matrix prints a scoring matrix as a table followed by its total weight.
func (u *UI) Matrix(m models.ScoringMatrix) error {
	table := u.Table([]string{"ID", "Criterion", "Weight", "Description"})
	for _, c := range m {
		if err := table.Append([]string{shortID(c.ID), c.Criterion, fmt.Sprintf("%g", c.Weight), Truncate(c.Description, 60)}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}
	fmt.Fprintf(u.Out, "\nTotal weight: %g\n", m.TotalWeight())
	return nil
}

// Review prints a review: header, per-criterion scores, summaries and points.
func (u *UI) Review(r *models.Review, m models.ScoringMatrix) error {
	if r.ID != "" {
		fmt.Fprintf(u.Out, "%s %s\n", Bold("Review"), cyan(r.ID))
	}
	fmt.Fprintf(u.Out, "Agent:   %s\n", r.AgentName)
	if r.ConversationID != "" {
		fmt.Fprintf(u.Out, "Call:    %s\n", r.ConversationID)
	}
	fmt.Fprintf(u.Out, "Overall: %s / 100\n\n", OverallColor(r.OverallScore))

	if r.QuickSummary != "" {
		fmt.Fprintf(u.Out, "%s\n\n", r.QuickSummary)
	}

	table := u.Table([]string{"Criterion", "Weight", "Score", "Justification"})
	for _, s := range r.Scores {
		weight := "-"
		if c, ok := m.Find(s.Criterion); ok {
			weight = fmt.Sprintf("%g", c.Weight)
		}
		if err := table.Append([]string{s.Criterion, weight, ScoreColor(s.Score), s.Justification}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	if r.OverallSummary != "" {
		fmt.Fprintf(u.Out, "\n%s\n%s\n", Bold("Summary"), r.OverallSummary)
	}
	u.points("Good points", r.GoodPoints)
	u.points("Areas for improvement", r.AreasForImprovement)

	if len(r.MissingCriteria) > 0 {
		u.Warning("Not scored: %s", strings.Join(r.MissingCriteria, ", "))
	}
	for _, f := range r.Flags {
		u.VerboseLog("%s", f)
	}
	return nil
}

func (u *UI) points(title string, points []models.TimestampedPoint) {
	if len(points) == 0 {
		return
	}
	fmt.Fprintf(u.Out, "\n%s\n", Bold(title))
	for _, p := range points {
		if p.Timestamp != "" {
			fmt.Fprintf(u.Out, "  [%s] %s\n", cyan(p.Timestamp), p.Text)
		} else {
			fmt.Fprintf(u.Out, "  - %s\n", p.Text)
		}
	}
}

// Truncate shortens s to max runes, appending "..." when cut.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
