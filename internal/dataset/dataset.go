// Package dataset reads batches of calls from spreadsheets and writes
// review reports back out as spreadsheets.
package dataset

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joescharf/callsage/internal/models"
)

// CallRow is one call to review, as read from a spreadsheet row.
type CallRow struct {
	Row            int // 1-based sheet row
	AgentName      string
	ConversationID string
	Duration       string
	Transcript     string
	AudioPath      string
}

// columns holds the detected column index per field, -1 when absent.
type columns struct {
	agent, id, duration, transcript, audio int
}

func detectColumns(header []string) columns {
	c := columns{agent: -1, id: -1, duration: -1, transcript: -1, audio: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case c.agent == -1 && strings.Contains(l, "agent"):
			c.agent = i
		case c.transcript == -1 && (strings.Contains(l, "transcript") || l == "text"):
			c.transcript = i
		case c.audio == -1 && (strings.Contains(l, "audio") || strings.Contains(l, "recording")):
			c.audio = i
		case c.duration == -1 && (strings.Contains(l, "duration") || strings.Contains(l, "length")):
			c.duration = i
		case c.id == -1 && (strings.Contains(l, "conversation") || strings.Contains(l, "call id") || l == "id"):
			c.id = i
		}
	}
	return c
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[idx])
}

// Load reads call rows from the first sheet of an xlsx workbook. Columns are
// found by header name; an agent column and a transcript or audio column are
// required. Rows with neither transcript nor audio are skipped.
func Load(path string) ([]CallRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, fmt.Errorf("no data rows")
	}

	cols := detectColumns(rows[0])
	if cols.agent == -1 {
		return nil, fmt.Errorf("no agent column in header %v", rows[0])
	}
	if cols.transcript == -1 && cols.audio == -1 {
		return nil, fmt.Errorf("no transcript or audio column in header %v", rows[0])
	}

	var out []CallRow
	for i, r := range rows[1:] {
		row := CallRow{
			Row:            i + 2,
			AgentName:      cell(r, cols.agent),
			ConversationID: cell(r, cols.id),
			Duration:       cell(r, cols.duration),
			Transcript:     cell(r, cols.transcript),
			AudioPath:      cell(r, cols.audio),
		}
		if row.Transcript == "" && row.AudioPath == "" {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

const (
	summarySheet = "Reviews"
	scoresSheet  = "Scores"
)

// Export writes reviews to an xlsx workbook: a summary sheet with one row per
// review and a per-criterion column, plus a long-form scores sheet.
func Export(path string, reviews []*models.SavedReview) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(scoresSheet); err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	criteria := criterionColumns(reviews)
	header := []any{"Review ID", "Agent", "Conversation ID", "Profile", "Duration", "Overall Score", "Quick Summary"}
	for _, c := range criteria {
		header = append(header, c)
	}
	if err := writeRow(f, summarySheet, 1, header, headerStyle); err != nil {
		return err
	}
	if err := writeRow(f, scoresSheet, 1, []any{"Review ID", "Agent", "Criterion", "Score", "Justification"}, headerStyle); err != nil {
		return err
	}

	scoreRow := 2
	for i, r := range reviews {
		byName := make(map[string]int, len(r.Scores))
		for _, s := range r.Scores {
			byName[models.NormalizeCriterion(s.Criterion)] = s.Score
		}
		row := []any{r.ID, r.AgentName, r.ConversationID, r.ProfileName, r.ConversationDuration, r.OverallScore, r.QuickSummary}
		for _, c := range criteria {
			if s, ok := byName[models.NormalizeCriterion(c)]; ok {
				row = append(row, s)
			} else {
				row = append(row, "")
			}
		}
		if err := writeRow(f, summarySheet, i+2, row, 0); err != nil {
			return err
		}

		for _, s := range r.Scores {
			if err := writeRow(f, scoresSheet, scoreRow, []any{r.ID, r.AgentName, s.Criterion, s.Score, s.Justification}, 0); err != nil {
				return err
			}
			scoreRow++
		}
	}

	if err := f.SetPanes(summarySheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any, style int) error {
	start, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, start, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	if style != 0 {
		end, err := excelize.CoordinatesToCellName(len(values), row)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, start, end, style); err != nil {
			return fmt.Errorf("style %s row %d: %w", sheet, row, err)
		}
	}
	return nil
}

// criterionColumns lists each distinct criterion in first-seen matrix order.
func criterionColumns(reviews []*models.SavedReview) []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		key := models.NormalizeCriterion(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, name)
	}
	for _, r := range reviews {
		for _, c := range r.ScoringMatrix {
			add(c.Criterion)
		}
		for _, s := range r.Scores {
			add(s.Criterion)
		}
	}
	return out
}
