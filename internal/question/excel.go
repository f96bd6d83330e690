package question

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"ruangobat/internal/draft"

	"github.com/xuri/excelize/v2"
)

const excelOptionColumns = draft.DefaultOptionCount

// excelHeaders lays out the sheet for questions with up to optionCols options.
func excelHeaders(optionCols int) []string {
	h := []string{"question_id", "type", "text", "explanation"}
	for i := 1; i <= optionCols; i++ {
		h = append(h, "option_"+strconv.Itoa(i))
	}
	return append(h, "correct")
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows   int              `json:"total_rows"`
	SuccessRows int              `json:"success_rows"`
	FailedRows  int              `json:"failed_rows"`
	Merged      int              `json:"merged"`
	Errors      []ImportRowError `json:"errors"`
}

func exportQuestionsExcel(questions []draft.QuestionDraft) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	sheet := f.GetSheetName(0)
	optionCols := excelOptionColumns
	for _, q := range questions {
		optionCols = max(optionCols, len(q.Options))
	}
	headers := excelHeaders(optionCols)
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, q := range questions {
		row := i + 2
		values := []any{q.QuestionID, string(q.Type), q.Text, q.Explanation}
		var correct []string
		for j := 0; j < optionCols; j++ {
			text := ""
			if j < len(q.Options) {
				text = q.Options[j].Text
				if q.Options[j].IsCorrect {
					correct = append(correct, strconv.Itoa(j+1))
				}
			}
			values = append(values, text)
		}
		values = append(values, strings.Join(correct, ","))
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	lastCol, _ := excelize.ColumnNumberToName(len(headers))
	_ = f.SetColWidth(sheet, "A", lastCol, 24)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

// parseQuestionsExcel reads the first sheet and validates every row against
// the flow. Valid rows are returned in sheet order; invalid rows are reported.
func parseQuestionsExcel(r io.Reader, flow draft.Flow, v *Validator) ([]draft.QuestionDraft, *ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open excel: %v", ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}

	header := map[string]int{}
	for i, h := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range []string{"text", "option_1", "correct"} {
		if _, ok := header[col]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	optionCols := 0
	for {
		if _, ok := header["option_"+strconv.Itoa(optionCols+1)]; !ok {
			break
		}
		optionCols++
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	out := make([]draft.QuestionDraft, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		get := func(key string) string {
			idx, ok := header[key]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if isBlankRow(row) {
			continue
		}
		report.TotalRows++

		in := QuestionInput{
			QuestionID:  get("question_id"),
			Type:        get("type"),
			Text:        get("text"),
			Explanation: get("explanation"),
		}
		for j := 1; j <= optionCols; j++ {
			in.Options = append(in.Options, OptionInput{Text: get("option_" + strconv.Itoa(j))})
		}
		// trailing empty option columns are dropped, keeping at least one
		for len(in.Options) > 1 && in.Options[len(in.Options)-1].Text == "" {
			in.Options = in.Options[:len(in.Options)-1]
		}

		if err := markCorrect(in.Options, get("correct")); err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: i + 1, Error: err.Error()})
			continue
		}
		q, err := v.Question(flow, in)
		if err != nil {
			report.FailedRows++
			report.Errors = append(report.Errors, ImportRowError{Row: i + 1, Error: err.Error()})
			continue
		}
		report.SuccessRows++
		out = append(out, q)
	}
	return out, report, nil
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func markCorrect(options []OptionInput, raw string) error {
	if raw == "" {
		return nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 || n > len(options) {
			return errors.New("kolom correct tidak valid: " + part)
		}
		options[n-1].IsCorrect = true
	}
	return nil
}
