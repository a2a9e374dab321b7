// Package export renders sync state as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"offlinesync/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetHistory     = "History"
	SheetQueue       = "Queue"
	SheetDeadLetters = "Dead letters"

	timeFormat = "2006-01-02 15:04:05"
)

// Report is everything a workbook contains.
type Report struct {
	History     []models.HistoryEntry
	Queue       []models.QueueRecord
	DeadLetters []models.DeadLetter
}

// Write renders the report as xlsx into w.
func Write(w io.Writer, r Report) error {
	f, err := build(r)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveToDir writes the report to dir and returns the file path.
func SaveToDir(dir string, now time.Time, r Report) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	f, err := build(r)
	if err != nil {
		return "", err
	}
	defer f.Close()

	path := filepath.Join(dir, fmt.Sprintf("sync_report_%s.xlsx", now.Format("20060102_150405")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

func build(r Report) (*excelize.File, error) {
	f := excelize.NewFile()

	header, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	historyRows := make([][]interface{}, 0, len(r.History))
	for _, h := range r.History {
		historyRows = append(historyRows, []interface{}{
			h.ID,
			h.Timestamp.Format(timeFormat),
			string(h.Trigger),
			h.TotalItems,
			h.SuccessCount,
			h.ErrorCount,
			h.DurationMs,
			strings.Join(h.Details, "\n"),
		})
	}

	queueRows := make([][]interface{}, 0, len(r.Queue))
	for _, q := range r.Queue {
		queueRows = append(queueRows, []interface{}{
			q.ID, q.Module, string(q.Action), q.Timestamp.Format(timeFormat), q.RetryCount, string(q.Payload),
		})
	}

	deadRows := make([][]interface{}, 0, len(r.DeadLetters))
	for _, d := range r.DeadLetters {
		deadRows = append(deadRows, []interface{}{
			d.Record.ID, d.Record.Module, string(d.Record.Action), d.Record.RetryCount,
			d.Reason, d.DeadLetteredAt.Format(timeFormat), string(d.Record.Payload),
		})
	}

	sheets := []struct {
		name    string
		headers []interface{}
		widths  []float64
		rows    [][]interface{}
	}{
		{SheetHistory, []interface{}{"ID", "Started", "Trigger", "Total", "Synced", "Failed", "Duration ms", "Details"},
			[]float64{38, 20, 12, 8, 8, 8, 12, 80}, historyRows},
		{SheetQueue, []interface{}{"ID", "Module", "Action", "Created", "Retries", "Payload"},
			[]float64{40, 20, 10, 20, 8, 80}, queueRows},
		{SheetDeadLetters, []interface{}{"ID", "Module", "Action", "Retries", "Reason", "Dead-lettered", "Payload"},
			[]float64{40, 20, 10, 8, 50, 20, 80}, deadRows},
	}

	for _, s := range sheets {
		if _, err := f.NewSheet(s.name); err != nil {
			f.Close()
			return nil, fmt.Errorf("create sheet %s: %w", s.name, err)
		}
		if err := f.SetSheetRow(s.name, "A1", &s.headers); err != nil {
			f.Close()
			return nil, fmt.Errorf("write %s header: %w", s.name, err)
		}
		last, _ := excelize.CoordinatesToCellName(len(s.headers), 1)
		_ = f.SetCellStyle(s.name, "A1", last, header)

		for col, width := range s.widths {
			name, _ := excelize.ColumnNumberToName(col + 1)
			_ = f.SetColWidth(s.name, name, name, width)
		}

		for row := range s.rows {
			cell, _ := excelize.CoordinatesToCellName(1, row+2)
			if err := f.SetSheetRow(s.name, cell, &s.rows[row]); err != nil {
				f.Close()
				return nil, fmt.Errorf("write %s row %d: %w", s.name, row+2, err)
			}
		}
	}

	_ = f.DeleteSheet("Sheet1")
	if idx, err := f.GetSheetIndex(SheetHistory); err == nil {
		f.SetActiveSheet(idx)
	}
	return f, nil
}
