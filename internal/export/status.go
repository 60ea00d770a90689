package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"channelsync/internal/models"

	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Statuses"

var countColumns = []string{"read", "process", "add", "update", "replace", "delete", "errors"}

// StatusSource is the read side the exporter needs.
type StatusSource interface {
	GetIntegration(ctx context.Context, id int64) (*models.Integration, error)
	GetStatuses(ctx context.Context, integrationID int64, limit int) ([]models.Status, error)
}

type StatusExporter struct {
	source StatusSource
}

func NewStatusExporter(source StatusSource) *StatusExporter {
	return &StatusExporter{source: source}
}

// WriteTo writes the status history of an integration, newest first, as an
// xlsx workbook.
func (e *StatusExporter) WriteTo(ctx context.Context, w io.Writer, integrationID int64, limit int) error {
	integration, err := e.source.GetIntegration(ctx, integrationID)
	if err != nil {
		return err
	}
	statuses, err := e.source.GetStatuses(ctx, integrationID, limit)
	if err != nil {
		return fmt.Errorf("load statuses: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("%s (#%d)", integration.Name, integration.ID))
	title, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 14},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", title)

	header := append([]interface{}{"Created At", "Connector", "Code", "Message"}, toInterfaces(countColumns)...)
	if err := f.SetSheetRow(sheetName, "A2", &header); err != nil {
		return err
	}
	lastCol, _ := excelize.ColumnNumberToName(len(header))
	headStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A2", lastCol+"2", headStyle)

	failed, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F8CBAD"}, Pattern: 1},
	})

	for i, st := range statuses {
		row := i + 3
		values := []interface{}{
			st.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			st.Connector,
			st.Code,
			st.Message,
		}
		for _, key := range countColumns {
			if c := gjson.Get(st.Data, key); c.Exists() {
				values = append(values, c.Int())
			} else {
				values = append(values, nil)
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return err
		}
		if st.Code == models.StatusFailed {
			end, _ := excelize.CoordinatesToCellName(len(header), row)
			_ = f.SetCellStyle(sheetName, cell, end, failed)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 20)
	_ = f.SetColWidth(sheetName, "B", "C", 14)
	_ = f.SetColWidth(sheetName, "D", "D", 40)

	_, err = f.WriteTo(w)
	return err
}

// SaveAs writes the workbook to path, creating its directory.
func (e *StatusExporter) SaveAs(ctx context.Context, path string, integrationID int64, limit int) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating export directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := e.WriteTo(ctx, file, integrationID, limit); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	return file.Close()
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
