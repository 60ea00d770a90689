package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"channelsync/internal/job"
	"channelsync/internal/models"
	"channelsync/internal/registry"
	"channelsync/internal/transport/sheets"

	"github.com/tidwall/gjson"
)

const (
	defaultSheet    = "Sheet1"
	defaultIDColumn = "id"
	lastColumn      = "Z"
)

// RowsConnector mirrors the rows of one sheet. The first row holds the
// column names; the id column identifies a row.
type RowsConnector struct{}

func NewRowsConnector() *RowsConnector { return &RowsConnector{} }

func (*RowsConnector) Name() string         { return ConnectorRows }
func (*RowsConnector) Label() string        { return "Sheet rows" }
func (*RowsConnector) ImportEntity() string { return "row" }

func (*RowsConnector) ImportJobName(validation bool) string {
	return jobName(ChannelSpreadsheet, ConnectorRows, validation)
}

func sheetOptions(settings models.Settings, params map[string]interface{}) (string, string) {
	sheet := settings.GetString("sheet")
	if p := models.Settings(params).GetString("sheet"); p != "" {
		sheet = p
	}
	if sheet == "" {
		sheet = defaultSheet
	}
	idColumn := settings.GetString("id_column")
	if idColumn == "" {
		idColumn = defaultIDColumn
	}
	return sheet, idColumn
}

func (c *RowsConnector) NewReader(_ context.Context, transport registry.Transport, settings models.Settings, opts registry.ReaderOptions) (job.Reader, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	params := make(map[string]interface{}, len(opts.Params))
	for k, v := range opts.Params {
		params[k] = v
	}
	sheet, idColumn := sheetOptions(settings, params)
	return &rowsReader{transport: transport, sheet: sheet, idColumn: idColumn}, nil
}

// rowsReader reads the whole sheet as a single page.
type rowsReader struct {
	transport registry.Transport
	sheet     string
	idColumn  string
	done      bool
}

func (r *rowsReader) Read(ctx context.Context) ([]job.Item, error) {
	if r.done {
		return nil, nil
	}
	r.done = true

	body, err := r.transport.Call(ctx, sheets.ActionGet, map[string]interface{}{"range": r.sheet + "!A:" + lastColumn})
	if err != nil {
		return nil, err
	}
	values := gjson.GetBytes(body, "values").Array()
	if len(values) < 2 {
		return nil, nil
	}

	var header []string
	for _, cell := range values[0].Array() {
		header = append(header, cell.String())
	}

	items := make([]job.Item, 0, len(values)-1)
	for _, row := range values[1:] {
		cells := row.Array()
		if len(cells) == 0 {
			continue
		}
		obj := make(map[string]string, len(header))
		for i, name := range header {
			if name == "" || i >= len(cells) {
				continue
			}
			obj[name] = cells[i].String()
		}
		payload, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		items = append(items, job.Item{ExternalID: obj[r.idColumn], Payload: payload})
	}
	return items, nil
}

// Export rewrites the sheet with the given records: the header is the id
// column followed by the other payload keys in alphabetical order.
func (c *RowsConnector) Export(ctx context.Context, transport registry.Transport, settings models.Settings, records []models.Record, params map[string]interface{}) (*registry.ExportResult, error) {
	sheet, idColumn := sheetOptions(settings, params)
	out := &registry.ExportResult{}

	columns := map[string]struct{}{}
	type row struct {
		id      string
		payload gjson.Result
	}
	parsed := make([]row, 0, len(records))
	for _, rec := range records {
		if !gjson.Valid(rec.Payload) {
			out.Errors = append(out.Errors, fmt.Sprintf("row %s: payload is not valid JSON", rec.ExternalID))
			continue
		}
		payload := gjson.Parse(rec.Payload)
		if !payload.IsObject() {
			out.Skipped++
			continue
		}
		payload.ForEach(func(key, _ gjson.Result) bool {
			if key.String() != idColumn {
				columns[key.String()] = struct{}{}
			}
			return true
		})
		parsed = append(parsed, row{id: rec.ExternalID, payload: payload})
	}

	header := make([]string, 0, len(columns)+1)
	for name := range columns {
		header = append(header, name)
	}
	sort.Strings(header)
	header = append([]string{idColumn}, header...)

	rows := make([][]interface{}, 0, len(parsed)+1)
	headerRow := make([]interface{}, len(header))
	for i, name := range header {
		headerRow[i] = name
	}
	rows = append(rows, headerRow)

	for _, r := range parsed {
		cells := make([]interface{}, len(header))
		for i, name := range header {
			cells[i] = r.payload.Get(gjsonKey(name)).String()
		}
		if cells[0] == "" {
			cells[0] = r.id
		}
		rows = append(rows, cells)
	}

	if _, err := transport.Call(ctx, sheets.ActionClear, map[string]interface{}{"range": sheet + "!A1:" + lastColumn}); err != nil {
		return nil, err
	}
	if _, err := transport.Call(ctx, sheets.ActionUpdate, map[string]interface{}{"range": sheet + "!A1", "values": rows}); err != nil {
		return nil, err
	}
	out.Exported = len(parsed)
	return out, nil
}

// gjsonKey escapes path syntax in a column name.
func gjsonKey(name string) string {
	var b []byte
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%':
			b = append(b, '\\')
		}
		b = append(b, name[i])
	}
	return string(b)
}
