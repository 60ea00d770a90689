package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"channelsync/internal/models"
	"channelsync/internal/registry"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// TypeName is the registry name of the Google Sheets transport.
const TypeName = "google_sheets"

// Actions understood by Transport.Call.
const (
	ActionGet    = "get"
	ActionUpdate = "update"
	ActionAppend = "append"
	ActionClear  = "clear"
)

type Type struct{}

func NewType() *Type { return &Type{} }

func (*Type) Name() string  { return TypeName }
func (*Type) Label() string { return "Google Sheets" }

func (*Type) New() registry.Transport { return &Transport{} }

func (*Type) SupportsSettings(transport *models.Transport) bool {
	return transport != nil && transport.Settings.GetString("spreadsheet_id") != ""
}

// Transport reads and writes value ranges of one spreadsheet.
type Transport struct {
	service       *sheets.Service
	spreadsheetID string
}

// Init builds the Sheets client. Settings: spreadsheet_id, and either
// credentials_file or credentials_json of a service account. endpoint
// overrides the API host and disables authentication when no credentials
// are given.
func (t *Transport) Init(ctx context.Context, settings models.Settings) (bool, error) {
	t.spreadsheetID = settings.GetString("spreadsheet_id")
	if t.spreadsheetID == "" {
		return false, nil
	}

	credentials := []byte(settings.GetString("credentials_json"))
	if file := settings.GetString("credentials_file"); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return false, fmt.Errorf("unable to read credentials file: %w", err)
		}
		credentials = data
	}

	var opts []option.ClientOption
	if endpoint := settings.GetString("endpoint"); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
		if len(credentials) == 0 {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	if len(credentials) > 0 {
		config, err := google.JWTConfigFromJSON(credentials, sheets.SpreadsheetsScope)
		if err != nil {
			return false, fmt.Errorf("unable to parse credentials: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(config.Client(ctx)))
	} else if settings.GetString("endpoint") == "" {
		return false, nil
	}

	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return false, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	t.service = srv
	return true, nil
}

// Call runs one of the Action* operations on params["range"]. update and
// append take params["values"] as rows of cells. The response is the JSON
// encoding of the API answer.
func (t *Transport) Call(ctx context.Context, action string, params map[string]interface{}) ([]byte, error) {
	if t.service == nil {
		return nil, errors.New("sheets transport: not initialized")
	}
	rng, _ := params["range"].(string)
	if rng == "" {
		return nil, errors.New("sheets transport: range is required")
	}

	var (
		resp interface{}
		err  error
	)
	switch strings.ToLower(action) {
	case ActionGet:
		resp, err = t.service.Spreadsheets.Values.Get(t.spreadsheetID, rng).Context(ctx).Do()
	case ActionUpdate:
		resp, err = t.service.Spreadsheets.Values.Update(t.spreadsheetID, rng, &sheets.ValueRange{Values: rows(params["values"])}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
	case ActionAppend:
		resp, err = t.service.Spreadsheets.Values.Append(t.spreadsheetID, rng, &sheets.ValueRange{Values: rows(params["values"])}).
			ValueInputOption("RAW").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
	case ActionClear:
		resp, err = t.service.Spreadsheets.Values.Clear(t.spreadsheetID, rng, &sheets.ClearValuesRequest{}).Context(ctx).Do()
	default:
		return nil, fmt.Errorf("sheets transport: unknown action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("sheets %s %s: %w", action, rng, err)
	}
	return json.Marshal(resp)
}

func rows(v interface{}) [][]interface{} {
	switch val := v.(type) {
	case [][]interface{}:
		return val
	case []interface{}:
		out := make([][]interface{}, 0, len(val))
		for _, row := range val {
			if cells, ok := row.([]interface{}); ok {
				out = append(out, cells)
			}
		}
		return out
	default:
		return nil
	}
}
