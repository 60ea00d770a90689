package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"channelsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *Transport) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	tr := &Transport{}
	ok, err := tr.Init(context.Background(), models.Settings{"spreadsheet_id": "sheet_tid", "endpoint": server.URL})
	require.NoError(t, err)
	require.True(t, ok)
	return mux, tr
}

func TestTransport_Init(t *testing.T) {
	ok, err := (&Transport{}).Init(context.Background(), models.Settings{})
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = (&Transport{}).Init(context.Background(), models.Settings{"spreadsheet_id": "x"})
	assert.NoError(t, err)
	assert.False(t, ok, "no credentials")

	_, err = (&Transport{}).Init(context.Background(), models.Settings{"spreadsheet_id": "x", "credentials_json": "{"})
	assert.Error(t, err)

	_, err = (&Transport{}).Init(context.Background(), models.Settings{"spreadsheet_id": "x", "credentials_file": "/nonexistent.json"})
	assert.Error(t, err)
}

func TestTransport_Get(t *testing.T) {
	mux, tr := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Rows!A:Z", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"id", "name"}, {"1", "a"}}})
	})

	body, err := tr.Call(context.Background(), ActionGet, map[string]interface{}{"range": "Rows!A:Z"})
	require.NoError(t, err)

	var vr sheets.ValueRange
	require.NoError(t, json.Unmarshal(body, &vr))
	assert.Len(t, vr.Values, 2)
}

func TestTransport_UpdateAndClear(t *testing.T) {
	mux, tr := setupMockServer(t)
	var sent sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Rows!A1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{UpdatedRows: 2})
	})
	mux.HandleFunc("/v4/spreadsheets/sheet_tid/values/Rows!A2:Z:clear", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ClearValuesResponse{})
	})

	_, err := tr.Call(context.Background(), ActionUpdate, map[string]interface{}{
		"range":  "Rows!A1",
		"values": []interface{}{[]interface{}{"id"}, []interface{}{"1"}},
	})
	require.NoError(t, err)
	assert.Len(t, sent.Values, 2)

	_, err = tr.Call(context.Background(), ActionClear, map[string]interface{}{"range": "Rows!A2:Z"})
	require.NoError(t, err)
}

func TestTransport_CallErrors(t *testing.T) {
	_, tr := setupMockServer(t)

	_, err := tr.Call(context.Background(), ActionGet, nil)
	assert.Error(t, err)
	_, err = tr.Call(context.Background(), "delete", map[string]interface{}{"range": "A1"})
	assert.Error(t, err)
	_, err = tr.Call(context.Background(), ActionGet, map[string]interface{}{"range": "Missing!A1"})
	assert.Error(t, err)

	_, err = (&Transport{}).Call(context.Background(), ActionGet, map[string]interface{}{"range": "A1"})
	assert.Error(t, err)
}

func TestType_SupportsSettings(t *testing.T) {
	typ := NewType()
	assert.True(t, typ.SupportsSettings(&models.Transport{Settings: models.Settings{"spreadsheet_id": "x"}}))
	assert.False(t, typ.SupportsSettings(&models.Transport{Settings: models.Settings{"url": "http://x"}}))
}
