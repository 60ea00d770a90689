package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSettings_Helpers(t *testing.T) {
	now := time.Now()
	settings := Settings{
		"int64":   int64(123),
		"int":     123,
		"float":   123.45,
		"number":  json.Number("77"),
		"numeric": "42",
		"string":  "hello",
		"time":    "2025-01-01T10:00:00Z",
		"time_t":  now,
		"list":    []interface{}{"a", float64(2), 3, "b"},
		"list_s":  []string{"x"},
	}

	t.Run("NilSettings", func(t *testing.T) {
		var nilSettings Settings
		assert.Equal(t, int64(0), nilSettings.GetInt64("any"))
		assert.Equal(t, "", nilSettings.GetString("any"))
		assert.True(t, nilSettings.GetTime("any").IsZero())
		assert.Nil(t, nilSettings.GetStrings("any"))
	})

	t.Run("GetInt64", func(t *testing.T) {
		assert.Equal(t, int64(123), settings.GetInt64("int64"))
		assert.Equal(t, int64(123), settings.GetInt64("int"))
		assert.Equal(t, int64(123), settings.GetInt64("float"))
		assert.Equal(t, int64(77), settings.GetInt64("number"))
		assert.Equal(t, int64(42), settings.GetInt64("numeric"))
		assert.Equal(t, int64(0), settings.GetInt64("string"))
		assert.Equal(t, int64(0), settings.GetInt64("missing"))
	})

	t.Run("GetString", func(t *testing.T) {
		assert.Equal(t, "hello", settings.GetString("string"))
		assert.Equal(t, "", settings.GetString("int"))
		assert.Equal(t, "", settings.GetString("missing"))
	})

	t.Run("GetTime", func(t *testing.T) {
		tm := settings.GetTime("time")
		assert.Equal(t, 2025, tm.Year())
		assert.Equal(t, now.Unix(), settings.GetTime("time_t").Unix())
		assert.True(t, settings.GetTime("string").IsZero())
		assert.True(t, settings.GetTime("missing").IsZero())
	})

	t.Run("GetStrings", func(t *testing.T) {
		assert.Equal(t, []string{"a", "2", "3", "b"}, settings.GetStrings("list"))
		assert.Equal(t, []string{"x"}, settings.GetStrings("list_s"))
		assert.Nil(t, settings.GetStrings("string"))
	})

	t.Run("Clone", func(t *testing.T) {
		clone := settings.Clone()
		clone["string"] = "changed"
		assert.Equal(t, "hello", settings.GetString("string"))
	})
}

func TestIntegration_HasConnector(t *testing.T) {
	integration := &Integration{Connectors: []string{"customers", "orders"}}
	assert.True(t, integration.HasConnector("orders"))
	assert.False(t, integration.HasConnector("carts"))
}
