package models

import (
	"encoding/json"
	"strconv"
	"time"
)

// Settings is the opaque per-type configuration blob of a transport.
type Settings map[string]interface{}

func (s Settings) GetInt64(key string) int64 {
	if s == nil {
		return 0
	}
	val, ok := s[key]
	if !ok {
		return 0
	}
	switch v := val.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}

func (s Settings) GetString(key string) string {
	if s == nil {
		return ""
	}
	val, ok := s[key]
	if !ok {
		return ""
	}
	if str, ok := val.(string); ok {
		return str
	}
	return ""
}

func (s Settings) GetTime(key string) time.Time {
	if s == nil {
		return time.Time{}
	}
	val, ok := s[key]
	if !ok {
		return time.Time{}
	}
	switch v := val.(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}

func (s Settings) GetStrings(key string) []string {
	if s == nil {
		return nil
	}
	val, ok := s[key]
	if !ok {
		return nil
	}
	switch v := val.(type) {
	case []string:
		return v
	case []interface{}:
		var out []string
		for _, item := range v {
			switch val := item.(type) {
			case string:
				out = append(out, val)
			case float64:
				out = append(out, strconv.FormatInt(int64(val), 10))
			case int:
				out = append(out, strconv.Itoa(val))
			case int64:
				out = append(out, strconv.FormatInt(val, 10))
			}
		}
		return out
	default:
		return nil
	}
}

// Clone returns a shallow copy so callers can override keys per run.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
