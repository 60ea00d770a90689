package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// IntegrationID accepts a JSON number or a numeric string. Zero means absent.
type IntegrationID int64

func (id *IntegrationID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*id = 0
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*id = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("integrationId %q is not numeric", s)
		}
		*id = IntegrationID(n)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("integrationId: %w", err)
		}
		v, err := n.Int64()
		if err != nil {
			return fmt.Errorf("integrationId %s is not an integer", n)
		}
		*id = IntegrationID(v)
		return nil
	}
}

// SyncRequest is the body of a "sync requested" message.
type SyncRequest struct {
	IntegrationID       IntegrationID          `json:"integrationId"`
	Connector           string                 `json:"connector,omitempty"`
	ConnectorParameters map[string]interface{} `json:"connector_parameters,omitempty"`
	TransportBatchSize  int                    `json:"transport_batch_size,omitempty"`
}

// StringParameters flattens the connector parameters to strings.
func (r *SyncRequest) StringParameters() map[string]string {
	if len(r.ConnectorParameters) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.ConnectorParameters))
	for k, v := range r.ConnectorParameters {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// ReverseSyncRequest is the body of a "reverse sync requested" message.
type ReverseSyncRequest struct {
	IntegrationID       IntegrationID          `json:"integrationId"`
	Connector           string                 `json:"connector,omitempty"`
	ConnectorParameters map[string]interface{} `json:"connector_parameters,omitempty"`
}
