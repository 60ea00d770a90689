package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"channelsync/internal/job"
	"channelsync/internal/models"
	"channelsync/internal/registry"

	"github.com/tidwall/gjson"
)

const defaultExportBatchSize = 50

// restReader pages through a list endpoint answering
// {"data":[{"id":..,"deleted":..},...],"meta":{"has_more":..}}.
type restReader struct {
	transport registry.Transport
	action    string
	query     map[string]interface{}
	limit     int
	offset    int
	done      bool
}

func newRESTReader(transport registry.Transport, action string, opts registry.ReaderOptions) *restReader {
	limit := opts.BatchSize
	if limit <= 0 {
		limit = models.DefaultTransportBatchSize
	}
	query := make(map[string]interface{}, len(opts.Params)+1)
	for k, v := range opts.Params {
		query[k] = v
	}
	if opts.Since != nil {
		if _, ok := query["updated_since"]; !ok {
			query["updated_since"] = opts.Since.UTC().Format(time.RFC3339)
		}
	}
	return &restReader{transport: transport, action: action, query: query, limit: limit}
}

func (r *restReader) Read(ctx context.Context) ([]job.Item, error) {
	if r.done {
		return nil, nil
	}
	query := make(map[string]interface{}, len(r.query)+2)
	for k, v := range r.query {
		query[k] = v
	}
	query["limit"] = r.limit
	query["offset"] = r.offset

	body, err := r.transport.Call(ctx, r.action, query)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: response is not valid JSON", r.action)
	}

	rows := gjson.GetBytes(body, "data").Array()
	items := make([]job.Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, job.Item{
			ExternalID: row.Get("id").String(),
			Payload:    json.RawMessage(row.Raw),
			Deleted:    row.Get("deleted").Bool(),
		})
	}
	r.offset += len(rows)

	hasMore := gjson.GetBytes(body, "meta.has_more")
	switch {
	case hasMore.Exists():
		r.done = !hasMore.Bool()
	default:
		r.done = len(rows) < r.limit
	}
	return items, nil
}

type restConnector struct {
	name   string
	label  string
	entity string
	path   string
}

func (c *restConnector) Name() string         { return c.name }
func (c *restConnector) Label() string        { return c.label }
func (c *restConnector) ImportEntity() string { return c.entity }

func (c *restConnector) ImportJobName(validation bool) string {
	return jobName(ChannelCRM, c.name, validation)
}

// NewReader lists settings["<connector>_path"], defaulting to /<entity>s.
func (c *restConnector) NewReader(_ context.Context, transport registry.Transport, settings models.Settings, opts registry.ReaderOptions) (job.Reader, error) {
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	path := c.path
	if custom := settings.GetString(c.name + "_path"); custom != "" {
		path = custom
	}
	return newRESTReader(transport, "GET "+path, opts), nil
}

// CustomersConnector imports customers. One-way.
type CustomersConnector struct {
	restConnector
}

func NewCustomersConnector() *CustomersConnector {
	return &CustomersConnector{restConnector{name: ConnectorCustomers, label: "Customers", entity: "customer", path: "/customers"}}
}

// OrdersConnector imports orders and pushes local changes back.
type OrdersConnector struct {
	restConnector
}

func NewOrdersConnector() *OrdersConnector {
	return &OrdersConnector{restConnector{name: ConnectorOrders, label: "Orders", entity: "order", path: "/orders"}}
}

// Export posts records in chunks to "<path>/batch" as {"orders":[...]} and
// reads per-row outcomes from results[].status (ok|skipped|error).
func (c *OrdersConnector) Export(ctx context.Context, transport registry.Transport, settings models.Settings, records []models.Record, params map[string]interface{}) (*registry.ExportResult, error) {
	out := &registry.ExportResult{}
	if len(records) == 0 {
		return out, nil
	}

	size := int(models.Settings(params).GetInt64("batch_size"))
	if size <= 0 {
		size = int(settings.GetInt64("export_batch_size"))
	}
	if size <= 0 {
		size = defaultExportBatchSize
	}
	path := c.path
	if custom := settings.GetString(c.name + "_path"); custom != "" {
		path = custom
	}
	action := "POST " + strings.TrimRight(path, "/") + "/batch"

	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		payload := make([]interface{}, 0, len(chunk))
		for _, rec := range chunk {
			payload = append(payload, json.RawMessage(rec.Payload))
		}
		body, err := transport.Call(ctx, action, map[string]interface{}{"orders": payload})
		if err != nil {
			return nil, fmt.Errorf("export orders %d-%d: %w", start, end, err)
		}

		results := gjson.GetBytes(body, "results")
		if !results.Exists() {
			out.Exported += len(chunk)
			continue
		}
		results.ForEach(func(_, res gjson.Result) bool {
			switch res.Get("status").String() {
			case "ok", "":
				out.Exported++
			case "skipped":
				out.Skipped++
			default:
				out.Errors = append(out.Errors, fmt.Sprintf("order %s: %s", res.Get("id").String(), res.Get("message").String()))
			}
			return true
		})
	}
	return out, nil
}
