package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"channelsync/internal/models"
)

type Action int

const (
	ActionSkip Action = iota
	ActionAdd
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionUpdate:
		return "update"
	case ActionReplace:
		return "replace"
	case ActionDelete:
		return "delete"
	default:
		return "skip"
	}
}

// Processor turns a remote item into the record to write, or nil when
// nothing should be written.
type Processor interface {
	Process(ctx context.Context, item Item) (*models.Record, Action, error)
}

type ProcessorFactory func(cfg Config) Processor

// DefaultProcessorAlias is registered for every entity by NewProcessorRegistry.
const DefaultProcessorAlias = "record_import"

var ErrUnknownProcessor = errors.New("unknown processor alias")

type processorEntry struct {
	alias   string
	entity  string
	factory ProcessorFactory
}

// ProcessorRegistry maps import processor aliases to factories.
type ProcessorRegistry struct {
	mu      sync.RWMutex
	entries map[string]processorEntry
}

// NewProcessorRegistry returns a registry holding the record_import processor,
// which applies to any entity.
func NewProcessorRegistry() *ProcessorRegistry {
	r := &ProcessorRegistry{entries: make(map[string]processorEntry)}
	r.Register(DefaultProcessorAlias, "", NewRecordProcessor)
	return r
}

// Register binds alias to factory. An empty entity matches every entity.
func (r *ProcessorRegistry) Register(alias, entity string, factory ProcessorFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[alias] = processorEntry{alias: alias, entity: entity, factory: factory}
}

// ProcessorAliasesByEntity lists entity-specific aliases first, then generic ones.
func (r *ProcessorRegistry) ProcessorAliasesByEntity(entity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var specific, generic []string
	for alias, e := range r.entries {
		switch e.entity {
		case entity:
			specific = append(specific, alias)
		case "":
			generic = append(generic, alias)
		}
	}
	sort.Strings(specific)
	sort.Strings(generic)
	return append(specific, generic...)
}

func (r *ProcessorRegistry) New(alias string, cfg Config) (Processor, error) {
	r.mu.RLock()
	e, ok := r.entries[alias]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, alias)
	}
	return e.factory(cfg), nil
}

// RecordProcessor compares each item with the stored record by payload checksum.
type RecordProcessor struct {
	integrationID int64
	entity        string
	store         RecordStore
}

func NewRecordProcessor(cfg Config) Processor {
	return &RecordProcessor{integrationID: cfg.IntegrationID, entity: cfg.Entity, store: cfg.Store}
}

func (p *RecordProcessor) Process(ctx context.Context, item Item) (*models.Record, Action, error) {
	if item.ExternalID == "" {
		return nil, ActionSkip, errors.New("item has no external id")
	}
	if !item.Deleted && !json.Valid(item.Payload) {
		return nil, ActionSkip, fmt.Errorf("item %s: payload is not valid JSON", item.ExternalID)
	}

	existing, err := p.store.GetRecord(ctx, p.integrationID, p.entity, item.ExternalID)
	if err != nil {
		return nil, ActionSkip, fmt.Errorf("item %s: %w", item.ExternalID, err)
	}

	if item.Deleted {
		if existing == nil || existing.Deleted {
			return nil, ActionSkip, nil
		}
		deleted := *existing
		deleted.Deleted = true
		return &deleted, ActionDelete, nil
	}

	record := &models.Record{
		IntegrationID: p.integrationID,
		Entity:        p.entity,
		ExternalID:    item.ExternalID,
		Payload:       string(item.Payload),
		Checksum:      Checksum(item.Payload),
	}
	switch {
	case existing == nil:
		return record, ActionAdd, nil
	case existing.Deleted:
		return record, ActionReplace, nil
	case existing.Checksum == record.Checksum:
		return nil, ActionSkip, nil
	default:
		return record, ActionUpdate, nil
	}
}

// Checksum hashes a payload; equal JSON text gives equal checksums.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
