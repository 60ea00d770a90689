package registry

import (
	"errors"
	"fmt"
	"sort"

	"channelsync/internal/models"
)

var (
	ErrNotFound   = errors.New("type not registered")
	ErrDuplicate  = errors.New("type already registered")
	ErrNoTypeTag  = errors.New("type tag is required")
	ErrNoTypeName = errors.New("type name is required")
)

// Registry maps integration type tags to their connector and transport types.
// It is populated once at startup and is read-only afterwards, so lookups take no lock.
type Registry struct {
	channels   map[string]ChannelType
	connectors map[string]map[string]ConnectorType
	transports map[string]map[string]TransportType
	// registration order of transports per type tag, for settings matching
	transportOrder map[string][]string
}

func New() *Registry {
	return &Registry{
		channels:       make(map[string]ChannelType),
		connectors:     make(map[string]map[string]ConnectorType),
		transports:     make(map[string]map[string]TransportType),
		transportOrder: make(map[string][]string),
	}
}

func (r *Registry) RegisterChannelType(typeTag string, channel ChannelType) error {
	if typeTag == "" {
		return ErrNoTypeTag
	}
	if _, ok := r.channels[typeTag]; ok {
		return fmt.Errorf("channel %q: %w", typeTag, ErrDuplicate)
	}
	r.channels[typeTag] = channel
	return nil
}

func (r *Registry) RegisterConnectorType(name, typeTag string, connector ConnectorType) error {
	if typeTag == "" {
		return ErrNoTypeTag
	}
	if name == "" {
		return ErrNoTypeName
	}
	byName, ok := r.connectors[typeTag]
	if !ok {
		byName = make(map[string]ConnectorType)
		r.connectors[typeTag] = byName
	}
	if _, ok := byName[name]; ok {
		return fmt.Errorf("connector %q for %q: %w", name, typeTag, ErrDuplicate)
	}
	byName[name] = connector
	return nil
}

func (r *Registry) RegisterTransportType(name, typeTag string, transport TransportType) error {
	if typeTag == "" {
		return ErrNoTypeTag
	}
	if name == "" {
		return ErrNoTypeName
	}
	byName, ok := r.transports[typeTag]
	if !ok {
		byName = make(map[string]TransportType)
		r.transports[typeTag] = byName
	}
	if _, ok := byName[name]; ok {
		return fmt.Errorf("transport %q for %q: %w", name, typeTag, ErrDuplicate)
	}
	byName[name] = transport
	r.transportOrder[typeTag] = append(r.transportOrder[typeTag], name)
	return nil
}

func (r *Registry) ChannelType(typeTag string) (ChannelType, error) {
	channel, ok := r.channels[typeTag]
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", typeTag, ErrNotFound)
	}
	return channel, nil
}

// ConnectorType resolves the connector registered under name for typeTag.
func (r *Registry) ConnectorType(typeTag, name string) (ConnectorType, error) {
	connector, ok := r.connectors[typeTag][name]
	if !ok {
		return nil, fmt.Errorf("connector %q for %q: %w", name, typeTag, ErrNotFound)
	}
	return connector, nil
}

// TransportTypeBySettings resolves the transport type for the stored settings.
// The transport's own type name wins; otherwise the first registered type that
// recognizes the settings is returned.
func (r *Registry) TransportTypeBySettings(settings *models.Transport, typeTag string) (TransportType, error) {
	if settings == nil {
		return nil, fmt.Errorf("transport for %q: %w", typeTag, ErrNotFound)
	}
	byName := r.transports[typeTag]
	if transport, ok := byName[settings.Type]; ok {
		return transport, nil
	}
	for _, name := range r.transportOrder[typeTag] {
		if transport := byName[name]; transport.SupportsSettings(settings) {
			return transport, nil
		}
	}
	return nil, fmt.Errorf("transport %q for %q: %w", settings.Type, typeTag, ErrNotFound)
}

// ChannelTypes returns the registered type tags, sorted.
func (r *Registry) ChannelTypes() []string {
	out := make([]string, 0, len(r.channels))
	for tag := range r.channels {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// ConnectorTypes returns the connector names registered for typeTag, sorted.
func (r *Registry) ConnectorTypes(typeTag string) []string {
	return sortedKeys(r.connectors[typeTag])
}

func (r *Registry) TransportTypes(typeTag string) []string {
	return sortedKeys(r.transports[typeTag])
}

// ValidateIntegration checks that the type, every configured connector and the
// transport resolve.
func (r *Registry) ValidateIntegration(integration *models.Integration) error {
	if _, err := r.ChannelType(integration.Type); err != nil {
		return fmt.Errorf("integration %q: %w", integration.Name, err)
	}
	for _, name := range integration.Connectors {
		if _, err := r.ConnectorType(integration.Type, name); err != nil {
			return fmt.Errorf("integration %q: %w", integration.Name, err)
		}
	}
	if integration.Transport != nil {
		if _, err := r.TransportTypeBySettings(integration.Transport, integration.Type); err != nil {
			return fmt.Errorf("integration %q: %w", integration.Name, err)
		}
	}
	return nil
}

func sortedKeys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
