package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"grouplog/pkg/chatlog"
)

// Definition describes one configured remote driver entry.
type Definition struct {
	// Name is the stable configured driver instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores driver-type-specific JSON payload.
	Config []byte
}

// Runtime contains one fully built remote driver.
type Runtime struct {
	// Name is the configured instance name.
	Name string
	// Type is the driver type token the runtime was built from.
	Type string
	// Lookup resolves names and messages remotely. It may also implement
	// chatlog.ForwardLookup.
	Lookup chatlog.RemoteLookup
	// Triggers streams group activity. Nil when the driver pushes nothing.
	Triggers <-chan chatlog.GroupTrigger
	// Run keeps the driver connected until ctx is canceled.
	Run func(ctx context.Context) error
	// Ready reports whether remote calls can currently be served. Nil
	// means always ready.
	Ready func() bool
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one driver type token to a runtime builder.
type Descriptor struct {
	// Type is the driver type token from configuration (for example "onebot").
	Type string
	// Builder constructs one runtime instance for this driver type.
	Builder BuilderFunc
}

// Registry maps driver types to runtime builders.
type Registry struct {
	builders map[string]BuilderFunc
	types    []string
}

// NewRegistry creates one immutable driver registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	builders := make(map[string]BuilderFunc, len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := builders[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		builders[descriptor.Type] = descriptor.Builder
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry{
		builders: builders,
		types:    types,
	}, nil
}

// Types returns all registered driver types in deterministic sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.types))
	copy(types, r.types)

	return types
}

// Supports reports whether driverType has a registered builder.
func (r *Registry) Supports(driverType string) bool {
	if r == nil {
		return false
	}
	_, exists := r.builders[driverType]

	return exists
}

// BuildEnabled builds all enabled driver definitions.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}
	if logger == nil {
		logger = slog.Default()
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return nil, fmt.Errorf("build driver %s: empty type", definition.Name)
		}

		builder, exists := r.builders[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s type %s: unsupported type", definition.Name, definition.Type)
		}

		runtime, err := builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Lookup == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil lookup", definition.Name, definition.Type)
		}
		if runtime.Run == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil run func", definition.Name, definition.Type)
		}
		runtime.Name = definition.Name
		runtime.Type = definition.Type

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}
