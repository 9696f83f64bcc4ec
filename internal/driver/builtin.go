package driver

import (
	"context"
	"fmt"
	"log/slog"

	"grouplog/internal/driver/onebot"
)

// NewBuiltinRegistry constructs the runtime registry with all built-in drivers.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type: onebot.DriverType,
			Builder: func(
				_ context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (Runtime, error) {
				client, err := onebot.BuildRuntimeFromConfig(
					definition.Name,
					builderLogger,
					definition.Config,
				)
				if err != nil {
					return Runtime{}, fmt.Errorf("build onebot runtime from config: %w", err)
				}

				return Runtime{
					Lookup:   client,
					Triggers: client.Triggers(),
					Run:      client.Run,
					Ready:    client.Connected,
				}, nil
			},
		},
	})
}
