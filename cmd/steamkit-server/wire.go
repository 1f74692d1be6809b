//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
)

// BuildApp wires the server components using Google Wire.
func BuildApp(ctx context.Context) (*App, func(), error) {
	wire.Build(
		provideConfig,
		provideLogger,
		provideHub,
		provideRegistry,
		provideStorage,
		provideSchemas,
		provideService,
		provideAnalytics,
		provideHandler,
		provideServer,
		wire.Struct(new(App), "Config", "Logger", "Hub", "Service", "Analytics", "Server", "Metrics"),
		provideMetricsServer,
	)
	return nil, nil, nil
}
