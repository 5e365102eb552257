package telemetry_test

import (
	"context"
	"fmt"

	"github.com/endure/endure-sdk-go/pkg/engineclient"
	"github.com/endure/endure-sdk-go/pkg/execution"
	"github.com/endure/endure-sdk-go/pkg/telemetry"
)

// Example_coordinator wires telemetry into a coordinator.
func Example_coordinator() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "payments-worker"
	cfg.Metrics.Enabled = false

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	engine := engineclient.NewLocal(tel.Logger.Zerolog())
	defer engine.Close()

	coord, err := execution.NewCoordinator(engine, tel.CoordinatorOptions()...)
	if err != nil {
		panic(err)
	}
	fmt.Println(coord.Pinned())
	// Output: 0
}
