package telemetry_test

import (
	"context"
	"fmt"

	"github.com/openfroyo/clientrb/pkg/telemetry"
)

// Example_eventPublishing shows synchronous event delivery with a filter.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	events, _ := telemetry.NewEventPublisher(cfg.Events)

	events.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.ResourceID)
	}, telemetry.FilterByType(telemetry.EventTypeReloadTriggered))

	_ = events.PublishConvergeStarted("run-1", []string{"node.yaml"})
	_ = events.PublishReloadTriggered("run-1", "reload[client_config]")

	// Output:
	// reload.triggered reload[client_config]
}

// Example_operation shows how converge code wraps work in a span.
func Example_operation() {
	tel := telemetry.Nop()
	ctx := tel.WithContext(context.Background())

	op := telemetry.StartOperation(ctx, "render")
	op.End(nil)

	fmt.Println(op.Span.SpanContext().IsValid())

	// Output:
	// true
}
