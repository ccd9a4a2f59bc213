package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "prism-backend"

// Tracer returns the application tracer from the global provider. Exporter
// and SDK wiring are owned by the host process; without them spans are
// no-ops, which keeps the service layer instrumentation unconditional.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
