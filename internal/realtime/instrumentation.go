package realtime

import "go.opentelemetry.io/otel"

const scopeName = "github.com/wilsonzlin/aero/proxy/realtime-call/internal/realtime"

var tracer = otel.Tracer(scopeName)
