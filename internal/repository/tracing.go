package repository

import "go.opentelemetry.io/otel"

var tracer = otel.GetTracerProvider().Tracer("github.com/immxrtalbeast/checkin/internal/repository")
