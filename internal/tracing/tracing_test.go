package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan_recordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background()) //nolint:errcheck

	ctx, end := StartSpan(context.Background(), "notary.anchor", attribute.String("audit.id", "a1"))
	SetAttributes(ctx, attribute.String("notary.tier", "hash_only"))
	end(errors.New("ledger unreachable"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	s := spans[0]
	if s.Name() != "notary.anchor" {
		t.Errorf("name: got %q", s.Name())
	}
	if s.Status().Code != codes.Error {
		t.Errorf("status: got %v, want Error", s.Status().Code)
	}
	seen := map[attribute.Key]string{}
	for _, kv := range s.Attributes() {
		seen[kv.Key] = kv.Value.AsString()
	}
	if seen["audit.id"] != "a1" || seen["notary.tier"] != "hash_only" {
		t.Errorf("attributes: got %v", seen)
	}
}

func TestSetup_noEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "auditd", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
