package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTracing_ExportsSpansToLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := context.Background()
	shutdown, err := SetupTracing(ctx, "ragcore-test", logger)
	require.NoError(t, err)

	_, span := Tracer().Start(ctx, "test.operation")
	span.End()

	require.NoError(t, shutdown(ctx))

	out := buf.String()
	assert.Contains(t, out, "span test.operation")
	assert.Contains(t, out, "trace_id")
	assert.Contains(t, out, "duration")
}

func TestTracer_NoOpWithoutSetup(t *testing.T) {
	// Without a provider installed the span must still be usable.
	_, span := Tracer().Start(context.Background(), "untraced")
	span.SetName("renamed")
	span.End()
}
