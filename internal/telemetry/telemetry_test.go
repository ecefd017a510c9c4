package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	tel, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer)

	_, span := tel.Tracer.Start(context.Background(), "unit")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	tel.Shutdown(context.Background())
}

func TestShutdownNil(t *testing.T) {
	var tel *Telemetry
	assert.NotPanics(t, func() { tel.Shutdown(context.Background()) })
}
