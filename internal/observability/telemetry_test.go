package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

func TestNewResource(t *testing.T) {
	res, err := NewResource(context.Background(), "map-editor-test")
	require.NoError(t, err)

	value, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "map-editor-test", value.AsString())
}

func TestInitTelemetry(t *testing.T) {
	// Экспортер подключается лениво, поэтому инициализация не требует коллектора
	shutdown, err := InitTelemetry(context.Background(), Options{
		ServiceName: "map-editor-test",
		Endpoint:    "127.0.0.1:1",
		Insecure:    true,
	})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	_ = shutdown(context.Background())
}
