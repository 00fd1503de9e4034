package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitWritesSpans(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "spans.json")
	require.NoError(t, Init("shortlink", "0.0.1", fname))
	// 第二次调用不替换 provider
	require.NoError(t, Init("ignored", "0.0.2", ""))

	_, span := otel.Tracer("test").Start(context.Background(), "engine.Allocate")
	span.End()
	require.NoError(t, Shutdown(context.Background()))

	data, err := os.ReadFile(fname)
	require.NoError(t, err)
	assert.Contains(t, string(data), "engine.Allocate")
	assert.Contains(t, string(data), "shortlink")
}

func TestInitWithNilExporter(t *testing.T) {
	assert.NoError(t, InitWithExporter("shortlink", "0.0.1", nil))
}
