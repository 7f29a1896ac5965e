package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewTracerProvider(t *testing.T) {
	tp := NewTracerProvider("article-harvester-test", 0.5)
	require.NotNil(t, tp)
	defer tp.Shutdown(context.Background())
}

func TestStartEntrySpan(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := StartEntrySpan(context.Background(), "entry-1", "10.1/a")
	assert.NotNil(t, ctx)
	require.NotNil(t, span)
	span.End()
}

func TestStartStageSpan(t *testing.T) {
	_, span := StartStageSpan(context.Background(), "pdf", 1)
	require.NotNil(t, span)
	span.End()
}

func TestRecordStageOutcome_Success(t *testing.T) {
	_, span := StartStageSpan(context.Background(), "metadata", 0)
	RecordStageOutcome(span, nil)
}

func TestRecordStageOutcome_Error(t *testing.T) {
	_, span := StartStageSpan(context.Background(), "pdf", 2)
	RecordStageOutcome(span, errors.New("boom"))
}
