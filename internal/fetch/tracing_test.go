package fetch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGetAll_EmitsSpans(t *testing.T) {
	recorder := installFetchSpanRecorder(t)

	_, err := New(newShopStore()).GetAll(context.Background(), "Order", RawParams{Embeds: []string{"items"}}, orderSettings)
	require.NoError(t, err)

	spans := recorder.Ended()
	root := findEndedSpan(spans, "fetch.get_all")
	require.NotNil(t, root)
	assert.Equal(t, "Order", spanString(root.Attributes(), "fetch.entity"))
	assert.Equal(t, "success", spanString(root.Attributes(), "fetch.outcome"))

	embed := findEndedSpan(spans, "fetch.embed")
	require.NotNil(t, embed)
	assert.Equal(t, "items", spanString(embed.Attributes(), "fetch.embed"))
	assert.Equal(t, "collection", spanString(embed.Attributes(), "fetch.cardinality"))
	assert.Equal(t, root.SpanContext().SpanID(), embed.Parent().SpanID())
}

func TestGetOne_ErrorSpan(t *testing.T) {
	recorder := installFetchSpanRecorder(t)

	store := newShopStore()
	store.queryErr = errors.New("deadlock")
	_, err := New(store).GetOne(context.Background(), "Order", RawParams{}, orderSettings)
	require.Error(t, err)

	span := findEndedSpan(recorder.Ended(), "fetch.get_one")
	require.NotNil(t, span)
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, "error", spanString(span.Attributes(), "fetch.outcome"))
}

func installFetchSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)

	oldProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(oldProvider)
	})
	return recorder
}

func findEndedSpan(spans []sdktrace.ReadOnlySpan, name string) sdktrace.ReadOnlySpan {
	for _, span := range spans {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

func spanString(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}
