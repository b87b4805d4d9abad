package ensemble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// The package tracer binds to the first provider installed globally, so the
// recorder stays in place for the rest of the test binary.
func TestRun_EmitsSpan(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))

	res, err := NewRunner(NewPool(2), nil).Run(context.Background(), testDomain(t, 5), testConfig(), WithFireID("f1"), failMembers(3))
	require.NoError(t, err)

	var span sdktrace.ReadOnlySpan
	for _, s := range rec.Ended() {
		if s.Name() == "ensemble.Run" && hasAttr(s, attribute.String("run_id", res.Metadata.RunID)) {
			span = s
		}
	}
	require.NotNil(t, span)
	assert.True(t, hasAttr(span, attribute.String("fire_id", "f1")))
	assert.True(t, hasAttr(span, attribute.String("status", "degraded")))

	events := span.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "member failed", events[0].Name)
	assert.Contains(t, events[0].Attributes, attribute.Int("member", 3))
}

func hasAttr(s sdktrace.ReadOnlySpan, kv attribute.KeyValue) bool {
	for _, a := range s.Attributes() {
		if a == kv {
			return true
		}
	}
	return false
}

type errSink struct{ n int }

func (e *errSink) WriteMember(MemberRecord) error {
	e.n++
	return assert.AnError
}

func TestMultiSink(t *testing.T) {
	a := &recordingSink{}
	b := &errSink{}
	c := &recordingSink{}
	err := MultiSink{a, nil, b, c}.WriteMember(MemberRecord{Member: 4})
	assert.ErrorIs(t, err, assert.AnError)
	require.Len(t, a.recs, 1)
	require.Len(t, c.recs, 1)
	assert.Equal(t, 4, c.recs[0].Member)
	assert.Equal(t, 1, b.n)
}
