package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerProvider_NoEndpoint(t *testing.T) {
	shutdown, err := InitTracerProvider("reminder-engine", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestObservability_RecordJob(t *testing.T) {
	o := New("reminder-engine-test")
	defer o.Shutdown()

	assert.NotPanics(t, func() {
		o.RecordJob(context.Background(), "reminders.run-job", "completed", 150*time.Millisecond)
	})

	var nilObs *Observability
	assert.NotPanics(t, func() {
		nilObs.RecordJob(context.Background(), "reminders.run-job", "failed", time.Second)
		nilObs.Shutdown()
	})
}
