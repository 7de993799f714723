package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLogLevel(tt.in))
		})
	}
}

func TestForPayment(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("debug", &buf)

	payLogger := ForPayment(logger, "pay_1_abc", map[string]any{"provider": "stripe"})
	payLogger.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "pay_1_abc", entry["payment_id"])
	assert.Equal(t, "stripe", entry["provider"])
	assert.Equal(t, "hello", entry["message"])
	assert.Contains(t, entry, "time")
}

func TestInitLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := InitLogger("warn", &buf)

	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("payments", reg)

	m.PaymentTransition.WithLabelValues("stripe", "completed").Inc()
	m.EventsPublished.WithLabelValues("payment.completed", "ok").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PaymentTransition.WithLabelValues("stripe", "completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("payment.completed", "ok")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Panics(t, func() { NewMetrics("payments", reg) }, "duplicate registration must panic")
}

func TestNewTestMetrics_Independent(t *testing.T) {
	assert.NotPanics(t, func() {
		NewTestMetrics()
		NewTestMetrics()
	})
}
