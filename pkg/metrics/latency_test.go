package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func TestTracker_Aggregates(t *testing.T) {
	tr := NewTracker(Config{RecentWindow: 2}, nil)

	tr.Record(Metric{OperationType: OpCRM, OperationName: "schedule", Latency: ms(100)})
	tr.Record(Metric{OperationType: OpCRM, OperationName: "schedule", Latency: ms(300), Status: StatusError})
	tr.Record(Metric{OperationType: OpCRM, OperationName: "schedule", Latency: ms(200)})

	s, ok := tr.Stats(OpCRM, "schedule")
	require.True(t, ok)
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 1, s.Errors)
	assert.InDelta(t, 200, s.AvgMs, 0.001)
	assert.InDelta(t, 100, s.MinMs, 0.001)
	assert.InDelta(t, 300, s.MaxMs, 0.001)
	assert.Equal(t, []float64{300, 200}, s.RecentMs)

	_, ok = tr.Stats(OpRAG, "stream")
	assert.False(t, ok)

	summary := tr.Summary()
	assert.Contains(t, summary, "crm/schedule")
	assert.Len(t, tr.SummaryLines(), 1)
}

func TestTracker_RingIsBounded(t *testing.T) {
	tr := NewTracker(Config{Capacity: 3}, nil)
	for i := 1; i <= 5; i++ {
		tr.Record(Metric{OperationType: OpSTT, OperationName: "whisper", Latency: ms(i)})
	}

	recent := tr.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, ms(3), recent[0].Latency)
	assert.Equal(t, ms(5), recent[2].Latency)

	last := tr.Recent(1)
	require.Len(t, last, 1)
	assert.Equal(t, ms(5), last[0].Latency)

	s, _ := tr.Stats(OpSTT, "whisper")
	assert.Equal(t, 5, s.Count, "aggregates outlive the ring")
}

func TestTracker_Alerts(t *testing.T) {
	tr := NewTracker(Config{}, nil)

	var got []Alert
	tr.OnAlert(func(a Alert) { got = append(got, a) })
	tr.OnAlert(func(Alert) { panic("bad callback") })

	tr.Record(Metric{OperationType: OpRAG, OperationName: "stream", Latency: ms(1000)})
	tr.Record(Metric{OperationType: OpRAG, OperationName: "stream", Latency: ms(3500)})
	tr.Record(Metric{OperationType: OpRAG, OperationName: "stream", Latency: ms(9000)})
	tr.Record(Metric{OperationType: "custom", OperationName: "x", Latency: time.Hour})

	require.Len(t, got, 2)
	assert.Equal(t, AlertWarning, got[0].Level)
	assert.Equal(t, ms(3000), got[0].Threshold)
	assert.Equal(t, AlertCritical, got[1].Level)
	assert.Equal(t, ms(8000), got[1].Threshold)
}

func TestThresholdsFromEnv(t *testing.T) {
	env := map[string]string{
		"LATENCY_STT_WARNING_MS":      "500",
		"LATENCY_LEAD_API_CRITICAL_MS": "7000",
		"LATENCY_TTS_WARNING_MS":      "fast",
	}
	th := ThresholdsFromEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, ms(500), th[OpSTT].Warning)
	assert.Equal(t, ms(3000), th[OpSTT].Critical)
	assert.Equal(t, ms(7000), th[OpLeadAPI].Critical)
	assert.Equal(t, ms(1000), th[OpTTS].Warning, "unparsable values keep the default")
	assert.Len(t, th, len(OperationTypes))
}

func TestTimer(t *testing.T) {
	tr := NewTracker(Config{}, nil)

	tr.Start(OpLeadAPI, "submit", Labels{CallSid: "CA1"}).With("status", "201").Done(nil)
	tr.Start(OpLeadAPI, "submit", Labels{CallSid: "CA1"}).Done(errors.New("refused"))

	recent := tr.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, StatusSuccess, recent[0].Status)
	assert.Equal(t, "201", recent[0].Metadata["status"])
	assert.Equal(t, StatusError, recent[1].Status)
	assert.Equal(t, "refused", recent[1].ErrorMessage)
	assert.Equal(t, "CA1", recent[1].CallSid)

	var nilTracker *Tracker
	assert.NotPanics(t, func() {
		nilTracker.Start(OpTTS, "x", Labels{}).Done(nil)
		nilTracker.OnAlert(func(Alert) {})
	})
	assert.Nil(t, nilTracker.Summary())
}

func TestPrometheusReporter(t *testing.T) {
	rep := NewPrometheusReporter("")
	tr := NewTracker(Config{}, nil)
	tr.AddReporter(rep)

	tr.Record(Metric{OperationType: OpTTS, OperationName: "synthesize", Provider: "openai", Latency: ms(1200)})
	rep.CallStarted()
	rep.BargeIn()

	assert.Equal(t, 1.0, testutil.ToFloat64(rep.OperationsTotal.WithLabelValues("tts", "synthesize", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rep.AlertsTotal.WithLabelValues("tts", "warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rep.CallsActive))

	rep.CallEnded("completed")
	assert.Equal(t, 0.0, testutil.ToFloat64(rep.CallsActive))

	rec := httptest.NewRecorder()
	rep.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.True(t, strings.Contains(string(body), "phone_assistant_operation_duration_seconds"))
}
