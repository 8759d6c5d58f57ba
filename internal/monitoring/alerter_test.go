package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inbox-sync/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		BacklogThreshold:     200,
		CostThresholdUSD:     500.0,
	})

	snap := &MetricsSnapshot{
		RecordsTotal:         100,
		RecordsDone:          95,
		RecordsFailed:        5,
		RecordFailRate:       0.05,
		SummarizationBacklog: 50,
		MeetingsInError:      0,
		LLMCostUSD:           100.0,
		LookbackHours:        24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_RecordFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     500.0,
	})

	snap := &MetricsSnapshot{
		RecordsTotal:   40,
		RecordsDone:    24,
		RecordsFailed:  16,
		RecordFailRate: 0.4, // 16/40 = 40%
		LLMCostUSD:     50.0,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRecordFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_SummarizationBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		BacklogThreshold:     200,
	})

	snap := &MetricsSnapshot{
		SummarizationBacklog: 350,
		LookbackHours:        24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSummarizationBacklog, alerts[0].Type)
	assert.Equal(t, "medium", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "350")
}

func TestAlerter_Evaluate_MeetingsInError(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
	})

	snap := &MetricsSnapshot{
		MeetingsInError: 3,
		LookbackHours:   24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertMeetingsInError, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "3 meeting(s)")
}

func TestAlerter_Evaluate_CostOverrun(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     100.0,
	})

	snap := &MetricsSnapshot{
		RecordsTotal:   50,
		RecordsDone:    48,
		RecordsFailed:  2,
		RecordFailRate: 0.04,
		LLMCostUSD:     250.0,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCostOverrun, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "$250.00")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		BacklogThreshold:     100,
		CostThresholdUSD:     100.0,
	})

	snap := &MetricsSnapshot{
		RecordsTotal:         40,
		RecordsDone:          20,
		RecordsFailed:        20,
		RecordFailRate:       0.5,
		SummarizationBacklog: 400,
		MeetingsInError:      2,
		LLMCostUSD:           300.0,
		LookbackHours:        24,
	}

	alerts := a.Evaluate(snap)
	assert.Len(t, alerts, 4)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertRecordFailureRate])
	assert.True(t, types[AlertSummarizationBacklog])
	assert.True(t, types[AlertMeetingsInError])
	assert.True(t, types[AlertCostOverrun])
}

func TestAlerter_Evaluate_MinimumSampleRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		CostThresholdUSD:     500.0,
	})

	// Only 10 finished records, below the 20-record minimum for the rate alert.
	snap := &MetricsSnapshot{
		RecordsTotal:   10,
		RecordsDone:    6,
		RecordsFailed:  4,
		RecordFailRate: 0.4,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroBacklogThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		BacklogThreshold: 0, // disabled
	})

	snap := &MetricsSnapshot{
		SummarizationBacklog: 9999,
		LookbackHours:        24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_ZeroCostThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		CostThresholdUSD: 0, // disabled
	})

	snap := &MetricsSnapshot{
		LLMCostUSD:    999.0,
		LookbackHours: 24,
	}

	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertRecordFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertMeetingsInError, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertRecordFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})
	// Single attempt keeps the delivery retry schedule out of the test.
	a.retry.MaxAttempts = 1

	alerts := []Alert{
		{Type: AlertRecordFailureRate, Message: "test"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_RetriesTransientFailure(t *testing.T) {
	var hits int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})
	a.retry.InitialBackoff = time.Millisecond

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertCostOverrun, Message: "test"},
	})
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, hits)
}
