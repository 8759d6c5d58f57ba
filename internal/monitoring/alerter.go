package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inbox-sync/internal/config"
	"github.com/sells-group/inbox-sync/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRecordFailureRate    AlertType = "record_failure_rate"
	AlertSummarizationBacklog AlertType = "summarization_backlog"
	AlertMeetingsInError      AlertType = "meetings_in_error"
	AlertCostOverrun          AlertType = "cost_overrun"
)

// minFinishedSample is the smallest finished-record count the failure rate
// alert fires on. Below it a single bad thread can trip the threshold.
const minFinishedSample = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Check stage record failure rate.
	finished := snap.RecordsDone + snap.RecordsFailed
	if finished >= minFinishedSample && snap.RecordFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRecordFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Thread failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.RecordFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RecordsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RecordFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RecordsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	// Check summarization backlog.
	if a.cfg.BacklogThreshold > 0 && snap.SummarizationBacklog > a.cfg.BacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSummarizationBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Summarization backlog %d exceeds threshold %d",
				snap.SummarizationBacklog, a.cfg.BacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.SummarizationBacklog,
				"threshold": a.cfg.BacklogThreshold,
			},
			Timestamp: now,
		})
	}

	// Check meetings stuck in error.
	if snap.MeetingsInError > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertMeetingsInError,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d meeting(s) in error state need operator attention",
				snap.MeetingsInError,
			),
			Details: map[string]any{
				"meetings_in_error": snap.MeetingsInError,
			},
			Timestamp: now,
		})
	}

	// Check cost overrun.
	if a.cfg.CostThresholdUSD > 0 && snap.LLMCostUSD > a.cfg.CostThresholdUSD {
		alerts = append(alerts, Alert{
			Type:     AlertCostOverrun,
			Severity: "high",
			Message: fmt.Sprintf(
				"LLM cost $%.2f exceeds threshold $%.2f in last %dh",
				snap.LLMCostUSD, a.cfg.CostThresholdUSD, snap.LookbackHours,
			),
			Details: map[string]any{
				"cost_usd":      snap.LLMCostUSD,
				"threshold_usd": a.cfg.CostThresholdUSD,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL, retrying
// transient delivery failures.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	return resilience.Do(ctx, a.retry, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
		if err != nil {
			return eris.Wrap(err, "monitoring: create webhook request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			return eris.Wrap(err, "monitoring: webhook request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode < 400 {
			return nil
		}
		failure := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(failure, resp.StatusCode)
		}
		return failure
	})
}
