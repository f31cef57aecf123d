package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tshla/previsit-platform/pkg/logging"
)

// Sender delivers one urgent alert to on-call staff.
type Sender interface {
	SendAlert(ctx context.Context, a *Alert) error
}

// WebhookSenderConfig configures the on-call webhook channel.
type WebhookSenderConfig struct {
	URL        string
	Secret     string
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// WebhookSender posts urgent alerts to the on-call webhook endpoint. Payloads
// are HMAC-signed so the receiver can authenticate them.
type WebhookSender struct {
	url        string
	secret     string
	httpClient *http.Client
	logger     *logging.Logger
	now        func() time.Time
}

// NewWebhookSender creates a webhook alert sender.
func NewWebhookSender(cfg WebhookSenderConfig) (*WebhookSender, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("alerting: webhook URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookSender{
		url:        cfg.URL,
		secret:     cfg.Secret,
		httpClient: httpClient,
		logger:     logger.Component("alert-webhook"),
		now:        time.Now,
	}, nil
}

type alertPayload struct {
	AlertID        string    `json:"alert_id"`
	AttemptID      string    `json:"attempt_id"`
	AppointmentID  string    `json:"appointment_id"`
	PatientID      string    `json:"patient_id"`
	ExternalCallID string    `json:"external_call_id,omitempty"`
	Reason         string    `json:"reason"`
	RaisedAt       time.Time `json:"raised_at"`
}

// SendAlert posts the alert as signed JSON. Any non-2xx response is an error.
func (s *WebhookSender) SendAlert(ctx context.Context, a *Alert) error {
	payload, err := json.Marshal(alertPayload{
		AlertID:        a.ID.String(),
		AttemptID:      a.AttemptID,
		AppointmentID:  a.AppointmentID,
		PatientID:      a.PatientID,
		ExternalCallID: a.ExternalCallID,
		Reason:         a.Reason,
		RaisedAt:       a.RaisedAt,
	})
	if err != nil {
		return fmt.Errorf("alerting: marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("alerting: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.secret != "" {
		ts := strconv.FormatInt(s.now().Unix(), 10)
		mac := hmac.New(sha256.New, []byte(s.secret))
		mac.Write([]byte(ts + "." + string(payload)))
		req.Header.Set("X-Alert-Timestamp", ts)
		req.Header.Set("X-Alert-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alerting: post alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return fmt.Errorf("alerting: webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	s.logger.Info("alert delivered", "alert_id", a.ID, "appointment_id", a.AppointmentID)
	return nil
}
