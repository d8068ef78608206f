// Package alert implements the coordinator's outbound alert sink (spec
// §4.5): a single fire-and-forget function that posts a JSON body to a
// configured webhook URL, signing it with HMAC-SHA256 the same way the
// teacher's notification package signs its webhook deliveries.
package alert

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// payload is the JSON body posted to the webhook endpoint.
type payload struct {
	Message   string    `json:"message"`
	TargetID  *int      `json:"targetId,omitempty"`
	AgentID   *string   `json:"agentId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink posts alert messages to a configured webhook URL. The zero value
// with an empty URL is a valid, permanently-silent sink.
type Sink struct {
	url    string
	secret string
	client *http.Client
	logger *zap.Logger
}

// New returns a Sink that posts to url, signing bodies with secret when
// secret is non-empty. An empty url makes Alert a silent no-op, per spec.
func New(url, secret string, logger *zap.Logger) *Sink {
	return &Sink{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("alert"),
	}
}

// Alert posts message (with optional targetID/agentID context) to the
// configured webhook. Delivery runs in its own goroutine: failures are
// logged and never propagate to the caller, and a caller never blocks on
// network I/O to fire an alert.
func (s *Sink) Alert(message string, targetID *int, agentID *string) {
	if s.url == "" {
		return
	}

	body, err := json.Marshal(payload{
		Message:   message,
		TargetID:  targetID,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to marshal alert payload", zap.Error(err))
		return
	}

	go s.deliver(body)
}

func (s *Sink) deliver(body []byte) {
	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		s.logger.Warn("failed to build alert request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Storm-Alert/1.0")

	if s.secret != "" {
		req.Header.Set("X-Storm-Signature", "sha256="+hmacSHA256(body, s.secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("alert delivery failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("alert webhook returned non-2xx status", zap.Int("status", resp.StatusCode))
	}
}

// hmacSHA256 computes an HMAC-SHA256 signature of data using secret,
// returned as a lowercase hex string.
func hmacSHA256(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
