package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/intelliparse/internal/logger"
	"github.com/timmy/intelliparse/internal/metrics"
)

const (
	// SignatureHeader carries the HMAC of the webhook body.
	SignatureHeader = "X-Intelliparse-Signature"
	signaturePrefix = "sha256="

	defaultWebhookTimeout = 10 * time.Second
)

// Notifier delivers a final job payload to a caller-supplied URL.
type Notifier interface {
	Deliver(ctx context.Context, url string, payload interface{}) DeliveryOutcome
}

// DeliveryOutcome describes one delivery attempt. It is informational only.
type DeliveryOutcome struct {
	Delivered  bool
	StatusCode int
	Err        error
}

// WebhookNotifier signs payloads with a shared secret and posts them once.
type WebhookNotifier struct {
	client *resty.Client
	secret []byte
}

// WebhookConfig holds configuration for webhook delivery.
type WebhookConfig struct {
	Secret  string
	Timeout time.Duration
}

// NewWebhookNotifier creates a notifier with a bounded request timeout.
func NewWebhookNotifier(cfg *WebhookConfig) *WebhookNotifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("User-Agent", "intelliparse-webhook/1")

	return &WebhookNotifier{client: client, secret: []byte(cfg.Secret)}
}

// Deliver makes a single best-effort POST of the canonical payload. Failures
// are logged and reported in the outcome, never returned as errors.
func (n *WebhookNotifier) Deliver(ctx context.Context, url string, payload interface{}) DeliveryOutcome {
	log := logger.FromContext(ctx).WithField("callback_url", url)

	body, err := CanonicalJSON(payload)
	if err != nil {
		metrics.IncWebhook("error")
		log.WithError(err).Warn("Failed to encode webhook payload")
		return DeliveryOutcome{Err: err}
	}

	start := time.Now()
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader(SignatureHeader, Sign(n.secret, body)).
		SetBody(body).
		Post(url)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		metrics.IncWebhook("error")
		log.WithError(err).WithField(logger.FieldDurationMs, duration).Warn("Webhook delivery failed")
		return DeliveryOutcome{Err: err}
	}

	out := DeliveryOutcome{StatusCode: resp.StatusCode(), Delivered: resp.IsSuccess()}
	log = log.WithFields(logger.Fields{
		logger.FieldStatus:     resp.StatusCode(),
		logger.FieldDurationMs: duration,
	})
	if !out.Delivered {
		out.Err = fmt.Errorf("webhook receiver answered %d", resp.StatusCode())
		metrics.IncWebhook("rejected")
		log.Warn("Webhook rejected by receiver")
		return out
	}
	metrics.IncWebhook("delivered")
	log.Info("Webhook delivered")
	return out
}

// CanonicalJSON serializes v with object keys sorted and no insignificant
// whitespace. Numbers keep their original text.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify recomputes the HMAC over the raw body and compares it with the
// header value in constant time.
func Verify(secret, body []byte, header string) bool {
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	given, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(given, mac.Sum(nil))
}
