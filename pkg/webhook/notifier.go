// Package webhook delivers outbound notifications for job lifecycle events.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/trailtag/trailtag/pkg/cache"
	"github.com/trailtag/trailtag/pkg/config"
	"github.com/trailtag/trailtag/pkg/metrics"
)

// Event identifies a notification trigger.
type Event string

// Webhook event types.
const (
	EventJobStarted    Event = "job.started"
	EventJobProgress   Event = "job.progress"
	EventJobCompleted  Event = "job.completed"
	EventJobFailed     Event = "job.failed"
	EventJobCancelled  Event = "job.cancelled"
	EventSystemError   Event = "system.error"
	EventAnalysisReady Event = "analysis.ready"
)

// Delivery statuses recorded per delivery.
const (
	StatusPending  = "pending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusRetrying = "retrying"
)

// deliveryRecordTTL keeps delivery records queryable for a week.
const deliveryRecordTTL = 7 * 24 * time.Hour

// Payload is the JSON body delivered to endpoints.
type Payload struct {
	Event     Event          `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	JobID     string         `json:"job_id,omitempty"`
	VideoID   string         `json:"video_id,omitempty"`
	WebhookID string         `json:"webhook_id,omitempty"`
}

// DeliveryRecord is the persisted outcome of one delivery.
type DeliveryRecord struct {
	DeliveryID     string     `json:"delivery_id"`
	WebhookURL     string     `json:"webhook_url"`
	Event          string     `json:"event"`
	Status         string     `json:"status"`
	Attempts       int        `json:"attempts"`
	LastAttempt    *time.Time `json:"last_attempt,omitempty"`
	ResponseStatus int        `json:"response_status,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	JobID          string     `json:"job_id,omitempty"`
	VideoID        string     `json:"video_id,omitempty"`
}

// endpoint pairs a stable id with its normalized config.
type endpoint struct {
	id  string
	cfg config.WebhookConfig
}

// subscribed reports whether the endpoint receives event. An empty filter
// subscribes to everything.
func (e *endpoint) subscribed(event Event) bool {
	if len(e.cfg.Events) == 0 {
		return true
	}
	for _, name := range e.cfg.Events {
		if Event(name) == event {
			return true
		}
	}
	return false
}

// Notifier fans job lifecycle events out to the configured endpoints.
// Nil-safe: all methods are no-ops when the notifier is nil, so callers never
// branch on whether webhooks are configured.
type Notifier struct {
	endpoints []endpoint
	client    *resty.Client
	records   *cache.Cache
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewNotifier builds a notifier from the configured endpoints. Inactive
// entries and unparseable URLs are dropped with a warning. Returns nil when
// no usable endpoint remains. The records cache may be nil (delivery records
// disabled).
func NewNotifier(configs []config.WebhookConfig, records *cache.Cache) *Notifier {
	logger := slog.Default().With("component", "webhook-notifier")

	endpoints := make([]endpoint, 0, len(configs))
	for i, cfg := range configs {
		if !cfg.IsActive() {
			continue
		}
		if u, err := url.Parse(cfg.URL); err != nil || u.Scheme == "" || u.Host == "" {
			logger.Warn("Skipping webhook endpoint with invalid URL", "url", cfg.URL)
			continue
		}
		// Direct constructions bypass the config loader's normalization.
		if cfg.Timeout.Duration <= 0 {
			cfg.Timeout = config.Dur(30 * time.Second)
		}
		if cfg.RetryCount < 0 {
			cfg.RetryCount = 0
		}
		endpoints = append(endpoints, endpoint{id: "webhook-" + strconv.Itoa(i), cfg: cfg})
	}
	if len(endpoints) == 0 {
		logger.Info("Webhook notifications disabled, no endpoints configured")
		return nil
	}

	client := resty.New().
		SetHeader("User-Agent", "TrailTag-Webhooks/1.0")

	logger.Info("Webhook notifier ready", "endpoints", len(endpoints))
	return &Notifier{
		endpoints: endpoints,
		client:    client,
		records:   records,
		logger:    logger,
	}
}

// Trigger fans an event out to every subscribed endpoint. Deliveries run
// asynchronously and never block the caller; the returned ids name the
// delivery records.
func (n *Notifier) Trigger(event Event, data map[string]any, jobID, videoID string) []string {
	if n == nil {
		return nil
	}

	base := Payload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
		JobID:     jobID,
		VideoID:   videoID,
	}

	var ids []string
	for i := range n.endpoints {
		ep := &n.endpoints[i]
		if !ep.subscribed(event) {
			continue
		}

		payload := base
		payload.WebhookID = ep.id
		body, err := json.Marshal(payload)
		if err != nil {
			n.logger.Error("Failed to encode webhook payload", "event", event, "error", err)
			continue
		}

		deliveryID := uuid.New().String()
		ids = append(ids, deliveryID)
		n.wg.Add(1)
		go n.deliver(ep, deliveryID, payload, body)
	}

	if len(ids) > 0 {
		n.logger.Debug("Triggered webhook event", "event", event, "deliveries", len(ids))
	}
	return ids
}

// Shutdown waits for in-flight deliveries to finish or ctx to expire.
func (n *Notifier) Shutdown(ctx context.Context) {
	if n == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		n.logger.Warn("Webhook deliveries still in flight at shutdown", "error", ctx.Err())
	}
}

// deliver posts one payload with retries and persists the outcome.
func (n *Notifier) deliver(ep *endpoint, deliveryID string, payload Payload, body []byte) {
	defer n.wg.Done()

	record := DeliveryRecord{
		DeliveryID: deliveryID,
		WebhookURL: ep.cfg.URL,
		Event:      string(payload.Event),
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
		JobID:      payload.JobID,
		VideoID:    payload.VideoID,
	}

	attempts := ep.cfg.RetryCount + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		record.Attempts = attempt
		now := time.Now().UTC()
		record.LastAttempt = &now

		status, err := n.post(ep, deliveryID, payload, body)
		if err == nil && status >= 200 && status < 300 {
			record.Status = StatusSent
			record.ResponseStatus = status
			record.ErrorMessage = ""
			n.logger.Info("Webhook delivered",
				"delivery_id", deliveryID, "event", payload.Event, "attempt", attempt)
			break
		}

		if err != nil {
			record.ErrorMessage = err.Error()
			n.logger.Warn("Webhook delivery error",
				"delivery_id", deliveryID, "attempt", attempt, "error", err)
		} else {
			record.ResponseStatus = status
			n.logger.Warn("Webhook delivery rejected",
				"delivery_id", deliveryID, "attempt", attempt, "status", status)
		}

		if attempt < attempts {
			record.Status = StatusRetrying
			time.Sleep(ep.cfg.RetryDelay.Duration)
			continue
		}
		record.Status = StatusFailed
		n.logger.Error("Webhook delivery failed",
			"delivery_id", deliveryID, "event", payload.Event, "attempts", attempt)
	}

	metrics.RecordWebhookDelivery(record.Status)
	n.storeRecord(&record)
}

// post sends one attempt. Endpoint headers go first so the protocol headers
// cannot be overridden.
func (n *Notifier) post(ep *endpoint, deliveryID string, payload Payload, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ep.cfg.Timeout.Duration)
	defer cancel()

	req := n.client.R().SetContext(ctx)
	for k, v := range ep.cfg.Headers {
		req.SetHeader(k, v)
	}
	req.SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Event", string(payload.Event)).
		SetHeader("X-Webhook-Delivery", deliveryID).
		SetHeader("X-Webhook-Timestamp", strconv.FormatInt(payload.Timestamp.Unix(), 10)).
		SetBody(body)
	if ep.cfg.Secret != "" {
		req.SetHeader("X-Webhook-Signature", Sign(body, ep.cfg.Secret))
	}

	resp, err := req.Post(ep.cfg.URL)
	if err != nil {
		return 0, err
	}
	return resp.StatusCode(), nil
}

// storeRecord persists the delivery outcome, best-effort.
func (n *Notifier) storeRecord(record *DeliveryRecord) {
	if n.records == nil {
		return
	}
	key := "webhook_delivery:" + record.DeliveryID
	if !n.records.Set(context.Background(), key, record, nil, deliveryRecordTTL) {
		n.logger.Error("Failed to store webhook delivery record", "delivery_id", record.DeliveryID)
	}
}

// Sign computes the X-Webhook-Signature value for a payload body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
