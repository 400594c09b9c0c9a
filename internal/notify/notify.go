package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Event types published over the operator webhook.
const (
	EventDIDProvisioned    = "did.provisioned"
	EventDIDReleased       = "did.released"
	EventSubaccountCreated = "subaccount.created"
	EventTest              = "test.event"
)

const (
	signatureHeader = "X-Webhook-Signature-256"
	requestTimeout  = 10 * time.Second
)

// Event is one webhook delivery.
type Event struct {
	Type string
	Data map[string]any
}

// Target is where and how to deliver: read from the settings snapshot at the
// moment of emission so mid-batch settings edits do not redirect deliveries.
type Target struct {
	Enabled bool
	URL     string
	Secret  string
}

// Emitter publishes engine events. Delivery is best effort and must never
// block or fail the operation that produced the event.
type Emitter interface {
	Emit(ctx context.Context, target Target, event Event)
}

type payload struct {
	EventType string         `json:"event_type"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// WebhookEmitter delivers events as signed JSON POSTs.
type WebhookEmitter struct {
	client *resty.Client
	logger *zap.Logger
	now    func() time.Time

	// async controls whether deliveries run on their own goroutine. Tests
	// disable it to observe the request synchronously.
	async bool
}

var _ Emitter = (*WebhookEmitter)(nil)

func NewWebhookEmitter(logger *zap.Logger) *WebhookEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookEmitter{
		client: resty.New().
			SetTimeout(requestTimeout).
			SetHeader("Content-Type", "application/json"),
		logger: logger,
		now:    time.Now,
		async:  true,
	}
}

// Emit sends the event to the target webhook, fire and forget. Disabled or
// unconfigured targets are skipped silently.
func (e *WebhookEmitter) Emit(ctx context.Context, target Target, event Event) {
	if !target.Enabled || target.URL == "" {
		return
	}

	if e.async {
		go e.deliver(context.WithoutCancel(ctx), target, event)
		return
	}
	e.deliver(ctx, target, event)
}

func (e *WebhookEmitter) deliver(ctx context.Context, target Target, event Event) {
	body, err := json.Marshal(payload{
		EventType: event.Type,
		Timestamp: e.now().UTC().Format(time.RFC3339),
		Data:      event.Data,
	})
	if err != nil {
		e.logger.Error("failed to marshal webhook payload",
			zap.String("eventType", event.Type),
			zap.Error(err))
		return
	}

	req := e.client.R().
		SetContext(ctx).
		SetBody(body)
	if target.Secret != "" {
		req.SetHeader(signatureHeader, Sign(body, target.Secret))
	}

	resp, err := req.Post(target.URL)
	if err != nil {
		e.logger.Warn("webhook delivery failed",
			zap.String("eventType", event.Type),
			zap.String("url", target.URL),
			zap.Error(err))
		return
	}
	if resp.IsError() {
		e.logger.Warn("webhook delivery rejected",
			zap.String("eventType", event.Type),
			zap.String("url", target.URL),
			zap.Int("statusCode", resp.StatusCode()))
		return
	}

	e.logger.Debug("webhook delivered",
		zap.String("eventType", event.Type),
		zap.Int("statusCode", resp.StatusCode()))
}

// Sign computes the signature header value for a request body:
// "sha256=" followed by the hex HMAC-SHA256 of the body under the secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("sha256=%s", hex.EncodeToString(mac.Sum(nil)))
}

// Verify reports whether a received signature matches the body. Comparison is
// constant time.
func Verify(body []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(body, secret)), []byte(signature))
}

// NopEmitter discards all events.
type NopEmitter struct{}

var _ Emitter = NopEmitter{}

func (NopEmitter) Emit(context.Context, Target, Event) {}
