package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/CedrosPay/checkout/internal/auth"
	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/logger"
)

const (
	// SignatureHeader carries the HMAC of "<Timestamp>.<body>" when a signing secret is set.
	SignatureHeader = "Merchant-Signature"
	// EventIDHeader lets receivers deduplicate retried deliveries.
	EventIDHeader = "Webhook-Id"
)

// backoff produces the sleep before each retry, capped at max.
type backoff struct {
	next       time.Duration
	max        time.Duration
	multiplier float64
}

func (b *backoff) step() time.Duration {
	current := b.next
	b.next = time.Duration(float64(b.next) * b.multiplier)
	if b.max > 0 && b.next > b.max {
		b.next = b.max
	}
	return current
}

// sleepCtx waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// deliver sends one event, retrying with exponential backoff. Exhausted
// events go to the DLQ.
func (d *Dispatcher) deliver(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.payload())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	maxAttempts := 1
	if d.cfg.Retry.Enabled && d.cfg.Retry.MaxAttempts > 1 {
		maxAttempts = d.cfg.Retry.MaxAttempts
	}
	wait := backoff{
		next:       d.cfg.Retry.InitialInterval.Duration,
		max:        d.cfg.Retry.MaxInterval.Duration,
		multiplier: d.cfg.Retry.Multiplier,
	}
	if wait.multiplier < 1 {
		wait.multiplier = 1
	}

	log := d.logger.With().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("checkout_session_id", event.Data.CheckoutSessionID).
		Logger()

	start := time.Now()
	var lastErr error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		lastErr = d.send(ctx, event, payload)
		if lastErr == nil {
			d.metrics.ObserveWebhook(string(event.Type), "success", time.Since(start), attempt, false)
			if attempt > 1 {
				log.Info().Int("attempt", attempt).Msg("webhook.delivered_after_retry")
			} else {
				log.Debug().Msg("webhook.delivered")
			}
			return nil
		}

		if attempt == maxAttempts {
			break
		}
		delay := wait.step()
		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("next_retry", delay).
			Msg("webhook.attempt_failed")
		if !sleepCtx(ctx, delay) {
			lastErr = fmt.Errorf("%w (delivery interrupted: %v)", lastErr, ctx.Err())
			break
		}
	}

	d.metrics.ObserveWebhook(string(event.Type), "failed", time.Since(start), attempt, false)
	log.Error().Err(lastErr).Int("attempts", attempt).Msg("webhook.delivery_failed")
	d.deadLetter(event, payload, attempt, lastErr)
	return fmt.Errorf("webhook failed after %d attempts: %w", attempt, lastErr)
}

// send performs one attempt behind the webhook circuit breaker.
func (d *Dispatcher) send(ctx context.Context, event Event, payload []byte) error {
	_, err := d.breaker.Execute(circuitbreaker.ServiceWebhook, func() (interface{}, error) {
		return nil, d.sendHTTP(ctx, event, payload)
	})
	return err
}

func (d *Dispatcher) sendHTTP(ctx context.Context, event Event, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.cfg.Headers {
		if k == "" || strings.EqualFold(k, "content-type") {
			continue
		}
		req.Header.Set(k, v)
	}
	req.Header.Set(EventIDHeader, event.ID)
	if d.cfg.SigningSecret != "" {
		ts := d.now().UTC().Format(time.RFC3339)
		req.Header.Set(auth.TimestampHeader, ts)
		req.Header.Set(SignatureHeader, auth.Sign([]byte(d.cfg.SigningSecret), ts, payload))
	}
	if requestID := logger.GetRequestID(ctx); requestID != "" {
		req.Header.Set(logger.RequestIDHeader, requestID)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("received status %d from %s", resp.StatusCode, d.cfg.URL)
	}
	return nil
}

// deadLetter persists a failed event. Save errors are logged, never returned.
func (d *Dispatcher) deadLetter(event Event, payload []byte, attempts int, cause error) {
	if d.dlq == nil {
		return
	}
	now := d.now().UTC()
	failed := FailedEvent{
		ID:          event.ID,
		URL:         d.cfg.URL,
		EventType:   event.Type,
		Payload:     json.RawMessage(payload),
		Attempts:    attempts,
		LastError:   cause.Error(),
		LastAttempt: now,
		CreatedAt:   event.CreatedAt,
	}
	if failed.CreatedAt.IsZero() {
		failed.CreatedAt = now
	}

	// Delivery ctx may already be canceled during shutdown.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.dlq.SaveFailedEvent(saveCtx, failed); err != nil {
		d.logger.Error().Err(err).Str("event_id", event.ID).Msg("webhook.dlq_save_failed")
		return
	}
	d.metrics.ObserveWebhook(string(event.Type), "dlq", 0, attempts, true)
	d.logger.Info().
		Str("event_id", event.ID).
		Int("attempts", attempts).
		Msg("webhook.dead_lettered")
}
