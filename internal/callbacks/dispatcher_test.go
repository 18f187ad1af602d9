package callbacks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CedrosPay/checkout/internal/auth"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig(url string) config.CallbacksConfig {
	return config.CallbacksConfig{
		URL:       url,
		Headers:   map[string]string{"X-Merchant": "acme"},
		Timeout:   config.Duration{Duration: time.Second},
		QueueSize: 8,
		Workers:   2,
		Retry: config.RetryConfig{
			Enabled:         true,
			MaxAttempts:     3,
			InitialInterval: config.Duration{Duration: time.Millisecond},
			MaxInterval:     config.Duration{Duration: 5 * time.Millisecond},
			Multiplier:      2,
		},
	}
}

func testEvent() Event {
	return NewOrderEvent(EventOrderCreated, OrderData{
		CheckoutSessionID: "cs_123",
		OrderID:           "ord_123",
		PermalinkURL:      "https://shop.example/orders/ord_123",
		Status:            "created",
		Amount:            430,
		Currency:          "usd",
	})
}

func TestEventPayloadShape(t *testing.T) {
	body, err := json.Marshal(testEvent().payload())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "order_created" {
		t.Errorf("type = %v, want order_created", got["type"])
	}
	data, ok := got["data"].(map[string]any)
	if !ok {
		t.Fatalf("data missing: %s", body)
	}
	want := map[string]any{
		"type":                "order",
		"checkout_session_id": "cs_123",
		"permalink_url":       "https://shop.example/orders/ord_123",
		"status":              "created",
	}
	for k, v := range want {
		if data[k] != v {
			t.Errorf("data.%s = %v, want %v", k, data[k], v)
		}
	}
	if refunds, ok := data["refunds"].([]any); !ok || len(refunds) != 0 {
		t.Errorf("data.refunds = %v, want []", data["refunds"])
	}
	for _, internal := range []string{"amount", "currency", "order_id"} {
		if _, ok := data[internal]; ok {
			t.Errorf("data.%s should not be on the wire", internal)
		}
	}
}

func TestDispatcherDeliversSignedEvent(t *testing.T) {
	type received struct {
		header http.Header
		body   []byte
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- received{header: r.Header.Clone(), body: b}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.SigningSecret = "whsec_test"
	d, err := NewDispatcher(cfg)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	ev := testEvent()
	d.Publish(context.Background(), ev)

	select {
	case r := <-got:
		if r.header.Get(EventIDHeader) != ev.ID {
			t.Errorf("%s = %q, want %q", EventIDHeader, r.header.Get(EventIDHeader), ev.ID)
		}
		if r.header.Get("X-Merchant") != "acme" {
			t.Errorf("configured header missing")
		}
		ts := r.header.Get(auth.TimestampHeader)
		want := auth.Sign([]byte("whsec_test"), ts, r.body)
		if r.header.Get(SignatureHeader) != want {
			t.Errorf("signature = %q, want %q", r.header.Get(SignatureHeader), want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestDispatcherRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dlq := NewMemoryDLQStore()
	m := metrics.New(prometheus.NewRegistry())
	d, err := NewDispatcher(testConfig(srv.URL), WithDLQStore(dlq), WithMetrics(m))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	d.Publish(context.Background(), testEvent())
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	failed, _ := dlq.ListFailedEvents(context.Background(), 0)
	if len(failed) != 0 {
		t.Errorf("DLQ size = %d, want 0", len(failed))
	}
	if v := testutil.ToFloat64(m.WebhooksTotal.WithLabelValues("order_created", "success")); v != 1 {
		t.Errorf("webhooks success = %v, want 1", v)
	}
}

func TestDispatcherDeadLettersAfterExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dlq := NewMemoryDLQStore()
	d, err := NewDispatcher(testConfig(srv.URL), WithDLQStore(dlq))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	ev := testEvent()
	d.Publish(context.Background(), ev)
	d.Close(context.Background())

	if calls.Load() != 3 {
		t.Errorf("attempts = %d, want 3", calls.Load())
	}
	failed, _ := dlq.ListFailedEvents(context.Background(), 0)
	if len(failed) != 1 {
		t.Fatalf("DLQ size = %d, want 1", len(failed))
	}
	if failed[0].ID != ev.ID || failed[0].Attempts != 3 || failed[0].EventType != EventOrderCreated {
		t.Errorf("dead letter = %+v", failed[0])
	}
}

func TestDispatcherQueueOverflowGoesToDLQ(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Workers = 1
	cfg.QueueSize = 1
	dlq := NewMemoryDLQStore()
	d, err := NewDispatcher(cfg, WithDLQStore(dlq))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	// One in flight, one queued, the rest overflow.
	for i := 0; i < 5; i++ {
		d.Publish(context.Background(), testEvent())
		time.Sleep(10 * time.Millisecond)
	}
	close(release)
	d.Close(context.Background())

	failed, _ := dlq.ListFailedEvents(context.Background(), 0)
	if len(failed) != 3 {
		t.Errorf("DLQ size = %d, want 3", len(failed))
	}
}

func TestDispatcherCloseIsIdempotentAndRejectsLatePublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	dlq := NewMemoryDLQStore()
	d, err := NewDispatcher(testConfig(srv.URL), WithDLQStore(dlq))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	d.Publish(context.Background(), testEvent())
	failed, _ := dlq.ListFailedEvents(context.Background(), 0)
	if len(failed) != 1 {
		t.Errorf("DLQ size = %d, want 1", len(failed))
	}
}

func TestNewDispatcherDisabled(t *testing.T) {
	if _, err := NewDispatcher(config.CallbacksConfig{}); err != ErrCallbackDisabled {
		t.Fatalf("NewDispatcher() error = %v, want ErrCallbackDisabled", err)
	}
	if err := SendOnce(context.Background(), config.CallbacksConfig{}, testEvent()); err != ErrCallbackDisabled {
		t.Fatalf("SendOnce() error = %v, want ErrCallbackDisabled", err)
	}
}

func TestSendOnceReportsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Retry.Enabled = false
	if err := SendOnce(context.Background(), cfg, testEvent()); err == nil {
		t.Fatal("SendOnce() error = nil, want failure")
	}
}

func TestBackoffCapsAtMax(t *testing.T) {
	b := backoff{next: time.Second, max: 3 * time.Second, multiplier: 2}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	for i, w := range want {
		if got := b.step(); got != w {
			t.Errorf("step %d = %v, want %v", i, got, w)
		}
	}
}

func TestFileDLQStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dlq", "events.json")
	store, err := NewFileDLQStore(path)
	if err != nil {
		t.Fatalf("NewFileDLQStore() error = %v", err)
	}
	ctx := context.Background()
	base := time.Date(2025, 9, 29, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"evt_b", "evt_a"} {
		if err := store.SaveFailedEvent(ctx, FailedEvent{ID: id, EventType: EventOrderCreated, Payload: json.RawMessage(`{}`), CreatedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("SaveFailedEvent() error = %v", err)
		}
	}

	reopened, err := NewFileDLQStore(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	events, _ := reopened.ListFailedEvents(ctx, 0)
	if len(events) != 2 || events[0].ID != "evt_b" {
		t.Fatalf("events = %+v, want evt_b first", events)
	}
	if err := reopened.DeleteFailedEvent(ctx, "evt_b"); err != nil {
		t.Fatalf("DeleteFailedEvent() error = %v", err)
	}
	events, _ = reopened.ListFailedEvents(ctx, 1)
	if len(events) != 1 || events[0].ID != "evt_a" {
		t.Fatalf("events after delete = %+v", events)
	}
}

func TestPublishConcurrent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.QueueSize = 100
	d, err := NewDispatcher(cfg)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Publish(context.Background(), testEvent())
		}()
	}
	wg.Wait()
	d.Close(context.Background())
	if calls.Load() != 50 {
		t.Errorf("deliveries = %d, want 50", calls.Load())
	}
}
