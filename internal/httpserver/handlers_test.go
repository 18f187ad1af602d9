package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/CedrosPay/checkout/internal/catalog"
	"github.com/CedrosPay/checkout/internal/checkout"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/idempotency"
	"github.com/CedrosPay/checkout/internal/payments"
	"github.com/CedrosPay/checkout/internal/vault"
)

const testConfigYAML = `
catalog:
  items:
    item_123:
      title: Widget
      unit_amount: 300
      tax_rate_bps: 1000
checkout:
  currency: usd
  merchant_id: merchant_123
  order_permalink_base: https://shop.example/orders
  fulfillment_options:
    - id: standard
      title: Standard
      amount: 100
      min_delivery_days: 3
      max_delivery_days: 5
    - id: express
      title: Express
      amount: 500
      min_delivery_days: 1
      max_delivery_days: 2
`

const addressJSON = `{"name":"Ada Lovelace","line_one":"1 Main St","city":"San Francisco","state":"CA","country":"US","postal_code":"94105"}`

type testServer struct {
	handler   http.Handler
	cfg       *config.Config
	processor *payments.MockProcessor
	tokens    *vault.MemoryStore
}

func newTestServer(t *testing.T, extraYAML string) *testServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(testConfigYAML+extraYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	processor := payments.NewMockProcessor()
	tokens := vault.NewMemoryStore()
	records := idempotency.NewMemoryStore()
	t.Cleanup(func() { _ = records.Close() })

	v := vault.New(tokens, processor)
	machine := checkout.NewMachine(
		checkout.NewMemoryStore(),
		catalog.NewYAMLProvider(cfg.Catalog.Items),
		v,
		processor,
		checkout.ConfigFrom(cfg.Checkout),
	)
	srv := New(cfg, Dependencies{
		Sessions: machine,
		Vault:    v,
		Guard:    idempotency.NewGuard(records, idempotency.WithWaitTimeout(5*time.Second)),
		Logger:   zerolog.Nop(),
	})
	return &testServer{handler: srv.Handler(), cfg: cfg, processor: processor, tokens: tokens}
}

type result struct {
	code   int
	header http.Header
	raw    string
	body   map[string]any
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) result {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Version", config.DefaultAPIVersion)
	for i := 0; i+1 < len(headers); i += 2 {
		if headers[i+1] == "" {
			req.Header.Del(headers[i])
			continue
		}
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	res := result{code: rec.Code, header: rec.Header(), raw: rec.Body.String()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &res.body); err != nil {
			t.Fatalf("%s %s: decode body %q: %v", method, path, res.raw, err)
		}
	}
	return res
}

func (r result) str(key string) string {
	s, _ := r.body[key].(string)
	return s
}

func (r result) total(typ string) int64 {
	totals, _ := r.body["totals"].([]any)
	for _, t := range totals {
		m := t.(map[string]any)
		if m["type"] == typ {
			return int64(m["amount"].(float64))
		}
	}
	return -1
}

func expectStatus(t *testing.T, r result, code int) {
	t.Helper()
	if r.code != code {
		t.Fatalf("status = %d, want %d; body = %s", r.code, code, r.raw)
	}
}

func expectError(t *testing.T, r result, code int, errCode string) {
	t.Helper()
	expectStatus(t, r, code)
	if r.str("code") != errCode {
		t.Fatalf("code = %q, want %q; body = %s", r.str("code"), errCode, r.raw)
	}
}

// Extra YAML passed to newTestServer is appended after the checkout
// section, so indented lines extend checkout and unindented ones start a
// new top-level section.

// readySession creates a session for one item_123 shipped standard.
func (ts *testServer) readySession(t *testing.T) string {
	t.Helper()
	created := ts.do(t, http.MethodPost, "/checkout_sessions",
		`{"items":[{"id":"item_123","quantity":1}],"fulfillment_address":`+addressJSON+`}`)
	expectStatus(t, created, http.StatusCreated)
	id := created.str("id")

	updated := ts.do(t, http.MethodPost, "/checkout_sessions/"+id, `{"fulfillment_option_id":"standard"}`)
	expectStatus(t, updated, http.StatusOK)
	if updated.str("status") != "ready_for_payment" {
		t.Fatalf("status = %s, want ready_for_payment; body = %s", updated.str("status"), updated.raw)
	}
	return id
}

func (ts *testServer) delegate(t *testing.T, sessionID string, maxAmount int64) string {
	t.Helper()
	body := fmt.Sprintf(`{
		"payment_method": {"type":"card","card_number_type":"fpan","number":"4242424242424242","exp_month":"12","exp_year":"2030","cvc":"123","display_card_funding_type":"credit","metadata":{}},
		"allowance": {"reason":"one_time","max_amount":%d,"currency":"usd","checkout_session_id":%q,"merchant_id":"merchant_123","expires_at":%q},
		"risk_signals": [{"type":"card_testing","score":10,"action":"authorized"}],
		"metadata": {"source":"agent"}
	}`, maxAmount, sessionID, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	res := ts.do(t, http.MethodPost, "/agentic_commerce/delegate_payment", body)
	expectStatus(t, res, http.StatusCreated)
	return res.str("id")
}

func completeBody(token string) string {
	return fmt.Sprintf(`{"payment_data":{"token":%q,"provider":"stripe"}}`, token)
}

func TestEndToEndDelegatedCheckout(t *testing.T) {
	ts := newTestServer(t, "")

	created := ts.do(t, http.MethodPost, "/checkout_sessions",
		`{"items":[{"id":"item_123","quantity":1}],"fulfillment_address":`+addressJSON+`}`)
	expectStatus(t, created, http.StatusCreated)
	if created.str("status") != "not_ready_for_payment" {
		t.Errorf("status = %s, want not_ready_for_payment", created.str("status"))
	}
	if created.body["order"] != nil {
		t.Errorf("order present before completion: %v", created.body["order"])
	}
	if created.header.Get("Request-Id") == "" {
		t.Error("missing Request-Id header")
	}
	id := created.str("id")

	updated := ts.do(t, http.MethodPost, "/checkout_sessions/"+id, `{"fulfillment_option_id":"standard"}`)
	expectStatus(t, updated, http.StatusOK)
	if updated.str("status") != "ready_for_payment" {
		t.Fatalf("status = %s; body = %s", updated.str("status"), updated.raw)
	}
	want := map[string]int64{"items_base_amount": 300, "subtotal": 300, "tax": 30, "fulfillment": 100, "total": 430}
	for typ, amount := range want {
		if got := updated.total(typ); got != amount {
			t.Errorf("total %s = %d, want %d", typ, got, amount)
		}
	}

	token := ts.delegate(t, id, 1000)
	if !vault.IsTokenID(token) {
		t.Fatalf("token id = %q", token)
	}

	done := ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/complete", completeBody(token))
	expectStatus(t, done, http.StatusOK)
	if done.str("status") != "completed" {
		t.Fatalf("status = %s", done.str("status"))
	}
	order, _ := done.body["order"].(map[string]any)
	if order == nil || !strings.HasPrefix(order["id"].(string), "ord_") || order["checkout_session_id"] != id {
		t.Fatalf("order = %v", done.body["order"])
	}
	if order["permalink_url"] != "https://shop.example/orders/"+order["id"].(string) {
		t.Errorf("permalink = %v", order["permalink_url"])
	}

	charges := ts.processor.Requests()
	if len(charges) != 1 || charges[0].Amount != 430 || charges[0].Currency != "usd" {
		t.Errorf("charges = %+v", charges)
	}

	got := ts.do(t, http.MethodGet, "/checkout_sessions/"+id, "")
	expectStatus(t, got, http.StatusOK)
	if got.str("status") != "completed" {
		t.Errorf("GET status = %s", got.str("status"))
	}
}

func TestCreateReplayAndConflict(t *testing.T) {
	ts := newTestServer(t, "")
	body := `{"items":[{"id":"item_123","quantity":2}]}`

	first := ts.do(t, http.MethodPost, "/checkout_sessions", body, "Idempotency-Key", "idem_create_1")
	expectStatus(t, first, http.StatusCreated)
	if first.header.Get("Idempotency-Key") != "idem_create_1" {
		t.Errorf("Idempotency-Key not echoed")
	}
	if first.header.Get("Idempotent-Replayed") != "" {
		t.Errorf("first response marked as replay")
	}

	// Reordered members and explicit nulls canonicalize to the same request.
	replay := ts.do(t, http.MethodPost, "/checkout_sessions",
		`{ "buyer": null, "items": [ {"quantity":2, "id":"item_123"} ] }`, "Idempotency-Key", "idem_create_1")
	expectStatus(t, replay, http.StatusCreated)
	if replay.raw != first.raw {
		t.Errorf("replay body differs:\n%s\n%s", first.raw, replay.raw)
	}
	if replay.header.Get("Idempotent-Replayed") != "true" {
		t.Errorf("Idempotent-Replayed = %q", replay.header.Get("Idempotent-Replayed"))
	}

	conflict := ts.do(t, http.MethodPost, "/checkout_sessions",
		`{"items":[{"id":"item_123","quantity":3}]}`, "Idempotency-Key", "idem_create_1")
	expectError(t, conflict, http.StatusConflict, "idempotency_conflict")
	if conflict.str("type") != "request_not_idempotent" {
		t.Errorf("type = %q", conflict.str("type"))
	}

	other := ts.do(t, http.MethodPost, "/checkout_sessions", body, "Idempotency-Key", "idem_create_2")
	expectStatus(t, other, http.StatusCreated)
	if other.str("id") == first.str("id") {
		t.Error("a different key returned the same session")
	}
}

func TestKeyedRequestWithInvalidUTF8Rejected(t *testing.T) {
	ts := newTestServer(t, "")
	res := ts.do(t, http.MethodPost, "/checkout_sessions",
		"{\"items\":[{\"id\":\"item_123\xff\",\"quantity\":1}]}",
		"Idempotency-Key", "idem_utf8")
	expectError(t, res, http.StatusBadRequest, "invalid_request")

	// Nothing was reserved, so the key is still free for a valid body.
	ok := ts.do(t, http.MethodPost, "/checkout_sessions", `{"items":[{"id":"item_123","quantity":1}]}`,
		"Idempotency-Key", "idem_utf8")
	expectStatus(t, ok, http.StatusCreated)
}

func TestKeyReusedOnAnotherSessionConflicts(t *testing.T) {
	ts := newTestServer(t, "")
	a := ts.readySession(t)
	b := ts.readySession(t)

	first := ts.do(t, http.MethodPost, "/checkout_sessions/"+a+"/cancel", "", "Idempotency-Key", "idem_cancel")
	expectStatus(t, first, http.StatusOK)
	second := ts.do(t, http.MethodPost, "/checkout_sessions/"+b+"/cancel", "", "Idempotency-Key", "idem_cancel")
	expectError(t, second, http.StatusConflict, "idempotency_conflict")
}

func TestConcurrentCompletesWithOneToken(t *testing.T) {
	ts := newTestServer(t, "")
	id := ts.readySession(t)
	token := ts.delegate(t, id, 1000)

	const n = 10
	results := make([]result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/complete", completeBody(token))
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		switch {
		case r.code == http.StatusOK:
			successes++
		case r.code == http.StatusMethodNotAllowed && r.str("code") == "session_already_finalized":
		case r.code == http.StatusUnprocessableEntity && r.str("code") == "token_already_used":
		case r.code == http.StatusInternalServerError && r.str("code") == "processing_error":
		default:
			t.Errorf("unexpected response %d %s", r.code, r.raw)
		}
	}
	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	if charges := ts.processor.Requests(); len(charges) != 1 {
		t.Errorf("charges = %d, want 1", len(charges))
	}
}

func TestConcurrentCompletesSameKeyReplay(t *testing.T) {
	ts := newTestServer(t, "")
	id := ts.readySession(t)
	token := ts.delegate(t, id, 1000)

	const n = 5
	results := make([]result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/complete", completeBody(token),
				"Idempotency-Key", "idem_complete")
		}(i)
	}
	wg.Wait()

	replays := 0
	for _, r := range results {
		expectStatus(t, r, http.StatusOK)
		if r.raw != results[0].raw {
			t.Errorf("bodies differ:\n%s\n%s", results[0].raw, r.raw)
		}
		if r.header.Get("Idempotent-Replayed") == "true" {
			replays++
		}
	}
	if replays != n-1 {
		t.Errorf("replays = %d, want %d", replays, n-1)
	}
}

func TestCompleteRejections(t *testing.T) {
	ts := newTestServer(t, "")

	t.Run("allowance too small", func(t *testing.T) {
		id := ts.readySession(t)
		token := ts.delegate(t, id, 429)
		res := ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/complete", completeBody(token))
		expectError(t, res, http.StatusUnprocessableEntity, "amount_exceeds_allowance")
		if got := ts.do(t, http.MethodGet, "/checkout_sessions/"+id, ""); got.str("status") != "ready_for_payment" {
			t.Errorf("session status = %s, want ready_for_payment", got.str("status"))
		}
	})

	t.Run("token for another session", func(t *testing.T) {
		a := ts.readySession(t)
		b := ts.readySession(t)
		token := ts.delegate(t, a, 1000)
		res := ts.do(t, http.MethodPost, "/checkout_sessions/"+b+"/complete", completeBody(token))
		expectError(t, res, http.StatusUnprocessableEntity, "invalid_session")
	})

	t.Run("unknown token", func(t *testing.T) {
		id := ts.readySession(t)
		res := ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/complete", completeBody("vt_00000000000000000000000000000000"))
		expectError(t, res, http.StatusNotFound, "invalid_token")
	})

	t.Run("not ready", func(t *testing.T) {
		created := ts.do(t, http.MethodPost, "/checkout_sessions", `{"items":[{"id":"item_123","quantity":1}]}`)
		res := ts.do(t, http.MethodPost, "/checkout_sessions/"+created.str("id")+"/complete", completeBody("pm_card_visa"))
		expectError(t, res, http.StatusUnprocessableEntity, "session_not_ready")
	})

	t.Run("unknown session", func(t *testing.T) {
		res := ts.do(t, http.MethodPost, "/checkout_sessions/cs_missing/complete", completeBody("pm_card_visa"))
		expectError(t, res, http.StatusNotFound, "session_not_found")
	})
}

func TestDeclinedChargeReleasesIdempotencyKey(t *testing.T) {
	ts := newTestServer(t, "")
	id := ts.readySession(t)
	body := completeBody(payments.DeclinedCredential)

	for attempt := 1; attempt <= 2; attempt++ {
		res := ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/complete", body, "Idempotency-Key", "idem_declined")
		expectError(t, res, http.StatusInternalServerError, "processing_error")
		if res.str("message") != "payment was declined" {
			t.Errorf("message = %q", res.str("message"))
		}
		if res.str("type") != "processing_error" {
			t.Errorf("type = %q", res.str("type"))
		}
		if res.header.Get("Idempotent-Replayed") != "" {
			t.Errorf("attempt %d was replayed", attempt)
		}
		if got := len(ts.processor.Requests()); got != attempt {
			t.Errorf("charges after attempt %d = %d", attempt, got)
		}
	}

	if got := ts.do(t, http.MethodGet, "/checkout_sessions/"+id, ""); got.str("status") != "ready_for_payment" {
		t.Errorf("status after decline = %s", got.str("status"))
	}
	ok := ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/complete", completeBody("pm_card_visa"))
	expectStatus(t, ok, http.StatusOK)
}

func TestCancel(t *testing.T) {
	ts := newTestServer(t, "")

	t.Run("double cancel returns the same session", func(t *testing.T) {
		id := ts.readySession(t)
		first := ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/cancel", "")
		expectStatus(t, first, http.StatusOK)
		second := ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/cancel", "")
		expectStatus(t, second, http.StatusOK)
		if first.raw != second.raw {
			t.Errorf("bodies differ:\n%s\n%s", first.raw, second.raw)
		}
		if second.str("status") != "canceled" {
			t.Errorf("status = %s", second.str("status"))
		}
	})

	t.Run("cancel after complete", func(t *testing.T) {
		id := ts.readySession(t)
		expectStatus(t, ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/complete", completeBody("pm_card_visa")), http.StatusOK)
		res := ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/cancel", "")
		expectError(t, res, http.StatusMethodNotAllowed, "session_already_finalized")
	})

	t.Run("update after cancel", func(t *testing.T) {
		id := ts.readySession(t)
		expectStatus(t, ts.do(t, http.MethodPost, "/checkout_sessions/"+id+"/cancel", ""), http.StatusOK)
		res := ts.do(t, http.MethodPost, "/checkout_sessions/"+id, `{"fulfillment_option_id":"express"}`)
		expectError(t, res, http.StatusMethodNotAllowed, "session_already_finalized")
	})
}

func TestRequestValidation(t *testing.T) {
	ts := newTestServer(t, "")
	tests := []struct {
		name     string
		path     string
		body     string
		code     string
		param    string
		wantHTTP int
	}{
		{"missing items", "/checkout_sessions", `{}`, "missing_field", "$.items", http.StatusBadRequest},
		{"non-integer quantity", "/checkout_sessions", `{"items":[{"id":"item_123","quantity":"two"}]}`, "invalid_field", "$.items[0].quantity", http.StatusBadRequest},
		{"malformed json", "/checkout_sessions", `{"items":`, "invalid_request", "", http.StatusBadRequest},
		{"missing payment data", "/checkout_sessions/cs_x/complete", `{}`, "missing_field", "$.payment_data", http.StatusBadRequest},
		{"bad allowance currency", "/agentic_commerce/delegate_payment", `{
			"payment_method":{"type":"card","card_number_type":"fpan","number":"4242424242424242","display_card_funding_type":"credit","metadata":{}},
			"allowance":{"reason":"one_time","max_amount":100,"currency":"USD1","checkout_session_id":"cs_1","merchant_id":"m","expires_at":"2099-01-01T00:00:00Z"},
			"risk_signals":[],"metadata":{}}`, "invalid_field", "$.allowance.currency", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ts.do(t, http.MethodPost, tt.path, tt.body)
			expectError(t, res, tt.wantHTTP, tt.code)
			if res.str("param") != tt.param {
				t.Errorf("param = %q, want %q", res.str("param"), tt.param)
			}
			if res.str("type") != "invalid_request" {
				t.Errorf("type = %q", res.str("type"))
			}
		})
	}
}

func TestExpiredAllowanceRejectedAtIssue(t *testing.T) {
	ts := newTestServer(t, "")
	body := `{
		"payment_method":{"type":"card","card_number_type":"fpan","number":"4242424242424242","display_card_funding_type":"credit","metadata":{}},
		"allowance":{"reason":"one_time","max_amount":100,"currency":"usd","checkout_session_id":"cs_1","merchant_id":"m","expires_at":"2001-01-01T00:00:00Z"},
		"risk_signals":[],"metadata":{}}`
	res := ts.do(t, http.MethodPost, "/agentic_commerce/delegate_payment", body)
	expectError(t, res, http.StatusBadRequest, "invalid_field")
	if res.str("param") != "$.allowance.expires_at" {
		t.Errorf("param = %q", res.str("param"))
	}
}

func TestAPIVersionHeader(t *testing.T) {
	ts := newTestServer(t, `
  deprecated_api_versions:
    - version: "2025-06-01"
      sunset: "Tue, 31 Mar 2026 00:00:00 GMT"
      message: upgrade to 2025-09-29
`)
	body := `{"items":[{"id":"item_123","quantity":1}]}`

	missing := ts.do(t, http.MethodPost, "/checkout_sessions", body, "API-Version", "")
	expectError(t, missing, http.StatusBadRequest, "invalid_api_version")
	if missing.str("param") != "API-Version" {
		t.Errorf("param = %q", missing.str("param"))
	}

	unsupported := ts.do(t, http.MethodPost, "/checkout_sessions", body, "API-Version", "1999-01-01")
	expectError(t, unsupported, http.StatusBadRequest, "invalid_api_version")

	old := ts.do(t, http.MethodPost, "/checkout_sessions", body, "API-Version", "2025-06-01")
	expectStatus(t, old, http.StatusCreated)
	if old.header.Get("Deprecation") != "true" || old.header.Get("Sunset") == "" {
		t.Errorf("deprecation headers = %v", old.header)
	}

	current := ts.do(t, http.MethodPost, "/checkout_sessions", body)
	expectStatus(t, current, http.StatusCreated)
	if current.header.Get("API-Version") != config.DefaultAPIVersion || current.header.Get("Deprecation") != "" {
		t.Errorf("headers = %v", current.header)
	}
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t, `
auth:
  enabled: true
  api_keys:
    sk_agent: pro
`)
	body := `{"items":[{"id":"item_123","quantity":1}]}`

	res := ts.do(t, http.MethodPost, "/checkout_sessions", body)
	expectError(t, res, http.StatusUnauthorized, "unauthorized")

	res = ts.do(t, http.MethodPost, "/checkout_sessions", body, "Authorization", "Bearer sk_agent")
	expectStatus(t, res, http.StatusCreated)

	// Health stays reachable without a key.
	health := ts.do(t, http.MethodGet, "/healthz", "", "API-Version", "")
	expectStatus(t, health, http.StatusOK)
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return fmt.Errorf("connection refused") }

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, "")
	res := ts.do(t, http.MethodGet, "/healthz", "")
	expectStatus(t, res, http.StatusOK)
	if res.str("status") != "ok" || res.str("storage") != "memory" {
		t.Errorf("body = %s", res.raw)
	}

	h := &handlers{cfg: ts.cfg, health: failingPinger{}}
	rec := httptest.NewRecorder()
	h.healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("degraded health = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsAdminKey(t *testing.T) {
	ts := newTestServer(t, `
server:
  admin_metrics_api_key: metrics-secret
`)
	res := ts.do(t, http.MethodGet, "/metrics", "")
	expectError(t, res, http.StatusUnauthorized, "unauthorized")

	res = ts.do(t, http.MethodGet, "/metrics", "", "Authorization", "Bearer metrics-secret")
	expectStatus(t, res, http.StatusOK)
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, "")
	res := ts.do(t, http.MethodGet, "/healthz", "")
	if res.header.Get("X-Content-Type-Options") != "nosniff" || res.header.Get("Cache-Control") != "no-store" {
		t.Errorf("headers = %v", res.header)
	}
}
