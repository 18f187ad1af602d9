package checkout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/CedrosPay/checkout/internal/callbacks"
	"github.com/CedrosPay/checkout/internal/catalog"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/CedrosPay/checkout/internal/vault"
	"github.com/google/uuid"
)

// DefaultSessionTTL is how long a session accepts mutations after creation.
const DefaultSessionTTL = 30 * time.Minute

// Config holds merchant settings applied to every session.
type Config struct {
	Currency           string
	SessionTTL         time.Duration
	OrderPermalinkBase string
	PaymentProvider    PaymentProvider
	Links              []Link
	ShippingRates      []ShippingRate
}

// CreateRequest opens a session.
type CreateRequest struct {
	Items              []Item
	Buyer              *Buyer
	FulfillmentAddress *Address
}

// UpdateRequest patches a session. Nil fields keep their current value.
type UpdateRequest struct {
	Items               []Item
	Buyer               *Buyer
	FulfillmentAddress  *Address
	FulfillmentOptionID *string
}

// CompleteRequest pays for a ready session.
type CompleteRequest struct {
	Payment PaymentReference
	Buyer   *Buyer
}

// Machine drives checkout sessions through their lifecycle.
type Machine struct {
	store      Store
	catalog    catalog.Provider
	allowances Allowances
	charger    Charger
	publisher  Publisher
	cfg        Config
	metrics    *metrics.Metrics
	locks      *keyedMutex
	now        func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithPublisher sets where order events go. Defaults to discarding them.
func WithPublisher(p Publisher) Option {
	return func(m *Machine) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithMetrics records session operations.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mx }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine wires a Machine.
func NewMachine(store Store, provider catalog.Provider, allowances Allowances, charger Charger, cfg Config, opts ...Option) *Machine {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	cfg.Currency = strings.ToLower(cfg.Currency)
	m := &Machine{
		store:      store,
		catalog:    provider,
		allowances: allowances,
		charger:    charger,
		publisher:  callbacks.NoopPublisher{},
		cfg:        cfg,
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create prices the requested items and stores a new session.
func (m *Machine) Create(ctx context.Context, req CreateRequest) (Session, error) {
	start := time.Now()
	if len(req.Items) == 0 {
		return Session{}, ErrNoItems
	}

	id, err := GenerateSessionID()
	if err != nil {
		return Session{}, err
	}
	now := m.now().UTC()
	s := Session{
		ID:                 id,
		Status:             StatusNotReadyForPayment,
		Currency:           m.cfg.Currency,
		Buyer:              req.Buyer,
		PaymentProvider:    m.cfg.PaymentProvider,
		RequestedItems:     append([]Item(nil), req.Items...),
		FulfillmentAddress: req.FulfillmentAddress,
		Links:              append([]Link(nil), m.cfg.Links...),
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(m.cfg.SessionTTL),
	}
	if err := m.recompute(ctx, &s, nil); err != nil {
		m.observe("create", "error", start)
		return Session{}, err
	}
	if err := m.store.Create(ctx, s); err != nil {
		m.observe("create", "error", start)
		return Session{}, fmt.Errorf("store session: %w", err)
	}

	m.observe("create", string(s.Status), start)
	log := logger.FromContext(ctx)
	event := log.Info().
		Str("checkout_session_id", s.ID).
		Str("status", string(s.Status)).
		Int("line_items", len(s.LineItems)).
		Int64("total", s.Amount(TotalTotal))
	if s.Buyer != nil {
		event = event.Str("buyer_email", logger.RedactEmail(s.Buyer.Email))
	}
	event.Msg("checkout.session_created")
	return s, nil
}

// Get returns a session. A session found past its expiry is persisted as
// canceled before it is returned.
func (m *Machine) Get(ctx context.Context, id string) (Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if s.Status.Terminal() || !s.ExpiredAt(m.now()) {
		return s, nil
	}

	s, err = m.mutate(ctx, id, func(*Session) error { return ErrUnchanged })
	if errors.Is(err, ErrSessionExpired) {
		return s, nil
	}
	return s, err
}

// Update merges req into the session and recomputes pricing and status.
func (m *Machine) Update(ctx context.Context, id string, req UpdateRequest) (Session, error) {
	start := time.Now()
	s, err := m.mutate(ctx, id, func(s *Session) error {
		if s.Status.Terminal() {
			return ErrSessionFinalized
		}
		if s.Completion.Holds(m.now()) {
			return ErrCompletionInProgress
		}
		s.Completion = nil
		if req.Items != nil {
			if len(req.Items) == 0 {
				return ErrNoItems
			}
			s.RequestedItems = append([]Item(nil), req.Items...)
		}
		if req.Buyer != nil {
			s.Buyer = req.Buyer
		}
		if req.FulfillmentAddress != nil {
			s.FulfillmentAddress = req.FulfillmentAddress
		}
		if err := m.recompute(ctx, s, req.FulfillmentOptionID); err != nil {
			return err
		}
		s.UpdatedAt = m.now().UTC()
		return nil
	})
	if err != nil {
		m.observe("update", "error", start)
		return s, err
	}
	m.observe("update", string(s.Status), start)
	return s, nil
}

// Complete charges the session total and records the order.
//
// It writes the session three times: a claim that freezes the session, the
// resolved credential, and the order. The charge happens between writes,
// never inside a store callback, so a store that re-runs callbacks on a
// write conflict cannot charge twice or charge a stale total. A failed
// charge releases the claim and leaves the session ready for payment. If
// the order cannot be written after a successful charge, the claim keeps
// the credential and idempotency key and the next Complete replays that
// same charge.
func (m *Machine) Complete(ctx context.Context, id string, req CompleteRequest) (Session, error) {
	start := time.Now()
	log := logger.FromContext(ctx)

	if req.Payment == nil {
		return Session{}, ErrInvalidPayment
	}
	kind := req.Payment.paymentKind()

	s, claim, err := m.claim(ctx, id, req.Buyer)
	var charged ChargeResult
	if err == nil {
		s, charged, err = m.settle(ctx, s, claim, req.Payment)
	}
	if err != nil {
		m.observe("complete", "error", start)
		result := completionResult(err)
		m.metrics.ObserveCompletion(result, kind, "", 0)
		event := "checkout.complete.rejected"
		if result == "declined" {
			event = "checkout.complete.charge_failed"
		}
		log.Warn().Err(err).Str("checkout_session_id", id).Str("payment", kind).Msg(event)
		return Session{}, err
	}

	total := s.Amount(TotalTotal)
	m.observe("complete", string(s.Status), start)
	m.metrics.ObserveCompletion("success", kind, s.Currency, total)
	log.Info().
		Str("checkout_session_id", s.ID).
		Str("order_id", s.Order.ID).
		Str("charge_id", charged.ID).
		Int64("amount", total).
		Str("currency", s.Currency).
		Msg("checkout.session_completed")

	m.publisher.Publish(ctx, callbacks.NewOrderEvent(callbacks.EventOrderCreated, callbacks.OrderData{
		CheckoutSessionID: s.ID,
		OrderID:           s.Order.ID,
		PermalinkURL:      s.Order.PermalinkURL,
		Status:            "created",
		Amount:            total,
		Currency:          s.Currency,
	}))
	return s, nil
}

// claim puts a completion claim on a ready session. A claim left by an
// earlier call whose lease ran out is taken over; if that call had already
// resolved its credential, the credential and key are carried forward.
func (m *Machine) claim(ctx context.Context, id string, buyer *Buyer) (Session, Completion, error) {
	claimID := uuid.NewString()
	var claim Completion
	s, err := m.mutate(ctx, id, func(s *Session) error {
		now := m.now().UTC()
		if s.Status.Terminal() {
			return ErrSessionFinalized
		}
		prev := s.Completion
		if prev != nil && now.Before(prev.LeaseUntil) {
			return ErrCompletionInProgress
		}
		if s.Status != StatusReadyForPayment {
			return ErrSessionNotReady
		}
		if buyer != nil {
			s.Buyer = buyer
		}

		claim = Completion{ID: claimID, Amount: s.Amount(TotalTotal), LeaseUntil: now.Add(CompletionLease)}
		if prev.Charging() {
			claim.Amount = prev.Amount
			claim.Payment = prev.Payment
			claim.CredentialRef = prev.CredentialRef
			claim.IdempotencyKey = prev.IdempotencyKey
		}
		held := claim
		s.Completion = &held
		s.UpdatedAt = now
		return nil
	})
	return s, claim, err
}

// settle pays for a claimed session and writes the order.
func (m *Machine) settle(ctx context.Context, s Session, claim Completion, ref PaymentReference) (Session, ChargeResult, error) {
	if !claim.Charging() {
		credential, key, err := m.resolve(ctx, s, claim.Amount, ref)
		if err != nil {
			m.release(ctx, s.ID, claim.ID)
			return s, ChargeResult{}, err
		}
		claim.Payment = ref.paymentKind()
		claim.CredentialRef = credential
		claim.IdempotencyKey = key
		recorded := claim
		if _, err := m.withClaim(ctx, s.ID, claim.ID, func(s *Session) { s.Completion = &recorded }); err != nil {
			return s, ChargeResult{}, err
		}
	}

	// Past this point funds may be captured; the request's cancellation
	// must not stop the order from being written.
	ctx = context.WithoutCancel(ctx)
	result, err := m.charger.Charge(ctx, ChargeRequest{
		CredentialRef:  claim.CredentialRef,
		Amount:         claim.Amount,
		Currency:       s.Currency,
		SessionID:      s.ID,
		IdempotencyKey: claim.IdempotencyKey,
		Metadata:       map[string]string{"checkout_session_id": s.ID},
	})
	if err != nil {
		m.release(ctx, s.ID, claim.ID)
		return s, ChargeResult{}, fmt.Errorf("%w: %w", ErrPaymentFailed, err)
	}

	orderID := "ord_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	done, err := m.withClaim(ctx, s.ID, claim.ID, func(s *Session) {
		s.Order = &Order{
			ID:                orderID,
			CheckoutSessionID: s.ID,
			PermalinkURL:      m.permalink(orderID),
		}
		s.Status = StatusCompleted
		s.Completion = nil
		s.UpdatedAt = m.now().UTC()
	})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).
			Str("checkout_session_id", s.ID).
			Str("charge_id", result.ID).
			Int64("amount", claim.Amount).
			Msg("checkout.complete.finalize_failed")
		return s, result, err
	}
	return done, result, nil
}

// withClaim applies fn only while the session still carries claim claimID.
func (m *Machine) withClaim(ctx context.Context, id, claimID string, fn func(*Session)) (Session, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	return m.store.Update(ctx, id, func(s *Session) error {
		if s.Completion == nil || s.Completion.ID != claimID {
			return fmt.Errorf("%w: completion claim was taken over", ErrCompletionInProgress)
		}
		fn(s)
		return nil
	})
}

// release drops a claim after a failed completion. The session returns to
// its prior state; a consumed delegated token stays consumed.
func (m *Machine) release(ctx context.Context, id, claimID string) {
	if _, err := m.withClaim(ctx, id, claimID, func(s *Session) { s.Completion = nil }); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("checkout_session_id", id).Msg("checkout.complete.release_failed")
	}
}

// Cancel moves an open session to canceled. Canceling a canceled or
// expired session returns it unchanged.
func (m *Machine) Cancel(ctx context.Context, id string) (Session, error) {
	start := time.Now()
	s, err := m.mutate(ctx, id, func(s *Session) error {
		switch s.Status {
		case StatusCanceled:
			return ErrUnchanged
		case StatusCompleted:
			return ErrSessionFinalized
		}
		if s.Completion.Holds(m.now()) {
			return ErrCompletionInProgress
		}
		s.Completion = nil
		s.Status = StatusCanceled
		s.UpdatedAt = m.now().UTC()
		return nil
	})
	if errors.Is(err, ErrSessionExpired) {
		err = nil
	}
	if err != nil {
		m.observe("cancel", "error", start)
		return s, err
	}
	m.observe("cancel", string(s.Status), start)
	return s, nil
}

// mutate runs fn under the session's lock. An expired open session is
// canceled and fn is skipped, unless a completion claim still holds it; the canceled session is returned together
// with ErrSessionExpired.
func (m *Machine) mutate(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	expired := false
	s, err := m.store.Update(ctx, id, func(s *Session) error {
		expired = false
		now := m.now().UTC()
		if !s.Status.Terminal() && s.ExpiredAt(now) && !s.Completion.Holds(now) {
			s.Status = StatusCanceled
			s.Completion = nil
			s.UpdatedAt = now
			expired = true
			return nil
		}
		return fn(s)
	})
	if err != nil {
		return Session{}, err
	}
	if expired {
		m.metrics.ObserveSessionExpired()
		log := logger.FromContext(ctx)
		log.Info().Str("checkout_session_id", id).Msg("checkout.session_expired")
		return s, ErrSessionExpired
	}
	return s, nil
}

// resolve turns a payment reference into the credential to charge and the
// processor idempotency key. Delegated tokens are consumed here.
func (m *Machine) resolve(ctx context.Context, s Session, amount int64, ref PaymentReference) (credential, key string, err error) {
	switch p := ref.(type) {
	case Delegated:
		token, err := m.allowances.ValidateAndConsume(ctx, p.TokenID, s.ID, amount, s.Currency)
		if err != nil {
			return "", "", err
		}
		return token.CredentialRef, "complete_" + token.ID, nil
	case Direct:
		if p.CredentialRef == "" {
			return "", "", ErrInvalidPayment
		}
		return p.CredentialRef, "complete_" + s.ID + "_" + p.CredentialRef, nil
	default:
		return "", "", ErrInvalidPayment
	}
}

// recompute re-resolves items and fulfillment, rebuilds messages and
// totals, and derives the status. requestedOption is the option id the
// caller explicitly asked for in this request, if any.
func (m *Machine) recompute(ctx context.Context, s *Session, requestedOption *string) error {
	priced, err := priceItems(ctx, m.catalog, s.Currency, s.RequestedItems)
	if err != nil {
		return err
	}
	s.LineItems = priced.lineItems
	messages := priced.messages

	s.FulfillmentOptions, err = fulfillmentOptions(m.cfg.ShippingRates, s.FulfillmentAddress, m.now())
	if err != nil {
		return err
	}

	if requestedOption != nil {
		switch id := *requestedOption; {
		case id == "":
			s.FulfillmentOptionID = ""
		case hasOption(s.FulfillmentOptions, id):
			s.FulfillmentOptionID = id
		default:
			messages = append(messages, errorMessage(CodeInvalid, "$.fulfillment_option_id",
				fmt.Sprintf("Fulfillment option %q is not available for this session.", id)))
		}
	}
	if s.FulfillmentOptionID != "" && !hasOption(s.FulfillmentOptions, s.FulfillmentOptionID) {
		messages = append(messages, infoMessage("$.fulfillment_option_id",
			fmt.Sprintf("Fulfillment option %q no longer applies to this address and was cleared.", s.FulfillmentOptionID)))
		s.FulfillmentOptionID = ""
	}

	switch {
	case s.FulfillmentAddress == nil:
		messages = append(messages, infoMessage("$.fulfillment_address",
			"Provide a fulfillment address to see fulfillment options."))
	case len(s.FulfillmentOptions) == 0:
		messages = append(messages, infoMessage("$.fulfillment_address",
			fmt.Sprintf("No fulfillment options ship to %s.", s.FulfillmentAddress.Country)))
	case s.FulfillmentOptionID == "":
		messages = append(messages, infoMessage("$.fulfillment_option_id",
			"Select one of the fulfillment options."))
	}

	var selected *FulfillmentOption
	if opt, ok := s.SelectedOption(); ok {
		selected = &opt
	}
	totals, err := computeTotals(s.LineItems, selected)
	if err != nil {
		return fmt.Errorf("compute totals: %w", err)
	}
	s.Totals = totals
	s.Messages = messages

	if ready(s) {
		s.Status = StatusReadyForPayment
	} else {
		s.Status = StatusNotReadyForPayment
	}
	return nil
}

// ready is the completeness predicate.
func ready(s *Session) bool {
	if len(s.LineItems) == 0 || s.FulfillmentAddress == nil {
		return false
	}
	for _, msg := range s.Messages {
		if msg.Blocking() {
			return false
		}
	}
	_, ok := s.SelectedOption()
	return ok
}

func hasOption(opts []FulfillmentOption, id string) bool {
	for _, o := range opts {
		if o.ID == id {
			return true
		}
	}
	return false
}

func (m *Machine) permalink(orderID string) string {
	if m.cfg.OrderPermalinkBase == "" {
		return ""
	}
	link, err := url.JoinPath(m.cfg.OrderPermalinkBase, orderID)
	if err != nil {
		return ""
	}
	return link
}

func (m *Machine) observe(operation, status string, start time.Time) {
	m.metrics.ObserveSessionOperation(operation, status, time.Since(start))
}

func completionResult(err error) string {
	switch {
	case errors.Is(err, ErrPaymentFailed):
		return "declined"
	case errors.Is(err, ErrSessionNotReady), errors.Is(err, ErrSessionFinalized),
		errors.Is(err, ErrCompletionInProgress):
		return "rejected"
	case errors.Is(err, ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, vault.ErrInvalidToken),
		errors.Is(err, vault.ErrTokenAlreadyUsed),
		errors.Is(err, vault.ErrTokenExpired),
		errors.Is(err, vault.ErrInvalidSession),
		errors.Is(err, vault.ErrAmountExceedsAllowance),
		errors.Is(err, vault.ErrCurrencyMismatch):
		return "token_rejected"
	default:
		return "error"
	}
}
