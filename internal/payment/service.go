package payment

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/whitebl3ck/event-payments/internal/domain"
	"github.com/whitebl3ck/event-payments/internal/observability"
	"github.com/whitebl3ck/event-payments/internal/provider"
)

// RegistrationStore is the registration-lookup-and-update surface the
// reconciliation flows need. Transition must be a compare-and-set conditioned
// on the stored status, not an overwrite.
type RegistrationStore interface {
	Create(ctx context.Context, reg *domain.Registration) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Registration, error)
	GetByReference(ctx context.Context, reference string) (*domain.Registration, error)
	AttachProviderHandle(ctx context.Context, id uuid.UUID, method, reference string, data map[string]interface{}) (bool, error)
	Transition(ctx context.Context, reference string, to domain.PaymentStatus) (*domain.Registration, domain.PaymentStatus, bool, error)
}

// EventPublisher pushes payment lifecycle notifications. Failures are logged
// and swallowed: notifications never contradict a completed provider-side fact.
type EventPublisher interface {
	Publish(ctx context.Context, key string, body []byte) error
}

// ReplayFilter suppresses duplicate webhook deliveries, best-effort. The
// delivery marker is written only after a delivery is fully processed, so a
// delivery that failed on a store error stays replayable.
type ReplayFilter interface {
	Seen(ctx context.Context, key string) (bool, error)
	MarkDelivered(ctx context.Context, key string) error
}

type ServiceConfig struct {
	DefaultProvider string
	DefaultCurrency string
	FrontendURL     string
}

// Service owns the three convergence paths onto a registration's payment
// status: transaction initialization, verification pull, and webhook push.
type Service struct {
	cfg       ServiceConfig
	providers map[string]provider.Provider
	store     RegistrationStore
	publisher EventPublisher
	replays   ReplayFilter
	logger    observability.Logger
}

func NewService(cfg ServiceConfig, providers []provider.Provider, store RegistrationStore, publisher EventPublisher, replays ReplayFilter, logger observability.Logger) *Service {
	byName := make(map[string]provider.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Service{
		cfg:       cfg,
		providers: byName,
		store:     store,
		publisher: publisher,
		replays:   replays,
		logger:    logger,
	}
}

func invalid(msg string) error {
	return errors.Mark(errors.New(msg), domain.ErrInvalidInput)
}

// Provider returns the provider registered under name, falling back to the
// configured default when name is empty.
func (s *Service) Provider(name string) (provider.Provider, error) {
	if name == "" {
		name = s.cfg.DefaultProvider
	}
	p, ok := s.providers[name]
	if !ok {
		return nil, invalid("unsupported payment provider: " + name)
	}
	return p, nil
}

type InitializeInput struct {
	Email          string
	Amount         float64
	Currency       string
	EventName      string
	CustomerName   string
	RegistrationID string
	Method         string
}

// Initialize starts a new provider transaction and records the provider's
// handle on the registration when one is named. The handle write is
// best-effort: the provider-side transaction already exists, so a local
// persistence failure is logged and swallowed, never surfaced.
func (s *Service) Initialize(ctx context.Context, in InitializeInput) (*provider.InitializeResult, error) {
	if in.Email == "" || in.Amount <= 0 {
		return nil, invalid("Email and amount are required")
	}
	prov, err := s.Provider(in.Method)
	if err != nil {
		return nil, err
	}

	currency := in.Currency
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	reference := domain.NewPaymentReference()

	res, err := prov.Initialize(ctx, provider.InitializeRequest{
		Email:       in.Email,
		AmountMinor: MinorUnits(in.Amount),
		Currency:    currency,
		Reference:   reference,
		CallbackURL: s.cfg.FrontendURL + "/payment/callback",
		Meta: provider.Metadata{
			EventName:      in.EventName,
			CustomerName:   in.CustomerName,
			RegistrationID: in.RegistrationID,
		},
	})
	if err != nil {
		return nil, err
	}

	if in.RegistrationID != "" {
		s.attachHandle(ctx, in.RegistrationID, prov.Name(), reference, res)
	}
	return res, nil
}

func (s *Service) attachHandle(ctx context.Context, registrationID, method, reference string, res *provider.InitializeResult) {
	log := s.logger.WithField("registration_id", registrationID).WithField("reference", reference)

	id, err := uuid.Parse(registrationID)
	if err != nil {
		log.WithError(err).Warn("invalid registration id on initialize, provider handle not persisted")
		return
	}

	data := map[string]interface{}{
		"reference":         res.Reference,
		"access_code":       res.AccessCode,
		"authorization_url": res.AuthorizationURL,
	}
	for k, v := range res.Raw {
		data[k] = v
	}

	attached, err := s.store.AttachProviderHandle(ctx, id, method, reference, data)
	if err != nil {
		log.WithError(err).Error("failed to persist provider handle")
		return
	}
	if !attached {
		log.Warn("registration missing or already referenced, provider handle not persisted")
	}
}

// Verify pulls the authoritative transaction state for a reference and, on
// success, converges the matching registration to paid. A missing
// registration is not an error (the initiator's persistence may not have
// completed yet), and local update failures never fail the verification.
func (s *Service) Verify(ctx context.Context, reference string) (*provider.VerifyResult, error) {
	if reference == "" {
		return nil, invalid("Transaction reference is required")
	}

	method := ""
	reg, regErr := s.store.GetByReference(ctx, reference)
	if regErr == nil {
		method = reg.PaymentMethod
	}
	prov, err := s.Provider(method)
	if err != nil {
		return nil, err
	}

	// Some providers address a transaction by their own handle recorded at
	// initialize, not by our reference.
	handle := reference
	if regErr == nil {
		handle = prov.VerifyHandle(reference, reg.ProviderData)
	}

	res, err := prov.Verify(ctx, handle)
	if err != nil {
		return nil, err
	}

	if res.Succeeded() {
		// The transition stays keyed by our reference. A store failure is
		// logged inside; the provider's answer is still returned.
		s.applyTransition(ctx, reference, domain.StatusPaid, prov.Name(), res.AmountMinor, res.Currency)
	}
	return res, nil
}

// HandleWebhook verifies the signature over the raw body, deduplicates the
// delivery and applies at most one status transition. Unknown event types are
// acknowledged untouched.
func (s *Service) HandleWebhook(ctx context.Context, providerName string, body []byte, signature string) error {
	prov, err := s.Provider(providerName)
	if err != nil {
		return err
	}

	event, err := prov.ParseWebhook(body, signature)
	if err != nil {
		if errors.Is(err, provider.ErrSignatureMismatch) {
			observability.WebhookSignatureRejections.Inc()
			s.logger.WithField("provider", prov.Name()).Warn("webhook rejected: signature mismatch")
		}
		return err
	}

	log := s.logger.WithField("provider", prov.Name()).WithField("event", event.Type).WithField("reference", event.Reference)

	if event.Outcome == provider.OutcomeIgnored {
		observability.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		log.Debug("webhook event type not handled")
		return nil
	}

	dedupKey := prov.Name() + ":" + event.Type + ":" + event.Reference
	seen, err := s.replays.Seen(ctx, dedupKey)
	if err != nil {
		log.WithError(err).Warn("replay filter unavailable, processing anyway")
	} else if seen {
		observability.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		log.Info("duplicate webhook delivery suppressed")
		return nil
	}

	target := domain.StatusPaid
	if event.Outcome == provider.OutcomeFailed {
		target = domain.StatusFailed
	}

	// A store failure surfaces as a non-200 so the provider redelivers; the
	// delivery is marked only after processing completed.
	applied, err := s.applyTransition(ctx, event.Reference, target, prov.Name(), event.AmountMinor, event.Currency)
	if err != nil {
		observability.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	if err := s.replays.MarkDelivered(ctx, dedupKey); err != nil {
		log.WithError(err).Warn("failed to record webhook delivery")
	}

	outcome := "noop"
	if applied {
		outcome = "applied"
	}
	observability.WebhookEventsTotal.WithLabelValues(event.Type, outcome).Inc()
	return nil
}

// applyTransition converges the registration through the status guard and
// publishes a notification when a transition actually happened. A missing
// registration is a valid no-op; store failures are logged and returned so
// the caller decides whether they may be swallowed.
func (s *Service) applyTransition(ctx context.Context, reference string, to domain.PaymentStatus, providerName string, amountMinor int64, currency string) (bool, error) {
	log := s.logger.WithField("reference", reference).WithField("target", string(to))

	reg, from, applied, err := s.store.Transition(ctx, reference, to)
	if errors.Is(err, domain.ErrNotFound) {
		log.Debug("no registration for reference")
		return false, nil
	}
	if err != nil {
		log.WithError(err).Error("failed to update registration payment status")
		return false, err
	}
	if !applied {
		log.WithField("current", string(reg.PaymentStatus)).Info("payment status unchanged")
		return false, nil
	}

	observability.PaymentTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	log.WithField("registration_id", reg.ID.String()).Info("registration payment status updated")

	payload, _ := json.Marshal(map[string]interface{}{
		"reference":       reference,
		"registration_id": reg.ID,
		"status":          to,
		"amount_minor":    amountMinor,
		"currency":        currency,
		"provider":        providerName,
	})
	if err := s.publisher.Publish(ctx, "payment."+string(to), payload); err != nil {
		log.WithError(err).Error("failed to publish payment event")
	}
	return true, nil
}

// Status returns the registration behind a reference for the read-only
// payment projection.
func (s *Service) Status(ctx context.Context, reference string) (*domain.Registration, error) {
	return s.store.GetByReference(ctx, reference)
}
