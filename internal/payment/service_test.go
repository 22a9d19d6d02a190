package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/whitebl3ck/event-payments/internal/domain"
	"github.com/whitebl3ck/event-payments/internal/observability"
	"github.com/whitebl3ck/event-payments/internal/payment"
	"github.com/whitebl3ck/event-payments/internal/provider"
)

type fakeStore struct {
	mu   sync.Mutex
	regs map[uuid.UUID]*domain.Registration

	attachErr     error
	transitionErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{regs: make(map[uuid.UUID]*domain.Registration)}
}

func (s *fakeStore) Create(ctx context.Context, reg *domain.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *reg
	s.regs[reg.ID] = &copied
	return nil
}

func (s *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *reg
	return &copied, nil
}

func (s *fakeStore) GetByReference(ctx context.Context, reference string) (*domain.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, reg := range s.regs {
		if reg.PaymentReference == reference {
			copied := *reg
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *fakeStore) AttachProviderHandle(ctx context.Context, id uuid.UUID, method, reference string, data map[string]interface{}) (bool, error) {
	if s.attachErr != nil {
		return false, s.attachErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.regs[id]
	if !ok || reg.PaymentReference != "" {
		return false, nil
	}
	reg.PaymentMethod = method
	reg.PaymentReference = reference
	reg.ProviderData = data
	return true, nil
}

func (s *fakeStore) Transition(ctx context.Context, reference string, to domain.PaymentStatus) (*domain.Registration, domain.PaymentStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transitionErr != nil {
		return nil, "", false, s.transitionErr
	}
	for _, reg := range s.regs {
		if reg.PaymentReference != reference {
			continue
		}
		for _, from := range domain.AllowedFrom(to) {
			if reg.PaymentStatus == from {
				reg.PaymentStatus = to
				copied := *reg
				return &copied, from, true, nil
			}
		}
		copied := *reg
		return &copied, reg.PaymentStatus, false, nil
	}
	return nil, "", false, domain.ErrNotFound
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) Publish(ctx context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type fakeReplays struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeReplays() *fakeReplays {
	return &fakeReplays{seen: make(map[string]bool)}
}

func (r *fakeReplays) Seen(ctx context.Context, key string) (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[key], nil
}

func (r *fakeReplays) MarkDelivered(ctx context.Context, key string) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[key] = true
	return nil
}

// fakeProvider scripts the upstream gateway. ParseWebhook decodes the same
// JSON shape the service would hand a real provider and rejects the signature
// "bad".
type fakeProvider struct {
	name      string
	initRes   *provider.InitializeResult
	initErr   error
	verifyRes *provider.VerifyResult
	verifyErr error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Initialize(ctx context.Context, req provider.InitializeRequest) (*provider.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	res := *f.initRes
	if res.Reference == "" {
		res.Reference = req.Reference
	}
	return &res, nil
}

func (f *fakeProvider) Verify(ctx context.Context, reference string) (*provider.VerifyResult, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	res := *f.verifyRes
	res.Reference = reference
	return &res, nil
}

func (f *fakeProvider) VerifyHandle(reference string, data map[string]interface{}) string {
	return reference
}

func (f *fakeProvider) ParseWebhook(body []byte, signature string) (*provider.WebhookEvent, error) {
	if signature == "bad" {
		return nil, errors.Mark(errors.New("signature mismatch"), provider.ErrSignatureMismatch)
	}
	var event provider.WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, errors.Mark(err, provider.ErrResponseInvalid)
	}
	return &event, nil
}

func (f *fakeProvider) DescribeError(err error) string { return provider.Describe(err) }

func newTestService(store *fakeStore, pub *fakePublisher, replays *fakeReplays, prov *fakeProvider) *payment.Service {
	return payment.NewService(payment.ServiceConfig{
		DefaultProvider: prov.name,
		DefaultCurrency: "NGN",
		FrontendURL:     "http://localhost:3000",
	}, []provider.Provider{prov}, store, pub, replays, observability.NewLogger("test"))
}

func pendingRegistration(store *fakeStore, reference string) *domain.Registration {
	reg := domain.NewRegistration(uuid.New(), "Ada", "ada@example.com", "", "regular", 1, 19.99, "NGN", domain.MethodPaystack, domain.RequestMeta{})
	reg.PaymentReference = reference
	store.regs[reg.ID] = &reg
	return &reg
}

func TestService_Initialize_Validation(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakePublisher{}, newFakeReplays(), &fakeProvider{name: "paystack"})

	_, err := svc.Initialize(context.Background(), payment.InitializeInput{Amount: 10})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = svc.Initialize(context.Background(), payment.InitializeInput{Email: "a@b.c", Amount: 0})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = svc.Initialize(context.Background(), payment.InitializeInput{Email: "a@b.c", Amount: 10, Method: "square"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestService_Initialize_AttachesHandleOnce(t *testing.T) {
	store := newFakeStore()
	prov := &fakeProvider{
		name:    "paystack",
		initRes: &provider.InitializeResult{AuthorizationURL: "https://checkout/x", AccessCode: "ac_1"},
	}
	svc := newTestService(store, &fakePublisher{}, newFakeReplays(), prov)

	reg := domain.NewRegistration(uuid.New(), "Ada", "ada@example.com", "", "regular", 1, 19.99, "NGN", domain.MethodPaystack, domain.RequestMeta{})
	store.regs[reg.ID] = &reg

	res, err := svc.Initialize(context.Background(), payment.InitializeInput{
		Email:          "ada@example.com",
		Amount:         19.99,
		RegistrationID: reg.ID.String(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Reference)

	stored, err := store.GetByID(context.Background(), reg.ID)
	require.NoError(t, err)
	first := stored.PaymentReference
	assert.NotEmpty(t, first)
	assert.Equal(t, "ac_1", stored.ProviderData["access_code"])

	// A second initialize gets a fresh provider transaction but must not
	// reassign the registration's reference.
	_, err = svc.Initialize(context.Background(), payment.InitializeInput{
		Email:          "ada@example.com",
		Amount:         19.99,
		RegistrationID: reg.ID.String(),
	})
	require.NoError(t, err)

	stored, err = store.GetByID(context.Background(), reg.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored.PaymentReference)
}

func TestService_Initialize_AttachFailureSwallowed(t *testing.T) {
	store := newFakeStore()
	store.attachErr = errors.New("mongo down")
	prov := &fakeProvider{name: "paystack", initRes: &provider.InitializeResult{AuthorizationURL: "https://checkout/x"}}
	svc := newTestService(store, &fakePublisher{}, newFakeReplays(), prov)

	res, err := svc.Initialize(context.Background(), payment.InitializeInput{
		Email:          "ada@example.com",
		Amount:         19.99,
		RegistrationID: uuid.New().String(),
	})
	require.NoError(t, err)
	assert.NotNil(t, res)
}

func TestService_Verify_ConvergesToPaid(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	prov := &fakeProvider{
		name:      "paystack",
		verifyRes: &provider.VerifyResult{Status: "success", AmountMinor: 1999, Currency: "NGN"},
	}
	svc := newTestService(store, pub, newFakeReplays(), prov)
	reg := pendingRegistration(store, "evt_1_abc")

	res, err := svc.Verify(context.Background(), "evt_1_abc")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	stored, _ := store.GetByID(context.Background(), reg.ID)
	assert.Equal(t, domain.StatusPaid, stored.PaymentStatus)
	assert.Equal(t, []string{"payment.paid"}, pub.published())
}

func TestService_Verify_Idempotent(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	prov := &fakeProvider{name: "paystack", verifyRes: &provider.VerifyResult{Status: "success"}}
	svc := newTestService(store, pub, newFakeReplays(), prov)
	pendingRegistration(store, "evt_1_abc")

	_, err := svc.Verify(context.Background(), "evt_1_abc")
	require.NoError(t, err)
	_, err = svc.Verify(context.Background(), "evt_1_abc")
	require.NoError(t, err)

	// The second verification found the status already paid: no second
	// notification.
	assert.Equal(t, []string{"payment.paid"}, pub.published())
}

func TestService_Verify_UnknownReferenceNotAnError(t *testing.T) {
	prov := &fakeProvider{name: "paystack", verifyRes: &provider.VerifyResult{Status: "success"}}
	svc := newTestService(newFakeStore(), &fakePublisher{}, newFakeReplays(), prov)

	res, err := svc.Verify(context.Background(), "evt_unknown")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
}

func TestService_Verify_ProviderFailurePropagates(t *testing.T) {
	prov := &fakeProvider{name: "paystack", verifyErr: errors.Mark(errors.New("down"), provider.ErrUnavailable)}
	svc := newTestService(newFakeStore(), &fakePublisher{}, newFakeReplays(), prov)

	_, err := svc.Verify(context.Background(), "evt_1_abc")
	assert.True(t, errors.Is(err, provider.ErrUnavailable))
}

func webhookBody(t *testing.T, event provider.WebhookEvent) []byte {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return body
}

func TestService_HandleWebhook_AppliesTransition(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(store, pub, newFakeReplays(), &fakeProvider{name: "paystack"})
	reg := pendingRegistration(store, "evt_1_abc")

	body := webhookBody(t, provider.WebhookEvent{Type: "charge.success", Outcome: provider.OutcomeSuccess, Reference: "evt_1_abc", AmountMinor: 1999})
	require.NoError(t, svc.HandleWebhook(context.Background(), "paystack", body, "ok"))

	stored, _ := store.GetByID(context.Background(), reg.ID)
	assert.Equal(t, domain.StatusPaid, stored.PaymentStatus)
	assert.Equal(t, []string{"payment.paid"}, pub.published())
}

func TestService_HandleWebhook_BadSignature(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakePublisher{}, newFakeReplays(), &fakeProvider{name: "paystack"})

	err := svc.HandleWebhook(context.Background(), "paystack", []byte(`{}`), "bad")
	assert.True(t, errors.Is(err, provider.ErrSignatureMismatch))
}

func TestService_HandleWebhook_FailureAfterPaidDoesNotRegress(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(store, pub, newFakeReplays(), &fakeProvider{name: "paystack"})
	reg := pendingRegistration(store, "evt_1_abc")

	success := webhookBody(t, provider.WebhookEvent{Type: "charge.success", Outcome: provider.OutcomeSuccess, Reference: "evt_1_abc"})
	require.NoError(t, svc.HandleWebhook(context.Background(), "paystack", success, "ok"))

	// A delayed failure notification for the same charge must be a no-op.
	failed := webhookBody(t, provider.WebhookEvent{Type: "charge.failed", Outcome: provider.OutcomeFailed, Reference: "evt_1_abc"})
	require.NoError(t, svc.HandleWebhook(context.Background(), "paystack", failed, "ok"))

	stored, _ := store.GetByID(context.Background(), reg.ID)
	assert.Equal(t, domain.StatusPaid, stored.PaymentStatus)
	assert.Equal(t, []string{"payment.paid"}, pub.published())
}

func TestService_HandleWebhook_DuplicateDeliverySuppressed(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	replays := newFakeReplays()
	svc := newTestService(store, pub, replays, &fakeProvider{name: "paystack"})
	pendingRegistration(store, "evt_1_abc")

	body := webhookBody(t, provider.WebhookEvent{Type: "charge.success", Outcome: provider.OutcomeSuccess, Reference: "evt_1_abc"})
	require.NoError(t, svc.HandleWebhook(context.Background(), "paystack", body, "ok"))
	require.NoError(t, svc.HandleWebhook(context.Background(), "paystack", body, "ok"))

	assert.Equal(t, []string{"payment.paid"}, pub.published())
}

func TestService_HandleWebhook_ReplayFilterFailureProcessesAnyway(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	replays := newFakeReplays()
	replays.err = errors.New("redis down")
	svc := newTestService(store, pub, replays, &fakeProvider{name: "paystack"})
	reg := pendingRegistration(store, "evt_1_abc")

	body := webhookBody(t, provider.WebhookEvent{Type: "charge.success", Outcome: provider.OutcomeSuccess, Reference: "evt_1_abc"})
	require.NoError(t, svc.HandleWebhook(context.Background(), "paystack", body, "ok"))

	stored, _ := store.GetByID(context.Background(), reg.ID)
	assert.Equal(t, domain.StatusPaid, stored.PaymentStatus)
}

func TestService_HandleWebhook_IgnoredEventAcknowledged(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(store, pub, newFakeReplays(), &fakeProvider{name: "paystack"})
	reg := pendingRegistration(store, "evt_1_abc")

	body := webhookBody(t, provider.WebhookEvent{Type: "transfer.success", Outcome: provider.OutcomeIgnored, Reference: "evt_1_abc"})
	require.NoError(t, svc.HandleWebhook(context.Background(), "paystack", body, "ok"))

	stored, _ := store.GetByID(context.Background(), reg.ID)
	assert.Equal(t, domain.StatusPending, stored.PaymentStatus)
	assert.Empty(t, pub.published())
}

func TestService_HandleWebhook_UnknownRegistrationAcknowledged(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakePublisher{}, newFakeReplays(), &fakeProvider{name: "paystack"})

	body := webhookBody(t, provider.WebhookEvent{Type: "charge.success", Outcome: provider.OutcomeSuccess, Reference: "evt_stranger"})
	assert.NoError(t, svc.HandleWebhook(context.Background(), "paystack", body, "ok"))
}

func TestService_HandleWebhook_StoreFailureKeepsDeliveryReplayable(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := newTestService(store, pub, newFakeReplays(), &fakeProvider{name: "paystack"})
	reg := pendingRegistration(store, "evt_1_abc")

	body := webhookBody(t, provider.WebhookEvent{Type: "charge.success", Outcome: provider.OutcomeSuccess, Reference: "evt_1_abc"})

	// The store is down for the first delivery: the error must surface so
	// the provider gets a non-200 and redelivers.
	store.transitionErr = errors.New("mongo down")
	err := svc.HandleWebhook(context.Background(), "paystack", body, "ok")
	require.Error(t, err)

	stored, _ := store.GetByID(context.Background(), reg.ID)
	assert.Equal(t, domain.StatusPending, stored.PaymentStatus)

	// The failed delivery must not have been recorded: the redelivery after
	// recovery still converges the registration.
	store.transitionErr = nil
	require.NoError(t, svc.HandleWebhook(context.Background(), "paystack", body, "ok"))

	stored, _ = store.GetByID(context.Background(), reg.ID)
	assert.Equal(t, domain.StatusPaid, stored.PaymentStatus)
	assert.Equal(t, []string{"payment.paid"}, pub.published())
}

func TestService_Verify_StripeUsesStoredSessionHandle(t *testing.T) {
	var requested string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		w.Write([]byte(`{"id":"cs_test_123","payment_status":"paid","amount_total":1999,"currency":"usd","client_reference_id":"evt_1_xyz"}`))
	}))
	defer srv.Close()

	stripe := provider.NewStripe(provider.NewClient(provider.ClientConfig{
		Name:        provider.StripeName,
		BaseURL:     srv.URL,
		Secret:      "sk_test",
		MaxAttempts: 1,
	}, observability.NewLogger("test")), "whsec")

	store := newFakeStore()
	pub := &fakePublisher{}
	svc := payment.NewService(payment.ServiceConfig{
		DefaultProvider: provider.StripeName,
		DefaultCurrency: "USD",
		FrontendURL:     "http://localhost:3000",
	}, []provider.Provider{stripe}, store, pub, newFakeReplays(), observability.NewLogger("test"))

	reg := domain.NewRegistration(uuid.New(), "Ada", "ada@example.com", "", "regular", 1, 19.99, "USD", domain.MethodStripe, domain.RequestMeta{})
	reg.PaymentReference = "evt_1_xyz"
	reg.ProviderData = map[string]interface{}{"session_id": "cs_test_123"}
	store.regs[reg.ID] = &reg

	res, err := svc.Verify(context.Background(), "evt_1_xyz")
	require.NoError(t, err)
	assert.True(t, res.Succeeded())

	// The sessions endpoint only resolves session ids, and the transition
	// is still keyed by our payment reference.
	assert.Equal(t, "/v1/checkout/sessions/cs_test_123", requested)
	stored, _ := store.GetByID(context.Background(), reg.ID)
	assert.Equal(t, domain.StatusPaid, stored.PaymentStatus)
}
