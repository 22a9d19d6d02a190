package provider

import "context"

// Outcome is the normalized meaning of a webhook event type. Unknown event
// types map to OutcomeIgnored and are acknowledged without action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeIgnored Outcome = "ignored"
)

// Metadata is descriptive context attached to a charge for the provider's
// dashboard and receipts.
type Metadata struct {
	EventName      string
	CustomerName   string
	RegistrationID string
}

type InitializeRequest struct {
	Email       string
	AmountMinor int64
	Currency    string
	Reference   string
	CallbackURL string
	Meta        Metadata
}

// InitializeResult is the provider's handle for a newly created transaction:
// where to send the payer and how to find the transaction later.
type InitializeResult struct {
	Reference        string                 `json:"reference"`
	AuthorizationURL string                 `json:"authorization_url"`
	AccessCode       string                 `json:"access_code"`
	Raw              map[string]interface{} `json:"-"`
}

// VerifyResult is a read-only mirror of the provider's authoritative
// transaction state.
type VerifyResult struct {
	Reference       string                 `json:"reference"`
	Status          string                 `json:"status"`
	AmountMinor     int64                  `json:"amount"`
	Currency        string                 `json:"currency"`
	Channel         string                 `json:"channel,omitempty"`
	GatewayResponse string                 `json:"gateway_response,omitempty"`
	PaidAt          string                 `json:"paid_at,omitempty"`
	Fees            int64                  `json:"fees,omitempty"`
	Raw             map[string]interface{} `json:"-"`
}

func (v *VerifyResult) Succeeded() bool {
	return v.Status == "success"
}

type WebhookEvent struct {
	Type        string
	Outcome     Outcome
	Reference   string
	AmountMinor int64
	Currency    string
}

// Provider abstracts one upstream payment gateway. Implementations share the
// retrying Client for all outbound calls and verify webhook signatures over
// the exact raw request body.
type Provider interface {
	Name() string
	Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error)
	Verify(ctx context.Context, handle string) (*VerifyResult, error)
	// VerifyHandle picks the identifier Verify expects for a transaction,
	// given our payment reference and the provider data recorded at
	// initialize. Providers that address transactions by their own id
	// return it from data; the rest return the reference unchanged.
	VerifyHandle(reference string, data map[string]interface{}) string
	ParseWebhook(body []byte, signature string) (*WebhookEvent, error)
	DescribeError(err error) string
}
