package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
)

const (
	PaystackName = "paystack"

	// Signature header on inbound webhooks: hex HMAC-SHA512 of the raw body.
	PaystackSignatureHeader = "X-Paystack-Signature"
)

type Paystack struct {
	client        *Client
	webhookSecret string
}

func NewPaystack(client *Client, webhookSecret string) *Paystack {
	return &Paystack{client: client, webhookSecret: webhookSecret}
}

func (p *Paystack) Name() string {
	return PaystackName
}

// paystackEnvelope is the logical response wrapper on every Paystack call.
type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *Paystack) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"email":     req.Email,
		"amount":    req.AmountMinor,
		"currency":  req.Currency,
		"reference": req.Reference,
		"metadata": map[string]interface{}{
			"eventName":      req.Meta.EventName,
			"customerName":   req.Meta.CustomerName,
			"registrationId": req.Meta.RegistrationID,
			"custom_fields": []map[string]string{
				{"display_name": "Event Name", "variable_name": "event_name", "value": req.Meta.EventName},
				{"display_name": "Customer Name", "variable_name": "customer_name", "value": req.Meta.CustomerName},
			},
		},
		"callback_url": req.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	var env paystackEnvelope
	if _, err := p.client.Do(ctx, http.MethodPost, "/transaction/initialize", "application/json", body, &env); err != nil {
		return nil, err
	}
	if !env.Status || len(env.Data) == 0 {
		return nil, declined(PaystackName, env.Message)
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.Mark(err, ErrResponseInvalid)
	}
	raw := map[string]interface{}{}
	_ = json.Unmarshal(env.Data, &raw)

	return &InitializeResult{
		Reference:        data.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Raw:              raw,
	}, nil
}

// VerifyHandle is the payment reference itself: Paystack verifies by the
// reference we generated at initialize.
func (p *Paystack) VerifyHandle(reference string, data map[string]interface{}) string {
	return reference
}

func (p *Paystack) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var env paystackEnvelope
	if _, err := p.client.Do(ctx, http.MethodGet, "/transaction/verify/"+reference, "", nil, &env); err != nil {
		return nil, err
	}
	if !env.Status || len(env.Data) == 0 {
		return nil, declined(PaystackName, env.Message)
	}

	var data struct {
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		Channel         string `json:"channel"`
		GatewayResponse string `json:"gateway_response"`
		PaidAt          string `json:"paid_at"`
		Fees            int64  `json:"fees"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.Mark(err, ErrResponseInvalid)
	}
	raw := map[string]interface{}{}
	_ = json.Unmarshal(env.Data, &raw)

	return &VerifyResult{
		Reference:       data.Reference,
		Status:          data.Status,
		AmountMinor:     data.Amount,
		Currency:        data.Currency,
		Channel:         data.Channel,
		GatewayResponse: data.GatewayResponse,
		PaidAt:          data.PaidAt,
		Fees:            data.Fees,
		Raw:             raw,
	}, nil
}

// ParseWebhook verifies the HMAC-SHA512 signature over the exact raw body
// and normalizes the event. The body must not be re-serialized before
// hashing; key reordering would break the signature.
func (p *Paystack) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	mac := hmac.New(sha512.New, []byte(p.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, errors.Mark(errors.New("paystack webhook signature mismatch"), ErrSignatureMismatch)
	}

	var payload struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
			Amount    int64  `json:"amount"`
			Currency  string `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Mark(err, ErrResponseInvalid)
	}

	event := &WebhookEvent{
		Type:        payload.Event,
		Reference:   payload.Data.Reference,
		AmountMinor: payload.Data.Amount,
		Currency:    payload.Data.Currency,
	}
	switch payload.Event {
	case "charge.success":
		event.Outcome = OutcomeSuccess
	case "charge.failed":
		event.Outcome = OutcomeFailed
	default:
		event.Outcome = OutcomeIgnored
	}
	return event, nil
}

func (p *Paystack) DescribeError(err error) string {
	return Describe(err)
}
