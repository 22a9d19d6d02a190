package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	StripeName = "stripe"

	// Signature header on inbound webhooks: "t=<unix>,v1=<hex>" where v1 is
	// HMAC-SHA256 of "<t>.<raw body>".
	StripeSignatureHeader = "Stripe-Signature"
)

type Stripe struct {
	client        *Client
	webhookSecret string
}

func NewStripe(client *Client, webhookSecret string) *Stripe {
	return &Stripe{client: client, webhookSecret: webhookSecret}
}

func (s *Stripe) Name() string {
	return StripeName
}

type stripeSession struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	PaymentStatus     string `json:"payment_status"`
	AmountTotal       int64  `json:"amount_total"`
	Currency          string `json:"currency"`
	ClientReferenceID string `json:"client_reference_id"`
	Error             *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Initialize opens a checkout session. Stripe addresses the session by its
// own id afterwards, so the returned AccessCode doubles as the verify handle.
func (s *Stripe) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer_email", req.Email)
	form.Set("client_reference_id", req.Reference)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(req.AmountMinor, 10))
	form.Set("line_items[0][price_data][product_data][name]", req.Meta.EventName)
	// The callback must be able to tell which transaction to verify:
	// Stripe substitutes the session id into the template placeholder.
	form.Set("success_url", req.CallbackURL+"?reference="+url.QueryEscape(req.Reference)+"&session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", req.CallbackURL+"?reference="+url.QueryEscape(req.Reference)+"&cancelled=true")

	var session stripeSession
	status, err := s.client.Do(ctx, http.MethodPost, "/v1/checkout/sessions", "application/x-www-form-urlencoded", []byte(form.Encode()), &session)
	if err != nil {
		return nil, err
	}
	if status >= 400 || session.ID == "" {
		msg := "failed to create checkout session"
		if session.Error != nil {
			msg = session.Error.Message
		}
		return nil, declined(StripeName, msg)
	}

	return &InitializeResult{
		Reference:        req.Reference,
		AuthorizationURL: session.URL,
		AccessCode:       session.ID,
		Raw: map[string]interface{}{
			"session_id": session.ID,
			"url":        session.URL,
		},
	}, nil
}

// VerifyHandle returns the session id recorded at initialize; the sessions
// endpoint does not resolve our payment reference.
func (s *Stripe) VerifyHandle(reference string, data map[string]interface{}) string {
	if id, ok := data["session_id"].(string); ok && id != "" {
		return id
	}
	return reference
}

// Verify retrieves a checkout session by its session id.
func (s *Stripe) Verify(ctx context.Context, handle string) (*VerifyResult, error) {
	var session stripeSession
	status, err := s.client.Do(ctx, http.MethodGet, "/v1/checkout/sessions/"+handle, "", nil, &session)
	if err != nil {
		return nil, err
	}
	if status >= 400 || session.ID == "" {
		msg := "checkout session not found"
		if session.Error != nil {
			msg = session.Error.Message
		}
		return nil, declined(StripeName, msg)
	}

	verified := &VerifyResult{
		Reference:   session.ClientReferenceID,
		Status:      session.PaymentStatus,
		AmountMinor: session.AmountTotal,
		Currency:    strings.ToUpper(session.Currency),
		Raw: map[string]interface{}{
			"session_id":     session.ID,
			"payment_status": session.PaymentStatus,
		},
	}
	if session.PaymentStatus == "paid" {
		verified.Status = "success"
	}
	return verified, nil
}

func (s *Stripe) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	timestamp, received, ok := parseStripeSignature(signature)
	if !ok {
		return nil, errors.Mark(errors.New("stripe webhook signature malformed"), ErrSignatureMismatch)
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return nil, errors.Mark(errors.New("stripe webhook signature mismatch"), ErrSignatureMismatch)
	}

	var payload struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ClientReferenceID string `json:"client_reference_id"`
				AmountTotal       int64  `json:"amount_total"`
				Currency          string `json:"currency"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Mark(err, ErrResponseInvalid)
	}

	event := &WebhookEvent{
		Type:        payload.Type,
		Reference:   payload.Data.Object.ClientReferenceID,
		AmountMinor: payload.Data.Object.AmountTotal,
		Currency:    strings.ToUpper(payload.Data.Object.Currency),
	}
	switch payload.Type {
	case "checkout.session.completed":
		event.Outcome = OutcomeSuccess
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		event.Outcome = OutcomeFailed
	default:
		event.Outcome = OutcomeIgnored
	}
	return event, nil
}

func parseStripeSignature(header string) (timestamp, v1 string, ok bool) {
	for _, part := range strings.Split(header, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			v1 = v
		}
	}
	return timestamp, v1, timestamp != "" && v1 != ""
}

func (s *Stripe) DescribeError(err error) string {
	return Describe(err)
}
