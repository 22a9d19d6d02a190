package http

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mongoadapter "github.com/whitebl3ck/event-payments/internal/adapters/mongo"
	"github.com/whitebl3ck/event-payments/internal/config"
	"github.com/whitebl3ck/event-payments/internal/domain"
	"github.com/whitebl3ck/event-payments/internal/observability"
	"github.com/whitebl3ck/event-payments/internal/payment"
	"github.com/whitebl3ck/event-payments/internal/provider"
)

// EventCatalog is the read-only event lookup the registration intake needs
// for ticket-price validation.
type EventCatalog interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*mongoadapter.EventDoc, error)
}

type Handlers struct {
	cfg     *config.Config
	svc     *payment.Service
	store   payment.RegistrationStore
	catalog EventCatalog
	logger  observability.Logger
}

func NewHandlers(cfg *config.Config, svc *payment.Service, store payment.RegistrationStore, catalog EventCatalog, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:     cfg,
		svc:     svc,
		store:   store,
		catalog: catalog,
		logger:  logger,
	}
}

// apiResponse is the envelope on every JSON endpoint, failure paths included.
type apiResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func (h *Handlers) InitializePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email          string  `json:"email"`
		Amount         float64 `json:"amount"`
		Currency       string  `json:"currency"`
		EventName      string  `json:"eventName"`
		CustomerName   string  `json:"customerName"`
		RegistrationID string  `json:"registrationId"`
		PaymentMethod  string  `json:"paymentMethod"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "Invalid request body"})
		return
	}

	res, err := h.svc.Initialize(r.Context(), payment.InitializeInput{
		Email:          req.Email,
		Amount:         req.Amount,
		Currency:       req.Currency,
		EventName:      req.EventName,
		CustomerName:   req.CustomerName,
		RegistrationID: req.RegistrationID,
		Method:         req.PaymentMethod,
	})
	if err != nil {
		h.writePaymentError(w, err, "Failed to initialize transaction")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status:  true,
		Message: "Transaction initialized successfully",
		Data:    res,
	})
}

func (h *Handlers) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	res, err := h.svc.Verify(r.Context(), reference)
	if err != nil {
		h.writePaymentError(w, err, "Transaction verification failed")
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status:  true,
		Message: "Transaction verification successful",
		Data:    res,
	})
}

// writePaymentError maps the service error taxonomy onto the response
// envelope. Provider unavailability never leaks the raw cause unless the
// service runs in diagnostic mode.
func (h *Handlers) writePaymentError(w http.ResponseWriter, err error, declineFallback string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: err.Error()})
	case errors.Is(err, provider.ErrDeclined):
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: provider.DeclineMessage(err, declineFallback)})
	default:
		resp := apiResponse{Status: false, Message: provider.Describe(err)}
		if h.cfg.Diagnostic() {
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	providerName := chi.URLParam(r, "provider")
	if providerName == "" {
		providerName = h.cfg.DefaultProvider
	}

	// The signature covers the exact raw bytes; the body must not be
	// decoded and re-serialized before verification.
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
		return
	}

	err = h.svc.HandleWebhook(r.Context(), providerName, body, r.Header.Get(signatureHeader(providerName)))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	case errors.Is(err, provider.ErrSignatureMismatch):
		http.Error(w, "Invalid signature", http.StatusBadRequest)
	case errors.Is(err, domain.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.WithError(err).Error("webhook processing failed")
		http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
	}
}

func signatureHeader(providerName string) string {
	if providerName == provider.StripeName {
		return provider.StripeSignatureHeader
	}
	return provider.PaystackSignatureHeader
}

func (h *Handlers) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	reg, err := h.svc.Status(r.Context(), reference)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, apiResponse{Status: false, Message: "Registration not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Status: false, Message: "Internal server error"})
		return
	}

	eventName := ""
	if event, err := h.catalog.GetEvent(r.Context(), reg.EventID); err == nil {
		eventName = event.Name
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Status: true,
		Data: map[string]interface{}{
			"paymentStatus":  reg.PaymentStatus,
			"paymentMethod":  reg.PaymentMethod,
			"reference":      reg.PaymentReference,
			"amount":         reg.TotalAmount,
			"currency":       reg.Currency,
			"eventName":      eventName,
			"customerName":   reg.CustomerName,
			"ticketType":     reg.TicketType,
			"ticketQuantity": reg.TicketQuantity,
		},
	})
}

// amountTolerance absorbs floating-point drift between the client's computed
// total and price x quantity.
const amountTolerance = 0.01

func (h *Handlers) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID        string             `json:"event_id"`
		CustomerName   string             `json:"customer_name"`
		CustomerEmail  string             `json:"customer_email"`
		CustomerPhone  string             `json:"customer_phone"`
		TicketType     string             `json:"ticket_type"`
		TicketQuantity int                `json:"ticket_quantity"`
		TotalAmount    float64            `json:"total_amount"`
		Currency       string             `json:"currency"`
		PaymentMethod  string             `json:"payment_method"`
		Metadata       domain.RequestMeta `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "Invalid request body"})
		return
	}

	if req.CustomerName == "" || req.CustomerEmail == "" || req.TicketType == "" || req.TicketQuantity < 1 {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "Missing required registration fields"})
		return
	}

	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "Invalid event id"})
		return
	}

	method := req.PaymentMethod
	if method == "" {
		method = h.cfg.DefaultProvider
	}
	if !domain.ValidMethod(method) {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "Invalid payment method"})
		return
	}

	event, err := h.catalog.GetEvent(r.Context(), eventID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, apiResponse{Status: false, Message: "Event not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Status: false, Message: "Internal server error"})
		return
	}

	pkg, ok := event.Package(req.TicketType)
	if !ok {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "Invalid ticket type"})
		return
	}

	expected := pkg.Price * float64(req.TicketQuantity)
	if math.Abs(req.TotalAmount-expected) > amountTolerance {
		writeJSON(w, http.StatusBadRequest, apiResponse{
			Status:  false,
			Message: "Total amount does not match ticket price",
			Data:    map[string]float64{"expected": expected, "received": req.TotalAmount},
		})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = h.cfg.DefaultCurrency
	}

	meta := req.Metadata
	meta.UserAgent = r.UserAgent()
	meta.IPAddress = r.RemoteAddr
	meta.Referrer = r.Referer()

	reg := domain.NewRegistration(eventID, req.CustomerName, req.CustomerEmail, req.CustomerPhone,
		req.TicketType, req.TicketQuantity, req.TotalAmount, currency, method, meta)

	if err := h.store.Create(r.Context(), &reg); err != nil {
		h.logger.WithError(err).Error("failed to create registration")
		writeJSON(w, http.StatusInternalServerError, apiResponse{Status: false, Message: "Failed to create registration"})
		return
	}

	writeJSON(w, http.StatusCreated, apiResponse{Status: true, Data: reg})
}

func (h *Handlers) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Status: false, Message: "Invalid registration id"})
		return
	}

	reg, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, apiResponse{Status: false, Message: "Registration not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, apiResponse{Status: false, Message: "Internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{Status: true, Data: reg})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
