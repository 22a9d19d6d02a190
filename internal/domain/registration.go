package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment methods accepted at registration time.
const (
	MethodPaystack     = "paystack"
	MethodStripe       = "stripe"
	MethodManual       = "manual"
	MethodBankTransfer = "bank_transfer"
)

func ValidMethod(m string) bool {
	switch m {
	case MethodPaystack, MethodStripe, MethodManual, MethodBankTransfer:
		return true
	}
	return false
}

// RequestMeta is free-form request context captured at registration time,
// kept for audit only.
type RequestMeta struct {
	UserAgent string `bson:"user_agent,omitempty" json:"user_agent,omitempty"`
	IPAddress string `bson:"ip_address,omitempty" json:"ip_address,omitempty"`
	Referrer  string `bson:"referrer,omitempty" json:"referrer,omitempty"`
	Device    string `bson:"device_type,omitempty" json:"device_type,omitempty"`
}

// Registration is one attendee-event pairing. PaymentReference is write-once:
// assigned when the first provider transaction is initialized and used as the
// join key for verification and webhook lookups from then on.
type Registration struct {
	ID             uuid.UUID     `bson:"_id" json:"id"`
	EventID        uuid.UUID     `bson:"event_id" json:"event_id"`
	CustomerName   string        `bson:"customer_name" json:"customer_name"`
	CustomerEmail  string        `bson:"customer_email" json:"customer_email"`
	CustomerPhone  string        `bson:"customer_phone" json:"customer_phone"`
	TicketType     string        `bson:"ticket_type" json:"ticket_type"`
	TicketQuantity int           `bson:"ticket_quantity" json:"ticket_quantity"`
	TotalAmount    float64       `bson:"total_amount" json:"total_amount"`
	Currency       string        `bson:"currency" json:"currency"`
	PaymentStatus  PaymentStatus `bson:"payment_status" json:"payment_status"`
	PaymentMethod  string        `bson:"payment_method" json:"payment_method"`

	// PaymentReference is absent until a transaction is initialized;
	// the store keeps a sparse unique index on it.
	PaymentReference string `bson:"payment_reference,omitempty" json:"payment_reference,omitempty"`

	// ProviderData mirrors the provider's handle for the transaction
	// (checkout URL, access code, authorization details). Audit only,
	// never consulted for correctness.
	ProviderData map[string]interface{} `bson:"provider_data,omitempty" json:"provider_data,omitempty"`

	Metadata   RequestMeta `bson:"metadata,omitempty" json:"metadata,omitempty"`
	AdminNotes string      `bson:"admin_notes,omitempty" json:"admin_notes,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewRegistration builds a pending registration. Free events bypass payment
// and are paid immediately.
func NewRegistration(eventID uuid.UUID, name, email, phone, ticketType string, quantity int, total float64, currency, method string, meta RequestMeta) Registration {
	status := StatusPending
	if total == 0 {
		status = StatusPaid
	}
	now := time.Now().UTC()
	return Registration{
		ID:             uuid.New(),
		EventID:        eventID,
		CustomerName:   name,
		CustomerEmail:  email,
		CustomerPhone:  phone,
		TicketType:     ticketType,
		TicketQuantity: quantity,
		TotalAmount:    total,
		Currency:       currency,
		PaymentStatus:  status,
		PaymentMethod:  method,
		Metadata:       meta,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
