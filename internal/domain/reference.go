package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const referencePrefix = "evt"

// NewPaymentReference generates a correlation id for a payment attempt,
// distinct from the provider's own transaction id. Best-effort uniqueness:
// millisecond timestamp plus nine characters of random suffix.
func NewPaymentReference() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", referencePrefix, time.Now().UnixMilli(), suffix)
}
