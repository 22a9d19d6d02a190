package domain

// PaymentStatus is the reconciled payment state of a registration. All three
// arrival paths (verification, webhook, admin patch) write through
// CanTransition, never unconditionally.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPaid      PaymentStatus = "paid"
	StatusFailed    PaymentStatus = "failed"
	StatusCancelled PaymentStatus = "cancelled"
	StatusRefunded  PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether s accepts no further writes except those listed in
// transitions. A delayed charge.failed webhook arriving after a success must
// not flip a paid registration back.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case StatusFailed, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

var transitions = map[PaymentStatus][]PaymentStatus{
	StatusPaid:      {StatusPending},
	StatusFailed:    {StatusPending},
	StatusCancelled: {StatusPending},
	StatusRefunded:  {StatusPaid},
}

// AllowedFrom returns the set of current statuses from which a write to
// target is permitted. The store uses this as a compare-and-set filter so
// concurrent, out-of-order deliveries stay safe without in-process locking.
func AllowedFrom(target PaymentStatus) []PaymentStatus {
	return transitions[target]
}

// CanTransition reports whether a write from -> to is permitted. A write to
// the current value is a no-op, not an error.
func CanTransition(from, to PaymentStatus) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[to] {
		if allowed == from {
			return true
		}
	}
	return false
}
