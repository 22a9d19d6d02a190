package payment

import "github.com/shopspring/decimal"

// MinorUnits converts a major-currency amount to the provider's integer
// minor-unit representation (x100). Rounds half away from zero, so 10.005
// becomes 1001. The conversion goes through decimal, not float64
// multiplication.
func MinorUnits(amount float64) int64 {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
