package service

import "strings"

// inrRates is the fixed conversion table applied to extracted amounts
var inrRates = map[string]float64{
	"INR": 1,
	"USD": 83,
	"EUR": 90,
	"GBP": 105,
	"AED": 22.6,
	"SGD": 62,
	"JPY": 0.56,
}

// ToINR converts an amount to rupees. An empty currency means the amount is
// already in INR. Unknown currencies return false.
func ToINR(amount float64, currency string) (float64, bool) {
	code := strings.ToUpper(strings.TrimSpace(currency))
	if code == "" {
		return amount, true
	}
	rate, ok := inrRates[code]
	if !ok {
		return 0, false
	}
	return roundPaise(amount * rate), true
}

func roundPaise(v float64) float64 {
	if v < 0 {
		return -roundPaise(-v)
	}
	return float64(int64(v*100+0.5)) / 100
}
