// Package trading implements the order and position lifecycle: opening
// from signals, closing with exit-price resolution, position-based
// reconciliation and symbol/quantity normalization against exchange rules.
package trading

import (
	"math"
	"strconv"
	"strings"
)

// NormalizeSymbol converts a TradingView ticker into a Binance USDT-M
// futures symbol: "BINANCE:BTCUSDT.P" becomes "BTCUSDT".
func NormalizeSymbol(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToUpper(s)
	s = strings.TrimSuffix(s, ".P")
	return s
}

// QuantizeQty floors a quantity to the symbol's LOT_SIZE step. The step
// comes as a decimal string from exchange info ("0.001"); quantities are
// rounded to the step's decimal precision to strip binary noise.
func QuantizeQty(qty float64, step string) float64 {
	stepVal, err := strconv.ParseFloat(step, 64)
	if err != nil || stepVal <= 0 {
		return qty
	}
	steps := math.Floor(qty/stepVal + 1e-9)
	quantized := steps * stepVal

	decimals := stepDecimals(step)
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(quantized, 'f', decimals, 64), 64)
	if err != nil {
		return quantized
	}
	return rounded
}

// stepDecimals counts the significant decimal places of a step string
func stepDecimals(step string) int {
	i := strings.Index(step, ".")
	if i < 0 {
		return 0
	}
	frac := strings.TrimRight(step[i+1:], "0")
	return len(frac)
}
