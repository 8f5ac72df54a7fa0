package orders

// OrderKind represents the purpose of an order in a position lifecycle
type OrderKind string

const (
	// KindEntry marks a signal-driven entry order
	KindEntry OrderKind = "E"

	// KindExit marks a signal-driven exit (flatten or reduce)
	KindExit OrderKind = "X"

	// KindStop marks a close triggered by the trailing stop worker
	KindStop OrderKind = "S"

	// KindManual marks an operator-initiated close
	KindManual OrderKind = "M"

	// KindPortfolio marks a close triggered by the portfolio trailing stop
	KindPortfolio OrderKind = "P"
)

// AllOrderKinds returns all valid order kinds
func AllOrderKinds() []OrderKind {
	return []OrderKind{KindEntry, KindExit, KindStop, KindManual, KindPortfolio}
}

// KindFromString converts a string to an OrderKind
func KindFromString(s string) OrderKind {
	switch s {
	case "E", "X", "S", "M", "P":
		return OrderKind(s)
	default:
		return KindEntry
	}
}
