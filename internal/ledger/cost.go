package ledger

import "fmt"

// Price computes the cost of one usage under rule p.
// usedThisMonth only matters for TokensFreeTier: it is the provider's token
// total already recorded in the current month. The second return value
// reports whether the call stayed entirely inside the free allowance.
func Price(p Pricing, u Usage, usedThisMonth int64) (float64, bool, error) {
	switch u.Kind {
	case DurationMinutes:
		if u.Units < 0 {
			return 0, false, fmt.Errorf("ledger: negative minutes %v", u.Units)
		}
		return u.Units * p.RatePerMinute, false, nil

	case TokensFreeTier:
		if u.Units < 0 {
			return 0, false, fmt.Errorf("ledger: negative tokens %v", u.Units)
		}
		// The whole month's overage is billed on every call past the limit.
		excess := usedThisMonth + int64(u.Units) - p.FreeTierLimit
		if excess <= 0 {
			return 0, true, nil
		}
		return float64(excess) / 1000 * p.RatePerThousand, false, nil

	case TokensInputOutput:
		if u.InputUnits < 0 || u.OutputUnits < 0 {
			return 0, false, fmt.Errorf("ledger: negative token counts in=%d out=%d", u.InputUnits, u.OutputUnits)
		}
		cost := float64(u.InputUnits)/1000*p.InputPerThousand + float64(u.OutputUnits)/1000*p.OutputPerThousand
		return cost, false, nil

	default:
		return 0, false, fmt.Errorf("ledger: unknown unit kind %q", u.Kind)
	}
}

// microdollars converts USD to integer micro-USD for counters.
func microdollars(usd float64) int64 {
	return int64(usd*1_000_000 + 0.5)
}
