package ledger

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestPrice(t *testing.T) {
	gemini := Pricing{Kind: TokensFreeTier, FreeTierLimit: 1_000_000, RatePerThousand: 0.00025}
	openai := Pricing{Kind: DurationMinutes, RatePerMinute: 0.006}
	claude := Pricing{Kind: TokensInputOutput, InputPerThousand: 0.003, OutputPerThousand: 0.015}

	tests := []struct {
		name     string
		rule     Pricing
		usage    Usage
		used     int64
		wantCost float64
		wantFree bool
	}{
		{"minutes", openai, Minutes(90), 0, 0.009, false},
		{"zero minutes", openai, Minutes(0), 0, 0, false},
		{"tokens well inside allowance", gemini, Tokens(500), 0, 0, true},
		{"tokens exactly at limit", gemini, Tokens(100), 999_900, 0, true},
		{"tokens crossing limit", gemini, Tokens(100), 999_950, 50.0 / 1000 * 0.00025, false},
		{"tokens past limit", gemini, Tokens(2000), 1_500_000, 502.0 * 0.00025, false},
		{"input output", claude, InputOutput(1000, 2000), 0, 0.003 + 0.030, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, free, err := Price(tt.rule, tt.usage, tt.used)
			if err != nil {
				t.Fatalf("Price failed: %v", err)
			}
			if !approx(cost, tt.wantCost) {
				t.Errorf("cost = %v, want %v", cost, tt.wantCost)
			}
			if free != tt.wantFree {
				t.Errorf("withinFreeTier = %v, want %v", free, tt.wantFree)
			}
		})
	}
}

func TestPriceRejectsBadUsage(t *testing.T) {
	rule := Pricing{Kind: DurationMinutes, RatePerMinute: 0.006}

	if _, _, err := Price(rule, Usage{Kind: DurationMinutes, Units: -1}, 0); err == nil {
		t.Error("expected error for negative minutes")
	}
	if _, _, err := Price(rule, Usage{Kind: "furlongs", Units: 1}, 0); err == nil {
		t.Error("expected error for unknown unit kind")
	}
}

func TestFreeTierNeverChargesInsideAllowance(t *testing.T) {
	rule := Pricing{Kind: TokensFreeTier, FreeTierLimit: 10_000, RatePerThousand: 1}

	var used int64
	for used+700 <= rule.FreeTierLimit {
		cost, free, err := Price(rule, Tokens(700), used)
		if err != nil {
			t.Fatalf("Price failed: %v", err)
		}
		if cost != 0 || !free {
			t.Fatalf("used=%d: cost=%v free=%v, want 0/true", used, cost, free)
		}
		used += 700
	}
}
