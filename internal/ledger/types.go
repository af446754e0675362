package ledger

import "time"

// UnitKind says how a provider's consumption is measured and priced.
type UnitKind string

const (
	// DurationMinutes: cost = minutes * RatePerMinute.
	DurationMinutes UnitKind = "duration_minutes"
	// TokensFreeTier: a monthly allowance of free tokens, then RatePerThousand.
	TokensFreeTier UnitKind = "tokens_free_tier"
	// TokensInputOutput: separate per-1K rates for input and output tokens.
	TokensInputOutput UnitKind = "tokens_input_output"
)

// Pricing is the rule for one provider. Only the fields for Kind are used.
type Pricing struct {
	Kind              UnitKind `json:"kind" validate:"required,oneof=duration_minutes tokens_free_tier tokens_input_output"`
	RatePerMinute     float64  `json:"ratePerMinute,omitempty" validate:"gte=0"`
	FreeTierLimit     int64    `json:"freeTierLimit,omitempty" validate:"gte=0"`
	RatePerThousand   float64  `json:"ratePerThousand,omitempty" validate:"gte=0"`
	InputPerThousand  float64  `json:"inputPerThousand,omitempty" validate:"gte=0"`
	OutputPerThousand float64  `json:"outputPerThousand,omitempty" validate:"gte=0"`
}

// DefaultPricing returns the rate card for the built-in providers.
func DefaultPricing() map[string]Pricing {
	return map[string]Pricing{
		"gemini":     {Kind: TokensFreeTier, FreeTierLimit: 1_000_000, RatePerThousand: 0.00025},
		"groq":       {Kind: DurationMinutes, RatePerMinute: 0.00185},
		"openai":     {Kind: DurationMinutes, RatePerMinute: 0.006},
		"google":     {Kind: DurationMinutes, RatePerMinute: 0.016},
		"whispercpp": {Kind: DurationMinutes, RatePerMinute: 0},
		"claude":     {Kind: TokensInputOutput, InputPerThousand: 0.003, OutputPerThousand: 0.015},
	}
}

// Usage is the raw consumption a provider reports for one call.
// Units is minutes for DurationMinutes and tokens for TokensFreeTier.
type Usage struct {
	Kind        UnitKind `json:"kind"`
	Units       float64  `json:"units"`
	InputUnits  int64    `json:"inputUnits,omitempty"`
	OutputUnits int64    `json:"outputUnits,omitempty"`
}

// Minutes builds a duration usage from seconds.
func Minutes(seconds float64) Usage {
	return Usage{Kind: DurationMinutes, Units: seconds / 60}
}

// Tokens builds a free-tier token usage.
func Tokens(n int64) Usage {
	return Usage{Kind: TokensFreeTier, Units: float64(n)}
}

// InputOutput builds an input/output token usage.
func InputOutput(in, out int64) Usage {
	return Usage{Kind: TokensInputOutput, InputUnits: in, OutputUnits: out, Units: float64(in + out)}
}

// Transaction is one immutable ledger entry.
type Transaction struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Provider       string            `json:"api"`
	Kind           UnitKind          `json:"kind"`
	Units          float64           `json:"units"`
	InputUnits     int64             `json:"inputUnits,omitempty"`
	OutputUnits    int64             `json:"outputUnits,omitempty"`
	Cost           float64           `json:"cost"`
	WithinFreeTier bool              `json:"withinFreeTier"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Day is the daily bucket key (UTC).
func (t Transaction) Day() string { return t.Timestamp.UTC().Format(DayLayout) }

// Month is the monthly bucket key (UTC).
func (t Transaction) Month() string { return t.Timestamp.UTC().Format(MonthLayout) }

// Bucket layouts.
const (
	DayLayout   = "2006-01-02"
	MonthLayout = "2006-01"
)

// ProviderCounters aggregates usage per provider.
type ProviderCounters struct {
	Calls        int64   `json:"calls"`
	Minutes      float64 `json:"audioMinutes"`
	Tokens       int64   `json:"tokens"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	Cost         float64 `json:"cost"`
}

// FreeTierStatus reports this month's allowance for a free-tier provider.
type FreeTierStatus struct {
	Limit      int64   `json:"limit"`
	Used       int64   `json:"used"`
	Remaining  int64   `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

// DayCost is one point of the weekly series.
type DayCost struct {
	Day  string  `json:"date"`
	Cost float64 `json:"cost"`
}

// Stats is a read-only summary of the ledger.
type Stats struct {
	Today        float64                     `json:"today"`
	ThisMonth    float64                     `json:"thisMonth"`
	Total        float64                     `json:"total"`
	Providers    map[string]ProviderCounters `json:"apiUsage"`
	FreeTier     map[string]FreeTierStatus   `json:"freeTier"`
	Recent       []Transaction               `json:"recentTransactions"`
	Transactions int                         `json:"transactionCount"`
}
