package ledger

import "time"

// ExportedTransaction is a transaction in the api-costs-data.json layout.
type ExportedTransaction struct {
	ID        string            `json:"id"`
	Timestamp string            `json:"timestamp"`
	API       string            `json:"api"`
	Service   string            `json:"service"`
	Cost      float64           `json:"cost"`
	Currency  string            `json:"currency"`
	Usage     Usage             `json:"usage"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Export is the whole ledger as a single JSON document.
type Export struct {
	GeneratedAt  string                      `json:"generatedAt"`
	TotalCost    float64                     `json:"totalCost"`
	DailyCosts   map[string]float64          `json:"dailyCosts"`
	MonthlyCosts map[string]float64          `json:"monthlyCosts"`
	APIUsage     map[string]ProviderCounters `json:"apiUsage"`
	FreeTier     map[string]FreeTierStatus   `json:"freeTier"`
	Transactions []ExportedTransaction       `json:"transactions"`
}

// Export copies the ledger into the export document.
func (l *Ledger) Export() Export {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	out := Export{
		GeneratedAt:  now.Format(time.RFC3339),
		TotalCost:    l.total,
		DailyCosts:   make(map[string]float64, len(l.daily)),
		MonthlyCosts: make(map[string]float64, len(l.monthly)),
		APIUsage:     make(map[string]ProviderCounters, len(l.providers)),
		FreeTier:     l.freeTierLocked(now.Format(MonthLayout)),
		Transactions: make([]ExportedTransaction, 0, len(l.txs)),
	}
	for k, v := range l.daily {
		out.DailyCosts[k] = v
	}
	for k, v := range l.monthly {
		out.MonthlyCosts[k] = v
	}
	for k, v := range l.providers {
		out.APIUsage[k] = *v
	}
	for _, tx := range l.txs {
		out.Transactions = append(out.Transactions, ExportedTransaction{
			ID:        tx.ID,
			Timestamp: tx.Timestamp.Format(time.RFC3339Nano),
			API:       tx.Provider,
			Service:   serviceFor(tx.Kind),
			Cost:      tx.Cost,
			Currency:  "USD",
			Usage:     Usage{Kind: tx.Kind, Units: tx.Units, InputUnits: tx.InputUnits, OutputUnits: tx.OutputUnits},
			Metadata:  tx.Metadata,
		})
	}
	return out
}

func serviceFor(kind UnitKind) string {
	switch kind {
	case DurationMinutes, TokensFreeTier:
		return "transcription"
	case TokensInputOutput:
		return "classification"
	default:
		return "unknown"
	}
}
