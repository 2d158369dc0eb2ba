package domain

import "time"

// ChainMetrics are the per-ledger execution counters.
type ChainMetrics struct {
	LedgerID         string        `json:"ledger_id"`
	Total            int64         `json:"total"`
	Successful       int64         `json:"successful"`
	CumulativeProfit float64       `json:"cumulative_profit"`
	CumulativeFee    float64       `json:"cumulative_fee"`
	AvgExecutionTime time.Duration `json:"avg_execution_time"`
	LastExecution    time.Time     `json:"last_execution"`
}

// SuccessRate returns Successful/Total, or 0 when nothing ran.
func (m ChainMetrics) SuccessRate() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Successful) / float64(m.Total)
}

// MetricsSnapshot is the periodic export consumed by observability tooling.
type MetricsSnapshot struct {
	TakenAt     time.Time      `json:"taken_at"`
	Ledgers     []ChainMetrics `json:"ledgers"`
	Network     []LedgerStatus `json:"network"`
	HealthScore float64        `json:"health_score"`
}
