package domain

import "time"

// AssetPair is an ordered (in, out) pair of asset symbols.
type AssetPair struct {
	In  string `json:"in"`
	Out string `json:"out"`
}

func (p AssetPair) String() string {
	return p.In + "/" + p.Out
}

// Quote is one route's answer to "how much Out for AmountIn of In". Quotes
// are produced per request and never persisted.
type Quote struct {
	LedgerID    string
	Pair        AssetPair
	AmountIn    float64
	AmountOut   float64
	Price       float64 // AmountOut / AmountIn
	PriceImpact float64 // fraction, 0.01 = 1%
	RouteID     string
	QuotedAt    time.Time
}

// BestQuote returns the quote with the largest output, or false when quotes
// is empty.
func BestQuote(quotes []Quote) (Quote, bool) {
	if len(quotes) == 0 {
		return Quote{}, false
	}
	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.AmountOut > best.AmountOut {
			best = q
		}
	}
	return best, true
}
