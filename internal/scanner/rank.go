package scanner

import (
	"sort"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Rank deduplicates by Opportunity.Key, keeping the more profitable entry,
// and orders by profit desc, confidence desc, deadline asc, key asc. It is
// pure: the same input always yields the same output.
func Rank(opps []domain.Opportunity) []domain.Opportunity {
	best := make(map[string]int, len(opps))
	out := make([]domain.Opportunity, 0, len(opps))
	for _, o := range opps {
		k := o.Key()
		if i, ok := best[k]; ok {
			if less(o, out[i]) {
				out[i] = o
			}
			continue
		}
		best[k] = len(out)
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// less reports whether a ranks ahead of b.
func less(a, b domain.Opportunity) bool {
	if a.ExpectedProfit != b.ExpectedProfit {
		return a.ExpectedProfit > b.ExpectedProfit
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if !a.Deadline.Equal(b.Deadline) {
		return a.Deadline.Before(b.Deadline)
	}
	return a.Key() < b.Key()
}
