// Package scanner discovers arbitrage opportunities by querying every active
// connector concurrently and ranking the candidates.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// ConnectorSource supplies the connectors to scan. *registry.Registry
// satisfies it.
type ConnectorSource interface {
	ListActive() []domain.Connector
}

// Request is one scan input.
type Request struct {
	AssetIn  string  `json:"asset_in"`
	AssetOut string  `json:"asset_out"`
	Amount   float64 `json:"amount"`
}

func (r Request) validate() error {
	if r.Amount <= 0 || math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) {
		return fmt.Errorf("scanner: %s/%s amount %v: %w", r.AssetIn, r.AssetOut, r.Amount, domain.ErrInvalidAmount)
	}
	if r.AssetIn == "" || r.AssetOut == "" {
		return fmt.Errorf("scanner: empty asset in request: %w", domain.ErrValidation)
	}
	return nil
}

// Scanner produces ranked opportunities. It holds no per-scan state.
type Scanner struct {
	src    ConnectorSource
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Scanner.
func New(src ConnectorSource, cfg Config, logger *slog.Logger) *Scanner {
	return &Scanner{
		src:    src,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "scanner")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ledgerScan is everything learned from one connector during a scan.
type ledgerScan struct {
	conn   domain.Connector
	direct []domain.Quote
	opps   []domain.Opportunity
}

// Scan runs direct, multi-hop and cross-ledger discovery for req. Connector
// failures are logged and contribute nothing; only an invalid request is an
// error.
func (s *Scanner) Scan(ctx context.Context, req Request) ([]domain.Opportunity, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	active := s.src.ListActive()
	scans := make([]ledgerScan, len(active))

	var g errgroup.Group
	for i, conn := range active {
		scans[i].conn = conn
		g.Go(func() error {
			s.scanLedger(ctx, req, &scans[i])
			return nil
		})
	}
	_ = g.Wait()

	var opps []domain.Opportunity
	for _, ls := range scans {
		opps = append(opps, ls.opps...)
	}
	opps = append(opps, s.scanCrossLedger(ctx, req, scans)...)

	ranked := Rank(opps)
	s.logger.DebugContext(ctx, "scan complete",
		slog.String("pair", req.AssetIn+"/"+req.AssetOut),
		slog.Int("ledgers", len(active)),
		slog.Int("opportunities", len(ranked)),
	)
	return ranked, nil
}

// ScanPairs scans every request and merges the rankings. All requests are
// validated before any connector is queried.
func (s *Scanner) ScanPairs(ctx context.Context, reqs []Request) ([]domain.Opportunity, error) {
	for _, r := range reqs {
		if err := r.validate(); err != nil {
			return nil, err
		}
	}
	var all []domain.Opportunity
	for _, r := range reqs {
		opps, err := s.Scan(ctx, r)
		if err != nil {
			return nil, err
		}
		all = append(all, opps...)
	}
	return Rank(all), nil
}

// quote calls one connector under QuoteTimeout. Failures are logged and
// reported as no quotes.
func (s *Scanner) quote(ctx context.Context, conn domain.Connector, in, out string, amount float64) []domain.Quote {
	if s.cfg.QuoteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.QuoteTimeout)
		defer cancel()
	}
	quotes, err := conn.Quote(ctx, in, out, amount)
	if err != nil {
		s.logger.WarnContext(ctx, "quote failed",
			slog.String("ledger", conn.LedgerID()),
			slog.String("pair", in+"/"+out),
			slog.String("error", err.Error()),
		)
		return nil
	}
	valid := quotes[:0:0]
	for _, q := range quotes {
		if q.AmountOut > 0 && q.AmountIn > 0 {
			valid = append(valid, q)
		}
	}
	return valid
}

func (s *Scanner) scanLedger(ctx context.Context, req Request, ls *ledgerScan) {
	if req.AssetIn != req.AssetOut {
		ls.direct = s.quote(ctx, ls.conn, req.AssetIn, req.AssetOut, req.Amount)
		ls.opps = append(ls.opps, s.directCandidates(req, ls.conn.Config(), ls.direct)...)
	}
	ls.opps = append(ls.opps, s.multiHopCandidates(ctx, req, ls)...)
}

// directCandidates compares every pair of routes on one ledger. The plan
// buys on the richer route and sells back on the cheaper one.
func (s *Scanner) directCandidates(req Request, lc domain.LedgerConfig, quotes []domain.Quote) []domain.Opportunity {
	threshold := s.cfg.directThreshold(lc)
	var out []domain.Opportunity
	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			lo, hi := quotes[i], quotes[j]
			if lo.Price > hi.Price {
				lo, hi = hi, lo
			}
			spread := (hi.Price - lo.Price) / lo.Price
			if spread <= threshold {
				continue
			}

			now := s.now()
			bought := req.Amount * hi.Price
			final := bought / lo.Price
			impact := math.Max(hi.PriceImpact, lo.PriceImpact)
			out = append(out, domain.Opportunity{
				ID:                uuid.NewString(),
				Path:              []string{req.AssetIn, req.AssetOut, req.AssetIn},
				OriginLedger:      lc.ID,
				AmountIn:          req.Amount,
				ExpectedAmountOut: final,
				ExpectedProfit:    req.Amount * spread * s.cfg.DirectEfficiency,
				Confidence:        s.confidence(lc.Category, s.cfg.DirectConfidenceFactor, impact),
				Strategy:          domain.StrategyDirect,
				Deadline:          now.Add(s.cfg.DirectTTL),
				CreatedAt:         now,
				Route: domain.RouteData{Legs: []domain.RouteLeg{
					{LedgerID: lc.ID, RouteID: hi.RouteID, AssetIn: req.AssetIn, AssetOut: req.AssetOut, AmountIn: req.Amount, ExpectedOut: bought},
					{LedgerID: lc.ID, RouteID: lo.RouteID, AssetIn: req.AssetOut, AssetOut: req.AssetIn, AmountIn: bought, ExpectedOut: final},
				}},
			})
		}
	}
	return out
}

// intermediates returns the ledger's native asset followed by the stable
// assets, excluding the request's own assets.
func (s *Scanner) intermediates(req Request, lc domain.LedgerConfig) []string {
	seen := map[string]bool{req.AssetIn: true, req.AssetOut: true}
	var out []string
	for _, a := range append([]string{lc.NativeAsset}, s.cfg.StableAssets...) {
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// multiHopCandidates chains the best A->I and I->B quotes. The reference is
// the input amount for a round trip, otherwise the best direct output.
func (s *Scanner) multiHopCandidates(ctx context.Context, req Request, ls *ledgerScan) []domain.Opportunity {
	lc := ls.conn.Config()
	reference := req.Amount
	if req.AssetIn != req.AssetOut {
		best, ok := domain.BestQuote(ls.direct)
		if !ok {
			return nil
		}
		reference = best.AmountOut
	}

	var out []domain.Opportunity
	for _, mid := range s.intermediates(req, lc) {
		first, ok := domain.BestQuote(s.quote(ctx, ls.conn, req.AssetIn, mid, req.Amount))
		if !ok {
			continue
		}
		second, ok := domain.BestQuote(s.quote(ctx, ls.conn, mid, req.AssetOut, first.AmountOut))
		if !ok {
			continue
		}
		gain := (second.AmountOut - reference) / reference
		if gain <= s.cfg.MultiHopThreshold {
			continue
		}

		now := s.now()
		out = append(out, domain.Opportunity{
			ID:                uuid.NewString(),
			Path:              []string{req.AssetIn, mid, req.AssetOut},
			OriginLedger:      lc.ID,
			AmountIn:          req.Amount,
			ExpectedAmountOut: second.AmountOut,
			ExpectedProfit:    req.Amount * gain * s.cfg.MultiHopEfficiency,
			Confidence:        s.confidence(lc.Category, s.cfg.MultiHopConfidenceFactor, first.PriceImpact+second.PriceImpact),
			Strategy:          domain.StrategyMultiHop,
			Deadline:          now.Add(s.cfg.MultiHopTTL),
			CreatedAt:         now,
			Route: domain.RouteData{Legs: []domain.RouteLeg{
				{LedgerID: lc.ID, RouteID: first.RouteID, AssetIn: req.AssetIn, AssetOut: mid, AmountIn: req.Amount, ExpectedOut: first.AmountOut},
				{LedgerID: lc.ID, RouteID: second.RouteID, AssetIn: mid, AssetOut: req.AssetOut, AmountIn: first.AmountOut, ExpectedOut: second.AmountOut},
			}},
		})
	}
	return out
}

// scanCrossLedger evaluates each bridge route that moves the request's
// output asset between two active ledgers: buy on the origin, bridge, sell
// back on the destination.
func (s *Scanner) scanCrossLedger(ctx context.Context, req Request, scans []ledgerScan) []domain.Opportunity {
	if req.AssetIn == req.AssetOut || len(s.cfg.Bridges) == 0 {
		return nil
	}
	byID := make(map[string]*ledgerScan, len(scans))
	for i := range scans {
		byID[scans[i].conn.LedgerID()] = &scans[i]
	}

	type job struct {
		route  domain.BridgeRoute
		origin *ledgerScan
		dest   *ledgerScan
		buy    domain.Quote
	}
	var jobs []job
	for _, br := range s.cfg.Bridges {
		if br.Asset != req.AssetOut {
			continue
		}
		origin, dest := byID[br.Origin], byID[br.Dest]
		if origin == nil || dest == nil {
			continue
		}
		buy, ok := domain.BestQuote(origin.direct)
		if !ok {
			continue
		}
		jobs = append(jobs, job{route: br, origin: origin, dest: dest, buy: buy})
	}

	results := make([]*domain.Opportunity, len(jobs))
	var g errgroup.Group
	for i, j := range jobs {
		g.Go(func() error {
			results[i] = s.crossCandidate(ctx, req, j.route, j.origin.conn, j.dest.conn, j.buy)
			return nil
		})
	}
	_ = g.Wait()

	var out []domain.Opportunity
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (s *Scanner) crossCandidate(ctx context.Context, req Request, br domain.BridgeRoute, origin, dest domain.Connector, buy domain.Quote) *domain.Opportunity {
	bridged := buy.AmountOut * (1 - br.FeeRate)
	destAsset := br.DestinationAsset()
	sell, ok := domain.BestQuote(s.quote(ctx, dest, destAsset, req.AssetIn, bridged))
	if !ok {
		return nil
	}

	// Prices of the bridged asset in units of the input asset.
	pOrigin := req.Amount / buy.AmountOut
	pDest := sell.AmountOut / bridged
	gap := (pDest - pOrigin) / pOrigin
	if gap <= br.FeeRate+s.cfg.crossMargin() {
		return nil
	}

	oc, dc := origin.Config(), dest.Config()
	base := math.Min(s.cfg.baseConfidence(oc.Category), s.cfg.baseConfidence(dc.Category))
	conf := clamp01(base*s.cfg.CrossConfidenceFactor - buy.PriceImpact - sell.PriceImpact)

	path := []string{req.AssetIn, req.AssetOut}
	if destAsset != req.AssetOut {
		path = append(path, destAsset)
	}
	path = append(path, req.AssetIn)

	route := br
	now := s.now()
	return &domain.Opportunity{
		ID:                uuid.NewString(),
		Path:              path,
		OriginLedger:      oc.ID,
		DestLedger:        dc.ID,
		AmountIn:          req.Amount,
		ExpectedAmountOut: sell.AmountOut,
		ExpectedProfit:    req.Amount * (gap - br.FeeRate) * s.cfg.CrossEfficiency,
		Confidence:        conf,
		Strategy:          domain.StrategyCrossLedger,
		Deadline:          now.Add(s.cfg.CrossTTL),
		CreatedAt:         now,
		Route: domain.RouteData{
			Legs: []domain.RouteLeg{
				{LedgerID: oc.ID, RouteID: buy.RouteID, AssetIn: req.AssetIn, AssetOut: req.AssetOut, AmountIn: req.Amount, ExpectedOut: buy.AmountOut},
			},
			Bridge: &route,
			DestLegs: []domain.RouteLeg{
				{LedgerID: dc.ID, RouteID: sell.RouteID, AssetIn: destAsset, AssetOut: req.AssetIn, AmountIn: bridged, ExpectedOut: sell.AmountOut},
			},
		},
	}
}

func (s *Scanner) confidence(cat domain.LedgerCategory, factor, impact float64) float64 {
	return clamp01(s.cfg.baseConfidence(cat)*factor - impact)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
