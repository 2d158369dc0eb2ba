package scanner

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/ledgerbot/internal/domain"
)

// Publisher receives every DISCOVERED envelope. service.EnvelopeService
// satisfies it.
type Publisher interface {
	Publish(ctx context.Context, env domain.OpportunityEnvelope)
}

// LoopConfig drives periodic scanning of a fixed set of pairs.
type LoopConfig struct {
	Interval    time.Duration
	Pairs       []Request
	AutoExecute bool
	TopN        int
}

// Loop scans the configured pairs on a ticker. When AutoExecute is on the
// best TopN opportunities of each cycle are sent to the queue.
type Loop struct {
	scanner *Scanner
	cfg     LoopConfig
	queue   chan<- domain.Opportunity
	pub     Publisher
	logger  *slog.Logger
}

// NewLoop creates a scan loop. queue may be nil when AutoExecute is off;
// pub may be nil.
func NewLoop(s *Scanner, cfg LoopConfig, queue chan<- domain.Opportunity, pub Publisher, logger *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 1
	}
	return &Loop{
		scanner: s,
		cfg:     cfg,
		queue:   queue,
		pub:     pub,
		logger:  logger.With(slog.String("component", "scan_loop")),
	}
}

// Run blocks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.InfoContext(ctx, "scan loop started",
		slog.Duration("interval", l.cfg.Interval),
		slog.Int("pairs", len(l.cfg.Pairs)),
		slog.Bool("auto_execute", l.cfg.AutoExecute),
	)
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scan loop stopped")
			return nil
		case <-ticker.C:
			l.Cycle(ctx)
		}
	}
}

// Cycle runs one scan of every pair and returns the merged ranking.
func (l *Loop) Cycle(ctx context.Context) []domain.Opportunity {
	opps, err := l.scanner.ScanPairs(ctx, l.cfg.Pairs)
	if err != nil {
		l.logger.ErrorContext(ctx, "scan failed", slog.String("error", err.Error()))
		return nil
	}

	if l.pub != nil {
		now := time.Now().UTC()
		for _, o := range opps {
			l.pub.Publish(ctx, domain.OpportunityEnvelope{Opportunity: o, State: domain.OppDiscovered, EmittedAt: now})
		}
	}
	if len(opps) > 0 {
		l.logger.InfoContext(ctx, "opportunities discovered",
			slog.Int("count", len(opps)),
			slog.String("best", opps[0].Key()),
			slog.Float64("best_profit", opps[0].ExpectedProfit),
		)
	}

	if !l.cfg.AutoExecute || l.queue == nil {
		return opps
	}
	for i := 0; i < len(opps) && i < l.cfg.TopN; i++ {
		select {
		case l.queue <- opps[i]:
		case <-ctx.Done():
			return opps
		default:
			l.logger.WarnContext(ctx, "execution queue full, dropping opportunity",
				slog.String("opportunity_id", opps[i].ID),
			)
		}
	}
	return opps
}
