package engine

import (
	"context"
	"time"

	"bbot/internal/config"
	"bbot/internal/indicator"
	"bbot/internal/metrics"
	"bbot/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PriceFetcher is the slice of the market-data client the scheduler needs.
type PriceFetcher interface {
	GetSymbolPrice(symbol string) (float64, error)
}

// Scheduler drives the engine: on a fixed tick it checks the run switch,
// refreshes indicators per distinct symbol (throttled), fetches prices and
// runs the position state machine for every eligible bot, sequentially.
// Cycles never overlap; a slow cycle delays the next tick's work instead
// of interleaving with it.
type Scheduler struct {
	logger    *zap.Logger
	cfg       config.Engine
	db        *gorm.DB
	client    PriceFetcher
	state     *RunState
	clock     Clock
	sync      *indicator.Service
	processor *Processor
}

// NewScheduler creates a new cycle scheduler.
func NewScheduler(
	logger *zap.Logger,
	cfg config.Engine,
	db *gorm.DB,
	client PriceFetcher,
	state *RunState,
	clock Clock,
	sync *indicator.Service,
	processor *Processor,
) *Scheduler {
	return &Scheduler{
		logger:    logger.Named("scheduler"),
		cfg:       cfg,
		db:        db,
		client:    client,
		state:     state,
		clock:     clock,
		sync:      sync,
		processor: processor,
	}
}

// Run starts the scheduler's main loop and blocks until ctx is cancelled.
// An in-progress cycle always runs to completion; turning the system off
// only prevents the next cycle from doing work.
func (s *Scheduler) Run(ctx context.Context) {
	interval := time.Duration(s.cfg.TickInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Starting engine loop", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping engine loop...")
			return
		case <-ticker.C:
			s.safeCycle()
		}
	}
}

// safeCycle runs one cycle, catching anything unexpected at the cycle
// boundary so the next tick proceeds normally.
func (s *Scheduler) safeCycle() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Cycle panicked", zap.Any("cause", r))
		}
	}()

	if err := s.RunCycle(); err != nil {
		s.logger.Error("Cycle failed", zap.Error(err))
	}
}

// RunCycle executes a single engine cycle. With the run switch off it does
// nothing at all: no trades, no syncs, no price fetches.
func (s *Scheduler) RunCycle() error {
	if !s.state.Running() {
		s.logger.Debug("System not running, skipping cycle")
		return nil
	}

	var bots []models.Bot
	if err := s.db.
		Where("status = ? AND blocked = ?", models.BotStatusOnline, false).
		Find(&bots).Error; err != nil {
		return err
	}

	metrics.EligibleBots.Set(float64(len(bots)))
	if len(bots) == 0 {
		s.logger.Info("No eligible bots (online and unblocked)")
		return nil
	}

	s.logger.Info("Cycle started", zap.Int("eligible_bots", len(bots)))

	s.refreshIndicators(bots)

	for i := range bots {
		bot := &bots[i]
		l := s.logger.With(zap.Uint("bot_id", bot.ID), zap.String("symbol", bot.Symbol))

		price, err := s.client.GetSymbolPrice(bot.Symbol)
		if err != nil {
			// One bot's network failure must not abort the rest of the cycle.
			metrics.PriceFetchErrors.Inc()
			l.Warn("Failed to fetch price, skipping bot this cycle", zap.Error(err))
			continue
		}

		ind, err := indicator.Latest(s.db, bot.Symbol, s.cfg.CandleInterval)
		if err != nil {
			l.Warn("Failed to load latest indicator, proceeding without it", zap.Error(err))
			ind = nil
		}

		l.Debug("Processing bot",
			zap.Float64("price", price),
			zap.Float64("free_balance", bot.FreeBalance),
			zap.Bool("has_open_position", bot.HasOpenPosition))

		if err := s.processor.ProcessBot(bot, price, ind); err != nil {
			l.Error("Failed to process bot", zap.Error(err))
		}
	}

	metrics.CyclesTotal.Inc()
	s.logger.Info("Cycle complete")
	return nil
}

// refreshIndicators syncs indicators for each distinct symbol among the
// eligible bots, skipping symbols synced more recently than the configured
// minimum interval. Only successful syncs advance the throttle timestamp.
func (s *Scheduler) refreshIndicators(bots []models.Bot) {
	minInterval := time.Duration(s.cfg.SyncInterval) * time.Second

	seen := make(map[string]struct{}, len(bots))
	for _, b := range bots {
		if _, ok := seen[b.Symbol]; ok {
			continue
		}
		seen[b.Symbol] = struct{}{}

		now := s.clock.Now()
		if !s.state.ShouldSync(b.Symbol, now, minInterval) {
			continue
		}

		inserted, err := s.sync.Sync(b.Symbol, s.cfg.CandleInterval, s.cfg.CandleLimit)
		if err != nil {
			s.logger.Warn("Indicator sync failed, will retry next eligible cycle",
				zap.String("symbol", b.Symbol),
				zap.Error(err))
			continue
		}

		s.state.MarkSynced(b.Symbol, now)
		s.logger.Debug("Indicators refreshed",
			zap.String("symbol", b.Symbol),
			zap.Int("inserted", inserted))
	}
}
