package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/agrimarket/auction-api/internal/notify"
	"github.com/agrimarket/auction-api/internal/types"
)

// DefaultSweepInterval is how often the sweeper checks auction windows
const DefaultSweepInterval = time.Minute

// MarketLocation tags best-effort price observations with the mandi they
// were settled at
const MarketLocation = "Varanasi"

// Sweeper drives the auction state machine on a timer: it activates pending
// sales whose window has opened and settles active sales whose window has
// closed. Every transition is a conditional update keyed on the
// pre-transition status, so a crashed or duplicated sweep converges instead
// of double-settling.
type Sweeper struct {
	db       *Database
	notifier notify.Notifier
	interval time.Duration

	// Injected so tests can advance a virtual clock and fail the analytics
	// side effect on demand
	nowFn       func() time.Time
	recordPrice func(*types.MarketPrice) error
}

// NewSweeper creates a sweeper over the given database connection and
// notification sink
func NewSweeper(gormDB *gorm.DB, notifier notify.Notifier, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	db := NewDatabase(gormDB)
	return &Sweeper{
		db:          db,
		notifier:    notifier,
		interval:    interval,
		nowFn:       time.Now,
		recordPrice: db.RecordMarketPrice,
	}
}

// Start begins the sweep loop and blocks until the context is cancelled
func (s *Sweeper) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_sweeper").Logger()
	logger.Info().Dur("interval", s.interval).Msg("starting settlement sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement sweeper")
			return
		case <-ticker.C:
			if err := s.Sweep(); err != nil {
				logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// Sweep runs one activation pass and one closing pass. A failure on one sale
// is logged and never blocks the rest of the batch.
func (s *Sweeper) Sweep() error {
	logger := log.With().Str("component", "settlement_sweeper").Logger()
	now := s.nowFn()

	activated, err := s.db.ActivatePendingSales(now)
	if err != nil {
		return fmt.Errorf("activation pass failed: %w", err)
	}
	if activated > 0 {
		logger.Info().Int64("activated", activated).Msg("opened pending auctions")
	}

	expired, err := s.db.GetExpiredActiveSales(now)
	if err != nil {
		return fmt.Errorf("closing pass failed: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	logger.Info().Int("expired_count", len(expired)).Msg("processing expired auctions")

	for _, sale := range expired {
		saleLogger := logger.With().Str("sale_id", sale.SaleID).Logger()
		if err := s.closeSale(saleLogger, &sale, now); err != nil {
			saleLogger.Error().Err(err).Msg("failed to settle sale")
			continue
		}
	}

	return nil
}

func (s *Sweeper) closeSale(logger zerolog.Logger, sale *types.Sale, now time.Time) error {
	if sale.TotalBids > 0 {
		return s.settleSold(logger, sale, now)
	}
	return s.settleUnsold(logger, sale)
}

// settleSold declares the highest bidder the winner. The sweeper never
// arbitrates between bids: the price state it reads was already serialized
// by the bidding path's conditional commits.
func (s *Sweeper) settleSold(logger zerolog.Logger, sale *types.Sale, now time.Time) error {
	settled, err := s.db.MarkSaleSold(sale.SaleID, sale.HighestBidder, sale.CurrentHighestBid, now)
	if err != nil {
		return fmt.Errorf("failed to mark sale sold: %w", err)
	}
	if !settled {
		// Another sweep got here first
		return nil
	}

	if err := s.db.MarkBidsLost(sale.SaleID); err != nil {
		return fmt.Errorf("failed to mark losing bids: %w", err)
	}
	if err := s.db.MarkWinningBid(sale.SaleID, sale.HighestBidder, sale.CurrentHighestBid); err != nil {
		return fmt.Errorf("failed to mark winning bid: %w", err)
	}

	if err := s.db.MarkBatchSold(sale.BatchID); err != nil {
		return fmt.Errorf("failed to update produce batch: %w", err)
	}

	// Analytics observation is best-effort: its failure must never roll back
	// or block the settlement
	if err := s.recordPrice(&types.MarketPrice{
		Crop:     sale.CropName,
		Date:     now,
		Price:    sale.CurrentHighestBid,
		Location: MarketLocation,
		Unit:     sale.Unit,
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to record market price observation")
	}

	logger.Info().
		Str("sold_to", sale.HighestBidder).
		Float64("final_price", sale.CurrentHighestBid).
		Int64("total_bids", sale.TotalBids).
		Msg("sale settled as sold")

	s.notifier.AuctionEnded(notify.AuctionEndedEvent{
		SaleID:     sale.SaleID,
		Outcome:    notify.OutcomeSold,
		Winner:     sale.HighestBidder,
		FinalPrice: sale.CurrentHighestBid,
	})

	return nil
}

// settleUnsold closes a bidless auction and releases the produce batch so it
// can be relisted
func (s *Sweeper) settleUnsold(logger zerolog.Logger, sale *types.Sale) error {
	settled, err := s.db.MarkSaleUnsold(sale.SaleID)
	if err != nil {
		return fmt.Errorf("failed to mark sale unsold: %w", err)
	}
	if !settled {
		return nil
	}

	if err := s.db.ReleaseBatch(sale.BatchID); err != nil {
		return fmt.Errorf("failed to release produce batch: %w", err)
	}

	logger.Info().Msg("sale settled as unsold, batch released")

	s.notifier.AuctionEnded(notify.AuctionEndedEvent{
		SaleID:  sale.SaleID,
		Outcome: notify.OutcomeUnsold,
	})

	return nil
}
