package bidding

import (
	"fmt"
	"math"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/agrimarket/auction-api/internal/notify"
	"github.com/agrimarket/auction-api/internal/types"
	"github.com/agrimarket/auction-api/pkg/response"
)

// DefaultMinIncrement is the fixed amount a bid must exceed the current
// highest bid by, in currency units
const DefaultMinIncrement = 50.0

// Service accepts bids against live sales and serves the bid ledger
type Service struct {
	db           *Database
	notifier     notify.Notifier
	minIncrement float64
	nowFn        func() time.Time
}

// NewService creates a new bidding service with the given database connection
// and notification sink
func NewService(gormDB *gorm.DB, notifier notify.Notifier) *Service {
	return &Service{
		db:           NewDatabase(gormDB),
		notifier:     notifier,
		minIncrement: DefaultMinIncrement,
		nowFn:        time.Now,
	}
}

// PlaceBid validates and commits a bid for buyerID against saleID.
//
// Validation happens against a point-in-time read of the sale, but the commit
// itself is a conditional update whose precondition re-checks the price and
// status in storage. The result of that update, not the earlier read, decides
// whether this bid won its price slot; a zero-row update means a concurrent
// bidder got there first and the caller gets an OUTBID rejection carrying the
// fresh highest bid.
func (s *Service) PlaceBid(saleID, buyerID, buyerName string, amount float64) (*types.PlaceBidResponse, error) {
	logger := log.With().
		Str("sale_id", saleID).
		Str("buyer_id", buyerID).
		Float64("amount", amount).
		Str("service", "bidding").
		Logger()

	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, errInvalidAmount()
	}

	sale, err := s.db.GetSale(saleID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch sale")
		return nil, fmt.Errorf("failed to fetch sale: %w", err)
	}
	if sale == nil {
		return nil, errSaleNotFound()
	}

	// Temporal checks run against the wall clock, not the stored status, so
	// a bid after the end date is rejected even before the sweeper has run
	now := s.nowFn()
	if now.Before(sale.AuctionStartDate) {
		return nil, errNotStarted()
	}
	if now.After(sale.AuctionEndDate) {
		return nil, errAuctionEnded()
	}
	if sale.Status != types.SaleStatusActive {
		return nil, errNotActive()
	}

	// The first bid only has to meet the floor; later bids must beat the
	// current highest by the fixed increment
	minValidBid := sale.MinimumPrice
	if sale.TotalBids > 0 {
		minValidBid = sale.CurrentHighestBid + s.minIncrement
	}
	if amount < minValidBid {
		return nil, errBidTooLow(minValidBid, sale.CurrentHighestBid)
	}

	committed, err := s.db.CommitHighestBid(saleID, buyerID, amount)
	if err != nil {
		logger.Error().Err(err).Msg("failed to commit bid")
		return nil, fmt.Errorf("failed to commit bid: %w", err)
	}
	if !committed {
		// Someone else beat this bid concurrently; report the latest price
		currentHighest := sale.CurrentHighestBid
		if fresh, err := s.db.GetSale(saleID); err == nil && fresh != nil {
			currentHighest = fresh.CurrentHighestBid
		}
		logger.Info().Float64("current_highest", currentHighest).Msg("bid lost the race")
		return nil, errOutbid(currentHighest)
	}

	// The bid record is appended only after the sale update succeeded
	bid := &types.Bid{
		BidID:     uuid.New().String(),
		SaleID:    saleID,
		BuyerID:   buyerID,
		BuyerName: buyerName,
		Amount:    amount,
		Status:    types.BidStatusActive,
		CreatedAt: now,
	}
	if err := s.db.CreateBid(bid); err != nil {
		logger.Error().Err(err).Str("bid_id", bid.BidID).Msg("failed to record bid")
		return nil, fmt.Errorf("failed to record bid: %w", err)
	}

	// Re-read for the running total; the committed amount itself is already
	// known to be ours
	totalBids := sale.TotalBids + 1
	if fresh, err := s.db.GetSale(saleID); err == nil && fresh != nil {
		totalBids = fresh.TotalBids
	}

	logger.Info().
		Str("bid_id", bid.BidID).
		Int64("total_bids", totalBids).
		Msg("bid placed")

	s.notifier.NewBid(notify.NewBidEvent{
		SaleID: saleID,
		Bid: notify.BidInfo{
			BidID:     bid.BidID,
			Amount:    bid.Amount,
			BuyerID:   buyerID,
			BuyerName: buyerName,
			CreatedAt: bid.CreatedAt,
		},
		CurrentHighestBid: amount,
		HighestBidder:     buyerID,
		TotalBids:         totalBids,
	})

	return &types.PlaceBidResponse{
		BidID:          bid.BidID,
		SaleID:         saleID,
		CurrentHighest: amount,
		TotalBids:      totalBids,
		Timestamp:      now,
	}, nil
}

// GetBidsForSale lists the ledger for one sale, highest bid first
func (s *Service) GetBidsForSale(saleID string) ([]types.Bid, error) {
	return s.db.GetBidsForSale(saleID)
}

// GetBidsForBuyer lists a buyer's own bids, newest first
func (s *Service) GetBidsForBuyer(buyerID string) ([]types.Bid, error) {
	return s.db.GetBidsForBuyer(buyerID)
}

// GinHandlers contains HTTP handlers for bidding endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for bidding endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// PlaceBidHandler handles POST requests to place a bid
// Requires a valid JWT token carrying the buyer identity
func (h *GinHandlers) PlaceBidHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		buyerID := c.GetString("buyerID")
		if buyerID == "" {
			response.Unauthorized(c, "Missing buyer identity")
			return
		}
		buyerName := c.GetString("buyerName")

		var req types.PlaceBidRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.PlaceBid(req.SaleID, buyerID, buyerName, req.Amount)
		response.Handle(c, result, err)
	}
}

// GetBidsForSaleHandler handles GET requests for a sale's bid ledger
// URL parameter: sale_id
func (h *GinHandlers) GetBidsForSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		saleID := c.Param("sale_id")
		if saleID == "" {
			response.BadRequest(c, "Sale ID is required")
			return
		}

		bids, err := h.service.GetBidsForSale(saleID)
		response.Handle(c, gin.H{"bids": bids}, err)
	}
}

// GetMyBidsHandler handles GET requests for the caller's own bids
// Requires a valid JWT token
func (h *GinHandlers) GetMyBidsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		buyerID := c.GetString("buyerID")
		if buyerID == "" {
			response.Unauthorized(c, "Missing buyer identity")
			return
		}

		bids, err := h.service.GetBidsForBuyer(buyerID)
		response.Handle(c, gin.H{"bids": bids}, err)
	}
}
