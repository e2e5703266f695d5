package listing

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/agrimarket/auction-api/internal/notify"
	"github.com/agrimarket/auction-api/internal/types"
	"github.com/agrimarket/auction-api/pkg/response"
)

// ErrBatchUnavailable is returned when the produce batch is missing, already
// listed, or already sold
var ErrBatchUnavailable = errors.New("produce batch is not available for listing")

// Service manages the seller-facing sale lifecycle: listing, browsing and
// cancellation. Price-state mutation belongs to the bidding service and
// timed transitions to the settlement sweeper; this service only ever touches
// the seller-driven edges of the state machine.
type Service struct {
	db       *Database
	notifier notify.Notifier
	nowFn    func() time.Time
}

// NewService creates a new listing service with the given database connection
// and notification sink
func NewService(gormDB *gorm.DB, notifier notify.Notifier) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		notifier: notifier,
		nowFn:    time.Now,
	}
}

// CreateSale lists an available produce batch for auction. The sale starts
// out pending unless the window is already open.
func (s *Service) CreateSale(farmerID string, req types.CreateSaleRequest) (*types.Sale, error) {
	logger := log.With().
		Str("farmer_id", farmerID).
		Str("batch_id", req.BatchID).
		Str("service", "listing").
		Logger()

	now := s.nowFn()

	if req.MinimumPrice <= 0 {
		return nil, response.NewAPIError(http.StatusBadRequest, response.ErrCodeValidationFailed,
			"Minimum price must be positive")
	}
	if !req.AuctionStartDate.Before(req.AuctionEndDate) {
		return nil, response.NewAPIError(http.StatusBadRequest, response.ErrCodeValidationFailed,
			"Auction start date must be before end date")
	}
	if req.AuctionEndDate.Before(now) {
		return nil, response.NewAPIError(http.StatusBadRequest, response.ErrCodeValidationFailed,
			"Auction end date must be in the future")
	}

	batch, err := s.db.GetBatch(req.BatchID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch produce batch")
		return nil, fmt.Errorf("failed to fetch produce batch: %w", err)
	}
	if batch == nil {
		return nil, response.NewAPIError(http.StatusNotFound, response.ErrCodeNotFound,
			"Produce batch not found")
	}
	if batch.FarmerID != farmerID {
		return nil, response.NewAPIError(http.StatusForbidden, response.ErrCodeForbidden,
			"Produce batch belongs to another farmer")
	}

	status := types.SaleStatusPending
	if !now.Before(req.AuctionStartDate) {
		status = types.SaleStatusActive
	}

	sale := &types.Sale{
		SaleID:           uuid.New().String(),
		FarmerID:         farmerID,
		BatchID:          batch.BatchID,
		CropName:         batch.CropName,
		Quantity:         batch.Quantity,
		Unit:             batch.Unit,
		MinimumPrice:     req.MinimumPrice,
		AuctionStartDate: req.AuctionStartDate,
		AuctionEndDate:   req.AuctionEndDate,
		Status:           status,
	}

	if err := s.db.CreateSaleWithBatch(sale); err != nil {
		if errors.Is(err, ErrBatchUnavailable) {
			return nil, response.NewAPIError(http.StatusConflict, response.ErrCodeDuplicateResource,
				"Produce batch is not available for listing")
		}
		logger.Error().Err(err).Msg("failed to create sale")
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}

	logger.Info().
		Str("sale_id", sale.SaleID).
		Str("status", sale.Status).
		Float64("minimum_price", sale.MinimumPrice).
		Msg("sale listed")

	return sale, nil
}

// GetSale retrieves one sale by its ID
func (s *Service) GetSale(saleID string) (*types.Sale, error) {
	sale, err := s.db.GetSale(saleID)
	if err != nil {
		return nil, err
	}
	if sale == nil {
		return nil, response.NewAPIError(http.StatusNotFound, response.ErrCodeNotFound,
			"Listing not found")
	}
	return sale, nil
}

// ListSales lists sales in the given status, soonest-closing first
func (s *Service) ListSales(status string) ([]types.Sale, error) {
	if status == "" {
		status = types.SaleStatusActive
	}
	return s.db.ListSalesByStatus(status)
}

// CancelSale is the seller-driven exit from the state machine. It only
// succeeds from pending or active; terminal states are left untouched.
func (s *Service) CancelSale(farmerID, saleID string) (*types.Sale, error) {
	logger := log.With().
		Str("sale_id", saleID).
		Str("farmer_id", farmerID).
		Str("service", "listing").
		Logger()

	sale, err := s.db.GetSale(saleID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch sale: %w", err)
	}
	if sale == nil {
		return nil, response.NewAPIError(http.StatusNotFound, response.ErrCodeNotFound,
			"Listing not found")
	}
	if sale.FarmerID != farmerID {
		return nil, response.NewAPIError(http.StatusForbidden, response.ErrCodeForbidden,
			"Sale belongs to another farmer")
	}

	cancelled, err := s.db.CancelSale(saleID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to cancel sale")
		return nil, fmt.Errorf("failed to cancel sale: %w", err)
	}
	if !cancelled {
		return nil, response.NewAPIError(http.StatusBadRequest, response.ErrCodeValidationFailed,
			fmt.Sprintf("Sale cannot be cancelled from status %q", sale.Status))
	}

	if err := s.db.ReleaseBatch(sale.BatchID); err != nil {
		logger.Error().Err(err).Str("batch_id", sale.BatchID).Msg("failed to release batch")
	}

	logger.Info().Msg("sale cancelled")

	s.notifier.AuctionEnded(notify.AuctionEndedEvent{
		SaleID:  saleID,
		Outcome: notify.OutcomeCancelled,
	})

	sale.Status = types.SaleStatusCancelled
	return sale, nil
}

// GinHandlers contains HTTP handlers for listing endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for listing endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateSaleHandler handles POST requests to list a produce batch for auction
// Requires a valid JWT token carrying the seller identity
func (h *GinHandlers) CreateSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		farmerID := c.GetString("buyerID")
		if farmerID == "" {
			response.Unauthorized(c, "Missing seller identity")
			return
		}

		var req types.CreateSaleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		sale, err := h.service.CreateSale(farmerID, req)
		response.Handle(c, sale, err)
	}
}

// GetSaleHandler handles GET requests for a single sale
// URL parameter: sale_id
func (h *GinHandlers) GetSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, err := h.service.GetSale(c.Param("sale_id"))
		response.Handle(c, sale, err)
	}
}

// ListSalesHandler handles GET requests to browse sales
// Query parameter: status (defaults to active)
func (h *GinHandlers) ListSalesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sales, err := h.service.ListSales(c.Query("status"))
		response.Handle(c, gin.H{"sales": sales}, err)
	}
}

// CancelSaleHandler handles POST requests to cancel a sale
// Requires a valid JWT token; only the listing farmer may cancel
func (h *GinHandlers) CancelSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		farmerID := c.GetString("buyerID")
		if farmerID == "" {
			response.Unauthorized(c, "Missing seller identity")
			return
		}

		sale, err := h.service.CancelSale(farmerID, c.Param("sale_id"))
		response.Handle(c, sale, err)
	}
}
