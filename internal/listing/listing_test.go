package listing

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/agrimarket/auction-api/internal/database"
	"github.com/agrimarket/auction-api/internal/notify"
	"github.com/agrimarket/auction-api/internal/types"
	"github.com/agrimarket/auction-api/pkg/response"
)

type recordingNotifier struct {
	mu    sync.Mutex
	ended []notify.AuctionEndedEvent
}

func (r *recordingNotifier) NewBid(notify.NewBidEvent) {}

func (r *recordingNotifier) AuctionEnded(e notify.AuctionEndedEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = append(r.ended, e)
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *gorm.DB, *recordingNotifier) {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "auction.db"))
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	svc := NewService(db, notifier)
	svc.nowFn = func() time.Time { return testNow }
	return svc, db, notifier
}

func seedBatch(t *testing.T, db *gorm.DB, farmerID, status string) *types.ProduceBatch {
	t.Helper()
	batch := &types.ProduceBatch{
		BatchID:  uuid.New().String(),
		FarmerID: farmerID,
		CropName: "rice",
		Quantity: 5,
		Unit:     "quintal",
		Status:   status,
	}
	require.NoError(t, db.Create(batch).Error)
	return batch
}

func validRequest(batchID string) types.CreateSaleRequest {
	return types.CreateSaleRequest{
		BatchID:          batchID,
		MinimumPrice:     800,
		AuctionStartDate: testNow.Add(time.Hour),
		AuctionEndDate:   testNow.Add(25 * time.Hour),
	}
}

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *response.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, code, apiErr.Code)
}

func TestCreateSale(t *testing.T) {
	svc, db, _ := newTestService(t)
	batch := seedBatch(t, db, "farmer-1", types.BatchStatusAvailable)

	sale, err := svc.CreateSale("farmer-1", validRequest(batch.BatchID))
	require.NoError(t, err)

	assert.Equal(t, types.SaleStatusPending, sale.Status)
	assert.Equal(t, "rice", sale.CropName)
	assert.Equal(t, 800.0, sale.MinimumPrice)

	var fresh types.ProduceBatch
	require.NoError(t, db.Where("batch_id = ?", batch.BatchID).First(&fresh).Error)
	assert.Equal(t, types.BatchStatusListed, fresh.Status)
}

func TestCreateSaleOpenWindowStartsActive(t *testing.T) {
	svc, db, _ := newTestService(t)
	batch := seedBatch(t, db, "farmer-1", types.BatchStatusAvailable)

	req := validRequest(batch.BatchID)
	req.AuctionStartDate = testNow.Add(-time.Minute)

	sale, err := svc.CreateSale("farmer-1", req)
	require.NoError(t, err)
	assert.Equal(t, types.SaleStatusActive, sale.Status)
}

func TestCreateSaleValidation(t *testing.T) {
	svc, db, _ := newTestService(t)
	batch := seedBatch(t, db, "farmer-1", types.BatchStatusAvailable)

	t.Run("non-positive price", func(t *testing.T) {
		req := validRequest(batch.BatchID)
		req.MinimumPrice = 0
		_, err := svc.CreateSale("farmer-1", req)
		requireAPIError(t, err, response.ErrCodeValidationFailed)
	})

	t.Run("inverted window", func(t *testing.T) {
		req := validRequest(batch.BatchID)
		req.AuctionStartDate, req.AuctionEndDate = req.AuctionEndDate, req.AuctionStartDate
		_, err := svc.CreateSale("farmer-1", req)
		requireAPIError(t, err, response.ErrCodeValidationFailed)
	})

	t.Run("window already closed", func(t *testing.T) {
		req := validRequest(batch.BatchID)
		req.AuctionStartDate = testNow.Add(-2 * time.Hour)
		req.AuctionEndDate = testNow.Add(-time.Hour)
		_, err := svc.CreateSale("farmer-1", req)
		requireAPIError(t, err, response.ErrCodeValidationFailed)
	})

	t.Run("someone else's batch", func(t *testing.T) {
		_, err := svc.CreateSale("farmer-2", validRequest(batch.BatchID))
		requireAPIError(t, err, response.ErrCodeForbidden)
	})

	t.Run("unknown batch", func(t *testing.T) {
		_, err := svc.CreateSale("farmer-1", validRequest("no-such-batch"))
		requireAPIError(t, err, response.ErrCodeNotFound)
	})
}

func TestCreateSaleBatchAlreadyListed(t *testing.T) {
	svc, db, _ := newTestService(t)
	batch := seedBatch(t, db, "farmer-1", types.BatchStatusListed)

	_, err := svc.CreateSale("farmer-1", validRequest(batch.BatchID))
	requireAPIError(t, err, response.ErrCodeDuplicateResource)
}

func TestCancelSale(t *testing.T) {
	svc, db, notifier := newTestService(t)
	batch := seedBatch(t, db, "farmer-1", types.BatchStatusAvailable)

	req := validRequest(batch.BatchID)
	req.AuctionStartDate = testNow.Add(-time.Minute)
	sale, err := svc.CreateSale("farmer-1", req)
	require.NoError(t, err)

	t.Run("wrong farmer", func(t *testing.T) {
		_, err := svc.CancelSale("farmer-2", sale.SaleID)
		requireAPIError(t, err, response.ErrCodeForbidden)
	})

	t.Run("owner cancels", func(t *testing.T) {
		cancelled, err := svc.CancelSale("farmer-1", sale.SaleID)
		require.NoError(t, err)
		assert.Equal(t, types.SaleStatusCancelled, cancelled.Status)

		var fresh types.ProduceBatch
		require.NoError(t, db.Where("batch_id = ?", batch.BatchID).First(&fresh).Error)
		assert.Equal(t, types.BatchStatusAvailable, fresh.Status)

		require.Len(t, notifier.ended, 1)
		assert.Equal(t, notify.OutcomeCancelled, notifier.ended[0].Outcome)
	})

	t.Run("already terminal", func(t *testing.T) {
		_, err := svc.CancelSale("farmer-1", sale.SaleID)
		requireAPIError(t, err, response.ErrCodeValidationFailed)
	})
}

func TestListSalesDefaultsToActive(t *testing.T) {
	svc, db, _ := newTestService(t)

	for _, status := range []string{types.SaleStatusActive, types.SaleStatusPending, types.SaleStatusSold} {
		sale := &types.Sale{
			SaleID:           uuid.New().String(),
			FarmerID:         "farmer-1",
			BatchID:          uuid.New().String(),
			CropName:         "rice",
			MinimumPrice:     800,
			Status:           status,
			AuctionStartDate: testNow.Add(-time.Hour),
			AuctionEndDate:   testNow.Add(time.Hour),
		}
		require.NoError(t, db.Create(sale).Error)
	}

	active, err := svc.ListSales("")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, types.SaleStatusActive, active[0].Status)

	pending, err := svc.ListSales(types.SaleStatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
