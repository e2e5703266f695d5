package settlement

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/agrimarket/auction-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// ActivatePendingSales flips every pending sale whose window has opened to
// active. The predicate excludes already-active sales, so re-running is a
// no-op.
func (d *Database) ActivatePendingSales(now time.Time) (int64, error) {
	result := d.db.Model(&types.Sale{}).
		Where("status = ? AND auction_start_date <= ?", types.SaleStatusPending, now).
		Update("status", types.SaleStatusActive)
	return result.RowsAffected, result.Error
}

func (d *Database) GetExpiredActiveSales(now time.Time) ([]types.Sale, error) {
	var sales []types.Sale
	if err := d.db.Where("status = ? AND auction_end_date < ?", types.SaleStatusActive, now).
		Find(&sales).Error; err != nil {
		return nil, err
	}
	return sales, nil
}

// MarkSaleSold records the settlement outcome, conditional on the sale still
// being active. A zero-row result means another sweep already settled it.
func (d *Database) MarkSaleSold(saleID, soldTo string, finalPrice float64, soldDate time.Time) (bool, error) {
	result := d.db.Model(&types.Sale{}).
		Where("sale_id = ? AND status = ?", saleID, types.SaleStatusActive).
		Updates(map[string]interface{}{
			"status":      types.SaleStatusSold,
			"sold_to":     soldTo,
			"sold_date":   soldDate,
			"final_price": finalPrice,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkSaleUnsold closes a sale that received no bids, conditional on it still
// being active
func (d *Database) MarkSaleUnsold(saleID string) (bool, error) {
	result := d.db.Model(&types.Sale{}).
		Where("sale_id = ? AND status = ?", saleID, types.SaleStatusActive).
		Update("status", types.SaleStatusUnsold)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkBidsLost flips all still-active bids of a sale to lost
func (d *Database) MarkBidsLost(saleID string) error {
	return d.db.Model(&types.Bid{}).
		Where("sale_id = ? AND status = ?", saleID, types.BidStatusActive).
		Update("status", types.BidStatusLost).Error
}

// MarkWinningBid flips the bid matching the sale's final price state to won.
// Amounts committed against one sale are strictly increasing, so the
// (buyer, amount) pair identifies exactly one committed bid; the earliest
// record is taken should the ledger ever hold duplicates.
func (d *Database) MarkWinningBid(saleID, buyerID string, amount float64) error {
	var bid types.Bid
	err := d.db.Where("sale_id = ? AND buyer_id = ? AND amount = ?", saleID, buyerID, amount).
		Order("created_at ASC").
		First(&bid).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errors.New("winning bid not found in ledger")
		}
		return err
	}

	return d.db.Model(&types.Bid{}).
		Where("bid_id = ?", bid.BidID).
		Update("status", types.BidStatusWon).Error
}

// MarkBatchSold moves the produce batch behind a sold sale to its terminal
// state
func (d *Database) MarkBatchSold(batchID string) error {
	return d.db.Model(&types.ProduceBatch{}).
		Where("batch_id = ?", batchID).
		Update("status", types.BatchStatusSold).Error
}

// ReleaseBatch returns the batch behind an unsold sale to the available pool
// so the farmer can relist it
func (d *Database) ReleaseBatch(batchID string) error {
	return d.db.Model(&types.ProduceBatch{}).
		Where("batch_id = ?", batchID).
		Update("status", types.BatchStatusAvailable).Error
}

// RecordMarketPrice stores an analytics observation of a settled price
func (d *Database) RecordMarketPrice(price *types.MarketPrice) error {
	return d.db.Create(price).Error
}
