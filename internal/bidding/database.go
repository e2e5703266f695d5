package bidding

import (
	"errors"

	"gorm.io/gorm"

	"github.com/agrimarket/auction-api/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) GetSale(saleID string) (*types.Sale, error) {
	var sale types.Sale
	if err := d.db.Where("sale_id = ?", saleID).First(&sale).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sale, nil
}

// CommitHighestBid is the single authoritative write of the bidding path: a
// conditional update that re-checks the price and status preconditions at the
// storage layer. Returns false when zero rows matched, meaning a concurrent
// bid already raised the price (or the auction left "active") between the
// caller's read and this write.
func (d *Database) CommitHighestBid(saleID, buyerID string, amount float64) (bool, error) {
	result := d.db.Model(&types.Sale{}).
		Where("sale_id = ? AND status = ? AND current_highest_bid < ?",
			saleID, types.SaleStatusActive, amount).
		Updates(map[string]interface{}{
			"current_highest_bid": amount,
			"highest_bidder":      buyerID,
			"total_bids":          gorm.Expr("total_bids + 1"),
		})

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) CreateBid(bid *types.Bid) error {
	return d.db.Create(bid).Error
}

// GetBidsForSale lists a sale's bids, highest first
func (d *Database) GetBidsForSale(saleID string) ([]types.Bid, error) {
	var bids []types.Bid
	if err := d.db.Where("sale_id = ?", saleID).
		Order("amount DESC").
		Find(&bids).Error; err != nil {
		return nil, err
	}
	return bids, nil
}

// GetBidsForBuyer lists a buyer's bids across all sales, newest first
func (d *Database) GetBidsForBuyer(buyerID string) ([]types.Bid, error) {
	var bids []types.Bid
	if err := d.db.Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&bids).Error; err != nil {
		return nil, err
	}
	return bids, nil
}
