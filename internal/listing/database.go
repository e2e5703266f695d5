package listing

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

func (d *Database) GetBatch(batchID string) (*types.ProduceBatch, error) {
	var batch types.ProduceBatch
	if err := d.db.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

// CreateSaleWithBatch creates the sale and claims the produce batch in one
// transaction. The batch update is conditional on it still being available,
// so two concurrent listings of the same batch cannot both succeed.
func (d *Database) CreateSaleWithBatch(sale *types.Sale) error {
	tx := d.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	result := tx.Model(&types.ProduceBatch{}).
		Where("batch_id = ? AND status = ?", sale.BatchID, types.BatchStatusAvailable).
		Update("status", types.BatchStatusListed)
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return ErrBatchUnavailable
	}

	if err := tx.Create(sale).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
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

func (d *Database) ListSalesByStatus(status string) ([]types.Sale, error) {
	var sales []types.Sale
	if err := d.db.Where("status = ?", status).
		Order("auction_end_date ASC").
		Find(&sales).Error; err != nil {
		return nil, err
	}
	return sales, nil
}

// CancelSale flips a sale to cancelled, conditional on it not having reached
// a terminal state yet. Returns false when nothing matched.
func (d *Database) CancelSale(saleID string) (bool, error) {
	result := d.db.Model(&types.Sale{}).
		Where("sale_id = ? AND status IN ?", saleID,
			[]string{types.SaleStatusPending, types.SaleStatusActive}).
		Update("status", types.SaleStatusCancelled)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ReleaseBatch returns a listed batch to the available pool
func (d *Database) ReleaseBatch(batchID string) error {
	return d.db.Model(&types.ProduceBatch{}).
		Where("batch_id = ? AND status = ?", batchID, types.BatchStatusListed).
		Update("status", types.BatchStatusAvailable).Error
}

// CreateBatch registers a produce batch (used by seeding and tests; batches
// normally arrive from the harvest-tracking service)
func (d *Database) CreateBatch(batch *types.ProduceBatch) error {
	return d.db.Create(batch).Error
}
