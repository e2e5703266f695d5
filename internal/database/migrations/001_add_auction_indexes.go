package migrations

import (
	"gorm.io/gorm"
)

// AddAuctionIndexes creates the composite indexes the sweeper and the ledger
// queries depend on.
// Using raw SQL for index creation to have more control over index types
func AddAuctionIndexes(db *gorm.DB) error {
	indexes := []string{
		// Sweeper activation pass: pending sales whose window has opened
		`CREATE INDEX IF NOT EXISTS idx_sales_status_start
		 ON sales(status, auction_start_date)`,

		// Sweeper closing pass: active sales whose window has closed
		`CREATE INDEX IF NOT EXISTS idx_sales_status_end
		 ON sales(status, auction_end_date)`,

		// Ledger query: bids for a sale, highest first
		`CREATE INDEX IF NOT EXISTS idx_bids_sale_amount
		 ON bids(sale_id, amount)`,

		// Settlement flip: active bids of a closed sale
		`CREATE INDEX IF NOT EXISTS idx_bids_sale_status
		 ON bids(sale_id, status)`,

		// Analytics lookups by crop over time
		`CREATE INDEX IF NOT EXISTS idx_market_prices_crop_date
		 ON market_prices(crop, date)`,
	}

	// Execute each index creation
	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
