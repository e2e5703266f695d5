package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/agrimarket/auction-api/internal/database/migrations"
	"github.com/agrimarket/auction-api/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection.
// The busy timeout matters here: concurrent bidders race on the same sale
// row, and without it sqlite returns SQLITE_BUSY instead of waiting.
func NewDatabase(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// Auto-migrate schemas
	err = db.AutoMigrate(
		&types.Sale{},
		&types.Bid{},
		&types.ProduceBatch{},
		&types.MarketPrice{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddAuctionIndexes(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
