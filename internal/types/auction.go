package types

import (
	"time"

	"gorm.io/gorm"
)

// Sale statuses
const (
	SaleStatusPending   = "pending"
	SaleStatusActive    = "active"
	SaleStatusSold      = "sold"
	SaleStatusUnsold    = "unsold"
	SaleStatusCancelled = "cancelled"
)

// Bid statuses
const (
	BidStatusActive = "active"
	BidStatusWon    = "won"
	BidStatusLost   = "lost"
)

// Produce batch statuses
const (
	BatchStatusAvailable = "available"
	BatchStatusListed    = "listed"
	BatchStatusSold      = "sold"
)

// Sale is one auctionable lot of produce. Price-state fields
// (CurrentHighestBid, HighestBidder, TotalBids) are only mutated through the
// conditional update in the bidding package while Status is "active"; the
// settlement sweeper owns the status transitions.
type Sale struct {
	gorm.Model `json:"-"`
	SaleID     string `gorm:"uniqueIndex" json:"sale_id"`
	FarmerID   string `json:"farmer_id"`
	BatchID    string `gorm:"uniqueIndex" json:"batch_id"` // one batch can only be listed once
	CropName   string `json:"crop_name"`
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"` // kg, quintal, ton

	MinimumPrice      float64 `json:"minimum_price"`
	CurrentHighestBid float64 `json:"current_highest_bid"` // meaningful only when TotalBids > 0
	HighestBidder     string  `json:"highest_bidder"`
	TotalBids         int64   `json:"total_bids"`

	AuctionStartDate time.Time `json:"auction_start_date"`
	AuctionEndDate   time.Time `json:"auction_end_date"`

	Status string `gorm:"index" json:"status"` // pending, active, sold, unsold, cancelled

	// Settlement outcome, set once when the auction closes
	SoldTo     string     `json:"sold_to,omitempty"`
	SoldDate   *time.Time `json:"sold_date,omitempty"`
	FinalPrice float64    `json:"final_price,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Bid is one buyer's offer against a Sale. Records are append-only from the
// bidding side; the sweeper flips active bids to won/lost exactly once at
// settlement.
type Bid struct {
	gorm.Model `json:"-"`
	BidID      string  `gorm:"uniqueIndex" json:"bid_id"`
	SaleID     string  `gorm:"index" json:"sale_id"`
	BuyerID    string  `gorm:"index" json:"buyer_id"`
	BuyerName  string  `json:"buyer_name"`
	Amount     float64 `json:"amount"`
	Status     string  `json:"status"` // active, won, lost
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProduceBatch is the harvested lot behind a Sale. Listing flips it to
// "listed"; settlement moves it to "sold" or releases it back to "available"
// so the farmer can relist.
type ProduceBatch struct {
	gorm.Model `json:"-"`
	BatchID    string  `gorm:"uniqueIndex" json:"batch_id"`
	FarmerID   string  `gorm:"index" json:"farmer_id"`
	CropName   string  `json:"crop_name"`
	Quantity   float64 `json:"quantity"`
	Unit       string  `json:"unit"`
	Status     string  `json:"status"` // available, listed, sold
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// MarketPrice is an analytics observation written best-effort when an auction
// settles as sold. It is never load-bearing for settlement.
type MarketPrice struct {
	gorm.Model `json:"-"`
	Crop       string    `gorm:"index" json:"crop"`
	Date       time.Time `gorm:"index" json:"date"`
	Price      float64   `json:"price"`
	Location   string    `json:"location"`
	Unit       string    `json:"unit"`
	CreatedAt  time.Time `json:"created_at"`
}
