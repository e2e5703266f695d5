package types

import "time"

// PlaceBidRequest is the buyer-facing bid payload
type PlaceBidRequest struct {
	SaleID string  `json:"sale_id" binding:"required"`
	Amount float64 `json:"amount" binding:"required"`
}

// PlaceBidResponse is returned to the bidder after a successful commit
type PlaceBidResponse struct {
	BidID          string    `json:"bid_id"`
	SaleID         string    `json:"sale_id"`
	CurrentHighest float64   `json:"current_highest"`
	TotalBids      int64     `json:"total_bids"`
	Timestamp      time.Time `json:"timestamp"`
}

// BidThreshold is attached to bid rejections so the client can retry with a
// corrected amount without a second round-trip
type BidThreshold struct {
	CurrentHighest    float64 `json:"current_highest"`
	MinimumAcceptable float64 `json:"minimum_acceptable,omitempty"`
}

// CreateSaleRequest is the seller-facing listing payload
type CreateSaleRequest struct {
	BatchID          string    `json:"batch_id" binding:"required"`
	MinimumPrice     float64   `json:"minimum_price" binding:"required"`
	AuctionStartDate time.Time `json:"auction_start_date" binding:"required"`
	AuctionEndDate   time.Time `json:"auction_end_date" binding:"required"`
}
