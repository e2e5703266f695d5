package notify

import "time"

// Event type names on the wire
const (
	EventNewBid       = "new-bid"
	EventAuctionEnded = "auction-ended"
)

// Auction outcomes carried by auction-ended events
const (
	OutcomeSold      = "sold"
	OutcomeUnsold    = "unsold"
	OutcomeCancelled = "cancelled"
)

// Envelope wraps every event pushed to live viewers
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// BidInfo identifies a single committed bid inside a NewBidEvent
type BidInfo struct {
	BidID     string    `json:"bid_id"`
	Amount    float64   `json:"amount"`
	BuyerID   string    `json:"buyer_id"`
	BuyerName string    `json:"buyer_name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBidEvent is pushed to a sale's channel after a bid commits
type NewBidEvent struct {
	SaleID            string  `json:"sale_id"`
	Bid               BidInfo `json:"bid"`
	CurrentHighestBid float64 `json:"current_highest_bid"`
	HighestBidder     string  `json:"highest_bidder"`
	TotalBids         int64   `json:"total_bids"`
}

// AuctionEndedEvent is pushed when a sale reaches a terminal state
type AuctionEndedEvent struct {
	SaleID     string  `json:"sale_id"`
	Outcome    string  `json:"outcome"` // sold, unsold, cancelled
	Winner     string  `json:"winner,omitempty"`
	FinalPrice float64 `json:"final_price,omitempty"`
}

// Notifier pushes auction events to live viewers of a sale. Delivery is
// best-effort; clients must be able to rebuild state from the HTTP API alone.
type Notifier interface {
	NewBid(event NewBidEvent)
	AuctionEnded(event AuctionEndedEvent)
}
