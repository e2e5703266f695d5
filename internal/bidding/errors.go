package bidding

import (
	"fmt"
	"net/http"

	"github.com/agrimarket/auction-api/internal/types"
	"github.com/agrimarket/auction-api/pkg/response"
)

// Rejection codes surfaced to bidders. All are client-correctable; only
// storage failures escape as opaque 500s.
const (
	CodeInvalidAmount = "INVALID_AMOUNT"
	CodeNotStarted    = "NOT_STARTED"
	CodeAuctionEnded  = "AUCTION_ENDED"
	CodeNotActive     = "NOT_ACTIVE"
	CodeBidTooLow     = "BID_TOO_LOW"
	CodeOutbid        = "OUTBID"
)

func errInvalidAmount() *response.APIError {
	return response.NewAPIError(http.StatusBadRequest, CodeInvalidAmount, "Invalid bid amount")
}

func errSaleNotFound() *response.APIError {
	return response.NewAPIError(http.StatusNotFound, response.ErrCodeNotFound, "Listing not found")
}

func errNotStarted() *response.APIError {
	return response.NewAPIError(http.StatusBadRequest, CodeNotStarted, "Bidding has not started yet")
}

func errAuctionEnded() *response.APIError {
	return response.NewAPIError(http.StatusBadRequest, CodeAuctionEnded, "Bidding has ended for this item")
}

func errNotActive() *response.APIError {
	return response.NewAPIError(http.StatusBadRequest, CodeNotActive, "Auction not active")
}

func errBidTooLow(minimum, currentHighest float64) *response.APIError {
	err := response.NewAPIError(http.StatusBadRequest, CodeBidTooLow,
		fmt.Sprintf("Bid too low. Must be at least %.2f", minimum))
	err.Details = types.BidThreshold{
		CurrentHighest:    currentHighest,
		MinimumAcceptable: minimum,
	}
	return err
}

func errOutbid(currentHighest float64) *response.APIError {
	err := response.NewAPIError(http.StatusConflict, CodeOutbid,
		"Your bid was not high enough. Try again with a higher amount.")
	err.Details = types.BidThreshold{CurrentHighest: currentHighest}
	return err
}
