package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/agrimarket/auction-api/internal/auth"
	"github.com/agrimarket/auction-api/internal/bidding"
	"github.com/agrimarket/auction-api/internal/database"
	"github.com/agrimarket/auction-api/internal/listing"
	"github.com/agrimarket/auction-api/internal/notify"
	"github.com/agrimarket/auction-api/internal/settlement"
	"github.com/agrimarket/auction-api/internal/types"
	"github.com/agrimarket/auction-api/pkg/middleware"
	"github.com/agrimarket/auction-api/pkg/response"
)

const (
	numBidders    = 8
	bidsPerBidder = 12
	auctionWindow = 15 * time.Second
	sweepInterval = 2 * time.Second
	serverAddress = "http://localhost:8080"
	jwtSecret     = "simulation-secret-key"
	minimumPrice  = 1000.0
)

var crops = []string{"wheat", "rice", "maize", "sugarcane", "mustard"}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// statsCollector aggregates route timings across all simulated clients
type statsCollector struct {
	mu     sync.Mutex
	routes map[string]*routeStats
}

func newStatsCollector() *statsCollector {
	return &statsCollector{routes: make(map[string]*routeStats)}
}

func (sc *statsCollector) record(route string, d time.Duration, err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	rs, ok := sc.routes[route]
	if !ok {
		rs = &routeStats{}
		sc.routes[route] = rs
	}
	rs.addDuration(d)
	if err != nil {
		rs.failures++
	}
}

// apiClient handles HTTP communication with the auction API for one identity
type apiClient struct {
	baseURL   string
	authToken string
	buyerID   string
	client    *http.Client
	stats     *statsCollector
}

func newAPIClient(apiKey, apiSecret string, stats *statsCollector) (*apiClient, error) {
	ac := &apiClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats:   stats,
	}

	start := time.Now()
	envelope, err := ac.post("/api/v1/auth/token", auth.Credentials{
		APIKey:    apiKey,
		APISecret: apiSecret,
	})
	ac.stats.record("auth", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	var token auth.TokenResponse
	if err := decodeData(envelope, &token); err != nil {
		return nil, err
	}
	ac.authToken = token.Token
	ac.buyerID = token.BuyerID
	return ac, nil
}

func (ac *apiClient) post(path string, payload interface{}) (*response.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, ac.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if ac.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+ac.authToken)
	}

	resp, err := ac.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope response.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (ac *apiClient) get(path string) (*response.Response, error) {
	req, err := http.NewRequest(http.MethodGet, ac.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if ac.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+ac.authToken)
	}

	resp, err := ac.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var envelope response.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, err
	}
	return &envelope, nil
}

// decodeData re-marshals the envelope's data field into the target struct
func decodeData(envelope *response.Response, target interface{}) error {
	if envelope.Data == nil {
		return fmt.Errorf("response carried no data")
	}
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// bidOutcomes tallies how each bid attempt resolved
type bidOutcomes struct {
	mu       sync.Mutex
	accepted int
	tooLow   int
	outbid   int
	other    int
}

func (o *bidOutcomes) add(envelope *response.Response) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if envelope.Success {
		o.accepted++
		return
	}
	if envelope.Error == nil {
		o.other++
		return
	}
	switch envelope.Error.Code {
	case bidding.CodeBidTooLow:
		o.tooLow++
	case bidding.CodeOutbid:
		o.outbid++
	default:
		o.other++
	}
}

func main() {
	rand.Seed(time.Now().UnixNano())
	gin.SetMode(gin.ReleaseMode)

	farmerKey := "sim-farmer-key"
	buyerKeys := make([]string, numBidders)
	for i := range buyerKeys {
		buyerKeys[i] = fmt.Sprintf("sim-buyer-%d", i)
	}

	db, batchID, err := startServer(farmerKey, buyerKeys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}

	// Give the listener a moment to come up
	time.Sleep(200 * time.Millisecond)

	stats := newStatsCollector()

	farmer, err := newAPIClient(farmerKey, farmerKey+"-secret", stats)
	if err != nil {
		log.Fatal().Err(err).Msg("farmer authentication failed")
	}

	start := time.Now()
	envelope, err := farmer.post("/api/v1/sales", types.CreateSaleRequest{
		BatchID:          batchID,
		MinimumPrice:     minimumPrice,
		AuctionStartDate: time.Now(),
		AuctionEndDate:   time.Now().Add(auctionWindow),
	})
	stats.record("create_sale", time.Since(start), err)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to list sale")
	}
	if !envelope.Success {
		log.Fatal().Interface("error", envelope.Error).Msg("failed to list sale")
	}

	var sale types.Sale
	if err := decodeData(envelope, &sale); err != nil {
		log.Fatal().Err(err).Msg("failed to decode sale")
	}

	log.Info().
		Str("sale_id", sale.SaleID).
		Str("crop", sale.CropName).
		Float64("minimum_price", sale.MinimumPrice).
		Time("ends_at", sale.AuctionEndDate).
		Int("bidders", numBidders).
		Msg("auction open, releasing bidders")

	outcomes := &bidOutcomes{}
	simStart := time.Now()

	var wg sync.WaitGroup
	for i, key := range buyerKeys {
		wg.Add(1)
		go func(workerID int, apiKey string) {
			defer wg.Done()
			runBidder(workerID, apiKey, sale.SaleID, stats, outcomes)
		}(i, key)
	}
	wg.Wait()

	final := waitForSettlement(farmer, sale.SaleID, auctionWindow+3*sweepInterval)
	duration := time.Since(simStart)

	printSummary(db, final, outcomes, stats, duration)
}

// runBidder is one buyer's bidding loop: read the current price, raise it by
// one to three increments, and tally the outcome
func runBidder(workerID int, apiKey, saleID string, stats *statsCollector, outcomes *bidOutcomes) {
	client, err := newAPIClient(apiKey, apiKey+"-secret", stats)
	if err != nil {
		log.Error().Err(err).Int("worker_id", workerID).Msg("bidder authentication failed")
		return
	}

	for i := 0; i < bidsPerBidder; i++ {
		start := time.Now()
		saleEnvelope, err := client.get("/api/v1/sales/" + saleID)
		stats.record("get_sale", time.Since(start), err)
		if err != nil {
			continue
		}

		var sale types.Sale
		if err := decodeData(saleEnvelope, &sale); err != nil {
			continue
		}
		if sale.Status != types.SaleStatusActive {
			return
		}

		amount := sale.MinimumPrice
		if sale.TotalBids > 0 {
			amount = sale.CurrentHighestBid + bidding.DefaultMinIncrement
		}
		amount += float64(rand.Intn(3)) * bidding.DefaultMinIncrement

		start = time.Now()
		bidEnvelope, err := client.post("/api/v1/bids", types.PlaceBidRequest{
			SaleID: saleID,
			Amount: amount,
		})
		stats.record("place_bid", time.Since(start), err)
		if err != nil {
			continue
		}
		outcomes.add(bidEnvelope)

		time.Sleep(time.Duration(rand.Intn(800)) * time.Millisecond)
	}
}

// waitForSettlement polls the sale until the sweeper closes it or the
// deadline passes
func waitForSettlement(client *apiClient, saleID string, timeout time.Duration) *types.Sale {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		envelope, err := client.get("/api/v1/sales/" + saleID)
		if err == nil && envelope.Success {
			var sale types.Sale
			if err := decodeData(envelope, &sale); err == nil {
				switch sale.Status {
				case types.SaleStatusSold, types.SaleStatusUnsold:
					return &sale
				}
			}
		}
		time.Sleep(sweepInterval / 2)
	}
	return nil
}

// printSummary reports the auction outcome, bid tallies, ledger counts and
// per-route latency percentiles
func printSummary(db *gorm.DB, sale *types.Sale, outcomes *bidOutcomes, stats *statsCollector, duration time.Duration) {
	fmt.Println("\n=== Auction Simulation Summary ===")
	fmt.Printf("Duration: %v\n", duration.Round(time.Millisecond))

	if sale == nil {
		fmt.Println("Outcome: auction never settled within the deadline")
	} else {
		fmt.Printf("Outcome: %s\n", sale.Status)
		if sale.Status == types.SaleStatusSold {
			fmt.Printf("Winner: %s at %.2f (%d bids total)\n", sale.SoldTo, sale.FinalPrice, sale.TotalBids)
		}
	}

	outcomes.mu.Lock()
	fmt.Printf("\nBid attempts: accepted=%d too_low=%d outbid=%d other=%d\n",
		outcomes.accepted, outcomes.tooLow, outcomes.outbid, outcomes.other)
	outcomes.mu.Unlock()

	var won, lost int64
	db.Model(&types.Bid{}).Where("status = ?", types.BidStatusWon).Count(&won)
	db.Model(&types.Bid{}).Where("status = ?", types.BidStatusLost).Count(&lost)
	fmt.Printf("Ledger: won=%d lost=%d\n", won, lost)

	var prices int64
	db.Model(&types.MarketPrice{}).Count(&prices)
	fmt.Printf("Market price rows: %d\n", prices)

	fmt.Println("\n=== Route Statistics ===")
	stats.mu.Lock()
	defer stats.mu.Unlock()

	names := make([]string, 0, len(stats.routes))
	for name := range stats.routes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rs := stats.routes[name]
		min, max, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("\n%s (%d calls, %d failures)\n", name, rs.totalCalls, rs.failures)
		fmt.Printf("  min:    %v\n", min.Round(time.Microsecond))
		fmt.Printf("  max:    %v\n", max.Round(time.Microsecond))
		fmt.Printf("  mean:   %v\n", mean.Round(time.Microsecond))
		fmt.Printf("  median: %v\n", median.Round(time.Microsecond))
		fmt.Printf("  p95:    %v\n", p95.Round(time.Microsecond))
		fmt.Printf("  p99:    %v\n", p99.Round(time.Microsecond))
	}
}

// startServer initializes and starts the auction API server in-process with a
// fast sweeper and one produce batch seeded for the simulated farmer
func startServer(farmerKey string, buyerKeys []string) (*gorm.DB, string, error) {
	dbPath := filepath.Join(os.TempDir(), fmt.Sprintf("auction-sim-%d.db", time.Now().UnixNano()))
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to initialize database: %w", err)
	}

	hub := notify.NewHub()
	go hub.Run(context.Background())

	authService := auth.NewService(jwtSecret)
	farmerID := authService.RegisterBuyer(farmerKey, farmerKey+"-secret", "Simulation Farmer")
	for i, key := range buyerKeys {
		authService.RegisterBuyer(key, key+"-secret", fmt.Sprintf("Simulation Buyer %d", i))
	}

	biddingService := bidding.NewService(db, hub)
	listingService := listing.NewService(db, hub)

	sweeper := settlement.NewSweeper(db, hub, sweepInterval)
	go sweeper.Start(context.Background())

	// The listing service checks batch ownership against the token's buyer
	// ID, so the seeded batch carries the ID minted at registration
	batch := &types.ProduceBatch{
		BatchID:  uuid.New().String(),
		FarmerID: farmerID,
		CropName: crops[rand.Intn(len(crops))],
		Quantity: float64(rand.Intn(40) + 10),
		Unit:     "quintal",
		Status:   types.BatchStatusAvailable,
	}
	if err := listing.NewDatabase(db).CreateBatch(batch); err != nil {
		return nil, "", err
	}

	router := gin.New()
	secret := []byte(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	biddingHandlers := bidding.NewGinHandlers(biddingService)
	listingHandlers := listing.NewGinHandlers(listingService)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/auth/token", authHandlers.GenerateTokenHandler())

		sales := v1.Group("/sales")
		{
			sales.GET("", listingHandlers.ListSalesHandler())
			sales.GET("/:sale_id", listingHandlers.GetSaleHandler())
			sales.GET("/:sale_id/bids", biddingHandlers.GetBidsForSaleHandler())

			protected := sales.Group("")
			protected.Use(middleware.JWTAuth(secret))
			{
				protected.POST("", listingHandlers.CreateSaleHandler())
			}
		}

		bids := v1.Group("/bids")
		bids.Use(middleware.JWTAuth(secret))
		{
			bids.POST("", biddingHandlers.PlaceBidHandler())
		}
	}

	go func() {
		if err := router.Run(":8080"); err != nil {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	return db, batch.BatchID, nil
}
