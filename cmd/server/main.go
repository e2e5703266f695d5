package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/agrimarket/auction-api/internal/auth"
	"github.com/agrimarket/auction-api/internal/bidding"
	"github.com/agrimarket/auction-api/internal/database"
	"github.com/agrimarket/auction-api/internal/listing"
	"github.com/agrimarket/auction-api/internal/notify"
	"github.com/agrimarket/auction-api/internal/settlement"
	"github.com/agrimarket/auction-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the auction API server with graceful shutdown
// support. It sets up the database, services, the settlement sweeper and the
// notification hub.
func main() {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "auction.db"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "agrimarket-secret-key"
	}

	sweepInterval := settlement.DefaultSweepInterval
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			sweepInterval = parsed
		} else {
			zlog.Warn().Str("sweep_interval", v).Msg("invalid SWEEP_INTERVAL, using default")
		}
	}

	// Initialize database
	db, err := database.NewDatabase(dbPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Notification hub fans auction events out to live viewers
	hub := notify.NewHub()
	hubCtx, hubCancel := context.WithCancel(context.Background())
	defer hubCancel()
	go hub.Run(hubCtx)

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterBuyer(auth.TestAPIKey, auth.TestAPISecret, "Test Buyer")

	biddingService := bidding.NewService(db, hub)
	biddingHandlers := bidding.NewGinHandlers(biddingService)

	listingService := listing.NewService(db, hub)
	listingHandlers := listing.NewGinHandlers(listingService)

	notifyHandlers := notify.NewGinHandlers(hub)

	// Create and start the settlement sweeper
	sweeper := settlement.NewSweeper(db, hub, sweepInterval)
	sweeperCtx, sweeperCancel := context.WithCancel(context.Background())
	defer sweeperCancel()

	go sweeper.Start(sweeperCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, []byte(jwtSecret), authHandlers, biddingHandlers, listingHandlers, notifyHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Sale routes: Public browsing, JWT-protected listing and cancellation
// - Bid routes: Protected by JWT authentication
// - WebSocket route: Public live-viewer channel per sale
func setupRoutes(
	router *gin.Engine,
	jwtSecret []byte,
	authHandlers *auth.GinHandlers,
	biddingHandlers *bidding.GinHandlers,
	listingHandlers *listing.GinHandlers,
	notifyHandlers *notify.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Sale routes
		sales := v1.Group("/sales")
		{
			sales.GET("", listingHandlers.ListSalesHandler())
			sales.GET("/:sale_id", listingHandlers.GetSaleHandler())
			sales.GET("/:sale_id/bids", biddingHandlers.GetBidsForSaleHandler())
			sales.GET("/:sale_id/viewers", notifyHandlers.StatsHandler())

			protected := sales.Group("")
			protected.Use(middleware.JWTAuth(jwtSecret))
			{
				protected.POST("", listingHandlers.CreateSaleHandler())
				protected.POST("/:sale_id/cancel", listingHandlers.CancelSaleHandler())
			}
		}

		// Bid routes
		bids := v1.Group("/bids")
		bids.Use(middleware.JWTAuth(jwtSecret))
		{
			bids.POST("", biddingHandlers.PlaceBidHandler())
			bids.GET("/mine", biddingHandlers.GetMyBidsHandler())
		}

		// Live viewer channel
		v1.GET("/ws/sales/:sale_id", notifyHandlers.SubscribeHandler())
	}
}
