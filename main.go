package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/poedgar905/Paulie/api"
	"github.com/poedgar905/Paulie/config"
	"github.com/poedgar905/Paulie/handlers"
	"github.com/poedgar905/Paulie/middleware"
	"github.com/poedgar905/Paulie/models"
	"github.com/poedgar905/Paulie/storage"
	"github.com/poedgar905/Paulie/syncer"
	"github.com/poedgar905/Paulie/telegram"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := os.Getenv("COPYTRADER_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.RequireEnv(); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, redisClient, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to init storage: %v", err)
	}
	defer store.Close()

	metrics := syncer.NewMetrics(redisClient)
	metrics.Load(ctx)

	dataClient := api.NewClient(cfg.API.DataAPIURL, cfg.API.GammaAPIURL)

	// Order placement only runs with a signing key; detection and alerts
	// work without one.
	var orders syncer.OrderClient
	trading := config.TradingEnabled()
	if trading {
		auth, err := api.NewAuth()
		if err != nil {
			log.Fatalf("failed to init signer: %v", err)
		}
		clob, err := api.NewClobClient(cfg.API.ClobAPIURL, auth)
		if err != nil {
			log.Fatalf("failed to init CLOB client: %v", err)
		}
		if funder := os.Getenv("POLYMARKET_FUNDER"); funder != "" {
			clob.SetFunder(funder)
			clob.SetSignatureType(2) // proxy wallet
		}
		if _, err := clob.DeriveAPICreds(ctx); err != nil {
			log.Fatalf("failed to derive API credentials: %v", err)
		}
		orders = syncer.NewClobOrderClient(clob)
		log.Println("[main] Trading enabled")
	} else {
		log.Println("[main] No POLYMARKET_PRIVATE_KEY, running in alert-only mode")
	}

	tgClient := telegram.NewClient(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"))
	notifier := telegram.NewNotifier(tgClient, cfg.Trading.QuickAmounts)

	engine := syncer.NewEngine(store, orders, notifier, metrics, syncer.EngineConfig{
		OrderTimeout: time.Duration(cfg.Trading.OrderTimeoutMS) * time.Millisecond,
		MinOrderUSDC: cfg.Trading.MinOrderUSDC,
		SizeDecimals: cfg.Trading.SizeDecimals,
		TickSize:     cfg.Trading.TickSize,
		OppTTL:       time.Duration(cfg.Trading.OppTTLMins) * time.Minute,
	})

	detector := syncer.NewDetector(store)
	polygon := api.NewPolygonClient(cfg.API.PolygonRPC)

	poller := syncer.NewPoller(store, dataClient, detector, engine, polygon, metrics, syncer.PollerConfig{
		Interval:      time.Duration(cfg.Poll.IntervalSec) * time.Second,
		ActivityLimit: cfg.Poll.ActivityLimit,
		RequestDelay:  time.Duration(cfg.Poll.RequestDelayMS) * time.Millisecond,
		FetchTimeout:  time.Duration(cfg.Poll.FetchTimeoutMS) * time.Millisecond,
	})
	if err := poller.Start(ctx); err != nil {
		log.Fatalf("failed to start poller: %v", err)
	}
	defer poller.Stop()

	var priceLookup telegram.PriceLookup
	if cfg.API.MarketWS {
		ws, lookup := startPriceFeed(ctx, store)
		priceLookup = lookup
		defer ws.Stop()
	}

	listener, err := telegram.NewListener(tgClient, store, dataClient, engine, priceLookup)
	if err != nil {
		log.Fatalf("failed to init Telegram listener: %v", err)
	}
	listener.Start(ctx)
	defer listener.Stop()

	srv := startServer(cfg, store, engine, metrics, trading)

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[main] Received %v, shutting down", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[main] Server shutdown: %v", err)
	}
}

// openStore selects the storage backend. Postgres brings a Redis client
// along for metrics persistence; SQLite runs standalone.
func openStore(cfg *config.Config) (storage.DataStore, *redis.Client, error) {
	if cfg.Data.Backend == "postgres" {
		pg, err := storage.NewPostgres()
		if err != nil {
			return nil, nil, err
		}
		log.Println("[main] Using Postgres storage")
		return pg, pg.Redis(), nil
	}
	st, err := storage.New(cfg.Data.DBPath)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[main] Using SQLite storage at %s", cfg.Data.DBPath)
	return st, nil, nil
}

// startPriceFeed streams book updates for tokens with open positions and
// keeps the latest midpoints for /check output. The feed is informational;
// closes are driven by detected trader exits.
func startPriceFeed(ctx context.Context, store storage.DataStore) (*api.MarketWSClient, telegram.PriceLookup) {
	var prices sync.Map
	ws := api.NewMarketWSClient(func(update api.PriceUpdate) {
		if update.Midpoint > 0 {
			prices.Store(update.AssetID, update.Midpoint)
		}
	})
	lookup := func(tokenID string) (float64, bool) {
		v, ok := prices.Load(tokenID)
		if !ok {
			return 0, false
		}
		return v.(float64), true
	}
	if err := ws.Start(); err != nil {
		log.Printf("[main] Price feed start failed: %v", err)
		return ws, lookup
	}

	// Track the open-position token set as it changes.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			open, err := store.ListPositions(ctx, models.StatusOpen, 0)
			if err == nil {
				tokens := make([]string, 0, len(open))
				for _, p := range open {
					tokens = append(tokens, p.TokenID)
				}
				if err := ws.Subscribe(tokens); err != nil {
					log.Printf("[PriceFeed] Subscribe failed: %v", err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return ws, lookup
}

func startServer(cfg *config.Config, store storage.DataStore, engine *syncer.Engine, metrics *syncer.Metrics, trading bool) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.Default()

	h := handlers.NewHandler(store, engine, metrics, trading)

	r.GET("/health", h.Health)

	apiGroup := r.Group("/api", middleware.BasicAuth(), middleware.ValidateQueryParams())
	apiGroup.GET("/watchlist", h.GetWatchlist)
	apiGroup.GET("/positions", h.GetPositions)
	apiGroup.GET("/positions/:id", h.GetPosition)
	apiGroup.GET("/portfolio", h.GetPortfolio)
	apiGroup.GET("/metrics", h.GetMetrics)
	apiGroup.POST("/copytrades/execute", h.ExecuteCopy)

	port := os.Getenv("PORT")
	if port == "" {
		port = strconv.Itoa(cfg.Server.Port)
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	go func() {
		log.Printf("[main] Server listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()
	return srv
}
