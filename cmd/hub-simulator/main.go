package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-sync/internal/api/middleware"
	"auction-sync/internal/config"
	"auction-sync/internal/domain"
	"auction-sync/internal/infrastructure/redis"
	"auction-sync/internal/infrastructure/websocket"
	"auction-sync/internal/services"
	"auction-sync/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
)

// Used when the configuration lists no cars.
var demoCars = []services.SimulatedCar{
	{ID: "car-1", StartingPrice: 5000, MinPreBid: 5000},
	{ID: "car-2", StartingPrice: 12000, MinPreBid: 12500},
	{ID: "car-3", StartingPrice: 900, MinPreBid: 1000},
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level).With("service", "hub-simulator")
	log.Info("Starting hub simulator", "config", cfg.GetConfigString())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rooms := websocket.NewRoomManager(log)

	// With redis, events go through the relay so every simulator instance
	// serves the same rooms.
	var publisher domain.EventPublisher
	if cfg.Redis.Enabled {
		rdb := redisClient.NewClient(&redisClient.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Fatal("Failed to connect to Redis", "error", err)
		}
		log.Info("Connected to Redis", "address", cfg.Redis.Address)

		if cfg.Simulator.SharedTiers {
			tiers, err := redis.NewTierStore(rdb).LoadTiers(ctx)
			if err != nil {
				log.Fatal("Failed to load increment tiers", "error", err)
			}
			cfg.Bidding.Tiers = tiers
			log.Info("Using shared increment tiers", "tiers", len(tiers))
		}

		publisher = redis.NewEventPublisher(rdb)
		relay := redis.NewEventRelay(rdb, rooms, log)
		go func() {
			if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Event relay failed", "error", err)
			}
		}()
	}

	engine := cfg.Bidding.Engine()

	simCfg := cfg.Simulator.SimulatorConfig
	if len(simCfg.Cars) == 0 {
		simCfg.Cars = demoCars
	}
	notifier := websocket.NewWebSocketNotifier(rooms, publisher)
	simulator, err := services.NewAuctionSimulator(simCfg, engine, notifier, clockwork.NewRealClock(), log)
	if err != nil {
		log.Fatal("Invalid simulator configuration", "error", err)
	}

	serverCfg := websocket.DefaultServerConfig()
	serverCfg.PingInterval = cfg.Simulator.PingInterval
	auth := websocket.WithAuthenticator(websocket.TokenAuthenticator(cfg.Simulator.Tokens))
	handlers := websocket.NewSimulatorHandlers(simulator, log)

	auctionHub := websocket.NewHubServer(domain.ChannelAuction, rooms, serverCfg, log,
		append(handlers.AuctionOptions(), auth)...)
	bidHub := websocket.NewHubServer(domain.ChannelBid, rooms, serverCfg, log,
		append(handlers.BidOptions(), auth)...)

	router := mux.NewRouter()
	router.Use(middleware.CORS(cfg.Simulator.AllowedOrigins, log))
	hubs := router.PathPrefix("/hubs").Subrouter()
	hubs.Handle("/auctionChannel", auctionHub)
	hubs.Handle("/bidChannel", bidHub)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ok",
			"auction_id": simulator.AuctionID(),
			"car_id":     simulator.CurrentCarID(),
			"peers":      rooms.PeerCount(),
		})
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    cfg.Simulator.Server.Address(),
		Handler: router,
	}

	if err := simulator.Start(); err != nil {
		log.Fatal("Failed to start simulator", "error", err)
	}

	go func() {
		log.Info("Hub simulator listening", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down hub simulator...")
	simulator.Stop()
	rooms.CloseAll("server shutting down", true)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	log.Info("Hub simulator stopped")
}
