package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auction-sync/internal/api/handlers"
	"auction-sync/internal/config"
	"auction-sync/internal/domain"
	"auction-sync/internal/infrastructure/mysql"
	"auction-sync/internal/infrastructure/network"
	"auction-sync/internal/infrastructure/websocket"
	"auction-sync/internal/instrumentation"
	"auction-sync/internal/services"
	"auction-sync/pkg/logger"
	"auction-sync/pkg/utils"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level).With("service", "auction-client")
	log.Info("Starting auction client", "config", cfg.GetConfigString())

	if cfg.Session.AuctionID == "" {
		log.Fatal("session.auction_id is required")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := instrumentation.NewMetrics(reg)

	sessionID := utils.GenerateID("session")
	dispatcherOpts := []services.DispatcherOption{
		services.WithHistoryLimit(cfg.Session.HistoryLimit),
		services.WithDispatcherMetrics(metrics),
	}

	if cfg.Journal.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		db, err := utils.OpenMySQL(ctx, utils.MySQLOptions{
			DSN:             cfg.Journal.MySQL.DSN,
			MaxOpenConns:    cfg.Journal.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Journal.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Journal.MySQL.ConnMaxLifetime,
		})
		if err != nil {
			cancel()
			log.Fatal("Failed to connect to MySQL", "error", err)
		}
		defer db.Close()

		journal := mysql.NewMySQLEventJournal(db)
		err = journal.EnsureSchema(ctx)
		cancel()
		if err != nil {
			log.Fatal("Failed to prepare event journal", "error", err)
		}
		dispatcherOpts = append(dispatcherOpts, services.WithJournal(journal, sessionID))
		log.Info("Event journal enabled", "session_id", sessionID)
	}

	var monitor domain.NetworkMonitor = network.NewStaticMonitor(true)
	var probe *network.ProbeMonitor
	if cfg.Network.ProbeAddress != "" {
		probe = network.NewProbeMonitor(cfg.Network.ProbeAddress, cfg.Network.ProbeInterval, cfg.Network.ProbeTimeout, nil, log)
		monitor = probe
	}

	transport := websocket.DefaultClientConfig()
	transport.HandshakeTimeout = cfg.Transport.HandshakeTimeout
	transport.WriteTimeout = cfg.Transport.WriteTimeout
	transport.ServerTimeout = cfg.Transport.ServerTimeout
	transport.ReconnectDelays = cfg.Transport.ReconnectDelays
	dialer := websocket.NewHubDialer(transport, log)

	handler := &sessionHandler{timeout: cfg.Hub.WaitTimeout, log: log}
	dispatcher := services.NewEventDispatcher(handler, log, dispatcherOpts...)
	manager := services.NewConnectionManager(dialer, monitor, dispatcher, log,
		services.WithMetrics(metrics),
		services.WithStateListener(func(change domain.StateChange) {
			log.Info("Connection state changed",
				"from", change.Previous.String(),
				"to", change.Current.String(),
				"retry_count", change.Info.RetryCount,
				"error_category", string(change.Info.ErrorCategory))
		}),
	)
	handler.manager = manager

	if probe != nil {
		probe.OnChange(manager.HandleNetworkChange)
		probe.Start()
		defer probe.Stop()
	}

	if err := manager.Configure(cfg.Hub.ManagerConfig, domain.StaticCredential(cfg.Hub.AccessToken)); err != nil {
		log.Fatal("Invalid hub configuration", "error", err)
	}

	bidService := services.NewBidService(manager, cfg.Bidding.Engine(), metrics, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	handlers.NewStatusHandler(manager, bidService, cfg.Bidding.Engine(), log).Register(e, reg)

	go func() {
		log.Info("Status API listening", "address", cfg.Status.Address())
		if err := e.Start(cfg.Status.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Status API failed", "error", err)
		}
	}()

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Hub.ConnectTimeout+cfg.Hub.WaitTimeout)
	if err := manager.Connect(connectCtx); err != nil {
		log.Error("Connect failed", "error", err)
	}
	connectCancel()

	joinSession(manager, cfg.Session, cfg.Hub.WaitTimeout, log)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction client...")
	manager.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Status API forced to shutdown", "error", err)
	}
	log.Info("Auction client stopped")
}

// joinSession subscribes to the auction room and, when known, the car room on
// both channels.
func joinSession(manager *services.ConnectionManager, session config.SessionConfig, timeout time.Duration, log logger.Logger) {
	groups := []string{domain.AuctionGroup(session.AuctionID)}
	if session.AuctionCarID != "" {
		groups = append(groups, domain.AuctionCarGroup(session.AuctionCarID))
	}

	for _, group := range groups {
		for _, channel := range domain.Channels {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := manager.JoinGroup(ctx, group, channel)
			cancel()
			if err != nil {
				log.Warn("Failed to join group", "group", group, "channel", channel.String(), "error", err)
			}
		}
	}
}
