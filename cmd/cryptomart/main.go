package main

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rookgm/cryptomart/config"
	"github.com/rookgm/cryptomart/internal/auth"
	"github.com/rookgm/cryptomart/internal/events"
	"github.com/rookgm/cryptomart/internal/gateway"
	handler "github.com/rookgm/cryptomart/internal/handler/http"
	"github.com/rookgm/cryptomart/internal/logger"
	"github.com/rookgm/cryptomart/internal/middleware"
	"github.com/rookgm/cryptomart/internal/repository"
	"github.com/rookgm/cryptomart/internal/repository/postgres"
	"github.com/rookgm/cryptomart/internal/service"
	"github.com/rookgm/cryptomart/internal/worker"
	"go.uber.org/zap"
)

const defaultAuthTokenKey = "f53ac685bbceebd75043e6be2e06ee07"

func main() {

	// create new config
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	// initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
	defer logger.Log.Sync()

	// create context cancelled on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// initialize database
	db, err := postgres.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		logger.Log.Fatal("Error initializing database", zap.Error(err))
	}
	defer db.Close()

	// migrate database
	err = db.Migrate()
	if err != nil {
		logger.Log.Fatal("Error migrating database", zap.Error(err))
	}

	authTokenKey := cfg.AuthTokenKey
	if authTokenKey == "" {
		authTokenKey = defaultAuthTokenKey
	}
	tokenKey, err := hex.DecodeString(authTokenKey)
	if err != nil {
		logger.Log.Fatal("Error extracting token key", zap.Error(err))
	}
	token := auth.NewAuthToken(tokenKey)

	// notification intents
	var pub events.Publisher
	if cfg.KafkaBrokers != "" {
		kafkaPub, err := events.NewKafkaPublisher(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic, logger.Log)
		if err != nil {
			logger.Log.Fatal("Error connecting to kafka", zap.Error(err))
		}
		defer kafkaPub.Close()
		pub = kafkaPub
	} else {
		pub = events.NewLogPublisher(logger.Log)
	}

	orderPolicy := service.OrderPolicy{
		FiatCurrency:   cfg.FiatCurrency,
		OrderTTL:       cfg.OrderTTL,
		RetryTTL:       cfg.RetryTTL,
		GracePeriod:    cfg.GracePeriod,
		PenaltyPercent: cfg.PenaltyPercent,
		StrikeLimit:    cfg.StrikeLimit,
	}
	paymentPolicy := service.PaymentPolicy{
		FiatCurrency:     cfg.FiatCurrency,
		ExactTolerance:   cfg.ExactTolerance,
		OverpayTolerance: cfg.OverpayTolerance,
	}

	// dependency injection
	orderRepo := repository.NewOrderRepository(db)
	itemRepo := repository.NewItemRepository(db)
	userRepo := repository.NewUserRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	// auth
	authService := service.NewAuthService(adminRepo, token)
	authHandler := handler.NewAuthHandler(authService)

	// order
	orderService := service.NewOrderService(orderRepo, itemRepo, userRepo, invoiceRepo, paymentRepo, db, pub, orderPolicy)
	orderHandler := handler.NewOrderHandler(orderService)
	adminHandler := handler.NewAdminHandler(orderService)

	// payment
	gatewayClient := gateway.NewGatewayClient(cfg.GatewayAddr, cfg.GatewaySecret)
	paymentService := service.NewPaymentService(orderRepo, userRepo, invoiceRepo, paymentRepo, gatewayClient, orderService, db, paymentPolicy)
	paymentHandler := handler.NewPaymentHandler(paymentService)

	// wallet
	walletService := service.NewWalletService(userRepo, db, pub, cfg.UnbanThreshold)
	walletHandler := handler.NewWalletHandler(walletService)

	// stock
	stockService := service.NewStockService(itemRepo, db)
	stockHandler := handler.NewStockHandler(stockService)

	router := chi.NewRouter()

	router.Use(middleware.Logging)

	router.Post("/api/auth/register", authHandler.RegisterAdmin())
	router.Post("/api/auth/login", authHandler.LoginAdmin())

	router.Post("/api/orders", orderHandler.CreateOrder())
	router.Get("/api/orders/{orderID}", orderHandler.GetOrder())
	router.Post("/api/orders/{orderID}/address", orderHandler.SubmitAddress())
	router.Post("/api/orders/{orderID}/wallet", orderHandler.PayFromWallet())
	router.Post("/api/orders/{orderID}/invoice", paymentHandler.CreateInvoice())
	router.Post("/api/orders/{orderID}/cancel", orderHandler.CancelOrder())
	router.Get("/api/orders/{orderID}/items", orderHandler.GetOrderItems())

	router.Get("/api/items/{name}", stockHandler.GetStock())

	router.Get("/api/users/{userID}/wallet", walletHandler.GetWallet())
	router.Post("/api/users/{userID}/topup", walletHandler.TopUpWallet())

	router.Post("/api/webhooks/gateway", paymentHandler.GatewayWebhook())

	// routes that require authentication
	router.Group(func(group chi.Router) {
		group.Use(handler.AuthMiddleware(token))
		group.Post("/api/admin/orders/{orderID}/cancel", adminHandler.CancelOrder())
		group.Post("/api/admin/orders/{orderID}/ship", adminHandler.ShipOrder())
		group.Post("/api/admin/items", stockHandler.AddStock())
	})

	// expired order sweeper
	sweeper := worker.NewSweeper(orderService, cfg.SweepInterval)
	go sweeper.Run(ctx)

	logger.Log.Info("Running server", zap.String("addr", cfg.ServerAddr))

	srv := &http.Server{Addr: cfg.ServerAddr, Handler: router}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal("Error starting server", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Error shutting down server", zap.Error(err))
	}
}
