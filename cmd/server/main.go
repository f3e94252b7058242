package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment-service/config"
	"fulfillment-service/internal/api"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/client"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/resilience"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"
	"fulfillment-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.ServiceName, cfg.Observ.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting fulfillment service")

	tp, err := util.InitTracer(cfg.Server.ServiceName, cfg.Observ.TraceExporter, cfg.Observ.TraceEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	var redisClient *redisclient.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, running without event cache and payment locks", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			logger.Info("Redis connected")
		}
	}

	bus := newEventBus(cfg, redisClient)
	connectCtx, connectCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := bus.Connect(connectCtx); err != nil {
		logger.Error("Event bus not connected", zap.Error(err))
	} else {
		logger.Info("Event bus connected",
			zap.String("broker", cfg.Broker.Kind),
			zap.Bool("durable", cfg.Broker.Durable()))
	}
	connectCancel()

	inventoryService := service.NewInventoryService(db, bus, cfg.Business.LowStockThreshold)

	var inventoryClient service.InventoryClient
	inventoryPolicy := newPolicy("inventory", cfg.Resilience)
	if cfg.Services.InventoryURL != "" {
		inventoryClient = client.NewInventoryClient(cfg.Services.InventoryURL, inventoryPolicy, nil)
	} else {
		inventoryClient = service.NewLocalInventoryClient(inventoryService, inventoryPolicy)
	}
	orderService := service.NewOrderService(db, inventoryClient, bus)

	var orderCallback service.OrderCallback
	orderPolicy := newPolicy("order", cfg.Resilience)
	if cfg.Services.OrderURL != "" {
		orderCallback = client.NewOrderCallback(cfg.Services.OrderURL, orderPolicy, nil)
	} else {
		orderCallback = service.NewLocalOrderCallback(orderService, orderPolicy)
	}

	paymentOpts := service.PaymentOptions{
		DefaultCurrency: cfg.Business.DefaultCurrency,
		DefaultMethod:   cfg.Business.DefaultPaymentMethod,
	}
	if redisClient != nil {
		paymentOpts.Locker = redisClient
	}
	gateway := service.NewSimulatedGateway(cfg.Business.GatewaySuccessRate, cfg.Business.GatewayMinLatency, cfg.Business.GatewayMaxLatency)
	paymentService := service.NewPaymentService(db, gateway, orderCallback, bus, paymentOpts)

	sagaOrchestrator := service.NewSagaOrchestrator(db, paymentService, cfg.Business.AutoPaymentOnConfirm)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sagaWorker := worker.NewSagaWorker(bus, sagaOrchestrator)
	go func() {
		if err := sagaWorker.Start(workerCtx); err != nil {
			logger.Error("Saga worker error", zap.Error(err))
		}
	}()

	health := resilience.NewHealthAggregator(3 * time.Second)
	health.Register("database", db.Ping)
	health.Register("event_bus", bus.Ping)
	if redisClient != nil {
		health.Register("redis", redisClient.Ping)
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, inventoryService, paymentService, bus, health)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, api.NewHealthServer(health))

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Server.GRPCHealthPort))
	if err != nil {
		logger.Fatal("Failed to listen on gRPC health port", zap.Error(err))
	}
	go func() {
		logger.Info("Starting gRPC health server", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("gRPC health server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	workerCancel()
	sagaWorker.Stop()
	if err := bus.Disconnect(shutdownCtx); err != nil {
		logger.Error("Failed to disconnect event bus", zap.Error(err))
	}

	logger.Info("Server exited")
}

// newEventBus picks the durable transport named by the broker config, or the
// in-memory bus.
func newEventBus(cfg *config.Config, redisClient *redisclient.Client) broker.EventBus {
	var cache broker.EventCache
	if redisClient != nil {
		cache = redisClient
	}

	switch cfg.Broker.Kind {
	case "kafka":
		transport := broker.NewKafkaTransport(cfg.Broker.KafkaBrokers, cfg.Broker.ConsumerGroup)
		return broker.NewDurableBus(transport, cache, cfg.Broker.BufferSize)
	case "rabbitmq":
		transport := broker.NewRabbitMQTransport(cfg.Broker.RabbitMQURL, cfg.Broker.RabbitExchange, cfg.Broker.ConsumerGroup)
		return broker.NewDurableBus(transport, cache, cfg.Broker.BufferSize)
	default:
		return broker.NewVolatileBus(cfg.Broker.BufferSize)
	}
}

func newPolicy(name string, rc config.ResilienceConfig) *resilience.Policy {
	return resilience.NewPolicy(resilience.PolicyConfig{
		Breaker: resilience.BreakerSettings{
			Name:            name,
			Window:          rc.BreakerWindow,
			Buckets:         rc.BreakerBuckets,
			ErrorThreshold:  rc.BreakerErrorThreshold,
			VolumeThreshold: rc.BreakerVolumeThreshold,
			Timeout:         rc.CallTimeout,
			Cooldown:        rc.BreakerCooldown,
		},
		RetryBaseDelay: rc.RetryBaseDelay,
		MaxRetries:     rc.RetryMaxRetries,
		BulkheadSize:   rc.BulkheadSize,
		BulkheadQueue:  rc.BulkheadQueue,
	})
}
