package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/rl1809/cart-checkout/internal/adapter/handler"
	"github.com/rl1809/cart-checkout/internal/adapter/publisher"
	"github.com/rl1809/cart-checkout/internal/adapter/storage"
	"github.com/rl1809/cart-checkout/internal/clock"
	"github.com/rl1809/cart-checkout/internal/config"
	"github.com/rl1809/cart-checkout/internal/core/service"
	"github.com/rl1809/cart-checkout/internal/metrics"
	"github.com/rl1809/cart-checkout/internal/port"
)

// pendingMargin keeps an in-flight idempotency marker alive a little past
// the checkout deadline.
const pendingMargin = 10 * time.Second

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize store
	var (
		store port.Store
		db    *sql.DB
	)
	switch cfg.StoreBackend {
	case config.BackendMySQL:
		if cfg.RunMigrations {
			if err := storage.RunMigrations(cfg.MySQLDSN, logger); err != nil {
				logger.Fatalf("migrate: %v", err)
			}
		}
		db, err = storage.OpenMySQL(ctx, cfg.MySQLDSN, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
		if err != nil {
			logger.Fatalf("failed to connect mysql: %v", err)
		}
		store = storage.NewMySQLStore(db, cfg.LockWaitTimeout)
		logger.Println("connected to mysql")
	default:
		store = storage.NewMemoryStore()
		logger.Println("using in-memory store")
	}

	// Initialize Redis
	var (
		rdb   *redis.Client
		cache port.CartCache
		guard port.CheckoutGuard
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatalf("failed to connect redis: %v", err)
		}
		cache = storage.NewRedisCartCache(rdb, cfg.CartCacheTTL)
		guard = storage.NewRedisCheckoutGuard(rdb, cfg.CheckoutTimeout+pendingMargin, cfg.IdempotencyTTL)
		logger.Println("connected to redis")
	}

	// Initialize publisher
	pub, err := newPublisher(cfg, logger)
	if err != nil {
		logger.Fatalf("failed to start publisher: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	clk := clock.NewSystem()

	// Initialize services
	carts := service.NewCartService(store, cache, clk, m, logger, cfg.MaxLineQuantity)
	checkout := service.NewCheckoutService(store, cache, guard, clk, m, logger, cfg.CheckoutTimeout)
	orders := service.NewOrderService(store, clk, m, logger)
	inventory := service.NewInventoryService(store, clk, logger)
	relay := service.NewOutboxRelay(store.Outbox(), pub, clk, m, logger, cfg.OutboxInterval, cfg.OutboxBatch)

	relayCtx, stopRelay := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Run(relayCtx)
	}()
	logger.Printf("outbox relay polling every %s", cfg.OutboxInterval)

	// Initialize gRPC server
	grpcServer := grpc.NewServer()
	handler.RegisterCheckoutServer(grpcServer, handler.NewGRPCHandler(carts, checkout, orders))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}

	go func() {
		logger.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Printf("gRPC server error: %v", err)
		}
	}()

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(carts, checkout, orders, inventory, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewRouter(httpHandler, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Printf("HTTP server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	logger.Println("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Println("gRPC server stopped")

	// One last flush so events committed by in-flight requests are not left
	// waiting for the next start.
	stopRelay()
	wg.Wait()
	relay.Flush(shutdownCtx)
	logger.Println("outbox relay stopped")

	if err := pub.Close(); err != nil {
		logger.Printf("close publisher: %v", err)
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Println("connections closed")
}

func newPublisher(cfg config.Config, logger *log.Logger) (port.EventPublisher, error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		logger.Printf("publishing events to kafka topic %s", cfg.KafkaTopic)
		return publisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	case cfg.RabbitMQURL != "":
		logger.Printf("publishing events to rabbitmq queue %s", cfg.RabbitMQQueue)
		return publisher.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue)
	default:
		logger.Println("no broker configured, events are logged")
		return publisher.NewLogPublisher(logger), nil
	}
}
