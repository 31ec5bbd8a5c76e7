package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/cart-checkout/internal/adapter/storage"
	"github.com/rl1809/cart-checkout/internal/clock"
	"github.com/rl1809/cart-checkout/internal/core/domain"
	"github.com/rl1809/cart-checkout/internal/core/service"
	"github.com/rl1809/cart-checkout/internal/port"
)

const (
	productID     = 9001
	initialStock  = 20
	totalRequests = 50
)

// Fires concurrent checkouts at a low-stock product and checks that exactly
// initialStock of them succeed. Set MYSQL_DSN to run against MySQL instead
// of the in-memory store.
func main() {
	ctx := context.Background()
	quiet := log.New(io.Discard, "", 0)

	var store port.Store
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		if err := storage.RunMigrations(dsn, quiet); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		db, err := storage.OpenMySQL(ctx, dsn, totalRequests, totalRequests)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		defer db.Close()
		store = storage.NewMySQLStore(db, 3*time.Second)
	} else {
		store = storage.NewMemoryStore()
	}

	err := store.Inventory().Save(ctx, domain.Product{
		ID:         productID,
		Name:       "Stress Test Item",
		UnitPrice:  decimal.RequireFromString("9.99"),
		StockCount: initialStock,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Fatalf("failed to set stock: %v", err)
	}

	clk := clock.NewSystem()
	carts := service.NewCartService(store, nil, clk, nil, quiet, 0)
	checkout := service.NewCheckoutService(store, nil, nil, clk, nil, quiet, 10*time.Second)

	runID := time.Now().UnixNano()
	session := func(i int) string { return fmt.Sprintf("stress-%d-%d", runID, i) }
	for i := 0; i < totalRequests; i++ {
		if _, err := carts.AddItem(ctx, session(i), productID, 1); err != nil {
			log.Fatalf("failed to fill cart %d: %v", i, err)
		}
	}

	// Counters
	var successCount, soldOutCount, otherCount atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			_, err := checkout.Checkout(ctx, service.CheckoutInput{
				SessionID:       session(i),
				Customer:        domain.Customer{Name: "Stress Buyer", Email: fmt.Sprintf("buyer%d@example.com", i)},
				ShippingAddress: "1 Load Test Road, Testville",
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("checkout %d: %v", i, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	soldOut := soldOutCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Checkouts:  %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == initialStock && soldOut == totalRequests-initialStock {
		fmt.Printf("PASS: Exactly %d checkouts succeeded, %d sold out\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d sold out, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, soldOut)
	}

	product, err := store.Inventory().Get(ctx, productID)
	if err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock:      %d\n", product.StockCount)

	if product.StockCount == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", product.StockCount)
	}
}
