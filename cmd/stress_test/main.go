package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/registration/internal/adapter/storage"
	"github.com/rl1809/registration/internal/core/domain"
	"github.com/rl1809/registration/internal/core/service"
)

const (
	partsInSeries = 10
	totalRequests = 50
)

// Set STRESS_DRIVER and STRESS_DSN to run against mysql or postgres instead
// of a throwaway SQLite file.
func main() {
	ctx := context.Background()

	store, cleanup := openStore(ctx)
	defer cleanup()

	svc := service.NewRegistrationService(store, "stress-test")
	supplier := uuid.New()
	caller := domain.Caller{Subject: "stress", SupplierID: supplier}

	// Seed one series with several parts
	var seriesID uuid.UUID
	var parts []uuid.UUID
	for i := 0; i < partsInSeries; i++ {
		part, err := svc.CreateDraftPart(ctx, caller, service.DraftPartInput{
			SeriesID:    seriesID,
			SupplierID:  supplier,
			Title:       "Stress Rollator",
			IsoCategory: "12060101",
			HmsArtNr:    fmt.Sprintf("HMS-%d", i),
			LevArtNr:    fmt.Sprintf("LEV-%d-%s", i, supplier.String()[:8]),
		})
		if err != nil {
			log.Fatalf("failed to seed part %d: %v", i, err)
		}
		seriesID = part.SeriesUUID
		parts = append(parts, part.ID)
	}

	// Counters
	var successCount, conflictCount, failCount atomic.Int32
	count := func(err error) {
		switch {
		case err == nil:
			successCount.Add(1)
		case errors.Is(err, domain.ErrVersionConflict):
			conflictCount.Add(1)
		default:
			failCount.Add(1)
			log.Printf("unexpected error: %v", err)
		}
	}

	// Race promotions across the series
	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			count(svc.ChangeToMainProduct(ctx, caller, seriesID, parts[n%len(parts)]))
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	promoted, conflicts, failed := successCount.Load(), conflictCount.Load(), failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Parts in series:  %d\n", partsInSeries)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", promoted)
	fmt.Printf("Conflicts:        %d\n", conflicts)
	fmt.Printf("Failed:           %d\n", failed)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	products, err := svc.ListSeriesProducts(ctx, seriesID)
	if err != nil {
		log.Fatalf("failed to list products: %v", err)
	}
	mains := 0
	for _, p := range products {
		if p.MainProduct {
			mains++
		}
	}
	if mains == 1 {
		fmt.Println("PASS: Exactly one main product")
	} else {
		fmt.Printf("FAIL: Expected 1 main product, got %d\n", mains)
	}
	if promoted+conflicts == totalRequests {
		fmt.Println("PASS: Every request either committed or reported a conflict")
	} else {
		fmt.Printf("FAIL: %d requests ended in neither success nor conflict\n", failed)
	}

	// Race same-version updates on one part
	successCount.Store(0)
	conflictCount.Store(0)
	failCount.Store(0)
	current, err := svc.GetPart(ctx, parts[0])
	if err != nil {
		log.Fatalf("failed to read part: %v", err)
	}
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.UpdatePart(ctx, caller, current.ID, current.Version, func(p *domain.Part) error {
				p.Title = fmt.Sprintf("Writer %d", n)
				return nil
			})
			count(err)
		}(i)
	}
	wg.Wait()

	if successCount.Load() == 1 {
		fmt.Printf("PASS: 1 of %d same-version updates committed\n", totalRequests)
	} else {
		fmt.Printf("FAIL: Expected 1 committed update, got %d\n", successCount.Load())
	}
}

func openStore(ctx context.Context) (*storage.SQLStore, func()) {
	driver, dsn := os.Getenv("STRESS_DRIVER"), os.Getenv("STRESS_DSN")
	var dir string
	if driver == "" {
		var err error
		dir, err = os.MkdirTemp("", "registration-stress")
		if err != nil {
			log.Fatalf("failed to create temp dir: %v", err)
		}
		driver = string(storage.DialectSQLite)
		dsn = "file:" + filepath.Join(dir, "stress.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	dialect, err := storage.ParseDialect(driver)
	if err != nil {
		log.Fatal(err)
	}
	pool := storage.PoolConfig{MaxOpenConns: 50, MaxIdleConns: 25}
	if dialect == storage.DialectSQLite {
		pool = storage.PoolConfig{MaxOpenConns: 1}
	}
	db, err := storage.Open(ctx, dialect, dsn, pool)
	if err != nil {
		log.Fatalf("failed to connect %s: %v", dialect, err)
	}
	if err := storage.Migrate(ctx, db, dialect); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	return storage.NewSQLStore(db, dialect), func() {
		db.Close()
		if dir != "" {
			os.RemoveAll(dir)
		}
	}
}
