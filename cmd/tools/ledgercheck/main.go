package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/lojaops/backend-loja/internal/audit"
	"github.com/lojaops/backend-loja/internal/config"
	"github.com/lojaops/backend-loja/internal/db"
	"github.com/lojaops/backend-loja/internal/store/postgres"
)

// ledgercheck replays the inventory movement log for every product (or one
// product passed via -product) and compares the result against the stored
// quantity. Exit code 0 = clean, 1 = drift found, 2 = other error.
func main() {
	productFlag := flag.String("product", "", "check a single product id")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgercheck: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, "ledgercheck")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledgercheck: connect database: %v\n", err)
		os.Exit(2)
	}
	defer pool.Close()

	st := postgres.New(pool, cfg.LockTimeout)
	trail := audit.Trail{Store: st}

	var ids []uuid.UUID
	if *productFlag != "" {
		id, err := uuid.Parse(*productFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledgercheck: invalid product id %q\n", *productFlag)
			os.Exit(2)
		}
		ids = []uuid.UUID{id}
	} else {
		ids, err = st.ProductIDs(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledgercheck: list products: %v\n", err)
			os.Exit(2)
		}
	}

	drift := 0
	for _, id := range ids {
		replayed, err := trail.Replay(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "DRIFT %s: %v\n", id, err)
			drift++
			continue
		}
		product, err := st.GetProduct(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ledgercheck: load product %s: %v\n", id, err)
			os.Exit(2)
		}
		if !replayed.Equal(product.Quantity) {
			fmt.Fprintf(os.Stderr, "DRIFT %s (%s): ledger says %s, row says %s\n",
				id, product.Name, replayed, product.Quantity)
			drift++
		}
	}

	if drift > 0 {
		fmt.Fprintf(os.Stderr, "ledgercheck: %d of %d products drifted\n", drift, len(ids))
		os.Exit(1)
	}
	fmt.Printf("ledgercheck: %d products OK\n", len(ids))
}
