package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"

	"github.com/bidhaus/auctiond/internal/dbconfig"
)

// Product mirrors the JSON snapshot structure
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	FloorPrice string `json:"floor_price"`
}

func main() {
	path := flag.String("file", "internal/assets/products.json", "path to products JSON snapshot")
	flag.Parse()

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var products []Product
	if err := json.Unmarshal(data, &products); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	cfg := dbconfig.NewConfigFromEnv()
	db, err := cfg.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	// 3) Upsert and count
	var (
		total    = len(products)
		inserted int
		skipped  int
		errs     int
	)

	for _, p := range products {
		res, err := db.Exec(`
            INSERT INTO products (id, name, floor_price)
            VALUES ($1, $2, $3)
            ON CONFLICT (id) DO NOTHING
        `, p.ID, p.Name, p.FloorPrice)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error inserting product %s: %v\n", p.ID, err)
			errs++
			continue
		}
		affected, err := res.RowsAffected()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading result for product %s: %v\n", p.ID, err)
			errs++
			continue
		}
		if affected == 1 {
			inserted++
		} else {
			skipped++
		}
	}

	// 4) Print summary
	fmt.Printf(
		"Products seed complete: %d total, %d inserted, %d skipped, %d errors\n",
		total, inserted, skipped, errs,
	)
}
