package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/tuitionpay/internal/config"
	"github.com/punchamoorthee/tuitionpay/internal/domain"
)

const (
	InitialBalance = 50_000_000 // VND
	MinTuition     = 1_500_000
	MaxTuition     = 25_000_000
)

func main() {
	payers := flag.Int("payers", 1000, "number of payer accounts")
	students := flag.Int("students", 1000, "number of unpaid bills for the current period")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v\n", err)
	}
	defer conn.Close(ctx)

	log.Println("--- Seeding Database ---")

	var count int
	conn.QueryRow(ctx, "SELECT COUNT(*) FROM accounts").Scan(&count)
	if count >= *payers {
		log.Printf("Database already has %d accounts. Skipping.", count)
		return
	}

	// Bulk insert with CopyFrom. Amounts are whole VND, so int64 maps
	// cleanly onto NUMERIC.
	accounts := make([][]any, 0, *payers)
	for i := 1; i <= *payers; i++ {
		accounts = append(accounts, []any{
			fmt.Sprintf("payer%04d", i),
			fmt.Sprintf("Payer %04d", i),
			fmt.Sprintf("payer%04d@example.edu", i),
			fmt.Sprintf("09%08d", i),
			int64(InitialBalance),
		})
	}
	n, err := conn.CopyFrom(ctx,
		pgx.Identifier{"accounts"},
		[]string{"username", "full_name", "email", "phone", "balance"},
		pgx.CopyFromRows(accounts),
	)
	if err != nil {
		log.Fatalf("Bulk insert accounts failed: %v", err)
	}
	log.Printf("Seeded %d accounts.", n)

	period := domain.CurrentPeriod(time.Now())
	bills := make([][]any, 0, *students)
	for i := 1; i <= *students; i++ {
		amount := MinTuition + rand.Int63n((MaxTuition-MinTuition)/100_000+1)*100_000
		bills = append(bills, []any{
			fmt.Sprintf("523H%04d", i),
			fmt.Sprintf("Student %04d", i),
			period,
			amount,
		})
	}
	n, err = conn.CopyFrom(ctx,
		pgx.Identifier{"bills"},
		[]string{"student_id", "student_name", "period", "amount"},
		pgx.CopyFromRows(bills),
	)
	if err != nil {
		log.Fatalf("Bulk insert bills failed: %v", err)
	}
	log.Printf("Seeded %d unpaid bills for period %s.", n, period)
}
