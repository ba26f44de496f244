// Command migrate applies or rolls back the embedded schema migrations.
//
//	migrate -direction up
package main

import (
	"flag"
	"log"

	"github.com/punchamoorthee/tuitionpay/internal/config"
	"github.com/punchamoorthee/tuitionpay/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "up | down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if err := migrate.Run(cfg.DBSource, *direction); err != nil {
		log.Fatalf("migrate %s: %v", *direction, err)
	}
	log.Printf("migrate %s: done", *direction)
}
