package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	payers      int
	students    int
)

// Metrics
var (
	totalRequests uint64
	success200    uint64 // Initiated
	fail409       uint64 // Another transaction already active for the bill
	fail423       uint64 // Lock busy
	fail422       uint64 // Insufficient funds
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&payers, "payers", 1000, "Seeded payer accounts (IDs 1..n)")
	flag.IntVar(&students, "students", 1000, "Seeded students (523H0001..)")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// worker fires initiate requests. Confirmation needs the OTP, so this
// measures contention on the payer and bill locks only.
func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		payer, student := pick()
		body, _ := json.Marshal(map[string]string{"student_id": student})

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/payments/initiate", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Payer-ID", strconv.FormatInt(payer, 10))

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusConflict:
			atomic.AddUint64(&fail409, 1)
		case http.StatusLocked:
			atomic.AddUint64(&fail423, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&fail422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pick() (int64, string) {
	// Hotspot: 90% of traffic targets one student's bill.
	if workload == "hotspot" && rand.Float32() < 0.90 {
		return int64(rand.Intn(payers) + 1), "523H0001"
	}
	return int64(rand.Intn(payers) + 1), fmt.Sprintf("523H%04d", rand.Intn(students)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s200 := atomic.LoadUint64(&success200)
	f409 := atomic.LoadUint64(&fail409)
	f423 := atomic.LoadUint64(&fail423)
	f422 := atomic.LoadUint64(&fail422)
	fErr := atomic.LoadUint64(&failOther)

	var rejectRate float64
	if total > 0 {
		rejectRate = float64(f409+f423) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":            workload,
		"duration_sec":        d.Seconds(),
		"total_requests":      total,
		"throughput_rps":      float64(total) / d.Seconds(),
		"initiated":           s200,
		"rejected_conflict":   f409,
		"rejected_busy":       f423,
		"insufficient_funds":  f422,
		"contention_rate_pct": rejectRate,
		"errors":              fErr,
	}

	// JSON on stdout, also saved per workload.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
