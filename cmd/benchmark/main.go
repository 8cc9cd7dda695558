package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the benchmark settings
var (
	targetURL    string
	concurrency  int
	duration     time.Duration
	workload     string
	manifestPath string
	role         string
)

// Metrics
var (
	totalRequests uint64
	borrowed201   uint64
	returned200   uint64
	fail409       uint64 // No copies, loan limit, duplicate loan
	fail503       uint64 // Lock timeouts
	failOther     uint64
)

type manifest struct {
	Members []uuid.UUID `json:"members"`
	Books   []uuid.UUID `json:"books"`
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.StringVar(&manifestPath, "manifest", "seed.json", "Seeder output with member and book ids")
	flag.StringVar(&role, "role", "LIBRARIAN", "Principal role sent with each request")
}

func main() {
	flag.Parse()

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("Unable to read manifest: %v", err)
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		log.Fatalf("Invalid manifest: %v", err)
	}
	if len(m.Members) == 0 || len(m.Books) == 0 {
		log.Fatal("Manifest has no members or books, run the seeder first")
	}

	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, m)
	}

	wg.Wait()
	printResults(time.Since(start))
}

// worker borrows a book and immediately returns it, so copies keep cycling.
func worker(wg *sync.WaitGroup, start time.Time, m manifest) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		member, book := pick(m)

		body, _ := json.Marshal(map[string]uuid.UUID{"member_id": member, "book_id": book})
		code, id := post(client, targetURL+"/api/v1/borrowing/borrow", body)
		record(code)
		if code != http.StatusCreated || id == uuid.Nil {
			continue
		}

		code, _ = post(client, targetURL+"/api/v1/borrowing/"+id.String()+"/return", nil)
		record(code)
	}
}

func post(client *http.Client, url string, body []byte) (int, uuid.UUID) {
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Principal-Role", role)

	resp, err := client.Do(req)
	if err != nil {
		return 0, uuid.Nil
	}
	defer resp.Body.Close()

	var out struct {
		ID uuid.UUID `json:"id"`
	}
	if resp.StatusCode == http.StatusCreated {
		json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out.ID
}

func record(code int) {
	if code == 0 {
		atomic.AddUint64(&failOther, 1)
		return
	}
	atomic.AddUint64(&totalRequests, 1)
	switch code {
	case http.StatusCreated:
		atomic.AddUint64(&borrowed201, 1)
	case http.StatusOK:
		atomic.AddUint64(&returned200, 1)
	case http.StatusConflict:
		atomic.AddUint64(&fail409, 1)
	case http.StatusServiceUnavailable:
		atomic.AddUint64(&fail503, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
}

func pick(m manifest) (uuid.UUID, uuid.UUID) {
	member := m.Members[rand.Intn(len(m.Members))]

	if workload == "hotspot" {
		// Hotspot: 90% of traffic contends for the first book
		if rand.Float32() < 0.90 {
			return member, m.Books[0]
		}
	}

	// Uniform Random
	return member, m.Books[rand.Intn(len(m.Books))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	b201 := atomic.LoadUint64(&borrowed201)
	r200 := atomic.LoadUint64(&returned200)
	f409 := atomic.LoadUint64(&fail409)
	f503 := atomic.LoadUint64(&fail503)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	var conflictRate float64
	if total > 0 {
		conflictRate = float64(f409) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"borrows_created":   b201,
		"returns_ok":        r200,
		"conflicts":         f409,
		"conflict_rate_pct": conflictRate,
		"lock_timeouts":     f503,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
