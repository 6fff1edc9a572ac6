// Benchmark tool for load testing Kestrel's scoring endpoint.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 5000 -workers 20
//	go run ./cmd/benchmark -csv labelled.csv
//
// Without -csv a synthetic UPI workload is generated: mostly daytime
// low-value payments plus a fraction of late-night high-value transfers
// labelled as fraud. A CSV needs the columns identifier, amount, hour and
// is_fraud; merchant, category and location are optional.
//
// The tool reports latency percentiles, throughput and, since every row is
// labelled, a confusion matrix of Kestrel's Fraud verdicts.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olekukonko/tablewriter"
	"gonum.org/v1/gonum/stat"
)

// ScoreRequest is the Kestrel API request format
type ScoreRequest struct {
	Identifier string  `json:"identifier"`
	Amount     float64 `json:"amount"`
	Hour       int     `json:"hour"`
	Merchant   string  `json:"merchant,omitempty"`
	Category   string  `json:"category,omitempty"`
	Location   string  `json:"location,omitempty"`
}

// ScoreResponse is the subset of the Kestrel response the benchmark reads
type ScoreResponse struct {
	Transaction struct {
		ID        int64  `json:"id"`
		RiskScore int    `json:"risk_score"`
		Status    string `json:"status"`
	} `json:"transaction"`
	Warnings []string `json:"warnings"`
}

// Sample is one labelled transaction
type Sample struct {
	Request ScoreRequest
	IsFraud bool
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud scored as Fraud
	FalsePositives int64 // Legitimate scored as Fraud
	TrueNegatives  int64 // Legitimate scored as Legitimate
	FalseNegatives int64 // Fraud scored as Legitimate (missed fraud!)

	TotalProcessed int64
	TotalErrors    int64
	TotalWarnings  int64

	mu        sync.Mutex
	latencies []float64 // milliseconds
}

func (m *Metrics) observe(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, float64(d.Microseconds())/1000)
	m.mu.Unlock()
}

var (
	merchants = []string{"Chai Point", "BigBasket", "Swiggy", "IRCTC", "Zomato", "Reliance Fresh"}
	locations = []string{"Mumbai", "Delhi", "Pune", "Bengaluru", "Chennai"}
	cities    = []string{"Kolkata", "Jaipur", "Lucknow"}
)

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to a labelled CSV file (optional)")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	total := flag.Int("n", 1000, "Synthetic transactions to generate when no CSV is given")
	users := flag.Int("users", 200, "Distinct synthetic identifiers")
	fraudRate := flag.Float64("fraud-rate", 0.05, "Share of synthetic fraud transactions (0.0-1.0)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	seed := flag.Uint64("seed", 1, "Seed for the synthetic workload")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              KESTREL BENCHMARK - UPI Risk Scoring             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	var samples []Sample
	if *csvPath != "" {
		var err error
		samples, err = readCSV(*csvPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Loaded %d transactions from %s\n", len(samples), *csvPath)
	} else {
		samples = generate(*total, *users, *fraudRate, *seed)
		fmt.Printf("✓ Generated %d synthetic transactions\n", len(samples))
	}
	if len(samples) == 0 {
		fmt.Println("ERROR: nothing to send")
		os.Exit(1)
	}

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(samples, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func generate(n, users int, fraudRate float64, seed uint64) []Sample {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	users = max(users, 1)

	samples := make([]Sample, 0, n)
	for range n {
		id := fmt.Sprintf("user%04d@upi", rng.IntN(users))

		if rng.Float64() < fraudRate {
			samples = append(samples, Sample{
				Request: ScoreRequest{
					Identifier: id,
					Amount:     float64(20000 + rng.IntN(80000)),
					Hour:       rng.IntN(5),
					Merchant:   "Unknown Merchant",
					Location:   cities[rng.IntN(len(cities))],
				},
				IsFraud: true,
			})
			continue
		}

		samples = append(samples, Sample{
			Request: ScoreRequest{
				Identifier: id,
				Amount:     float64(50 + rng.IntN(4950)),
				Hour:       8 + rng.IntN(14),
				Merchant:   merchants[rng.IntN(len(merchants))],
				Category:   "Shopping",
				Location:   locations[rng.IntN(len(locations))],
			},
		})
	}
	return samples
}

func readCSV(path string) ([]Sample, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"identifier", "amount", "hour", "is_fraud"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	field := func(record []string, col string) string {
		i, ok := colIndex[col]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var samples []Sample
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := strconv.ParseFloat(field(record, "amount"), 64)
		if err != nil {
			continue
		}
		hour, err := strconv.Atoi(field(record, "hour"))
		if err != nil {
			continue
		}

		samples = append(samples, Sample{
			Request: ScoreRequest{
				Identifier: field(record, "identifier"),
				Amount:     amount,
				Hour:       hour,
				Merchant:   field(record, "merchant"),
				Category:   field(record, "category"),
				Location:   field(record, "location"),
			},
			IsFraud: field(record, "is_fraud") == "1",
		})
	}

	return samples, nil
}

func runBenchmark(samples []Sample, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	// Start workers
	for range max(numWorkers, 1) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := scoreTransaction(client, baseURL, s.Request)
				metrics.observe(time.Since(start))
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.Request.Identifier, err)
					}
					continue
				}
				if len(result.Warnings) > 0 {
					atomic.AddInt64(&metrics.TotalWarnings, 1)
				}

				// Calculate confusion matrix
				predicted := result.Transaction.Status == "Fraud"
				switch {
				case predicted && s.IsFraud:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case s.IsFraud:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				default:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != s.IsFraud {
						status = "✗"
					}
					fmt.Printf("%s %-14s | Amount: ₹%10.2f | Hour: %2d | Fraud: %-5v | Kestrel: %-10s (%3d)\n",
						status,
						s.Request.Identifier,
						s.Request.Amount,
						s.Request.Hour,
						s.IsFraud,
						result.Transaction.Status,
						result.Transaction.RiskScore,
					)
				}
			}
		}()
	}

	// Send work
	for _, s := range samples {
		work <- s
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func scoreTransaction(client *http.Client, baseURL string, req ScoreRequest) (*ScoreResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Summary holds the derived benchmark figures.
type Summary struct {
	Precision, Recall, F1, Accuracy float64
	P50, P95, P99, Mean             float64
	Throughput                      float64
}

func summarize(m *Metrics, duration time.Duration) Summary {
	var s Summary

	if m.TruePositives+m.FalsePositives > 0 {
		s.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		s.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * (s.Precision * s.Recall) / (s.Precision + s.Recall)
	}
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		s.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	if len(m.latencies) > 0 {
		lat := slices.Clone(m.latencies)
		slices.Sort(lat)
		s.P50 = stat.Quantile(0.50, stat.Empirical, lat, nil)
		s.P95 = stat.Quantile(0.95, stat.Empirical, lat, nil)
		s.P99 = stat.Quantile(0.99, stat.Empirical, lat, nil)
		s.Mean = stat.Mean(lat, nil)
	}
	if duration > 0 {
		s.Throughput = float64(m.TotalProcessed) / duration.Seconds()
	}
	return s
}

func printResults(m *Metrics, duration time.Duration) {
	s := summarize(m, duration)

	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 CONFUSION MATRIX\n")
	matrix := tablewriter.NewWriter(os.Stdout)
	matrix.SetHeader([]string{"Actual \\ Predicted", "Fraud", "Legitimate"})
	matrix.Append([]string{"Fraud", strconv.FormatInt(m.TruePositives, 10), strconv.FormatInt(m.FalseNegatives, 10)})
	matrix.Append([]string{"Legitimate", strconv.FormatInt(m.FalsePositives, 10), strconv.FormatInt(m.TrueNegatives, 10)})
	matrix.Render()

	fmt.Printf("\n🎯 SUMMARY\n")
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk([][]string{
		{"Processed", strconv.FormatInt(m.TotalProcessed, 10)},
		{"Errors", strconv.FormatInt(m.TotalErrors, 10)},
		{"With warnings", strconv.FormatInt(m.TotalWarnings, 10)},
		{"Precision", fmt.Sprintf("%.4f", s.Precision)},
		{"Recall", fmt.Sprintf("%.4f", s.Recall)},
		{"F1-Score", fmt.Sprintf("%.4f", s.F1)},
		{"Accuracy", fmt.Sprintf("%.4f", s.Accuracy)},
		{"Latency p50", fmt.Sprintf("%.2f ms", s.P50)},
		{"Latency p95", fmt.Sprintf("%.2f ms", s.P95)},
		{"Latency p99", fmt.Sprintf("%.2f ms", s.P99)},
		{"Latency mean", fmt.Sprintf("%.2f ms", s.Mean)},
		{"Throughput", fmt.Sprintf("%.2f tx/sec", s.Throughput)},
		{"Duration", duration.Round(time.Millisecond).String()},
	})
	table.Render()

	fmt.Println()
}
