// Benchmark tool for testing Kestrel against PaySim fraud data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/paysim.csv -url http://localhost:8080
//
// This tool:
//   1. Reads PaySim transaction data (with fraud labels)
//   2. Groups transactions into per-entity histories and ingests them
//   3. Scores each entity through POST /score
//   4. Compares Kestrel's flag with the actual fraud labels
//   5. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// PaySimTransaction represents a row from the PaySim dataset
type PaySimTransaction struct {
	Step           int
	Type           string
	Amount         float64
	NameOrig       string
	OldBalanceOrg  float64
	NewBalanceOrig float64
	NameDest       string
	OldBalanceDest float64
	NewBalanceDest float64
	IsFraud        bool
	IsFlaggedFraud bool
}

// EntityHistory is one scoring subject: every PaySim transaction
// originated by a single account, plus whether any of them is labeled
// fraud.
type EntityHistory struct {
	EntityID string
	Txs      []PaySimTransaction
	HasFraud bool
}

// IngestRequest is the Kestrel transaction ingest format.
type IngestRequest struct {
	ID           string    `json:"id"`
	EntityID     string    `json:"entityId"`
	Amount       float64   `json:"amount"`
	Currency     string    `json:"currency"`
	MerchantName string    `json:"merchantName,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ScoreRequest is the Kestrel POST /score format.
type ScoreRequest struct {
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
}

// ScoreResponse is the subset of the assessment the benchmark needs.
type ScoreResponse struct {
	OverallRiskScore float64 `json:"overallRiskScore"`
	RiskLevel        string  `json:"riskLevel"`
	ThresholdUsed    float64 `json:"thresholdUsed"`
	IsFlagged        bool    `json:"isFlagged"`
	SampleSize       int     `json:"sampleSize"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud entity flagged
	FalsePositives int64 // Clean entity flagged
	TrueNegatives  int64 // Clean entity passed
	FalseNegatives int64 // Fraud entity passed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to PaySim CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to read (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud entities")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-fraud (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each entity result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/paysim.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - PaySim Fraud Detection           ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Fraud Only:  %v\n", *fraudOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read PaySim data
	fmt.Printf("\nReading PaySim data from %s...\n", *csvPath)
	transactions, err := readPaySimCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	// Group into entity histories
	entities := groupEntities(transactions, *fraudOnly, *sampleRate)
	fraudCount := 0
	for _, e := range entities {
		if e.HasFraud {
			fraudCount++
		}
	}
	fmt.Printf("✓ Grouped into %d entities\n", len(entities))
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(entities)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(entities)-fraudCount, 100*float64(len(entities)-fraudCount)/float64(len(entities)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(entities, *baseURL, *workers, *verbose)
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

func readPaySimCSV(path string, limit int) ([]PaySimTransaction, error) {
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
		colIndex[strings.ToLower(col)] = i
	}

	var transactions []PaySimTransaction

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		step, _ := strconv.Atoi(record[colIndex["step"]])
		amount, _ := strconv.ParseFloat(record[colIndex["amount"]], 64)
		oldBalanceOrg, _ := strconv.ParseFloat(record[colIndex["oldbalanceorg"]], 64)
		newBalanceOrig, _ := strconv.ParseFloat(record[colIndex["newbalanceorig"]], 64)
		oldBalanceDest, _ := strconv.ParseFloat(record[colIndex["oldbalancedest"]], 64)
		newBalanceDest, _ := strconv.ParseFloat(record[colIndex["newbalancedest"]], 64)

		tx := PaySimTransaction{
			Step:           step,
			Type:           record[colIndex["type"]],
			Amount:         amount,
			NameOrig:       record[colIndex["nameorig"]],
			OldBalanceOrg:  oldBalanceOrg,
			NewBalanceOrig: newBalanceOrig,
			NameDest:       record[colIndex["namedest"]],
			OldBalanceDest: oldBalanceDest,
			NewBalanceDest: newBalanceDest,
			IsFraud:        record[colIndex["isfraud"]] == "1",
			IsFlaggedFraud: record[colIndex["isflaggedfraud"]] == "1",
		}

		transactions = append(transactions, tx)

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

// groupEntities buckets transactions by originating account. Sampling and
// fraud-only filtering apply at the entity level, since that is the unit
// Kestrel scores.
func groupEntities(transactions []PaySimTransaction, fraudOnly bool, sampleRate float64) []EntityHistory {
	byEntity := make(map[string]*EntityHistory)
	for _, tx := range transactions {
		e, ok := byEntity[tx.NameOrig]
		if !ok {
			e = &EntityHistory{EntityID: tx.NameOrig}
			byEntity[tx.NameOrig] = e
		}
		e.Txs = append(e.Txs, tx)
		if tx.IsFraud {
			e.HasFraud = true
		}
	}

	ids := make([]string, 0, len(byEntity))
	for id := range byEntity {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var entities []EntityHistory
	sampleCounter := 0
	for _, id := range ids {
		e := byEntity[id]
		if fraudOnly && !e.HasFraud {
			continue
		}
		if !e.HasFraud && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}
		entities = append(entities, *e)
	}
	return entities
}

func runBenchmark(entities []EntityHistory, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan EntityHistory, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for entity := range work {
				start := time.Now()
				result, err := scoreEntity(client, baseURL, entity)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", entity.EntityID, err)
					}
					continue
				}

				// Track actual labels
				if entity.HasFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				// Calculate confusion matrix
				predicted := result.IsFlagged
				actual := entity.HasFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					name := entity.EntityID
					if len(name) > 10 {
						name = name[:10]
					}
					fmt.Printf("%s %-10s | Txs: %4d | Fraud: %-5v | Kestrel: %-5v (%.2f vs %.2f) | Level: %s\n",
						status,
						name,
						len(entity.Txs),
						entity.HasFraud,
						result.IsFlagged,
						result.OverallRiskScore,
						result.ThresholdUsed,
						result.RiskLevel,
					)
				}
			}
		}()
	}

	// Send work
	for _, e := range entities {
		work <- e
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

// scoreEntity ingests the entity's history and requests a composite
// assessment. PaySim steps are hours; they map onto a synthetic timeline
// ending now so every transaction lands inside the lookback window.
func scoreEntity(client *http.Client, baseURL string, entity EntityHistory) (*ScoreResponse, error) {
	maxStep := 0
	for _, tx := range entity.Txs {
		if tx.Step > maxStep {
			maxStep = tx.Step
		}
	}
	end := time.Now().UTC()

	for i, tx := range entity.Txs {
		req := IngestRequest{
			ID:           fmt.Sprintf("%s-%d", entity.EntityID, i),
			EntityID:     entity.EntityID,
			Amount:       tx.Amount,
			Currency:     "USD",
			MerchantName: tx.NameDest,
			Timestamp:    end.Add(-time.Duration(maxStep-tx.Step) * time.Hour),
		}
		if err := postJSON(client, baseURL+"/transactions", req, http.StatusCreated, nil); err != nil {
			return nil, fmt.Errorf("ingest tx %d: %w", i, err)
		}
	}

	var result ScoreResponse
	req := ScoreRequest{EntityID: entity.EntityID, EntityType: "user"}
	if err := postJSON(client, baseURL+"/score", req, http.StatusOK, &result); err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	return &result, nil
}

func postJSON(client *http.Client, url string, body any, wantStatus int, into any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if into != nil {
		return json.NewDecoder(resp.Body).Decode(into)
	}
	return nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Entities Scored:  %d\n", m.TotalProcessed)
	fmt.Printf("   Fraud Entities:   %d\n", m.TotalFraud)
	fmt.Printf("   Clean Entities:   %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 Flagged      Passed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		eps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f entities/sec\n", eps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
