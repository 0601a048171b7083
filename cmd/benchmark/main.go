package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds the benchmark settings
var (
	targetURL   string
	brokers     string
	topic       string
	mode        string
	concurrency int
	duration    time.Duration
	dupRatio    float64
	amount      string
)

// Metrics
var (
	totalRequests uint64
	applied201    uint64
	duplicate200  uint64 // Redeliveries absorbed by the guard
	rejected422   uint64 // Ledger rejections (insufficient funds, validation)
	failOther     uint64
	published     uint64

	nextID uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "Payer base URL (http mode)")
	flag.StringVar(&brokers, "brokers", "localhost:9092", "Comma separated Kafka brokers (kafka mode)")
	flag.StringVar(&topic, "topic", "payments", "Payments topic (kafka mode)")
	flag.StringVar(&mode, "mode", "http", "Delivery mode: http | kafka")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.Float64Var(&dupRatio, "dup", 0.3, "Fraction of deliveries that reuse an already sent payment id")
	flag.StringVar(&amount, "amount", "USD 1.00", "Amount of each payment")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Dup: %.2f", mode, concurrency, duration, dupRatio)

	var deliver func(ctx context.Context, body []byte) error
	switch mode {
	case "http":
		client := &http.Client{Timeout: 5 * time.Second}
		deliver = func(ctx context.Context, body []byte) error { return postPayment(ctx, client, body) }
	case "kafka":
		w := &kafka.Writer{
			Addr:         kafka.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
		defer w.Close()
		deliver = func(ctx context.Context, body []byte) error { return publishPayment(ctx, w, body) }
	default:
		log.Fatalf("unknown mode %q", mode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(ctx, &wg, deliver)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(ctx context.Context, wg *sync.WaitGroup, deliver func(context.Context, []byte) error) {
	defer wg.Done()

	for ctx.Err() == nil {
		payload := map[string]interface{}{
			"id":      paymentID(),
			"account": "bench",
			"amount":  amount,
			"memo":    "benchmark payment\ngenerated at " + time.Now().Format(time.RFC3339Nano),
		}
		body, _ := json.Marshal(payload)

		if err := deliver(ctx, body); err != nil && ctx.Err() == nil {
			atomic.AddUint64(&failOther, 1)
		}
	}
}

// paymentID either mints a fresh id or, with probability dupRatio, reuses a recent one so
// that several workers race on the same payment.
func paymentID() string {
	last := atomic.LoadUint64(&nextID)
	if last > 0 && rand.Float64() < dupRatio {
		window := uint64(concurrency * 4)
		if window > last {
			window = last
		}
		return fmt.Sprintf("bench-%d", last-uint64(rand.Int63n(int64(window))))
	}
	return fmt.Sprintf("bench-%d", atomic.AddUint64(&nextID, 1))
}

func postPayment(ctx context.Context, client *http.Client, body []byte) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, targetURL+"/api/v1/payments", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	atomic.AddUint64(&totalRequests, 1)
	switch resp.StatusCode {
	case http.StatusCreated:
		atomic.AddUint64(&applied201, 1)
	case http.StatusOK:
		atomic.AddUint64(&duplicate200, 1)
	case http.StatusUnprocessableEntity:
		atomic.AddUint64(&rejected422, 1)
	default:
		atomic.AddUint64(&failOther, 1)
	}
	return nil
}

func publishPayment(ctx context.Context, w *kafka.Writer, body []byte) error {
	var key struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(body, &key)
	if err := w.WriteMessages(ctx, kafka.Message{Key: []byte(key.ID), Value: body}); err != nil {
		return err
	}
	atomic.AddUint64(&published, 1)
	return nil
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	pub := atomic.LoadUint64(&published)
	a201 := atomic.LoadUint64(&applied201)
	d200 := atomic.LoadUint64(&duplicate200)
	r422 := atomic.LoadUint64(&rejected422)
	fErr := atomic.LoadUint64(&failOther)

	sent := total + pub
	dupRate := 0.0
	if total > 0 {
		dupRate = float64(d200) / float64(total) * 100
	}

	results := map[string]interface{}{
		"mode":               mode,
		"duration_sec":       d.Seconds(),
		"deliveries":         sent,
		"throughput_tps":     float64(sent) / d.Seconds(),
		"distinct_ids":       atomic.LoadUint64(&nextID),
		"applied":            a201,
		"duplicates":         d200,
		"duplicate_rate_pct": dupRate,
		"rejected":           r422,
		"errors":             fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", mode)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
