//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

const (
	baseURL = "http://localhost:8080"
	baseLat = 12.9716
	baseLng = 77.5946
)

var carClasses = []string{"ECONOMY", "COMFORT", "BUSINESS", "XL"}

type Stats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	TotalLatency    int64
	MinLatency      int64
	MaxLatency      int64
}

func newStats() *Stats {
	return &Stats{MinLatency: int64(^uint64(0) >> 1)}
}

func (s *Stats) record(latency int64, ok bool) {
	atomic.AddInt64(&s.TotalRequests, 1)
	atomic.AddInt64(&s.TotalLatency, latency)
	if !ok {
		atomic.AddInt64(&s.FailedRequests, 1)
		return
	}
	atomic.AddInt64(&s.SuccessRequests, 1)

	for {
		old := atomic.LoadInt64(&s.MinLatency)
		if latency >= old || atomic.CompareAndSwapInt64(&s.MinLatency, old, latency) {
			break
		}
	}
	for {
		old := atomic.LoadInt64(&s.MaxLatency)
		if latency <= old || atomic.CompareAndSwapInt64(&s.MaxLatency, old, latency) {
			break
		}
	}
}

type actor struct {
	id    string
	token string
}

func main() {
	fmt.Println("Dispatch Load Test")
	fmt.Println("==================")

	fmt.Println("\n1. Issuing tokens and bringing drivers online...")
	clients, drivers := createActors(50, 100)
	if len(clients) == 0 || len(drivers) == 0 {
		log.Fatal("Failed to create test actors (is ENV=production? /v1/auth/token is disabled there)")
	}
	fmt.Printf("Ready: %d clients and %d online drivers\n", len(clients), len(drivers))

	fmt.Println("\n2. Testing Location Updates (2000 updates, 50 concurrent)...")
	stats := testLocationUpdates(drivers, 2000, 50)
	printStats("Location Updates", stats)

	fmt.Println("\n3. Testing Order Creation and Claim Races...")
	stats, won := testOrderRaces(clients, drivers)
	printStats("Order Creation + Claims", stats)
	fmt.Printf("  Orders claimed:   %d\n", won)

	fmt.Println("\nLoad test completed!")
}

func call(method, path, token string, payload any, headers map[string]string) (int, []byte, int64, error) {
	var body io.Reader
	if payload != nil {
		b, _ := json.Marshal(payload)
		body = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, baseURL+path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return 0, nil, latency, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, latency, nil
}

func issueToken(id, role string) string {
	status, body, _, err := call(http.MethodPost, "/v1/auth/token", "", map[string]string{"actor_id": id, "role": role}, nil)
	if err != nil || status != http.StatusCreated {
		return ""
	}
	var result map[string]string
	json.Unmarshal(body, &result)
	return result["token"]
}

func createActors(numClients, numDrivers int) ([]actor, []actor) {
	run := time.Now().Unix()
	clients := make([]actor, 0, numClients)
	drivers := make([]actor, 0, numDrivers)

	for i := 0; i < numClients; i++ {
		id := fmt.Sprintf("lt-client-%d-%d", run, i)
		if tok := issueToken(id, "client"); tok != "" {
			clients = append(clients, actor{id: id, token: tok})
		}
	}

	for i := 0; i < numDrivers; i++ {
		id := fmt.Sprintf("lt-driver-%d-%d", run, i)
		tok := issueToken(id, "driver")
		if tok == "" {
			continue
		}
		online := map[string]any{
			"lat":       baseLat + (rand.Float64()-0.5)*0.1,
			"lng":       baseLng + (rand.Float64()-0.5)*0.1,
			"car_class": carClasses[i%len(carClasses)],
		}
		if status, _, _, err := call(http.MethodPost, "/v1/drivers/me/online", tok, online, nil); err == nil && status == http.StatusOK {
			drivers = append(drivers, actor{id: id, token: tok})
		}
	}

	return clients, drivers
}

func testLocationUpdates(drivers []actor, numRequests, concurrency int) *Stats {
	stats := newStats()
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, concurrency)

	for i := 0; i < numRequests; i++ {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(d actor) {
			defer wg.Done()
			defer func() { <-semaphore }()

			payload := map[string]float64{
				"lat": baseLat + (rand.Float64()-0.5)*0.1,
				"lng": baseLng + (rand.Float64()-0.5)*0.1,
			}
			status, _, latency, err := call(http.MethodPost, "/v1/drivers/me/location", d.token, payload, nil)
			stats.record(latency, err == nil && status == http.StatusNoContent)
		}(drivers[rand.Intn(len(drivers))])
	}

	wg.Wait()
	return stats
}

// testOrderRaces creates one order per client, then has every driver try to
// claim it. At most one claim per order may succeed.
func testOrderRaces(clients, drivers []actor) (*Stats, int64) {
	stats := newStats()
	var won int64
	var wg sync.WaitGroup

	for i, c := range clients {
		wg.Add(1)
		go func(idx int, c actor) {
			defer wg.Done()

			order := map[string]any{
				"pickup": map[string]any{
					"lat":     baseLat + (rand.Float64()-0.5)*0.05,
					"lng":     baseLng + (rand.Float64()-0.5)*0.05,
					"address": "load test pickup",
				},
				"dropoff": map[string]any{
					"lat":     baseLat + (rand.Float64()-0.5)*0.1,
					"lng":     baseLng + (rand.Float64()-0.5)*0.1,
					"address": "load test dropoff",
				},
				"car_class": carClasses[idx%len(carClasses)],
			}
			key := map[string]string{"Idempotency-Key": fmt.Sprintf("lt-order-%d-%d", idx, time.Now().UnixNano())}
			status, body, latency, err := call(http.MethodPost, "/v1/orders", c.token, order, key)
			stats.record(latency, err == nil && (status == http.StatusCreated || status == http.StatusConflict))
			if err != nil || status != http.StatusCreated {
				return
			}

			var created map[string]any
			json.Unmarshal(body, &created)
			orderID, _ := created["id"].(string)
			if orderID == "" {
				return
			}

			time.Sleep(200 * time.Millisecond)
			var claims sync.WaitGroup
			for _, d := range drivers {
				claims.Add(1)
				go func(d actor) {
					defer claims.Done()
					status, _, latency, err := call(http.MethodPost, "/v1/orders/"+orderID+"/claim", d.token, nil, nil)
					// 403 means no offer; 409 means someone else won.
					stats.record(latency, err == nil && status < 500)
					if err == nil && status == http.StatusOK {
						atomic.AddInt64(&won, 1)
					}
				}(d)
			}
			claims.Wait()
		}(i, c)
	}

	wg.Wait()
	return stats, won
}

func printStats(name string, stats *Stats) {
	avgLatency := float64(0)
	if stats.TotalRequests > 0 {
		avgLatency = float64(stats.TotalLatency) / float64(stats.TotalRequests)
	}

	fmt.Printf("\n%s Results:\n", name)
	fmt.Printf("  Total Requests:   %d\n", stats.TotalRequests)
	fmt.Printf("  Successful:       %d\n", stats.SuccessRequests)
	fmt.Printf("  Failed:           %d\n", stats.FailedRequests)
	if stats.TotalRequests > 0 {
		fmt.Printf("  Success Rate:     %.2f%%\n", float64(stats.SuccessRequests)/float64(stats.TotalRequests)*100)
	}
	fmt.Printf("  Avg Latency:      %.2f ms\n", avgLatency)
	if stats.MinLatency != int64(^uint64(0)>>1) {
		fmt.Printf("  Min Latency:      %d ms\n", stats.MinLatency)
	}
	fmt.Printf("  Max Latency:      %d ms\n", stats.MaxLatency)
}
