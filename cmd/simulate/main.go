package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/db"
)

// Booking race harness: every worker fires bookings at a small shared pool
// of slots so most requests collide, then the store is checked for the
// exactly-one-winner invariants.

type SimConfig struct {
	APIBaseURL  string
	Workers     int
	Requests    int
	SlotLimit   int
	PostgresDSN string
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  envOr("API_BASE_URL", "http://localhost:8080"),
		Workers:     envInt("SIM_WORKERS", 50),
		Requests:    envInt("SIM_REQUESTS", 2000),
		SlotLimit:   envInt("SIM_SLOT_LIMIT", 20),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
	}
	if cfg.PostgresDSN == "" {
		log.Fatal("POSTGRES_DSN is required")
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

type Metrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&m.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&m.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.Conflict, 1)
	default:
		atomic.AddInt64(&m.Error, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) Percentile(p int) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cfg := loadSimConfig()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, 10)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	patients, err := loadIDs(pool, `SELECT id FROM patients LIMIT 500`)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	slots, err := loadIDs(pool, fmt.Sprintf(`SELECT id FROM slots WHERE status = 'AVAILABLE' LIMIT %d`, cfg.SlotLimit))
	if err != nil {
		log.Fatalf("load slots: %v", err)
	}
	if len(patients) == 0 || len(slots) == 0 {
		log.Fatal("need seeded patients and available slots, run cmd/seed first")
	}

	log.Printf("simulating: workers=%d requests=%d patients=%d contended_slots=%d",
		cfg.Workers, cfg.Requests, len(patients), len(slots))

	metrics := &Metrics{}
	client := &http.Client{Timeout: 10 * time.Second}

	jobs := make(chan struct{}, cfg.Requests)
	for i := 0; i < cfg.Requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	start := time.Now()
	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				patient := patients[rand.Intn(len(patients))]
				slot := slots[rand.Intn(len(slots))]
				bookOnce(client, cfg.APIBaseURL, patient, slot, metrics)
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	log.Printf("done in %s: total=%d success=%d conflict=%d error=%d p50=%s p95=%s",
		elapsed, metrics.Total, metrics.Success, metrics.Conflict, metrics.Error,
		metrics.Percentile(50), metrics.Percentile(95))

	checkInvariants(pool)
}

func bookOnce(client *http.Client, baseURL string, patientID, slotID uuid.UUID, metrics *Metrics) {
	body, _ := json.Marshal(map[string]string{"slot_id": slotID.String()})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		metrics.Record(0, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caller-ID", patientID.String())
	req.Header.Set("X-Caller-Role", "patient")

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		metrics.Record(latency, 0)
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	metrics.Record(latency, resp.StatusCode)
}

func loadIDs(pool *pgxpool.Pool, query string) ([]uuid.UUID, error) {
	rows, err := pool.Query(context.Background(), query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// checkInvariants verifies the exactly-one-winner postconditions directly
// against the store after the run.
func checkInvariants(pool *pgxpool.Pool) {
	ctx := context.Background()

	var orphanSlots int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM slots s
		WHERE s.status = 'BOOKED'
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.slot_id = s.id AND a.status <> 'CANCELLED'
		  )
	`).Scan(&orphanSlots)
	if err != nil {
		log.Fatalf("invariant query: %v", err)
	}

	var doubleBooked int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT slot_id
			FROM appointments
			WHERE status <> 'CANCELLED'
			GROUP BY slot_id
			HAVING count(*) > 1
		) d
	`).Scan(&doubleBooked)
	if err != nil {
		log.Fatalf("invariant query: %v", err)
	}

	if orphanSlots == 0 && doubleBooked == 0 {
		log.Println("invariants hold: no orphan BOOKED slots, no double-booked slots")
	} else {
		log.Printf("INVARIANT VIOLATION: orphan_booked_slots=%d double_booked_slots=%d", orphanSlots, doubleBooked)
		os.Exit(1)
	}
}
