// README: Bench cases: environment checks, ride lifecycle, concurrent claims and location load.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/infra"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	redis  *redis.Client
	signer *infra.JWTVerifier
	run    string
}

type Result struct {
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required to mint caller tokens")
	}
	signer, err := infra.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	return &Runner{
		cfg:    cfg,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		signer: signer,
		run:    uuid.NewString()[:8],
	}, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			defer db.Close()
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
		defer r.redis.Close()
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}
	return results
}

// id namespaces bench users per run so repeated runs do not trip the active-ride guards.
func (r *Runner) id(name string) string {
	return fmt.Sprintf("bench-%s-%s", r.run, name)
}

func (r *Runner) token(uid, role string) string {
	tok, err := r.signer.Sign(uid, role, time.Hour)
	if err != nil {
		panic(err)
	}
	return tok
}

type response struct {
	Status int
	Body   []byte
}

func (r *Runner) call(ctx context.Context, method, path, uid, role string, body any) (response, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return response{}, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+r.token(uid, role))
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return response{}, 0, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return response{Status: resp.StatusCode, Body: b}, time.Since(start), nil
}

// expect performs one call and passes when the status matches want.
func (r *Runner) expect(ctx context.Context, method, path, uid, role string, body any, want int) (response, Result) {
	resp, lat, err := r.call(ctx, method, path, uid, role, body)
	if err != nil {
		return resp, Result{Status: StatusFail, Note: err.Error()}
	}
	res := Result{Status: StatusPass, Latency: lat, Note: fmt.Sprintf("status=%d", resp.Status)}
	if resp.Status != want {
		res.Status = StatusFail
		res.Note = fmt.Sprintf("status=%d want=%d body=%s", resp.Status, want, truncate(resp.Body))
	}
	return resp, res
}

var rideBody = map[string]any{
	"pickup":      map[string]float64{"lat": 5.3364, "lng": -4.0267},
	"dropoff":     map[string]float64{"lat": 5.3600, "lng": -3.9800},
	"serviceType": "car",
}

func (r *Runner) cases() []TestCase {
	var claimedRide string
	var winner atomic.Value

	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: StatusSkip, Note: "dsn not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			return Result{Status: StatusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: StatusSkip, Note: "redis not configured"}
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			return Result{Status: StatusPass}
		}},
		{Name: "Migration: tables exist", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: StatusSkip, Note: "dsn not configured"}
			}
			tables, err := extractTables(r.cfg.MigrationPath)
			if err != nil {
				return Result{Status: StatusFail, Note: err.Error()}
			}
			for _, t := range tables {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
				).Scan(&exists)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if !exists {
					return Result{Status: StatusFail, Note: "missing table: " + t}
				}
			}
			return Result{Status: StatusPass, Note: fmt.Sprintf("%d tables", len(tables))}
		}},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodGet, "/health", "", "", nil, http.StatusOK)
			return res
		}},
		{Name: "API: unauthenticated -> 401", Run: func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodGet, "/api/wallet", "", "", nil, http.StatusUnauthorized)
			return res
		}},
		{Name: "Pricing: estimate", Run: func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/pricing/estimate", r.id("p1"), "passenger", rideBody, http.StatusOK)
			return res
		}},
		{Name: "Ride: request", Run: func(ctx context.Context, r *Runner) Result {
			resp, res := r.expect(ctx, http.MethodPost, "/api/rides", r.id("p1"), "passenger", rideBody, http.StatusCreated)
			if res.Status == StatusPass {
				var v struct {
					ID string `json:"id"`
				}
				_ = json.Unmarshal(resp.Body, &v)
				claimedRide = v.ID
			}
			return res
		}},
		{Name: "Ride: duplicate active request -> 409", Run: func(ctx context.Context, r *Runner) Result {
			_, res := r.expect(ctx, http.MethodPost, "/api/rides", r.id("p1"), "passenger", rideBody, http.StatusConflict)
			return res
		}},
		{Name: "Ride: start while pending -> 409", Run: func(ctx context.Context, r *Runner) Result {
			if claimedRide == "" {
				return Result{Status: StatusSkip, Note: "no ride"}
			}
			_, res := r.expect(ctx, http.MethodPost, "/api/rides/"+claimedRide+"/start", r.id("d0"), "driver", nil, http.StatusConflict)
			return res
		}},
		{Name: "Concurrency: N drivers claim one ride", Run: func(ctx context.Context, r *Runner) Result {
			if claimedRide == "" {
				return Result{Status: StatusSkip, Note: "no ride"}
			}
			return r.concurrentClaim(ctx, claimedRide, &winner)
		}},
		{Name: "Ride: start and complete", Run: func(ctx context.Context, r *Runner) Result {
			w, _ := winner.Load().(string)
			if w == "" {
				return Result{Status: StatusSkip, Note: "no winner"}
			}
			if _, res := r.expect(ctx, http.MethodPost, "/api/rides/"+claimedRide+"/start", w, "driver", nil, http.StatusOK); res.Status != StatusPass {
				return res
			}
			_, res := r.expect(ctx, http.MethodPost, "/api/rides/"+claimedRide+"/complete", w, "driver", nil, http.StatusOK)
			return res
		}},
		{Name: "Ride: complete twice -> 409", Run: func(ctx context.Context, r *Runner) Result {
			w, _ := winner.Load().(string)
			if w == "" {
				return Result{Status: StatusSkip, Note: "no winner"}
			}
			_, res := r.expect(ctx, http.MethodPost, "/api/rides/"+claimedRide+"/complete", w, "driver", nil, http.StatusConflict)
			return res
		}},
		{Name: "Wallet: winner credited once", Run: func(ctx context.Context, r *Runner) Result {
			w, _ := winner.Load().(string)
			if w == "" {
				return Result{Status: StatusSkip, Note: "no winner"}
			}
			resp, res := r.expect(ctx, http.MethodGet, "/api/wallet/transactions", w, "driver", nil, http.StatusOK)
			if res.Status != StatusPass {
				return res
			}
			var v struct {
				Transactions []json.RawMessage `json:"transactions"`
			}
			_ = json.Unmarshal(resp.Body, &v)
			if len(v.Transactions) != 1 {
				return Result{Status: StatusFail, Note: fmt.Sprintf("transactions=%d want=1", len(v.Transactions))}
			}
			return res
		}},
		{Name: "Cancel: passenger cancels, claim -> 409", Run: func(ctx context.Context, r *Runner) Result {
			resp, res := r.expect(ctx, http.MethodPost, "/api/rides", r.id("p2"), "passenger", rideBody, http.StatusCreated)
			if res.Status != StatusPass {
				return res
			}
			var v struct {
				ID string `json:"id"`
			}
			_ = json.Unmarshal(resp.Body, &v)
			if _, res := r.expect(ctx, http.MethodPost, "/api/rides/"+v.ID+"/cancel", r.id("p2"), "passenger", map[string]string{"reason": "bench"}, http.StatusOK); res.Status != StatusPass {
				return res
			}
			_, res = r.expect(ctx, http.MethodPost, "/api/rides/"+v.ID+"/claim", r.id("d0"), "driver", nil, http.StatusConflict)
			return res
		}},
		{Name: "Location: invalid coords -> 400", Run: func(ctx context.Context, r *Runner) Result {
			d := r.id("d0")
			_, res := r.expect(ctx, http.MethodPut, "/api/drivers/"+d+"/location", d, "driver", map[string]float64{"lat": 123, "lng": 456}, http.StatusBadRequest)
			return res
		}},
		{Name: "Perf: location update throughput", Run: func(ctx context.Context, r *Runner) Result {
			return r.locationLoad(ctx)
		}},
	}
}

func (r *Runner) concurrentClaim(ctx context.Context, rideID string, winner *atomic.Value) Result {
	start := make(chan struct{})
	var wg sync.WaitGroup
	var won, lost, other atomic.Int64

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			driver := r.id(fmt.Sprintf("d%d", i+1))
			<-start
			resp, _, err := r.call(ctx, http.MethodPost, "/api/rides/"+rideID+"/claim", driver, "driver", nil)
			switch {
			case err != nil:
				other.Add(1)
			case resp.Status == http.StatusOK:
				won.Add(1)
				winner.Store(driver)
			case resp.Status == http.StatusConflict:
				lost.Add(1)
			default:
				other.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	note := fmt.Sprintf("won=%d lost=%d other=%d", won.Load(), lost.Load(), other.Load())
	if won.Load() != 1 || other.Load() != 0 {
		return Result{Status: StatusFail, Note: note}
	}
	return Result{Status: StatusPass, Note: note}
}

func (r *Runner) locationLoad(ctx context.Context) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d := r.id(fmt.Sprintf("load%d", i))
			pos := map[string]float64{"lat": 5.33 + float64(i)*0.001, "lng": -4.02}
			if resp, _, err := r.call(ctx, http.MethodPost, "/api/driver/availability", d, "driver", map[string]bool{"isOnline": true}); err != nil || resp.Status != http.StatusOK {
				errCount.Add(1)
				return
			}
			for time.Now().Before(end) && ctx.Err() == nil {
				resp, _, err := r.call(ctx, http.MethodPut, "/api/drivers/"+d+"/location", d, "driver", pos)
				if err != nil || resp.Status != http.StatusOK {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func truncate(b []byte) string {
	if len(b) > 200 {
		return string(b[:200]) + "..."
	}
	return string(b)
}

func extractTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
