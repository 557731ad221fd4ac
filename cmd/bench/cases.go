// README: Smoke cases for the pricing, revenue and remittance flows; includes HTTP, DB, Redis, and performance checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client
	run   string

	mu  sync.Mutex
	ids map[string]string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name  string
	Focus string
	Run   func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
		run:   uuid.NewString()[:8],
		ids:   map[string]string{},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))

	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}

	return results
}

func (r *Runner) id(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ids[key]
}

func (r *Runner) setID(key, v string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids[key] = v
}

func (r *Runner) operatorID() string { return "bench-op-" + r.run }

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{
			Name:  "Env: Postgres connect",
			Focus: "database reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Env: Redis connect",
			Focus: "queue and locks reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: "FAIL", Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: apply (optional)",
			Focus: "apply migration SQL",
			Run: func(ctx context.Context, r *Runner) Result {
				if !r.cfg.ApplyMigration {
					return Result{Status: "SKIP", Note: "apply-migration=false"}
				}
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				sql, err := os.ReadFile(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, s := range splitSQL(string(sql)) {
					if _, err := r.db.Exec(ctx, s); err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "Migration: tables exist",
			Focus: "every table in the migration exists",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				tables, err := extractTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: "FAIL", Note: err.Error()}
					}
					if !exists {
						return Result{Status: "FAIL", Note: "missing table: " + t}
					}
				}
				return Result{Status: "PASS"}
			},
		},
		{
			Name:  "API: health",
			Focus: "server reachable",
			Run: func(ctx context.Context, r *Runner) Result {
				res := r.call(ctx, http.MethodGet, "/health", "", nil, []int{200}, nil)
				return res.Result
			},
		},
		{
			Name:  "API: missing token -> 401",
			Focus: "auth middleware",
			Run: func(ctx context.Context, r *Runner) Result {
				return r.call(ctx, http.MethodPost, "/api/charges", "", map[string]any{}, []int{401}, nil).Result
			},
		},

		// Hierarchy
		r.createNode("Hierarchy: create location", "location", "", map[string]any{
			"operatorId":  r.operatorID(),
			"parkingType": "facility",
		}),
		r.createNode("Hierarchy: create section", "section", "location", nil),
		r.createNode("Hierarchy: create zone", "zone", "section", nil),
		r.createNode("Hierarchy: create spot", "spot", "zone", nil),
		r.tokenCase("Hierarchy: spot under location -> 400", r.cfg.AdminToken, func(ctx context.Context) callResult {
			return r.call(ctx, http.MethodPost, "/api/nodes", r.cfg.AdminToken, map[string]any{
				"type": "spot", "name": "bad", "parentId": r.id("location"),
			}, []int{400}, nil)
		}),

		// Pricing config
		r.tokenCase("Pricing: section override", r.cfg.AdminToken, func(ctx context.Context) callResult {
			return r.call(ctx, http.MethodPut, "/api/nodes/"+r.id("section")+"/pricing", r.cfg.AdminToken, map[string]any{
				"baseRate": "50.00",
				"vatRate":  "12",
				"occupancyCurve": []map[string]any{
					{"above": "80", "multiplier": "1.2"},
				},
			}, []int{200}, nil)
		}),
		r.tokenCase("Pricing: empty hour range -> 422", r.cfg.AdminToken, func(ctx context.Context) callResult {
			return r.call(ctx, http.MethodPut, "/api/nodes/"+r.id("zone")+"/pricing", r.cfg.AdminToken, map[string]any{
				"timeBasedRates": []map[string]any{{"kind": "hour_range", "startHour": 9, "endHour": 9, "rate": "10"}},
			}, []int{422}, nil)
		}),

		// Revenue config
		r.tokenCase("Revenue: split sums to 90 -> 422", r.cfg.AdminToken, func(ctx context.Context) callResult {
			return r.call(ctx, http.MethodPut, "/api/revenue-configs", r.cfg.AdminToken, revenueConfig(r.operatorID(), "60", "30"), []int{422}, nil)
		}),
		r.tokenCase("Revenue: operator split", r.cfg.AdminToken, func(ctx context.Context) callResult {
			return r.call(ctx, http.MethodPut, "/api/revenue-configs", r.cfg.AdminToken, revenueConfig(r.operatorID(), "70", "30"), []int{200}, nil)
		}),

		// Charges
		r.tokenCase("Charge: compute", r.cfg.SystemToken, func(ctx context.Context) callResult {
			res := r.call(ctx, http.MethodPost, "/api/charges", r.cfg.SystemToken, r.chargeEvent("b-"+r.run), []int{200}, nil)
			if id, ok := res.Body["id"].(string); ok {
				r.setID("charge", id)
				res.Note += " total=" + fmt.Sprint(res.Body["totalAmount"])
			}
			return res
		}),
		r.tokenCase("Charge: same booking event returns stored charge", r.cfg.SystemToken, func(ctx context.Context) callResult {
			res := r.call(ctx, http.MethodPost, "/api/charges", r.cfg.SystemToken, r.chargeEvent("b-"+r.run), []int{200}, nil)
			if res.Status == "PASS" && res.Body["id"] != r.id("charge") {
				res.Status = "FAIL"
				res.Note = fmt.Sprintf("got charge %v, want %s", res.Body["id"], r.id("charge"))
			}
			return res
		}),
		r.tokenCase("Charge: breakdown reconciles", r.cfg.AdminToken, func(ctx context.Context) callResult {
			res := r.call(ctx, http.MethodGet, "/api/charges/"+r.id("charge")+"/breakdown", r.cfg.AdminToken, nil, []int{200}, nil)
			if res.Status == "PASS" && res.Body["reconciles"] != true {
				res.Status = "FAIL"
				res.Note = "shares do not sum to the distributable base"
			}
			return res
		}),
		{
			Name:  "Consistency: shares sum to total minus VAT",
			Focus: "every charge row reconciles in the database",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: "FAIL", Note: "db not configured"}
				}
				var bad int
				err := r.db.QueryRow(ctx, `
					SELECT COUNT(*) FROM (
						SELECT c.id
						FROM charge_records c
						JOIN revenue_shares s ON s.charge_record_id = c.id
						GROUP BY c.id, c.total_amount, c.vat_amount
						HAVING SUM(s.amount) <> c.total_amount - c.vat_amount
					) mismatched`).Scan(&bad)
				if err != nil {
					return Result{Status: "FAIL", Note: err.Error()}
				}
				if bad > 0 {
					return Result{Status: "FAIL", Note: fmt.Sprintf("%d charges do not reconcile", bad)}
				}
				return Result{Status: "PASS"}
			},
		},

		// Concurrency
		{
			Name:  "Concurrency: same booking event computed once",
			Focus: "every request sees the same charge row",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.SystemToken == "" {
					return Result{Status: "SKIP", Note: "system token not set"}
				}
				return concurrentCompute(ctx, r, "b-race-"+r.run)
			},
		},

		// Remittances
		r.tokenCase("Remittance: run current period", r.cfg.SystemToken, func(ctx context.Context) callResult {
			now := time.Now()
			return r.call(ctx, http.MethodPost, "/api/remittances/run", r.cfg.SystemToken, map[string]any{
				"recipientId": r.operatorID(),
				"periodStart": now.Add(-24 * time.Hour),
				"periodEnd":   now.Add(24 * time.Hour),
			}, []int{200}, []int{503})
		}),
		r.tokenCase("Remittance: reconcile", r.cfg.SystemToken, func(ctx context.Context) callResult {
			return r.call(ctx, http.MethodPost, "/api/remittances/reconcile", r.cfg.SystemToken, nil, []int{200}, nil)
		}),
		manualCase("Remittance: process sends one transfer", "needs a payout account on a Stripe test account"),
		manualCase("Remittance: timeout leaves processing", "needs a gateway that stalls past the transfer timeout"),

		// Error handling
		manualCase("Error: DB down -> 500", "stop Postgres and observe responses"),
		manualCase("Error: Redis down -> remittance run 503", "stop Redis and observe responses"),

		// Performance
		{
			Name:  "Perf: charge compute throughput",
			Focus: "distinct booking events per second",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.cfg.SystemToken == "" {
					return Result{Status: "SKIP", Note: "system token not set"}
				}
				return perfLoad(ctx, r)
			},
		},
	}
}

func revenueConfig(operatorID, operatorPct, platformPct string) map[string]any {
	return map[string]any{
		"key":         operatorID,
		"parkingType": "facility",
		"splits": []map[string]any{
			{"role": "operator", "percentage": operatorPct},
			{"role": "park_angel", "percentage": platformPct},
		},
	}
}

func (r *Runner) chargeEvent(bookingID string) map[string]any {
	end := time.Now().Truncate(time.Minute)
	return map[string]any{
		"bookingId": bookingID,
		"spotId":    r.id("spot"),
		"userId":    "bench-user-" + r.run,
		"start":     end.Add(-2 * time.Hour),
		"end":       end,
		"occupancy": "50",
	}
}

func (r *Runner) createNode(name, nodeType, parentKey string, extra map[string]any) TestCase {
	return r.tokenCase(name, r.cfg.AdminToken, func(ctx context.Context) callResult {
		body := map[string]any{"type": nodeType, "name": nodeType + "-" + r.run}
		if parentKey != "" {
			body["parentId"] = r.id(parentKey)
		}
		for k, v := range extra {
			body[k] = v
		}
		res := r.call(ctx, http.MethodPost, "/api/nodes", r.cfg.AdminToken, body, []int{201}, nil)
		if id, ok := res.Body["id"].(string); ok {
			r.setID(nodeType, id)
		}
		return res
	})
}

// tokenCase skips when the token it needs was not supplied.
func (r *Runner) tokenCase(name, token string, run func(ctx context.Context) callResult) TestCase {
	return TestCase{
		Name:  name,
		Focus: "HTTP API",
		Run: func(ctx context.Context, _ *Runner) Result {
			if token == "" {
				return Result{Status: "SKIP", Note: "token not set"}
			}
			return run(ctx).Result
		},
	}
}

type callResult struct {
	Result
	Code int
	Body map[string]any
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any, okStatuses, pendingStatuses []int) callResult {
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return callResult{Result: Result{Status: "FAIL", Note: err.Error()}}
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return callResult{Result: Result{Status: "FAIL", Note: err.Error()}}
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	latency := time.Since(start)

	out := callResult{Code: resp.StatusCode}
	_ = json.Unmarshal(raw, &out.Body)
	out.Latency = latency
	out.Note = fmt.Sprintf("status=%d", resp.StatusCode)
	switch {
	case contains(okStatuses, resp.StatusCode):
		out.Status = "PASS"
	case contains(pendingStatuses, resp.StatusCode):
		out.Status = "PENDING"
	default:
		out.Status = "FAIL"
		if msg, ok := out.Body["error"].(string); ok {
			out.Note += " error=" + msg
		}
	}
	return out
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name:  name,
		Focus: "Manual",
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: "SKIP", Note: note}
		},
	}
}

func concurrentCompute(ctx context.Context, r *Runner, bookingID string) Result {
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := map[string]int{}
	failed := 0
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.call(ctx, http.MethodPost, "/api/charges", r.cfg.SystemToken, r.chargeEvent(bookingID), []int{200}, nil)
			mu.Lock()
			defer mu.Unlock()
			id, ok := res.Body["id"].(string)
			if res.Status != "PASS" || !ok {
				failed++
				return
			}
			ids[id]++
		}()
	}
	wg.Wait()

	note := fmt.Sprintf("distinct=%d failed=%d", len(ids), failed)
	if len(ids) == 1 && failed == 0 {
		return Result{Status: "PASS", Note: note}
	}
	return Result{Status: "FAIL", Note: note}
}

func perfLoad(ctx context.Context, r *Runner) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount, seq atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				booking := fmt.Sprintf("b-perf-%s-%d", r.run, seq.Add(1))
				res := r.call(ctx, http.MethodPost, "/api/charges", r.cfg.SystemToken, r.chargeEvent(booking), []int{200}, nil)
				if res.Status != "PASS" {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: "FAIL", Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: "PASS", Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func contains(list []int, v int) bool {
	for _, i := range list {
		if i == v {
			return true
		}
	}
	return false
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

func splitSQL(sql string) []string {
	lines := strings.Split(sql, "\n")
	filtered := make([]string, 0, len(lines))
	for _, line := range lines {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, "--") || l == "" {
			continue
		}
		filtered = append(filtered, line)
	}
	cleaned := strings.Join(filtered, "\n")
	parts := strings.Split(cleaned, ";")
	stmts := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			stmts = append(stmts, s)
		}
	}
	return stmts
}
