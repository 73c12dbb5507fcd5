// README: Smoke cases: health, live status fan-out, polling diff, position cache and fan-out latency.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"trackd/internal/modules/order"
	"trackd/internal/types"
)

// Dev tokens; the server must run without Firebase for the smoke run to act.
const (
	restaurantToken = "restaurant:smoke-owner:smoke-rest"
	driverToken     = "driver:smoke-driver:smoke-driver"
	customerToken   = "customer:smoke-cust"
)

var lifecycle = []struct {
	status   order.Status
	token    string
	driverID string
}{
	{order.StatusConfirmed, restaurantToken, ""},
	{order.StatusPreparing, restaurantToken, ""},
	{order.StatusReady, restaurantToken, ""},
	{order.StatusPickedUp, driverToken, "smoke-driver"},
	{order.StatusOnTheWay, driverToken, ""},
	{order.StatusDelivered, driverToken, ""},
}

type Runner struct {
	cfg    Config
	httpc  *http.Client
	db     *pgxpool.Pool
	orders *order.Store
	redis  *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
			r.orders = order.NewStore(db)
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

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "API: health", Run: caseHealth},
		{Name: "API: metrics exposed", Run: caseMetrics},
		{Name: "Live: status_changed reaches order, user and restaurant topics in order", Run: caseLifecycle},
		{Name: "Live: malformed frame answered, connection kept", Run: caseMalformed},
		{Name: "Poll: each change reported once", Run: casePoll},
		{Name: "Redis: position cached after driver submit", Run: casePositionCache},
		{Name: "Perf: fan-out latency", Run: caseFanOut},
	}
}

func caseHealth(ctx context.Context, r *Runner) Result {
	start := time.Now()
	code, _, err := r.call(ctx, http.MethodGet, "/health", "", nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if code != http.StatusOK {
		return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", code)}
	}
	return Result{Status: "PASS", Latency: time.Since(start)}
}

func caseMetrics(ctx context.Context, r *Runner) Result {
	code, body, err := r.call(ctx, http.MethodGet, "/metrics", "", nil)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if code != http.StatusOK || !strings.Contains(string(body), "trackd_connections_open") {
		return Result{Status: "FAIL", Note: fmt.Sprintf("status=%d", code)}
	}
	return Result{Status: "PASS"}
}

func caseLifecycle(ctx context.Context, r *Runner) Result {
	id, res, ok := r.seed(ctx)
	if !ok {
		return res
	}
	cust, err := r.dial(customerToken)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	defer cust.Close()
	rest, err := r.dial(restaurantToken)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	defer rest.Close()
	guest, err := r.dial("")
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	defer guest.Close()
	if err := join(guest, "order:"+string(id)); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}

	start := time.Now()
	if note := r.advance(ctx, id); note != "" {
		return Result{Status: "FAIL", Note: note}
	}
	for name, ws := range map[string]*websocket.Conn{"customer": cust, "restaurant": rest, "guest": guest} {
		got, err := collectStatuses(ws, id, len(lifecycle))
		if err != nil {
			return Result{Status: "FAIL", Note: name + ": " + err.Error()}
		}
		for i, step := range lifecycle {
			if got[i] != step.status {
				return Result{Status: "FAIL", Note: fmt.Sprintf("%s saw %v", name, got)}
			}
		}
	}
	return Result{Status: "PASS", Latency: time.Since(start)}
}

func caseMalformed(ctx context.Context, r *Runner) Result {
	ws, err := r.dial(customerToken)
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	defer ws.Close()
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	f, err := readFrame(ws)
	if err != nil || f.Type != "error" {
		return Result{Status: "FAIL", Note: fmt.Sprintf("reply=%+v err=%v", f, err)}
	}
	if err := ws.WriteJSON(map[string]string{"type": "ping", "ref": "p"}); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if f, err := readFrame(ws); err != nil || f.Type != "pong" {
		return Result{Status: "FAIL", Note: fmt.Sprintf("ping reply=%+v err=%v", f, err)}
	}
	return Result{Status: "PASS"}
}

func casePoll(ctx context.Context, r *Runner) Result {
	id, res, ok := r.seed(ctx)
	if !ok {
		return res
	}
	type pollBody struct {
		Changes []struct {
			OrderID   string `json:"order_id"`
			NewStatus string `json:"new_status"`
		} `json:"changes"`
	}
	poll := func() (int, error) {
		code, body, err := r.call(ctx, http.MethodGet, "/api/orders/poll", customerToken, nil)
		if err != nil {
			return 0, err
		}
		if code != http.StatusOK {
			return 0, fmt.Errorf("status=%d", code)
		}
		var b pollBody
		if err := json.Unmarshal(body, &b); err != nil {
			return 0, err
		}
		n := 0
		for _, ch := range b.Changes {
			if ch.OrderID == string(id) {
				n++
			}
		}
		return n, nil
	}
	if _, err := poll(); err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if n, err := poll(); err != nil || n != 0 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("repeat poll changes=%d err=%v", n, err)}
	}
	if note := r.transition(ctx, id, lifecycle[0].status, lifecycle[0].token, ""); note != "" {
		return Result{Status: "FAIL", Note: note}
	}
	if n, err := poll(); err != nil || n != 1 {
		return Result{Status: "FAIL", Note: fmt.Sprintf("changes after confirm=%d err=%v", n, err)}
	}
	_, _, _ = r.call(ctx, http.MethodDelete, "/api/orders/poll", customerToken, nil)
	return Result{Status: "PASS"}
}

func casePositionCache(ctx context.Context, r *Runner) Result {
	if r.redis == nil {
		return Result{Status: "SKIP", Note: "redis not configured"}
	}
	id, res, ok := r.seed(ctx)
	if !ok {
		return res
	}
	for _, step := range lifecycle[:4] {
		if note := r.transition(ctx, id, step.status, step.token, step.driverID); note != "" {
			return Result{Status: "FAIL", Note: note}
		}
	}
	code, body, err := r.call(ctx, http.MethodPost, "/api/orders/"+string(id)+"/position", driverToken,
		map[string]float64{"lat": 12.975, "lng": 77.598})
	if err != nil || code != http.StatusAccepted {
		return Result{Status: "FAIL", Note: fmt.Sprintf("submit status=%d err=%v body=%s", code, err, body)}
	}
	raw, err := r.redis.Get(ctx, "tracking:order:"+string(id)).Result()
	if err != nil {
		return Result{Status: "FAIL", Note: err.Error()}
	}
	if !strings.Contains(raw, string(id)) {
		return Result{Status: "FAIL", Note: "cached sample does not mention the order"}
	}
	_ = r.transition(ctx, id, order.StatusCancelled, "system:smoke", "")
	return Result{Status: "PASS"}
}

// caseFanOut parks N subscribers on one restaurant topic and measures how
// long each status_changed takes from the HTTP response to each socket.
func caseFanOut(ctx context.Context, r *Runner) Result {
	if r.orders == nil {
		return Result{Status: "SKIP", Note: "dsn not configured"}
	}
	subs := make([]*websocket.Conn, 0, r.cfg.Subscribers)
	defer func() {
		for _, ws := range subs {
			_ = ws.Close()
		}
	}()
	for i := 0; i < r.cfg.Subscribers; i++ {
		ws, err := r.dial(restaurantToken)
		if err != nil {
			return Result{Status: "FAIL", Note: fmt.Sprintf("subscriber %d: %v", i, err)}
		}
		subs = append(subs, ws)
	}

	var (
		mu        sync.Mutex
		latencies []time.Duration
		wg        sync.WaitGroup
		sentAt    sync.Map
	)
	want := r.cfg.Rounds * len(lifecycle)
	for _, ws := range subs {
		wg.Add(1)
		go func(ws *websocket.Conn) {
			defer wg.Done()
			for seen := 0; seen < want; {
				f, err := readFrame(ws)
				if err != nil {
					return
				}
				if f.Type != "status_changed" {
					continue
				}
				seen++
				var ch order.StatusChange
				if json.Unmarshal(f.Data, &ch) != nil {
					continue
				}
				if v, ok := sentAt.Load(string(ch.OrderID) + "/" + string(ch.NewStatus)); ok {
					mu.Lock()
					latencies = append(latencies, time.Since(v.(time.Time)))
					mu.Unlock()
				}
			}
		}(ws)
	}

	start := time.Now()
	for round := 0; round < r.cfg.Rounds; round++ {
		id, res, ok := r.seed(ctx)
		if !ok {
			return res
		}
		for _, step := range lifecycle {
			sentAt.Store(string(id)+"/"+string(step.status), time.Now())
			if note := r.transition(ctx, id, step.status, step.token, step.driverID); note != "" {
				return Result{Status: "FAIL", Note: note}
			}
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(latencies) < want*len(subs) {
		return Result{Status: "FAIL", Note: fmt.Sprintf("delivered %d/%d", len(latencies), want*len(subs))}
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := latencies[len(latencies)/2]
	p99 := latencies[len(latencies)*99/100]
	return Result{Status: "PASS", Latency: time.Since(start), Note: fmt.Sprintf("subs=%d p50=%s p99=%s", len(subs), p50, p99)}
}

// seed inserts a fresh placed order for the smoke parties.
func (r *Runner) seed(ctx context.Context) (types.ID, Result, bool) {
	if r.orders == nil {
		return "", Result{Status: "SKIP", Note: "dsn not configured"}, false
	}
	now := time.Now().UTC()
	o := &order.Order{
		ID:           types.ID("smoke-" + uuid.NewString()),
		CustomerID:   "smoke-cust",
		RestaurantID: "smoke-rest",
		Status:       order.StatusPlaced,
		History:      []order.StatusStamp{{Status: order.StatusPlaced, At: now}},
		Origin:       types.Point{Lat: 12.9716, Lng: 77.5946},
		Destination:  types.Point{Lat: 12.9816, Lng: 77.6046},
		Summary:      order.Summary{Items: 2, Total: types.Money{Amount: 45000, Currency: "INR"}},
		CreatedAt:    now,
	}
	if err := r.orders.Create(ctx, o); err != nil {
		return "", Result{Status: "FAIL", Note: "seed: " + err.Error()}, false
	}
	return o.ID, Result{}, true
}

func (r *Runner) advance(ctx context.Context, id types.ID) string {
	for _, step := range lifecycle {
		if note := r.transition(ctx, id, step.status, step.token, step.driverID); note != "" {
			return note
		}
	}
	return ""
}

func (r *Runner) transition(ctx context.Context, id types.ID, to order.Status, token, driverID string) string {
	body := map[string]string{"status": string(to)}
	if driverID != "" {
		body["driver_id"] = driverID
	}
	code, resp, err := r.call(ctx, http.MethodPost, "/api/orders/"+string(id)+"/status", token, body)
	if err != nil {
		return err.Error()
	}
	if code != http.StatusOK {
		return fmt.Sprintf("%s: status=%d body=%s", to, code, resp)
	}
	return ""
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any) (int, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, &buf)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, data, nil
}

func (r *Runner) dial(token string) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(r.cfg.BaseURL, "http") + "/ws"
	if token != "" {
		url += "?token=" + token
	}
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	if _, err := readFrame(ws); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	return ws, nil
}

type frame struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
}

func readFrame(ws *websocket.Conn) (frame, error) {
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	err := ws.ReadJSON(&f)
	return f, err
}

func join(ws *websocket.Conn, topic string) error {
	if err := ws.WriteJSON(map[string]string{"type": "join", "ref": topic, "topic": topic}); err != nil {
		return err
	}
	f, err := readFrame(ws)
	if err != nil {
		return err
	}
	if f.Type != "ack" {
		return fmt.Errorf("join %s: %s", topic, f.Data)
	}
	return nil
}

func collectStatuses(ws *websocket.Conn, id types.ID, n int) ([]order.Status, error) {
	var out []order.Status
	for len(out) < n {
		f, err := readFrame(ws)
		if err != nil {
			return out, err
		}
		if f.Type != "status_changed" {
			continue
		}
		var ch order.StatusChange
		if err := json.Unmarshal(f.Data, &ch); err != nil {
			return out, err
		}
		if ch.OrderID == id {
			out = append(out, ch.NewStatus)
		}
	}
	return out, nil
}
