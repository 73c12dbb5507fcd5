// README: Smoke runner; drives a live trackd over HTTP/WebSocket, checks DB/Redis side effects and prints results.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	cfg := loadConfig()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	bench := NewRunner(cfg)
	results := bench.RunAll(ctx)

	fmt.Println("\n== Summary ==")
	pass, fail, skipped := 0, 0, 0
	for _, r := range results {
		switch r.Status {
		case "PASS":
			pass++
		case "FAIL":
			fail++
		case "SKIP":
			skipped++
		}
	}
	fmt.Printf("PASS=%d FAIL=%d SKIP=%d\n", pass, fail, skipped)

	if fail > 0 || (cfg.Strict && skipped > 0) {
		os.Exit(1)
	}
}

type Config struct {
	BaseURL     string
	DSN         string
	RedisAddr   string
	Strict      bool
	Timeout     time.Duration
	Subscribers int
	Rounds      int
}

func loadConfig() Config {
	var cfg Config
	pflag.StringVar(&cfg.BaseURL, "base-url", envOrDefault("TRACKD_BENCH_BASE_URL", "http://localhost:8080"), "API base URL")
	pflag.StringVar(&cfg.DSN, "dsn", envOrDefault("TRACKD_DB_DSN", ""), "Postgres DSN used to seed orders (same database as the server)")
	pflag.StringVar(&cfg.RedisAddr, "redis", envOrDefault("TRACKD_REDIS_ADDR", ""), "Redis address used by the server")
	pflag.BoolVar(&cfg.Strict, "strict", envOrDefaultBool("TRACKD_BENCH_STRICT", false), "Fail on skipped cases")
	pflag.DurationVar(&cfg.Timeout, "timeout", envOrDefaultDuration("TRACKD_BENCH_TIMEOUT", 60*time.Second), "Total timeout")
	pflag.IntVar(&cfg.Subscribers, "subscribers", envOrDefaultInt("TRACKD_BENCH_SUBSCRIBERS", 200), "WebSocket subscribers for the fan-out case")
	pflag.IntVar(&cfg.Rounds, "rounds", envOrDefaultInt("TRACKD_BENCH_ROUNDS", 5), "Orders pushed through their lifecycle in the fan-out case")
	pflag.Parse()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "1" || v == "true" || v == "yes"
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, _ = fmt.Sscanf(v, "%d", &n)
		if n > 0 {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
