// README: Postgres-backed store tests; skipped unless TRACKD_TEST_DSN is set.
package order

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"trackd/internal/types"
)

func TestStoreRoundTripsHistory(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	o := newPlaced("db-1")
	if err := store.Create(ctx, &o); err != nil {
		t.Fatalf("create: %v", err)
	}

	next, _, err := ApplyTransition(o, TransitionRequest{To: StatusConfirmed, Actor: types.RoleSystem}, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	ok, err := store.UpdateStatus(ctx, &next, 0)
	if err != nil || !ok {
		t.Fatalf("update: %v %v", ok, err)
	}

	got, err := store.Get(ctx, "db-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusConfirmed || got.StatusVersion != 1 {
		t.Fatalf("got %s v%d", got.Status, got.StatusVersion)
	}
	if len(got.History) != 2 || got.History[1].Status != StatusConfirmed {
		t.Fatalf("history = %+v", got.History)
	}
}

func TestStoreGetMissing(t *testing.T) {
	store := setupTestStore(t)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestStoreConcurrentUpdateOneWinner(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	o := newPlaced("db-race")
	if err := store.Create(ctx, &o); err != nil {
		t.Fatalf("create: %v", err)
	}

	targets := []Status{StatusConfirmed, StatusCancelled, StatusConfirmed, StatusCancelled}
	results := make(chan bool, len(targets))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, to := range targets {
		wg.Add(1)
		go func(to Status) {
			defer wg.Done()
			next, _, err := ApplyTransition(o, TransitionRequest{To: to, Actor: types.RoleAdmin}, t0.Add(time.Minute))
			if err != nil {
				t.Errorf("apply: %v", err)
				return
			}
			<-start
			ok, err := store.UpdateStatus(ctx, &next, 0)
			if err != nil {
				t.Errorf("update: %v", err)
			}
			results <- ok
		}(to)
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestStoreListings(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	moving := newPlaced("db-moving")
	moving.Status = StatusOnTheWay
	drv := types.ID("drv-1")
	moving.DriverID = &drv
	due := t0.Add(-time.Minute)
	scheduled := newPlaced("db-sched")
	scheduled.Status = StatusScheduled
	scheduled.Scheduled = true
	scheduled.ScheduledAt = &due
	for _, o := range []Order{moving, scheduled, newPlaced("db-placed")} {
		o := o
		if err := store.Create(ctx, &o); err != nil {
			t.Fatalf("create %s: %v", o.ID, err)
		}
	}

	got, err := store.ListMoving(ctx)
	if err != nil || len(got) != 1 || got[0].ID != "db-moving" {
		t.Fatalf("moving = %v, %v", got, err)
	}
	got, err = store.ListDueScheduled(ctx, t0)
	if err != nil || len(got) != 1 || got[0].ID != "db-sched" {
		t.Fatalf("due = %v, %v", got, err)
	}
	got, err = store.ListForViewer(ctx, Viewer{ID: "cust-1", Role: types.RoleCustomer})
	if err != nil || len(got) != 3 {
		t.Fatalf("customer listing = %d, %v", len(got), err)
	}
	got, err = store.ListForViewer(ctx, Viewer{ID: "drv-1", Role: types.RoleDriver})
	if err != nil || len(got) != 1 {
		t.Fatalf("driver listing = %d, %v", len(got), err)
	}
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("TRACKD_TEST_DSN")
	if dsn == "" {
		t.Skip("TRACKD_TEST_DSN not set; skipping DB-backed store tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_status_history, orders"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	return NewStore(db)
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.sql"))
	if err != nil {
		return err
	}
	for _, stmt := range splitSQL(stripSQLComments(string(content))) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if stmt := strings.TrimSpace(p); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
