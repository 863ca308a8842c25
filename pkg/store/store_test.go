package store

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestJSONLStore_InsertAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	js, err := NewJSONLStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer js.Close()

	first := DecisionRecord{
		ID:             "req-1",
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Path:           "/search?q=x",
		IsAnomaly:      true,
		AnomalyScore:   1.0,
		AttackType:     "ML_SQL_INJECTION",
		TriggerContent: "/search?q=' or 1=1--",
		Action:         "block",
		LatencyMs:      2.5,
	}
	if err := js.Insert(context.Background(), first); err != nil {
		t.Fatal(err)
	}
	if err := js.Insert(context.Background(), DecisionRecord{Path: "/health", Action: "allow"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var records []DecisionRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}

	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0] != first {
		t.Errorf("first record round-trip mismatch:\ngot  %+v\nwant %+v", records[0], first)
	}

	// Defaults were filled for the sparse record.
	if records[1].ID == "" {
		t.Error("expected generated ID")
	}
	if records[1].CreatedAt.IsZero() {
		t.Error("expected generated timestamp")
	}
	if records[1].Action != "allow" {
		t.Errorf("unexpected action: %q", records[1].Action)
	}
}

func TestJSONLStore_AppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")

	for i := 0; i < 2; i++ {
		js, err := NewJSONLStore(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := js.Insert(context.Background(), DecisionRecord{Path: "/x"}); err != nil {
			t.Fatal(err)
		}
		js.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	if lines != 2 {
		t.Errorf("expected 2 lines after reopen, got %d", lines)
	}
}

func TestJSONLStore_ConcurrentInserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	js, err := NewJSONLStore(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = js.Insert(context.Background(), DecisionRecord{Path: "/p"})
			}
		}()
	}
	wg.Wait()
	js.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec DecisionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("interleaved write corrupted line %d: %v", count, err)
		}
		count++
	}
	if count != 200 {
		t.Errorf("expected 200 intact lines, got %d", count)
	}
}

func TestJSONLStore_OpenError(t *testing.T) {
	if _, err := NewJSONLStore(filepath.Join(t.TempDir(), "missing", "sub", "log.jsonl")); err == nil {
		t.Error("expected error for unwritable path")
	}
}

func TestNopSink(t *testing.T) {
	var sink DecisionSink = NopSink{}
	if err := sink.Insert(context.Background(), DecisionRecord{}); err != nil {
		t.Errorf("nop insert returned %v", err)
	}
	sink.Close()
}

func TestOpen_FallbackChain(t *testing.T) {
	ctx := context.Background()

	// No database, no audit path: no-op sink.
	if _, ok := Open(ctx, "", "").(NopSink); !ok {
		t.Error("expected NopSink with nothing configured")
	}

	// No database, audit path set: JSONL sink.
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := Open(ctx, "", path)
	defer sink.Close()
	if _, ok := sink.(*JSONLStore); !ok {
		t.Errorf("expected JSONLStore, got %T", sink)
	}

	// Audit path unusable: degrade to no-op rather than fail.
	bad := Open(ctx, "", filepath.Join(t.TempDir(), "no", "such", "dir", "a.jsonl"))
	if _, ok := bad.(NopSink); !ok {
		t.Errorf("expected NopSink for unusable audit path, got %T", bad)
	}
}

func TestFillDefaults(t *testing.T) {
	rec := DecisionRecord{}
	fillDefaults(&rec)
	if rec.ID == "" {
		t.Error("expected generated UUID")
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected generated timestamp")
	}

	pinned := DecisionRecord{ID: "fixed", CreatedAt: time.Unix(1000, 0)}
	fillDefaults(&pinned)
	if pinned.ID != "fixed" {
		t.Error("existing ID must be preserved")
	}
	if !pinned.CreatedAt.Equal(time.Unix(1000, 0)) {
		t.Error("existing timestamp must be preserved")
	}
}

// Postgres-backed tests need a live database.
func getPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("WARDEN_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping Postgres test: WARDEN_TEST_DATABASE_URL not set")
	}
	ps, err := NewPostgresStore(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(ps.Close)
	return ps
}

func TestPostgresStore_Integration(t *testing.T) {
	ps := getPostgresStore(t)
	ctx := context.Background()

	rec := DecisionRecord{
		Path:           "/search?q=test",
		IsAnomaly:      true,
		AnomalyScore:   0.93,
		AttackType:     "ML_XSS",
		TriggerContent: "<script>alert(1)</script>",
		Action:         "block",
		LatencyMs:      1.8,
	}
	if err := ps.Insert(ctx, rec); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	recent, err := ps.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) == 0 {
		t.Fatal("expected at least one recent decision")
	}

	found := false
	for _, r := range recent {
		if r.TriggerContent == rec.TriggerContent && r.Action == "block" {
			found = true
			break
		}
	}
	if !found {
		t.Error("inserted decision not in recent list")
	}

	if err := ps.Ping(ctx); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}
