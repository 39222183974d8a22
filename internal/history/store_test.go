package history_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"downnest/internal/history"
	"downnest/internal/logging"
	"downnest/internal/routing"
	"downnest/internal/testsupport"
)

var _ routing.Recorder = (*history.Store)(nil)

func TestRecordPersistsUserFacingOutcomes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	store.Record(routing.Outcome{
		TaskID: "t-1", Kind: routing.KindSuccess, Origin: routing.OriginEvent,
		Path: "/d/report.pdf", Category: "Documents", Destination: "/d/Documents/report.pdf",
		Size: 10240, Renamed: true, Started: base, Finished: base.Add(time.Second),
	})
	store.Record(routing.Outcome{Kind: routing.KindSkipped, Reason: routing.ReasonInFlight, Path: "/d/x"})
	store.Record(routing.Outcome{
		TaskID: "t-2", Kind: routing.KindFailure, Origin: routing.OriginSweep,
		Path: "/d/setup.exe", Reason: "permission denied", Started: base, Finished: base.Add(2 * time.Second),
	})
	store.Record(routing.Outcome{
		TaskID: "run-1", Kind: routing.KindSweepSummary, Origin: routing.OriginSweep,
		Started: base, Finished: base.Add(3 * time.Second),
		Summary: &routing.SweepSummary{Directories: []string{"/d"}, Moved: 1, Failed: 1, Bytes: 10240},
	})

	entries, err := store.List(context.Background(), history.Query{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries (skip not persisted), got %d", len(entries))
	}
	if entries[0].Kind != routing.KindSweepSummary || entries[2].Kind != routing.KindSuccess {
		t.Fatalf("entries not newest first: %+v", entries)
	}

	moved := entries[2]
	if moved.Category != "Documents" || moved.Size != 10240 || !moved.Renamed || moved.TaskID != "t-1" {
		t.Fatalf("unexpected success entry %+v", moved)
	}
	if !moved.Finished.Equal(base.Add(time.Second)) || moved.Duration() != time.Second {
		t.Fatalf("timestamps not preserved: %+v", moved)
	}

	summary := entries[0].Summary
	if summary == nil || summary.Moved != 1 || summary.Failed != 1 || len(summary.Directories) != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestListFiltersAndLimits(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		kind := routing.KindSuccess
		if i%2 == 1 {
			kind = routing.KindFailure
		}
		ts := base.Add(time.Duration(i) * time.Hour)
		if _, err := store.Insert(ctx, routing.Outcome{Kind: kind, Path: "/d/f", Started: ts, Finished: ts}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	failures, err := store.List(ctx, history.Query{Kinds: []routing.Kind{routing.KindFailure}})
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(failures))
	}

	limited, err := store.List(ctx, history.Query{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 || !limited[0].Finished.Equal(base.Add(4*time.Hour)) {
		t.Fatalf("unexpected limited list %+v", limited)
	}

	recent, err := store.List(ctx, history.Query{Since: base.Add(3 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent entries, got %d", len(recent))
	}
}

func TestTotalsAndPrune(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenHistory(t, cfg)
	ctx := context.Background()
	old := time.Now().Add(-100 * 24 * time.Hour)
	now := time.Now()

	mustInsert := func(o routing.Outcome) {
		t.Helper()
		if _, err := store.Insert(ctx, o); err != nil {
			t.Fatal(err)
		}
	}
	mustInsert(routing.Outcome{Kind: routing.KindSuccess, Size: 100, Finished: old})
	mustInsert(routing.Outcome{Kind: routing.KindSuccess, Size: 50, Finished: now})
	mustInsert(routing.Outcome{Kind: routing.KindFailure, Finished: now})
	mustInsert(routing.Outcome{Kind: routing.KindSweepSummary, Summary: &routing.SweepSummary{}, Finished: now})

	totals, err := store.Totals(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if totals != (history.Totals{Moved: 2, Failed: 1, Sweeps: 1, Bytes: 150}) {
		t.Fatalf("unexpected totals %+v", totals)
	}

	removed, err := store.PruneRetention(ctx, 90)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned row, got %d", removed)
	}
	if n, _ := store.PruneRetention(ctx, 0); n != 0 {
		t.Fatal("zero retention must keep everything")
	}
	totals, _ = store.Totals(ctx)
	if totals.Moved != 1 || totals.Bytes != 50 {
		t.Fatalf("unexpected totals after prune %+v", totals)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store, err := history.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Insert(context.Background(), routing.Outcome{Kind: routing.KindFailure, Path: "/d/a"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened := testsupport.MustOpenHistory(t, cfg)
	entries, err := reopened.List(context.Background(), history.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Path != "/d/a" {
		t.Fatalf("unexpected entries after reopen %+v", entries)
	}
}

func TestOpenRejectsNewerSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite", cfg.HistoryPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	if _, err := history.Open(cfg, logging.NewNop()); !errors.Is(err, history.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}

func TestOpenUpgradesPartialSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	db, err := sql.Open("sqlite", cfg.HistoryPath())
	if err != nil {
		t.Fatal(err)
	}
	// A ledger written before the outcome indexes existed.
	if _, err := db.Exec(`CREATE TABLE outcomes (
		id INTEGER PRIMARY KEY AUTOINCREMENT, task_id TEXT, kind TEXT NOT NULL, origin TEXT,
		path TEXT, category TEXT, destination TEXT, size INTEGER NOT NULL DEFAULT 0, reason TEXT,
		cross_device INTEGER NOT NULL DEFAULT 0, renamed INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL, finished_at TEXT NOT NULL, summary_json TEXT);
		PRAGMA user_version = 1;`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	store, err := history.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = store.Close()

	db, err = sql.Open("sqlite", cfg.HistoryPath())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var version, indexes int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("SELECT COUNT(1) FROM sqlite_master WHERE type='index' AND name LIKE 'idx_outcomes_%'").Scan(&indexes); err != nil {
		t.Fatal(err)
	}
	if version != 2 || indexes != 2 {
		t.Fatalf("expected version 2 with both indexes, got version %d and %d indexes", version, indexes)
	}
}
