package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/nowcast"
	"emberguide.ai/internal/sim/perturb"
	"emberguide.ai/internal/sim/simerr"
	"emberguide.ai/internal/sim/tuning"
)

func testForecast(runID string, started time.Time) *nowcast.Forecast {
	return &nowcast.Forecast{
		Metadata: ensemble.Metadata{
			RunID:             runID,
			FireID:            "fire-7",
			Seed:              42,
			ConfigFingerprint: "cfg",
			DomainDigest:      "dom",
			EnsembleSize:      10,
			Succeeded:         9,
			Failed:            1,
			Status:            ensemble.StatusDegraded,
			Reason:            simerr.CodeMemberFailure,
			StartedAt:         started,
			Duration:          1500 * time.Millisecond,
			Digest:            "abc",
		},
		Horizons: []nowcast.Product{
			{Step: 12, Metrics: nowcast.Metrics{MaxProbability: 1, MeanProbability: 0.25, AffectedAreaKm2: 0.04}},
			{Step: 24, Metrics: nowcast.Metrics{MaxProbability: 0.9, MeanProbability: 0.5, AffectedAreaKm2: 0.08}},
		},
	}
}

func TestSQLiteIndex_RecordForecast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")
	ctx := context.Background()

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t0 := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
	idx.RecordForecast(testForecast("run-b", t0.Add(time.Hour)), "/snap/b.snap.zst")
	idx.RecordForecast(testForecast("run-a", t0), "")
	for i := 0; i < 3; i++ {
		st := ensemble.MemberOK
		if i == 2 {
			st = ensemble.MemberFailed
		}
		_ = idx.WriteMember(ensemble.MemberRecord{RunID: "run-a", Member: i, Status: st, Perturbation: perturb.Identity()})
	}
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	runs, err := idx.Runs(ctx, "fire-7")
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-a" || runs[1].RunID != "run-b" {
		t.Fatalf("runs order mismatch: %+v", runs)
	}
	b := runs[1]
	if b.Status != "degraded" || b.Reason != string(simerr.CodeMemberFailure) || b.Failed != 1 || b.DurationMs != 1500 {
		t.Fatalf("row mismatch: %+v", b)
	}
	if b.SnapshotPath != "/snap/b.snap.zst" || !b.StartedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("row mismatch: %+v", b)
	}
	if other, _ := idx.Runs(ctx, "nope"); len(other) != 0 {
		t.Fatalf("unexpected rows for unknown fire: %+v", other)
	}

	hs, err := idx.Horizons(ctx, "run-a")
	if err != nil {
		t.Fatalf("Horizons: %v", err)
	}
	if len(hs) != 2 || hs[0].Step != 12 || hs[1].AffectedAreaKm2 != 0.08 {
		t.Fatalf("horizons mismatch: %+v", hs)
	}

	counts, err := idx.MemberCounts(ctx, "run-a")
	if err != nil {
		t.Fatalf("MemberCounts: %v", err)
	}
	if counts["ok"] != 2 || counts["failed"] != 1 {
		t.Fatalf("member counts mismatch: %v", counts)
	}

	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSQLiteIndex_UpsertConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	cfg := tuning.Defaults()
	if err := idx.UpsertConfig(context.Background(), cfg); err != nil {
		t.Fatalf("UpsertConfig: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM configs WHERE fingerprint=?`, cfg.Fingerprint()).Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 1 {
		t.Fatalf("configs rows=%d want=1", n)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqMember}

	s.RecordForecast(testForecast("r", time.Now()), "")
	_ = s.WriteMember(ensemble.MemberRecord{RunID: "r"})

	st := s.Stats()
	if st.DropRunTotal != 1 {
		t.Fatalf("DropRunTotal=%d want=1", st.DropRunTotal)
	}
	if st.DropMemberTotal != 1 {
		t.Fatalf("DropMemberTotal=%d want=1", st.DropMemberTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_FailedWriteKeepsBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := initSchema(db); err != nil {
		t.Fatalf("initSchema: %v", err)
	}
	if _, err := db.Exec(`CREATE TRIGGER reject_member BEFORE INSERT ON members WHEN NEW.member < 0
		BEGIN SELECT RAISE(ABORT, 'rejected'); END;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	// Queue everything before the writer starts so it lands in one batch.
	s := &SQLiteIndex{db: db, ch: make(chan req, 8)}
	t0 := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)
	s.RecordForecast(testForecast("run-a", t0), "")
	_ = s.WriteMember(ensemble.MemberRecord{RunID: "run-a", Member: -1, Status: ensemble.MemberOK, Perturbation: perturb.Identity()})
	_ = s.WriteMember(ensemble.MemberRecord{RunID: "run-a", Member: 0, Status: ensemble.MemberOK, Perturbation: perturb.Identity()})
	s.RecordForecast(testForecast("run-b", t0.Add(time.Minute)), "")
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	runs, err := s.Runs(ctx, "fire-7")
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs=%d want 2: %+v", len(runs), runs)
	}
	counts, err := s.MemberCounts(ctx, "run-a")
	if err != nil {
		t.Fatalf("MemberCounts: %v", err)
	}
	if counts["ok"] != 1 {
		t.Fatalf("member counts mismatch: %v", counts)
	}
	st := s.Stats()
	if st.DropMemberTotal != 1 || st.DropRunTotal != 0 {
		t.Fatalf("drops run=%d member=%d, want 0 and 1", st.DropRunTotal, st.DropMemberTotal)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
