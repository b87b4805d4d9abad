// Package indexdb keeps a queryable SQLite index of forecast runs. Writes are
// queued and applied by a single goroutine in batched transactions; the
// snapshots and member logs remain the source of truth.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"emberguide.ai/internal/sim/ensemble"
	"emberguide.ai/internal/sim/nowcast"
	"emberguide.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRun    atomic.Uint64
	dropMember atomic.Uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqMember
	reqFlush
)

type req struct {
	kind reqKind

	run    runRow
	member ensemble.MemberRecord
	done   chan struct{}
}

type runRow struct {
	Run      RunRow
	Horizons []HorizonRow
}

// RunRow is one indexed forecast run.
type RunRow struct {
	RunID             string
	FireID            string
	Seed              int64
	ConfigFingerprint string
	DomainDigest      string
	Digest            string
	Status            string
	Reason            string
	EnsembleSize      int
	Succeeded         int
	Failed            int
	Cancelled         int
	Calibrated        bool
	CalibrationMethod string
	StartedAt         time.Time
	DurationMs        int64
	SnapshotPath      string
}

type HorizonRow struct {
	Step            int
	MaxProbability  float64
	MeanProbability float64
	AffectedAreaKm2 float64
}

// timeLayout is fixed width so started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Stats reports queue usage and the requests lost to a full queue or a
// failed write.
type Stats struct {
	QueueDepth      int
	QueueCapacity   int
	DropRunTotal    uint64
	DropMemberTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			fingerprint TEXT PRIMARY KEY,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			fire_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			config_fingerprint TEXT NOT NULL,
			domain_digest TEXT NOT NULL,
			digest TEXT NOT NULL,
			status TEXT NOT NULL,
			reason TEXT,
			ensemble_size INTEGER NOT NULL,
			succeeded INTEGER NOT NULL,
			failed INTEGER NOT NULL,
			cancelled INTEGER NOT NULL,
			calibrated INTEGER NOT NULL,
			calibration_method TEXT,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			snapshot_path TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_fire_started ON runs(fire_id, started_at);`,
		`CREATE TABLE IF NOT EXISTS horizons (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			max_probability REAL NOT NULL,
			mean_probability REAL NOT NULL,
			affected_area_km2 REAL NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
		`CREATE TABLE IF NOT EXISTS members (
			run_id TEXT NOT NULL,
			member INTEGER NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			steps INTEGER NOT NULL,
			burned INTEGER NOT NULL,
			perturbation_json TEXT NOT NULL,
			PRIMARY KEY (run_id, member)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropRunTotal:    s.dropRun.Load(),
		DropMemberTotal: s.dropMember.Load(),
	}
}

// RecordForecast queues a run row plus one row per horizon. snapshotPath may
// be empty.
func (s *SQLiteIndex) RecordForecast(f *nowcast.Forecast, snapshotPath string) {
	if s == nil || s.closed.Load() || f == nil {
		return
	}
	m := f.Metadata
	r := runRow{Run: RunRow{
		RunID:             m.RunID,
		FireID:            m.FireID,
		Seed:              m.Seed,
		ConfigFingerprint: m.ConfigFingerprint,
		DomainDigest:      m.DomainDigest,
		Digest:            m.Digest,
		Status:            string(m.Status),
		Reason:            string(m.Reason),
		EnsembleSize:      m.EnsembleSize,
		Succeeded:         m.Succeeded,
		Failed:            m.Failed,
		Cancelled:         m.Cancelled,
		Calibrated:        f.Calibrated,
		CalibrationMethod: string(f.CalibrationMethod),
		StartedAt:         m.StartedAt.UTC(),
		DurationMs:        m.Duration.Milliseconds(),
		SnapshotPath:      snapshotPath,
	}}
	for _, p := range f.Horizons {
		r.Horizons = append(r.Horizons, HorizonRow{
			Step:            p.Step,
			MaxProbability:  p.Metrics.MaxProbability,
			MeanProbability: p.Metrics.MeanProbability,
			AffectedAreaKm2: p.Metrics.AffectedAreaKm2,
		})
	}
	select {
	case s.ch <- req{kind: reqRun, run: r}:
	default:
		s.dropRun.Add(1)
	}
}

// WriteMember satisfies ensemble.MemberSink. Records are dropped rather than
// stalling the run when the writer falls behind.
func (s *SQLiteIndex) WriteMember(rec ensemble.MemberRecord) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	rec.IgnitionStep = nil
	select {
	case s.ch <- req{kind: reqMember, member: rec}:
	default:
		s.dropMember.Add(1)
	}
	return nil
}

// Flush blocks until everything queued before it has been committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertConfig stores the canonical JSON of cfg under its fingerprint.
func (s *SQLiteIndex) UpsertConfig(ctx context.Context, cfg tuning.Config) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO configs(fingerprint,json,updated_at) VALUES(?,?,?)`, cfg.Fingerprint(), string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	stmts := &statements{}
	stmts.insertRun, _ = s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,fire_id,seed,config_fingerprint,domain_digest,digest,status,reason,ensemble_size,succeeded,failed,cancelled,calibrated,calibration_method,started_at,duration_ms,snapshot_path) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	stmts.insertHorizon, _ = s.db.Prepare(`INSERT OR REPLACE INTO horizons(run_id,step,max_probability,mean_probability,affected_area_km2) VALUES(?,?,?,?,?)`)
	stmts.insertMember, _ = s.db.Prepare(`INSERT OR REPLACE INTO members(run_id,member,status,error,steps,burned,perturbation_json) VALUES(?,?,?,?,?,?,?)`)
	defer stmts.close()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// Commit when idle as well so readers sharing the single connection are
	// not held behind an open transaction.
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	// Each request runs under its own savepoint, so a failed insert discards
	// only that request's rows and the rest of the batch still commits.
	apply := func(r req) (int, error) {
		if _, err := tx.ExecContext(ctx, `SAVEPOINT req`); err != nil {
			return 0, err
		}
		n, err := s.write(ctx, tx, r, stmts)
		if err != nil {
			_, _ = tx.ExecContext(ctx, `ROLLBACK TO req`)
			_, _ = tx.ExecContext(ctx, `RELEASE req`)
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `RELEASE req`); err != nil {
			return 0, err
		}
		return n, nil
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			s.drop(r)
			continue
		}
		n, err := apply(r)
		if err != nil {
			s.drop(r)
		}
		opCount += n
		flushIfNeeded()
	}

	commit()
}

type statements struct {
	insertRun     *sql.Stmt
	insertHorizon *sql.Stmt
	insertMember  *sql.Stmt
}

func (st *statements) close() {
	for _, stmt := range []*sql.Stmt{st.insertRun, st.insertHorizon, st.insertMember} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

var errNoStatement = errors.New("indexdb: statement not prepared")

// write applies one queued request inside tx and returns the rows written.
func (s *SQLiteIndex) write(ctx context.Context, tx *sql.Tx, r req, st *statements) (int, error) {
	switch r.kind {
	case reqRun:
		if st.insertRun == nil || st.insertHorizon == nil {
			return 0, errNoStatement
		}
		run := r.run.Run
		if _, err := tx.StmtContext(ctx, st.insertRun).ExecContext(ctx,
			run.RunID,
			run.FireID,
			run.Seed,
			run.ConfigFingerprint,
			run.DomainDigest,
			run.Digest,
			run.Status,
			run.Reason,
			run.EnsembleSize,
			run.Succeeded,
			run.Failed,
			run.Cancelled,
			run.Calibrated,
			run.CalibrationMethod,
			run.StartedAt.Format(timeLayout),
			run.DurationMs,
			run.SnapshotPath,
		); err != nil {
			return 0, err
		}
		hs := tx.StmtContext(ctx, st.insertHorizon)
		for _, h := range r.run.Horizons {
			if _, err := hs.ExecContext(ctx, run.RunID, h.Step, h.MaxProbability, h.MeanProbability, h.AffectedAreaKm2); err != nil {
				return 0, err
			}
		}
		return 1 + len(r.run.Horizons), nil

	case reqMember:
		if st.insertMember == nil {
			return 0, errNoStatement
		}
		m := r.member
		pj, err := json.Marshal(m.Perturbation)
		if err != nil {
			return 0, err
		}
		if _, err := tx.StmtContext(ctx, st.insertMember).ExecContext(ctx, m.RunID, m.Member, string(m.Status), m.Error, m.Steps, m.Burned, string(pj)); err != nil {
			return 0, err
		}
		return 1, nil
	}
	return 0, fmt.Errorf("indexdb: unknown request kind %d", r.kind)
}

// drop counts a request that never reached the database.
func (s *SQLiteIndex) drop(r req) {
	switch r.kind {
	case reqRun:
		s.dropRun.Add(1)
	case reqMember:
		s.dropMember.Add(1)
	}
}
