/*
PURPOSE:
  Keeps a local sqlite history of benchmark runs so one agent build can be
  compared against the last.

REQUIREMENTS:
  Implementation-discovered:
  - CSV/JSONL files are overwritten per run; the history is append-only.
  - Pure Go driver (modernc.org/sqlite) so the binary stays CGO free.
  - Absent latencies are stored as NULL.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine (SaveRun), internal/cli (history)
  - Consumes: internal/model.Report

ERROR HANDLING:
  - Errors are returned. The engine logs them and keeps the report.

IMPLEMENTATION RULES:
  - Schema is created with IF NOT EXISTS on open. No migrations framework.
  - One transaction per run.

USAGE:
  h, err := output.OpenHistory("voicebench.db")
  defer h.Close()
  h.SaveRun(ctx, output.RunMeta{Agent: "agent.py", Room: "benchmark-room"}, rep)

SELF-HEALING INSTRUCTIONS:
  - "database is locked": another voicebench is writing the same file.

RELATED FILES:
  - internal/output/record.go

MAINTENANCE:
  - Add columns with ALTER TABLE guarded the same way as migrate().
*/

package output

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/daryltucker/voicebench/internal/model"
)

// RunMeta describes what a run measured.
type RunMeta struct {
	Agent string
	Room  string
}

// RunSummary is one row of the runs table.
type RunSummary struct {
	ID           string
	StartedAt    time.Time
	Agent        string
	Room         string
	Stimuli      int
	Answered     int
	TotalAvgS    *float64
	NetworkAvgS  *float64
	ProcessAvgS  *float64
	PeakCPU      *float64
	PeakMemMB    *float64
	PeakGPUMemMB *float64
}

// History is the sqlite run store.
type History struct {
	DB *sql.DB
}

// OpenHistory opens (and creates if needed) the history database at path.
func OpenHistory(path string) (*History, error) {
	if path == "" {
		return nil, errors.New("history path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	h := &History{DB: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history %s: %w", path, err)
	}
	return h, nil
}

// Close closes the database.
func (h *History) Close() error {
	if h.DB == nil {
		return nil
	}
	return h.DB.Close()
}

func (h *History) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			agent TEXT,
			room TEXT,
			stimuli INTEGER NOT NULL,
			answered INTEGER NOT NULL,
			total_avg_s REAL,
			total_min_s REAL,
			total_max_s REAL,
			network_avg_s REAL,
			processing_avg_s REAL,
			avg_cpu REAL,
			peak_cpu REAL,
			avg_mem_mb REAL,
			peak_mem_mb REAL,
			peak_gpu_mem_mb REAL
		);`,
		`CREATE TABLE IF NOT EXISTS stimuli (
			run_id TEXT NOT NULL REFERENCES runs(id),
			seq INTEGER NOT NULL,
			prompt TEXT,
			sent_at INTEGER NOT NULL,
			total_s REAL,
			network_s REAL,
			processing_s REAL,
			PRIMARY KEY (run_id, seq)
		);`,
	}
	for _, q := range stmts {
		if _, err := h.DB.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun appends rep and its stimuli in one transaction.
func (h *History) SaveRun(ctx context.Context, meta RunMeta, rep model.Report) error {
	if rep.RunID == "" {
		return errors.New("report has no run id")
	}

	answered := 0
	for _, s := range rep.Stimuli {
		if s.Total != nil {
			answered++
		}
	}

	var cpuAvg, cpuPeak, memAvg, memPeak *float64
	if rep.System.Samples > 0 {
		cpuAvg, cpuPeak = &rep.System.AvgCPU, &rep.System.PeakCPU
		memAvg, memPeak = &rep.System.AvgMemMB, &rep.System.PeakMemMB
	}

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs(
			id, started_at, agent, room, stimuli, answered,
			total_avg_s, total_min_s, total_max_s, network_avg_s, processing_avg_s,
			avg_cpu, peak_cpu, avg_mem_mb, peak_mem_mb, peak_gpu_mem_mb
		) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.RunID, rep.StartedAt.UnixMilli(), meta.Agent, meta.Room, len(rep.Stimuli), answered,
		statSeconds(rep.Total, rep.Total.Mean), statSeconds(rep.Total, rep.Total.Min), statSeconds(rep.Total, rep.Total.Max),
		statSeconds(rep.Network, rep.Network.Mean), statSeconds(rep.Processing, rep.Processing.Mean),
		nullable(cpuAvg), nullable(cpuPeak), nullable(memAvg), nullable(memPeak), nullable(rep.System.PeakGPUMemMB),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("insert run: %w", err)
	}

	for i, b := range rep.Stimuli {
		rec := newStimulusRecord(rep.RunID, b)
		_, err := tx.ExecContext(ctx, `INSERT INTO stimuli(run_id, seq, prompt, sent_at, total_s, network_s, processing_s) VALUES(?,?,?,?,?,?,?)`,
			rep.RunID, i, rec.Prompt, rec.SentAt.UnixMilli(),
			nullable(rec.TotalS), nullable(rec.NetworkS), nullable(rec.ProcessingS),
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert stimulus %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Runs returns the most recent runs, newest first.
func (h *History) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.DB.QueryContext(ctx, `SELECT id, started_at, agent, room, stimuli, answered,
			total_avg_s, network_avg_s, processing_avg_s, peak_cpu, peak_mem_mb, peak_gpu_mem_mb
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r                          RunSummary
			started                    int64
			agent, room                sql.NullString
			total, network, processing sql.NullFloat64
			cpu, mem, gpu              sql.NullFloat64
		)
		if err := rows.Scan(&r.ID, &started, &agent, &room, &r.Stimuli, &r.Answered,
			&total, &network, &processing, &cpu, &mem, &gpu); err != nil {
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started)
		r.Agent, r.Room = agent.String, room.String
		r.TotalAvgS = fromNull(total)
		r.NetworkAvgS = fromNull(network)
		r.ProcessAvgS = fromNull(processing)
		r.PeakCPU = fromNull(cpu)
		r.PeakMemMB = fromNull(mem)
		r.PeakGPUMemMB = fromNull(gpu)
		out = append(out, r)
	}
	return out, rows.Err()
}

func statSeconds(st model.Stat, d time.Duration) any {
	if !st.Available() {
		return nil
	}
	return d.Seconds()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNull(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
