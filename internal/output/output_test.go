package output

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daryltucker/voicebench/internal/model"
)

func dur(d time.Duration) *time.Duration { return &d }

func sampleReport() model.Report {
	sent := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gpu := 1024.0
	return model.Report{
		RunID:     "run-1",
		StartedAt: sent,
		Stimuli: []model.Breakdown{
			{Prompt: "Hello, are you there?", SentAt: sent, Network: dur(40 * time.Millisecond), Processing: dur(800 * time.Millisecond), Total: dur(1100 * time.Millisecond)},
			{Prompt: "What is the capital of France?", SentAt: sent.Add(10 * time.Second)},
		},
		Network:    model.Stat{Count: 1, Mean: 40 * time.Millisecond, Min: 40 * time.Millisecond, Max: 40 * time.Millisecond},
		Processing: model.Stat{Count: 1, Mean: 800 * time.Millisecond, Min: 800 * time.Millisecond, Max: 800 * time.Millisecond},
		Total:      model.Stat{Count: 1, Mean: 1100 * time.Millisecond, Min: 1100 * time.Millisecond, Max: 1100 * time.Millisecond},
		System:     model.SystemSummary{Samples: 4, AvgCPU: 12.5, PeakCPU: 30, AvgMemMB: 200, PeakMemMB: 250, PeakGPUMemMB: &gpu},
	}
}

func TestFormatStat_NA(t *testing.T) {
	avg, min, max := FormatStat(model.Stat{})
	assert.Equal(t, "N/A", avg)
	assert.Equal(t, "N/A", min)
	assert.Equal(t, "N/A", max)

	avg, _, _ = FormatStat(model.Stat{Count: 1, Mean: 1500 * time.Millisecond})
	assert.Equal(t, "1.500 s", avg)
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleReport()))
	out := buf.String()

	assert.Contains(t, out, "Run:      run-1")
	assert.Contains(t, out, "Stimuli:  2 sent, 1 answered")
	assert.Contains(t, out, "Network uplink")
	assert.Contains(t, out, "0.040 s")
	assert.Contains(t, out, "Agent processing")
	assert.Contains(t, out, "Total response")
	assert.Contains(t, out, "1.100 s")
	assert.NotContains(t, out, "N/A")
	assert.Contains(t, out, "SYSTEM USAGE (4 samples)")
	assert.Contains(t, out, "CPU Usage (avg): 12.5%")
	assert.Contains(t, out, "GPU Mem (max):   1024.0 MB")
}

func TestWriteReport_Degraded(t *testing.T) {
	rep := model.Report{Stimuli: []model.Breakdown{{Prompt: "x"}}}

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, rep))
	out := buf.String()

	for _, row := range []string{"Network uplink", "Agent processing", "Total response"} {
		line := lineWith(t, out, row)
		assert.Equal(t, 3, strings.Count(line, "N/A"), line)
	}
	assert.NotContains(t, out, "SYSTEM USAGE")

	rep.System = model.SystemSummary{Samples: 1, AvgCPU: 1, PeakCPU: 1}
	buf.Reset()
	require.NoError(t, WriteReport(&buf, rep))
	assert.Contains(t, buf.String(), "GPU Mem:         N/A")
}

func lineWith(t *testing.T, out, prefix string) string {
	t.Helper()
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), prefix) {
			return sc.Text()
		}
	}
	t.Fatalf("no line starting with %q in:\n%s", prefix, out)
	return ""
}

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.csv")
	w, err := NewCSVWriter(path)
	require.NoError(t, err)

	rep := sampleReport()
	for _, b := range rep.Stimuli {
		require.NoError(t, w.Write(rep.RunID, b))
	}
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{
		"run-1", "Hello, are you there?", "2026-03-01T12:00:00.000Z", "2026-03-01T12:00:01.100Z",
		"1.1000", "0.0400", "0.8000",
	}, rows[1])
	assert.Equal(t, "", rows[2][3])
	assert.Equal(t, "", rows[2][4])
}

func TestJSONWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	w, err := NewJSONWriter(path)
	require.NoError(t, err)

	rep := sampleReport()
	for _, b := range rep.Stimuli {
		require.NoError(t, w.Write(rep.RunID, b))
	}
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "run-1", first["run_id"])
	assert.InDelta(t, 1.1, first["total_s"], 1e-9)

	var second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Nil(t, second["total_s"])
	assert.Nil(t, second["network_s"])
	assert.NotContains(t, second, "response_at")
}

func TestJSONWriter_KeepsPromptText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.jsonl")
	w, err := NewJSONWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Write("run-2", model.Breakdown{Prompt: "is 1 < 2 & 3 > 2?", SentAt: time.Now()}))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"prompt":"is 1 < 2 & 3 > 2?"`)
}

func TestHistory_SaveAndList(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	older := sampleReport()
	older.RunID = "run-old"
	older.StartedAt = older.StartedAt.Add(-time.Hour)
	require.NoError(t, h.SaveRun(ctx, RunMeta{Agent: "agent.py", Room: "benchmark-room"}, older))

	newer := model.Report{RunID: "run-new", StartedAt: older.StartedAt.Add(2 * time.Hour),
		Stimuli: []model.Breakdown{{Prompt: "x"}}}
	require.NoError(t, h.SaveRun(ctx, RunMeta{Agent: "mock-agent"}, newer))

	runs, err := h.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, 1, runs[0].Stimuli)
	assert.Equal(t, 0, runs[0].Answered)
	assert.Nil(t, runs[0].TotalAvgS)
	assert.Nil(t, runs[0].PeakCPU)

	assert.Equal(t, "run-old", runs[1].ID)
	assert.Equal(t, "agent.py", runs[1].Agent)
	assert.Equal(t, 2, runs[1].Stimuli)
	assert.Equal(t, 1, runs[1].Answered)
	require.NotNil(t, runs[1].TotalAvgS)
	assert.InDelta(t, 1.1, *runs[1].TotalAvgS, 1e-9)
	require.NotNil(t, runs[1].PeakGPUMemMB)
	assert.InDelta(t, 1024, *runs[1].PeakGPUMemMB, 1e-9)

	var n int
	require.NoError(t, h.DB.QueryRow(`SELECT COUNT(*) FROM stimuli WHERE run_id = ?`, "run-old").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestHistory_DuplicateRunRollsBack(t *testing.T) {
	ctx := context.Background()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer h.Close()

	rep := sampleReport()
	require.NoError(t, h.SaveRun(ctx, RunMeta{}, rep))
	assert.Error(t, h.SaveRun(ctx, RunMeta{}, rep))

	var n int
	require.NoError(t, h.DB.QueryRow(`SELECT COUNT(*) FROM stimuli`).Scan(&n))
	assert.Equal(t, 2, n)

	assert.Error(t, h.SaveRun(ctx, RunMeta{}, model.Report{}))
}

func TestConfigure(t *testing.T) {
	defer SetLogger(Logger)

	var buf bytes.Buffer
	require.NoError(t, Configure(&buf, "debug", "json"))
	Logger.Debug("hello", "k", "v")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, "v", rec["k"])

	assert.Error(t, Configure(&buf, "loud", "text"))
	assert.Error(t, Configure(&buf, "info", "xml"))
}
