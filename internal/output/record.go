package output

import (
	"fmt"
	"time"

	"github.com/daryltucker/voicebench/internal/model"
)

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

// stimulusRecord is the flat, seconds-based row shared by the CSV, JSONL and
// history outputs.
type stimulusRecord struct {
	RunID       string     `json:"run_id"`
	Prompt      string     `json:"prompt"`
	SentAt      time.Time  `json:"sent_at"`
	ResponseAt  *time.Time `json:"response_at,omitempty"`
	TotalS      *float64   `json:"total_s"`
	NetworkS    *float64   `json:"network_s"`
	ProcessingS *float64   `json:"processing_s"`
}

func newStimulusRecord(runID string, b model.Breakdown) stimulusRecord {
	rec := stimulusRecord{
		RunID:       runID,
		Prompt:      b.Prompt,
		SentAt:      b.SentAt,
		TotalS:      secondsPtr(b.Total),
		NetworkS:    secondsPtr(b.Network),
		ProcessingS: secondsPtr(b.Processing),
	}
	if b.Total != nil {
		resp := b.SentAt.Add(*b.Total)
		rec.ResponseAt = &resp
	}
	return rec
}

func (r stimulusRecord) fields() []string {
	resp := ""
	if r.ResponseAt != nil {
		resp = r.ResponseAt.Format(timeLayout)
	}
	return []string{
		r.RunID,
		r.Prompt,
		r.SentAt.Format(timeLayout),
		resp,
		formatSeconds(r.TotalS),
		formatSeconds(r.NetworkS),
		formatSeconds(r.ProcessingS),
	}
}

func secondsPtr(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}

func formatSeconds(s *float64) string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%.4f", *s)
}
