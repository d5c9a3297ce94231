package report

import (
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/ppiankov/relaypan/internal/rotation"
)

// jsonStatus extends the portable state record with the watermark.
type jsonStatus struct {
	rotation.Record
	LastPostID *string `json:"last_post_id"`
}

type jsonHistory struct {
	Published []jsonPublished `json:"published"`
	Runs      []jsonRun       `json:"runs"`
}

type jsonPublished struct {
	PostID      string `json:"post_id"`
	Text        string `json:"text"`
	MediaCount  int    `json:"media_count"`
	Position    int    `json:"position"`
	PublishedAt string `json:"published_at"`
}

type jsonRun struct {
	ID         string `json:"id"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
	Outcome    string `json:"outcome"`
	Attempts   int    `json:"attempts"`
	PostID     string `json:"post_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// JSONFormatter renders reports as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON formatter.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// FormatStatus writes the stored state, not the lazily expired view, so the
// output can be fed back through import.
func (f *JSONFormatter) FormatStatus(w io.Writer, s Status) error {
	out := jsonStatus{Record: rotation.ToRecord(s.State())}
	if s.HasMark {
		v := strconv.FormatInt(s.Watermark, 10)
		out.LastPostID = &v
	}
	return encode(w, out)
}

func (f *JSONFormatter) FormatHistory(w io.Writer, h History) error {
	out := jsonHistory{
		Published: make([]jsonPublished, 0, len(h.Published)),
		Runs:      make([]jsonRun, 0, len(h.Runs)),
	}
	for _, p := range h.Published {
		out.Published = append(out.Published, jsonPublished{
			PostID:      strconv.FormatInt(p.PostID, 10),
			Text:        p.Text,
			MediaCount:  p.MediaCount,
			Position:    p.Position,
			PublishedAt: p.PublishedAt.UTC().Format(time.RFC3339),
		})
	}
	for _, r := range h.Runs {
		jr := jsonRun{
			ID:         r.ID,
			StartedAt:  r.StartedAt.UTC().Format(time.RFC3339),
			FinishedAt: r.FinishedAt.UTC().Format(time.RFC3339),
			Outcome:    r.Outcome,
			Attempts:   r.Attempts,
			Error:      r.Error,
		}
		if r.PostID > 0 {
			jr.PostID = strconv.FormatInt(r.PostID, 10)
		}
		out.Runs = append(out.Runs, jr)
	}
	return encode(w, out)
}

func encode(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
