package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/phrazzld/scenegen/internal/batch"
)

// consoleSink prints the latest status line of a run.
type consoleSink struct {
	batch.CancelFlag

	mu   sync.Mutex
	out  io.Writer
	last string
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

// OnUpdate implements batch.ProgressSink. Repeated status lines are skipped.
func (s *consoleSink) OnUpdate(_ []batch.GenerationTask, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == s.last {
		return
	}
	s.last = status
	fmt.Fprintln(s.out, status)
}

var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

func imageExtension(mimeType string) string {
	if ext, ok := extensions[mimeType]; ok {
		return ext
	}
	return ".png"
}

// imageFileName names image n of a scene. The suffix is only added for
// scenes with more than one image.
func imageFileName(sceneNumber, n, count int, mimeType string) string {
	if count > 1 {
		return fmt.Sprintf("scene_%03d_%d%s", sceneNumber, n+1, imageExtension(mimeType))
	}
	return fmt.Sprintf("scene_%03d%s", sceneNumber, imageExtension(mimeType))
}

// writeImages stores the images of every successful scene in dir and returns
// the number of files written.
func writeImages(dir string, report *batch.Report) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	written := 0
	for _, t := range report.Tasks {
		if t.Status != batch.StatusSuccess || t.Result == nil {
			continue
		}
		for n, img := range t.Result.Images {
			name := imageFileName(t.SceneNumber, n, len(t.Result.Images), img.MIMEType)
			if err := os.WriteFile(filepath.Join(dir, name), img.Data, 0o644); err != nil {
				return written, fmt.Errorf("failed to write %s: %w", name, err)
			}
			written++
		}
	}
	return written, nil
}

type summaryScene struct {
	SceneNumber    int    `json:"scene_number"`
	Status         string `json:"status"`
	Prompt         string `json:"prompt"`
	OriginalPrompt string `json:"original_prompt,omitempty"`
	WasRewritten   bool   `json:"was_rewritten"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error,omitempty"`
}

type summary struct {
	Outcome     string         `json:"outcome"`
	Rounds      int            `json:"rounds"`
	MaxRounds   int            `json:"max_rounds"`
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	Rewritten   int            `json:"rewritten"`
	AbortReason string         `json:"abort_reason,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Scenes      []summaryScene `json:"scenes"`
}

func newSummary(report *batch.Report) summary {
	s := summary{
		Outcome:     string(report.Outcome),
		Rounds:      report.Rounds,
		MaxRounds:   report.MaxRounds,
		Total:       report.Total,
		Succeeded:   report.Succeeded,
		Failed:      report.Failed,
		Rewritten:   report.Rewritten,
		AbortReason: report.AbortReason,
		StartedAt:   report.StartedAt,
		FinishedAt:  report.FinishedAt,
		Scenes:      make([]summaryScene, len(report.Tasks)),
	}
	for i, t := range report.Tasks {
		scene := summaryScene{
			SceneNumber:  t.SceneNumber,
			Status:       string(t.Status),
			Prompt:       t.Prompt,
			WasRewritten: t.WasRewritten,
			Attempts:     t.Attempts,
			Error:        t.Error,
		}
		if t.WasRewritten {
			scene.OriginalPrompt = t.OriginalPrompt
		}
		s.Scenes[i] = scene
	}
	return s
}

// writeSummary records the run report as summary.json in dir.
func writeSummary(dir string, report *batch.Report) error {
	data, err := json.MarshalIndent(newSummary(report), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "summary.json"), data, 0o644)
}

func printSummary(w io.Writer, report *batch.Report, written int, dir string) {
	fmt.Fprintf(w, "outcome:   %s\n", report.Outcome)
	fmt.Fprintf(w, "rounds:    %d/%d\n", report.Rounds, report.MaxRounds)
	fmt.Fprintf(w, "generated: %d/%d (%d rewritten)\n", report.Succeeded, report.Total, report.Rewritten)
	fmt.Fprintf(w, "images:    %d written to %s\n", written, dir)
	if report.AbortReason != "" {
		fmt.Fprintf(w, "aborted:   %s\n", report.AbortReason)
	}
	for _, t := range report.Tasks {
		if t.Status == batch.StatusFailed {
			fmt.Fprintf(w, "  scene %d failed: %s\n", t.SceneNumber, t.Error)
		}
	}
}
