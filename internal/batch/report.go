package batch

import "time"

// Outcome describes how a run ended.
type Outcome string

// Run outcomes
const (
	OutcomeCompleted         Outcome = "completed"
	OutcomeRoundCapExhausted Outcome = "round_cap_exhausted"
	OutcomeAborted           Outcome = "aborted"
	OutcomeCancelled         Outcome = "cancelled"
)

// Report summarizes a finished run. Tasks is the final store snapshot.
type Report struct {
	Outcome   Outcome
	Rounds    int
	MaxRounds int

	Total     int
	Succeeded int
	Failed    int
	Rewritten int

	// AbortReason holds the message that aborted the run, if any
	AbortReason string

	Tasks      []GenerationTask
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func newReport(store *TaskStore, round RoundState, outcome Outcome, startedAt time.Time) *Report {
	counts := store.Counts()
	return &Report{
		Outcome:    outcome,
		Rounds:     round.Round,
		MaxRounds:  round.MaxRounds,
		Total:      store.Len(),
		Succeeded:  counts.Success,
		Failed:     counts.Failed,
		Rewritten:  counts.Rewritten,
		Tasks:      store.Snapshot(),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
}
