package batch

import "github.com/phrazzld/scenegen/internal/generation"

// TaskStatus represents the current state of a generation task
type TaskStatus string

// Possible task status values
const (
	StatusPending  TaskStatus = "pending"
	StatusSuccess  TaskStatus = "success"
	StatusRetrying TaskStatus = "retrying"
	StatusFailed   TaskStatus = "failed"
)

// ScenePrompt is one unit of submitted work.
type ScenePrompt struct {
	Text           string
	NegativePrompt string
	AspectRatio    string
	Style          string
	// Context is the narrative text the prompt was derived from; it is only
	// used to steer prompt rewrites.
	Context string
}

// GenerationTask is the record of one scene within a run.
//
// Index and SceneNumber never change once the task is created. Error is set
// exactly when Status is not StatusSuccess and Result exactly when it is.
type GenerationTask struct {
	Index       int
	SceneNumber int

	Prompt         string
	OriginalPrompt string
	NegativePrompt string
	AspectRatio    string
	Style          string
	SceneContext   string

	Status       TaskStatus
	Error        string
	WasRewritten bool
	Attempts     int

	// Cause is the raw provider message behind Error. Recovery classifies
	// it and hands it to the rewriter; Error may wrap it with context.
	Cause string

	Result *generation.ImageResult
}

// Settled reports whether the task reached a final status.
func (t GenerationTask) Settled() bool {
	return t.Status == StatusSuccess || t.Status == StatusFailed
}
