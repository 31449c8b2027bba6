package batch

import (
	"sync"

	"github.com/phrazzld/scenegen/internal/generation"
)

// StatusCounts tallies tasks per status.
type StatusCounts struct {
	Pending   int
	Success   int
	Retrying  int
	Failed    int
	Rewritten int
}

// TaskStore holds the ordered, index-addressable state of every task in a run.
//
// Tasks are replaced in place and never inserted or removed. The orchestrator
// gives each index a single writer at a time; the lock only keeps snapshot
// readers consistent with concurrent writers.
type TaskStore struct {
	mu    sync.RWMutex
	tasks []GenerationTask
}

// NewTaskStore seeds one Pending task per prompt, in input order.
func NewTaskStore(prompts []ScenePrompt) *TaskStore {
	tasks := make([]GenerationTask, len(prompts))
	for i, p := range prompts {
		tasks[i] = GenerationTask{
			Index:          i,
			SceneNumber:    i + 1,
			Prompt:         p.Text,
			OriginalPrompt: p.Text,
			NegativePrompt: p.NegativePrompt,
			AspectRatio:    p.AspectRatio,
			Style:          p.Style,
			SceneContext:   p.Context,
			Status:         StatusPending,
			Error:          "not generated yet",
		}
	}
	return &TaskStore{tasks: tasks}
}

// Len returns the number of tasks.
func (s *TaskStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Get returns a copy of the task at index.
func (s *TaskStore) Get(index int) (GenerationTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.tasks) {
		return GenerationTask{}, false
	}
	return s.tasks[index], true
}

// Snapshot returns a copy of every task in index order.
func (s *TaskStore) Snapshot() []GenerationTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GenerationTask, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// FailedIndices returns the indices of every Failed task in ascending order.
func (s *TaskStore) FailedIndices() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int
	for i := range s.tasks {
		if s.tasks[i].Status == StatusFailed {
			out = append(out, i)
		}
	}
	return out
}

// Counts tallies the current statuses.
func (s *TaskStore) Counts() StatusCounts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var c StatusCounts
	for i := range s.tasks {
		switch s.tasks[i].Status {
		case StatusPending:
			c.Pending++
		case StatusSuccess:
			c.Success++
		case StatusRetrying:
			c.Retrying++
		case StatusFailed:
			c.Failed++
		}
		if s.tasks[i].WasRewritten {
			c.Rewritten++
		}
	}
	return c
}

// Neighbours returns the prompts of the nearest Success tasks before and after
// index. Either may be empty.
func (s *TaskStore) Neighbours(index int) (previous, next string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := index - 1; i >= 0; i-- {
		if s.tasks[i].Status == StatusSuccess {
			previous = s.tasks[i].Prompt
			break
		}
	}
	for i := index + 1; i < len(s.tasks); i++ {
		if s.tasks[i].Status == StatusSuccess {
			next = s.tasks[i].Prompt
			break
		}
	}
	return previous, next
}

func (s *TaskStore) update(index int, fn func(t *GenerationTask)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.tasks) {
		return
	}
	fn(&s.tasks[index])
}

func (s *TaskStore) recordAttempt(index int) {
	s.update(index, func(t *GenerationTask) { t.Attempts++ })
}

func (s *TaskStore) markRetrying(index int, message string) {
	s.update(index, func(t *GenerationTask) {
		t.Status = StatusRetrying
		t.Error = message
	})
}

func (s *TaskStore) markFailed(index int, message, cause string) {
	s.update(index, func(t *GenerationTask) {
		t.Status = StatusFailed
		t.Error = message
		t.Cause = cause
		t.Result = nil
	})
}

// markSuccess stores the result. A non-empty rewrittenPrompt replaces the
// task prompt and flags the task as rewritten.
func (s *TaskStore) markSuccess(index int, result *generation.ImageResult, rewrittenPrompt string) {
	s.update(index, func(t *GenerationTask) {
		t.Status = StatusSuccess
		t.Error = ""
		t.Cause = ""
		t.Result = result
		if rewrittenPrompt != "" {
			t.Prompt = rewrittenPrompt
			t.WasRewritten = true
		}
	})
}

// settleUnfinished marks every Pending or Retrying task Failed with message.
func (s *TaskStore) settleUnfinished(message string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.tasks {
		if !s.tasks[i].Settled() {
			s.tasks[i].Status = StatusFailed
			s.tasks[i].Error = message
			s.tasks[i].Cause = message
			s.tasks[i].Result = nil
			n++
		}
	}
	return n
}
