package batch

import "time"

// Options tunes an Orchestrator.
type Options struct {
	// Concurrency is the number of generation calls allowed in flight
	Concurrency int

	// MaxRounds caps the number of rounds, counting the initial pass as round 1
	MaxRounds int

	// InterRoundDelay is the pause between retry rounds
	InterRoundDelay time.Duration

	// RateLimitDelay is the wait before reissuing a throttled prompt from a retry round
	RateLimitDelay time.Duration

	// InitialRateLimitDelay is the wait before reissuing a prompt throttled
	// during the initial pass
	InitialRateLimitDelay time.Duration

	// ImagesPerPrompt is the number of images requested per generation call
	ImagesPerPrompt int
}

// DefaultOptions returns Options with reasonable defaults
func DefaultOptions() Options {
	return Options{
		Concurrency:           3,
		MaxRounds:             50,
		InterRoundDelay:       2 * time.Second,
		RateLimitDelay:        5 * time.Second,
		InitialRateLimitDelay: 0,
		ImagesPerPrompt:       1,
	}
}

// normalize replaces invalid values with defaults.
func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.Concurrency < 1 {
		o.Concurrency = d.Concurrency
	}
	if o.MaxRounds < 1 {
		o.MaxRounds = d.MaxRounds
	}
	if o.InterRoundDelay < 0 {
		o.InterRoundDelay = 0
	}
	if o.RateLimitDelay < 0 {
		o.RateLimitDelay = 0
	}
	if o.InitialRateLimitDelay < 0 {
		o.InitialRateLimitDelay = 0
	}
	if o.ImagesPerPrompt < 1 {
		o.ImagesPerPrompt = d.ImagesPerPrompt
	}
	return o
}

// RoundState tracks the round counter of a run.
type RoundState struct {
	Round           int
	MaxRounds       int
	InterRoundDelay time.Duration
}

// Exhausted reports whether the counter went past the cap.
func (r RoundState) Exhausted() bool {
	return r.Round > r.MaxRounds
}
