// Package batch drives bulk image generation against slow, rate-limited and
// policy-gated providers.
//
// An Orchestrator seeds one GenerationTask per submitted scene in a TaskStore,
// runs them through a bounded-concurrency limiter, classifies every failure from
// its provider message, and applies a class-specific recovery action: an inline
// wait-and-retry for throttling, an AI-assisted prompt rewrite for content-policy
// rejections, a hard abort for expired credentials, and deferral to the next
// round for anything else. Failed tasks are retried in rounds until none remain,
// the round cap is reached, the run is aborted, or the ProgressSink asks to stop.
package batch
