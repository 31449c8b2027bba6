// Package task runs background jobs on a fixed pool of worker goroutines fed
// by a bounded in-memory queue. The run service uses it to execute generation
// runs without blocking the HTTP handlers that accept them.
package task
