// Package events provides the run event types and a small in-process
// publish/subscribe layer.
//
// The run service emits a RunEvent whenever a run is queued, makes progress
// or finishes. Handlers such as the websocket hub subscribe without the
// service knowing about them.
package events
