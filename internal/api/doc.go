// Package api exposes generation runs over HTTP. Handlers translate requests
// into RunService calls, map service errors to status codes and stream run
// events to websocket clients.
package api
