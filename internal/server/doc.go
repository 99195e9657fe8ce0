// Package server implements the HTTP API: recording lifecycle control,
// status and transcript queries, a WebSocket status feed, and the usual
// health, config, stats, and metrics endpoints.
package server
