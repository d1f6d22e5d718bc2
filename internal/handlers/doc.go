// Package handlers provides HTTP request handlers for the media job API.
//
// It includes handlers for:
//   - Job submission, inspection and cancellation
//   - Result streaming for succeeded jobs
//   - Job history backed by the durable ledger
//   - WebSocket job event subscriptions
//   - Health checks, readiness and build information
package handlers
