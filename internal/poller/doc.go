// Package poller implements the Session Quota Poller component.
//
// The Session Quota Poller:
//   - Polls GET /gateway/bot on an interval (default 10m)
//   - Publishes the identify quota as metrics
//   - Warns when remaining session starts fall to the low-water mark
//   - Keeps the latest quota for the health endpoint
package poller
