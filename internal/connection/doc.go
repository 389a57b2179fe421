// Package connection implements a single gateway shard session.
//
// A Client:
//   - Dials the gateway over WebSocket and waits for HELLO
//   - Identifies (or resumes) with its shard pair and presence
//   - Heartbeats on the server-provided interval and measures latency from acks
//   - Inflates zlib-stream transport compression when negotiated
//   - Forwards every dispatch frame to a shared sink
//   - Reports unexpected session loss through OnDrop
package connection
