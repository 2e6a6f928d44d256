// Package transport implements the equipment protocol's connection and
// framing layer.
//
// The transport layer handles:
//   - Plain TCP connections, one goroutine per accepted connection
//   - Length-prefixed message framing (4-byte big-endian length, then body)
//   - Per-connection send/close, safe for concurrent use
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│   pipe-delimited body (wire)    │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// TLS and connection-level keep-alive control frames are out of scope;
// liveness is tracked above this package by the heartbeat supervisor,
// which watches application-level heartbeat messages rather than framing
// control bytes.
package transport
