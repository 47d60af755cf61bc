// Package server implements the transport side of the PairBrowse relay: the
// WebSocket hub with its room broadcast groups, per-connection clients, the
// HTTP surface, and the optional Redis bus for multi-instance fan-out.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, routing, and HTTP handlers to keep the codebase
// maintainable and testable as the project grows. The room state itself lives
// in the relay package; this package only moves bytes for it.
package server
