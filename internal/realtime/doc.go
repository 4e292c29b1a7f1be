// Package realtime implements the connection registry and fan-out core.
//
// The Manager owns all live WebSocket connections plus the user/session/room
// membership indices. Every multi-connection delivery iterates a snapshot copy
// of the relevant index, so a failed write can disconnect mid-broadcast without
// corrupting the iteration. Per-connection sliding windows throttle delivery;
// liveness pings bypass them.
package realtime
