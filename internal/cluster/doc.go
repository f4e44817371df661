// Package cluster provides the plumbing shared by the parameter-server roles:
// configuration, the frame transport and the broadcast subscriber.
//
// # Topology
//
// The scheduler exposes three endpoints; masters expose one each. Workers
// are clients only.
//
//	               ┌──────────────────────────────┐
//	               │          Scheduler           │
//	               │  :broadcast  /subscribe      │◄──── long-poll (all)
//	               │  :master     /rpc  r, u      │◄──── masters
//	               │  :worker     /rpc  r, o      │◄──── workers
//	               └──────────────────────────────┘
//	                       │ directory: [start,end) → addr
//	      ┌────────────────┴────────────────┐
//	┌─────▼──────┐                    ┌─────▼──────┐
//	│  Master 0  │                    │  Master 1  │
//	│  [0, 5)    │                    │  [5, 10)   │
//	│  /rpc x, g │                    │  /rpc x, g │
//	└─────▲──────┘                    └─────▲──────┘
//	      └────────── Worker (x, g) ─────────┘
//
// # Transport
//
// Every request is an HTTP POST of one wire frame to /rpc and every reply is
// one frame. A request whose body cannot be read or decoded is answered
// with an empty Ack: the sender treats it as "retry", which keeps every
// exchange idempotent-safe without the server having to block. All calls are
// bounded by a context deadline; nothing in the cluster waits forever.
//
// # Broadcast
//
// The broadcast channel is a long-poll: a Subscribe frame carries the last
// generation seen and the scheduler answers as soon as the generation moves
// or the run terminates, or with the current generation after its hold time.
// A Subscriber turns that into a stream of Events. A scheduler that stays
// silent for longer than the subscriber's timeout is reported as Lost.
//
// # Configuration
//
// Settings gathers the timeouts, the number of masters, the scheduler's host
// and ports and the master's advertised port. LoadSettings reads PROX_*
// environment variables and RegisterFlags lets each binary override them.
package cluster
