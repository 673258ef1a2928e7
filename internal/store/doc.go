// Package store provides SQLite-backed persistence for the cmux orchestrator.
//
// # Overview
//
// One embedded database holds five families of durable state:
//
//   - messages: agent communication with optional task-lifecycle status
//   - agent_events: tool invocations and turn completions from agent hooks
//   - thoughts: ephemeral reasoning notes kept for replay
//   - agent_archives: terminal snapshots of removed agents
//   - tasks: the hierarchical work-item graph
//
// # Durability
//
// The database runs in WAL mode with a bounded busy timeout, so writes
// commit immediately and concurrent readers never fail hard on contention.
// External CLI tooling shares the same file.
//
// # Retroactive event linking
//
// Tool-call events arrive before the response that summarizes them. They are
// stored unlinked and attributed later: when a Stop event produces a response
// message, LinkEventsToMessage stamps every still-unlinked tool event for
// that agent with the new message id. This is an intentional two-phase write,
// not a transaction to be closed.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/cmux/conversations.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
package store
