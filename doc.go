// Package jimi is the execution core of an interactive AI coding agent:
// the turn loop that drives LLM generations, the checkpointed context
// store behind it, the tool registry with argument normalization and
// approval gating, token-budgeted compaction, and the synchronous and
// asynchronous subagent dispatchers that stream lifecycle events back
// to the parent over an in-process bus.
//
// The package does no LLM HTTP I/O itself; providers implement the
// ChatProvider contract (see provider/openaicompat). Terminal rendering
// is likewise external: consumers subscribe to the Wire and decide how
// events are shown.
package jimi
