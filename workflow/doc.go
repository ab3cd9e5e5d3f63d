// Package workflow implements the multi-agent orchestration core: an
// append-only conversation transcript shared across a run, an agent
// executor wrapping the invocation collaborator, and three fixed
// execution topologies (sequential pipeline, human-in-the-loop pipeline,
// bounded round-robin discussion) driven through a run registry.
//
// The core decides when each agent speaks, in what order, with what
// context, and whether to pause; it never decides what an agent says.
// Pause is a durable state transition (status plus a recorded pending
// request), not a suspended call frame, so a stateless caller can drive
// a paused run across separate interactions.
package workflow
