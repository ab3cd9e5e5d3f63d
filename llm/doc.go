// Package llm defines the agent-invocation collaborator contract.
//
// The orchestration core treats the underlying model transport as opaque:
// a Provider receives instructions plus a transcript and returns text. The
// package also ships a ResilientProvider decorator that adds bounded retry
// and client-side rate limiting without touching provider code.
package llm
