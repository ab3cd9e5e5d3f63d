package types

// AgentSpec describes one agent participating in a workflow.
// Specs are immutable and supplied at run configuration time; concrete
// agent differences are data (instructions), not behavioral subtypes.
type AgentSpec struct {
	// Name is the agent's unique display name within a run (e.g. "classifier").
	Name string `json:"name"`

	// Description summarizes the agent's role in the workflow.
	Description string `json:"description,omitempty"`

	// Instructions is the system prompt handed to the invocation collaborator.
	Instructions string `json:"instructions"`
}

// Valid reports whether the agent definition carries the minimum required fields.
func (s AgentSpec) Valid() bool {
	return s.Name != "" && s.Instructions != ""
}
