package domain

import "context"

// AgentRequest is the input handed to a domain agent: the subject plus a
// read-only snapshot of the current investigation state.
type AgentRequest struct {
	EntityID   string
	EntityType EntityType
	State      *InvestigationState
}

// ToolCall records one tool invocation an agent performed while
// investigating. Results are folded into state by the orchestrator, never
// written to shared state by the agent itself.
type ToolCall struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// AgentReport is a domain agent's complete output for one invocation.
type AgentReport struct {
	Findings  DomainFindings `json:"findings"`
	ToolCalls []ToolCall     `json:"toolCalls,omitempty"`
}

// DomainAgent analyzes one domain of a fraud-risk subject. Implementations
// may call out to external data providers; those are out of scope here.
// Investigate must honor ctx cancellation — the orchestrator applies the
// tier timeout per call.
type DomainAgent interface {
	// Domain returns the analysis domain this agent covers.
	Domain() string

	// Investigate analyzes the entity and returns findings.
	Investigate(ctx context.Context, req AgentRequest) (*AgentReport, error)
}
