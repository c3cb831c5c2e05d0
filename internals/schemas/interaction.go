package schemas

// Interaction is the authoritative view of one remote task, as returned by
// the get-status operation. Report is only meaningful once Status is
// COMPLETED and may still be empty if the service produced no content.
type Interaction struct {
	ID          string     `json:"id"`
	Status      TaskStatus `json:"status"`
	Report      string     `json:"report,omitempty"`
	ErrorDetail string     `json:"error,omitempty"`
}

type InteractionRequest struct {
	Query       string   `json:"query"`
	Model       string   `json:"model"`
	ParentID    string   `json:"previous_interaction_id,omitempty"`
	ContextRefs []string `json:"context_refs,omitempty"`
	MCPServers  []string `json:"mcp_servers,omitempty"`
}

type StreamEventKind string

const (
	EventThought      StreamEventKind = "thought"
	EventContentDelta StreamEventKind = "content_delta"
	EventTerminal     StreamEventKind = "terminal"
)

// StreamEvent is one frame of the live event feed. Thought text is
// informational only and never part of the final report. ContentDelta
// fragments are provisional; only the authoritative status fetch decides the
// report. Terminal carries the stream-native final status.
type StreamEvent struct {
	Kind   StreamEventKind `json:"type"`
	Text   string          `json:"text,omitempty"`
	Status TaskStatus      `json:"status,omitempty"`
}
