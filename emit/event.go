package emit

import "time"

// Topic names used by the engine. Per-workflow topics are
// TopicWorkflow + workflow id, and per-severity alert topics are
// TopicAlerts + ":" + severity.
const (
	TopicWorkflows = "workflows"
	TopicWorkflow  = "workflow:"
	TopicAlerts    = "alerts"
)

// WorkflowTopic returns the per-workflow topic name for id.
func WorkflowTopic(id string) string { return TopicWorkflow + id }

// AlertTopic returns the per-severity alert topic name.
func AlertTopic(severity string) string { return TopicAlerts + ":" + severity }

// WorkflowUpdate is the wire shape broadcast on TopicWorkflows and
// WorkflowTopic(id) whenever a workflow's state changes.
type WorkflowUpdate struct {
	WorkflowID       string         `json:"workflow_id"`
	DefinitionKey    string         `json:"definition_key"`
	Status           string         `json:"status"`
	CurrentStepIndex int            `json:"current_step_index"`
	TotalSteps       int            `json:"total_steps"`
	StatePayload     map[string]any `json:"state_payload"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// AlertMessage is the wire shape broadcast on TopicAlerts and
// AlertTopic(severity).
type AlertMessage struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Node      string         `json:"node"`
	Severity  string         `json:"severity"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
