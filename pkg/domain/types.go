package domain

import "time"

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is a single entry in a conversation. Conversations are append-only;
// a turn is never edited after it is written.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of executing a single tool call. Refusals and
// validation failures are results, not Go errors: the loop that issued the
// call always continues.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
	// Reason tags policy refusals ("protected", "path", "action budget",
	// "rate limit") and validation failures ("validation"). Empty on success.
	Reason string `json:"reason,omitempty"`
}

// Watcher is a standing, timer-driven monitor bound to a set of topics and a
// natural-language instruction. Each watcher is evaluated independently on
// its own interval.
type Watcher struct {
	Name              string    `json:"name"`
	Topics            []string  `json:"topics"`
	Instruction       string    `json:"instruction"`
	IntervalSec       int       `json:"interval_sec"`
	MaxActionsPerHour int       `json:"max_actions_per_hour"`
	Paused            bool      `json:"paused"`
	CreatedAt         time.Time `json:"created_at"`
}

// WatcherEval is one entry in a watcher's append-only evaluation history.
type WatcherEval struct {
	WatcherName string    `json:"watcher_name"`
	Timestamp   time.Time `json:"timestamp"`
	DataSummary string    `json:"data_summary"`
	Assessment  string    `json:"assessment"`
	Actions     []string  `json:"actions,omitempty"`
}

// Capture is an active routing of decoded topic samples to files on disk.
type Capture struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	OutputPath string    `json:"output_path"`
	Format     string    `json:"format"`
	MaxFiles   int       `json:"max_files"`
	StartedAt  time.Time `json:"started_at"`
	Active     bool      `json:"active"`

	// Running counters, mutated by the delivery path. Not persisted.
	FilesWritten    int   `json:"files_written"`
	BytesWritten    int64 `json:"bytes_written"`
	SamplesReceived int   `json:"samples_received"`
}

// Note is a persistent memory entry, categorized for recall.
type Note struct {
	ID        string    `json:"id"`
	Category  string    `json:"category"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NodeInfo is the tracked state of a single fleet node, assembled from the
// control plane. Status and health degrade to "unknown" when the control
// plane does not answer in time.
type NodeInfo struct {
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	Health      string    `json:"health"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	NodeType    string    `json:"node_type"`
	Installed   bool      `json:"installed"`
	Autostart   bool      `json:"autostart"`
	MachineID   string    `json:"machine_id"`
	LastUpdated time.Time `json:"last_updated"`
}
