package types

// RunStatus mirrors the remote run status vocabulary.
type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCompleted      RunStatus = "completed"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether the run can no longer change state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCancelled, RunFailed, RunExpired:
		return true
	}
	return false
}

// Pending reports whether the run is still being processed remotely.
func (s RunStatus) Pending() bool {
	return s == RunQueued || s == RunInProgress
}

// FunctionCall is the function part of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON-encoded
}

// ToolCall is a structured request from the model for a local capability.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// ToolOutput is the result submitted back for one tool call.
type ToolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"` // JSON-encoded
}

// UserInfo 客户端提供的用户信息
type UserInfo struct {
	Timezone  string            `json:"timezone"`
	UserAgent string            `json:"user_agent"`
	Extra     map[string]string `json:"extra,omitempty"`
}

const (
	DefaultTimezone  = "UTC"
	DefaultUserAgent = "Unknown"
)

// WithDefaults 填充缺省字段
func (u UserInfo) WithDefaults() UserInfo {
	if u.Timezone == "" {
		u.Timezone = DefaultTimezone
	}
	if u.UserAgent == "" {
		u.UserAgent = DefaultUserAgent
	}
	return u
}
