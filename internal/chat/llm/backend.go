package llm

import (
	"context"
	"io"

	"github.com/lk2023060901/chatai-backend/internal/chat/types"
)

// ThreadAPI 远端线程与运行接口 (Run Lifecycle Coordinator 使用)
type ThreadAPI interface {
	// CreateThread 创建远端线程
	CreateThread(ctx context.Context) (string, error)

	// CreateMessage 在线程中追加一条消息
	CreateMessage(ctx context.Context, threadID string, role types.Role, content string) (*RemoteMessage, error)

	// CreateRun 以指定助手启动一次运行
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)

	// GetRun 获取运行状态
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)

	// LatestRun 返回线程最近一次运行, 没有运行时返回 nil
	LatestRun(ctx context.Context, threadID string) (*Run, error)

	// CancelRun 请求取消运行
	CancelRun(ctx context.Context, threadID, runID string) error

	// ListMessagesAfter 按升序返回游标之后的全部消息 (游标为空时返回全部)
	ListMessagesAfter(ctx context.Context, threadID, afterID string) ([]RemoteMessage, error)

	// SubmitToolOutputs 一次性提交某个 requires_action 批次的全部输出
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []types.ToolOutput) error
}

// Completer 无状态补全接口
type Completer interface {
	CreateCompletion(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// StreamCompleter 流式补全接口
type StreamCompleter interface {
	CreateCompletionStream(ctx context.Context, req *CompletionRequest) (CompletionStream, error)
}

// CompletionStream 增量片段流, 结束时 Recv 返回 io.EOF
type CompletionStream interface {
	Recv() (*Chunk, error)
	Close() error
}

// FileAPI 远端文件接口
type FileAPI interface {
	GetFileContent(ctx context.Context, fileID string) (io.ReadCloser, error)
	GetFileName(ctx context.Context, fileID string) (string, error)
}

// AssistantAPI 助手配置接口
type AssistantAPI interface {
	// UpsertAssistant 按名称更新或创建助手, 返回助手 ID 以及是否新建
	UpsertAssistant(ctx context.Context, spec *AssistantSpec) (string, bool, error)
}

// Backend 远端会话后端的全部能力
type Backend interface {
	ThreadAPI
	Completer
	StreamCompleter
	FileAPI
	AssistantAPI
}

// Run 远端运行快照
type Run struct {
	ID        string
	Status    types.RunStatus
	ToolCalls []types.ToolCall // 仅在 requires_action 时有值
	LastError string
}

// RemoteMessage 未经注解处理的远端消息
type RemoteMessage struct {
	ID        string
	CreatedAt int64
	Role      types.Role
	Content   []RemoteContent
}

// RemoteContent 远端消息内容
type RemoteContent struct {
	Type        string // text | image_file | ...
	Text        string
	Annotations []Annotation
	ImageFileID string
}

// Annotation types
const (
	AnnotationFilePath     = "file_path"
	AnnotationFileCitation = "file_citation"
)

// Annotation 远端附加在文本中的注解
type Annotation struct {
	Type       string
	Text       string
	StartIndex int
	EndIndex   int
	FileID     string
	Quote      string
}

// ChatMessage 补全请求中的消息
type ChatMessage struct {
	Role       types.Role       `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []types.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// ToolSpec 提供给模型的函数定义
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// CompletionRequest 补全请求
type CompletionRequest struct {
	Model       string
	Temperature float32
	Messages    []ChatMessage
	Tools       []ToolSpec
}

// Completion 非流式补全结果
type Completion struct {
	Content   string
	ToolCalls []types.ToolCall
}

// ToolCallDelta 流式片段中的部分工具调用, 以 Index 区分
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Chunk 流式响应片段
type Chunk struct {
	Text         string
	ToolCalls    []ToolCallDelta
	FinishReason string // stop | tool_calls | length ...
}

// Remote tool types that live only on the backend.
const (
	RemoteToolCodeInterpreter = "code_interpreter"
	RemoteToolFileSearch      = "file_search"
)

// AssistantSpec 助手配置
type AssistantSpec struct {
	Name         string
	Model        string
	Instructions string
	Tools        []ToolSpec
	RemoteTools  []string
}
