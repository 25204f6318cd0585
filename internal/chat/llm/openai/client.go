package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// listPageSize 分页拉取消息与助手时的每页数量
const listPageSize = 100

// Config OpenAI 连接配置
type Config struct {
	APIKey       string
	BaseURL      string
	Organization string
}

// Client 基于 go-openai 实现 llm.Backend
type Client struct {
	api    *goopenai.Client
	logger *logger.Logger
}

var _ llm.Backend = (*Client)(nil)

// NewClient 创建客户端
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if log == nil {
		log = logger.L()
	}

	oc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		oc.OrgID = cfg.Organization
	}

	return &Client{
		api:    goopenai.NewClientWithConfig(oc),
		logger: log.Named("openai"),
	}, nil
}

// CreateThread implements llm.ThreadAPI.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	th, err := c.api.CreateThread(ctx, goopenai.ThreadRequest{})
	if err != nil {
		return "", err
	}
	return th.ID, nil
}

// CreateMessage implements llm.ThreadAPI.
func (c *Client) CreateMessage(ctx context.Context, threadID string, role types.Role, content string) (*llm.RemoteMessage, error) {
	msg, err := c.api.CreateMessage(ctx, threadID, goopenai.MessageRequest{
		Role:    string(role),
		Content: content,
	})
	if err != nil {
		return nil, err
	}
	out := toRemoteMessage(msg)
	return &out, nil
}

// CreateRun implements llm.ThreadAPI.
func (c *Client) CreateRun(ctx context.Context, threadID, assistantID string) (*llm.Run, error) {
	run, err := c.api.CreateRun(ctx, threadID, goopenai.RunRequest{AssistantID: assistantID})
	if err != nil {
		return nil, err
	}
	return toRun(run), nil
}

// GetRun implements llm.ThreadAPI.
func (c *Client) GetRun(ctx context.Context, threadID, runID string) (*llm.Run, error) {
	run, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	return toRun(run), nil
}

// LatestRun implements llm.ThreadAPI.
func (c *Client) LatestRun(ctx context.Context, threadID string) (*llm.Run, error) {
	limit := 1
	order := "desc"
	runs, err := c.api.ListRuns(ctx, threadID, goopenai.Pagination{Limit: &limit, Order: &order})
	if err != nil {
		return nil, err
	}
	if len(runs.Runs) == 0 {
		return nil, nil
	}
	return toRun(runs.Runs[0]), nil
}

// CancelRun implements llm.ThreadAPI.
func (c *Client) CancelRun(ctx context.Context, threadID, runID string) error {
	_, err := c.api.CancelRun(ctx, threadID, runID)
	return err
}

// ListMessagesAfter implements llm.ThreadAPI.
func (c *Client) ListMessagesAfter(ctx context.Context, threadID, afterID string) ([]llm.RemoteMessage, error) {
	limit := listPageSize
	order := "asc"
	var after *string
	if afterID != "" {
		after = &afterID
	}

	var out []llm.RemoteMessage
	for {
		page, err := c.api.ListMessage(ctx, threadID, &limit, &order, after, nil, nil)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			out = append(out, toRemoteMessage(m))
		}
		if !page.HasMore || len(page.Messages) == 0 {
			return out, nil
		}
		last := page.Messages[len(page.Messages)-1].ID
		after = &last
	}
}

// SubmitToolOutputs implements llm.ThreadAPI.
func (c *Client) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []types.ToolOutput) error {
	req := goopenai.SubmitToolOutputsRequest{ToolOutputs: make([]goopenai.ToolOutput, 0, len(outputs))}
	for _, o := range outputs {
		req.ToolOutputs = append(req.ToolOutputs, goopenai.ToolOutput{ToolCallID: o.ToolCallID, Output: o.Output})
	}
	_, err := c.api.SubmitToolOutputs(ctx, threadID, runID, req)
	return err
}

// CreateCompletion implements llm.Completer.
func (c *Client) CreateCompletion(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	resp, err := c.api.CreateChatCompletion(ctx, toChatRequest(req, false))
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: completion returned no choices")
	}

	msg := resp.Choices[0].Message
	return &llm.Completion{
		Content:   msg.Content,
		ToolCalls: fromToolCalls(msg.ToolCalls),
	}, nil
}

// CreateCompletionStream implements llm.StreamCompleter.
func (c *Client) CreateCompletionStream(ctx context.Context, req *llm.CompletionRequest) (llm.CompletionStream, error) {
	st, err := c.api.CreateChatCompletionStream(ctx, toChatRequest(req, true))
	if err != nil {
		return nil, err
	}
	return &stream{stream: st}, nil
}

type stream struct {
	stream *goopenai.ChatCompletionStream
}

func (s *stream) Recv() (*llm.Chunk, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		// io.EOF 原样返回
		return nil, err
	}

	chunk := &llm.Chunk{}
	if len(resp.Choices) == 0 {
		return chunk, nil
	}
	choice := resp.Choices[0]
	chunk.Text = choice.Delta.Content
	chunk.FinishReason = string(choice.FinishReason)
	for i, tc := range choice.Delta.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		chunk.ToolCalls = append(chunk.ToolCalls, llm.ToolCallDelta{
			Index:     index,
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return chunk, nil
}

func (s *stream) Close() error {
	s.stream.Close()
	return nil
}

// GetFileContent implements llm.FileAPI.
func (c *Client) GetFileContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	raw, err := c.api.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// GetFileName implements llm.FileAPI.
func (c *Client) GetFileName(ctx context.Context, fileID string) (string, error) {
	f, err := c.api.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	return f.FileName, nil
}

// UpsertAssistant implements llm.AssistantAPI.
func (c *Client) UpsertAssistant(ctx context.Context, spec *llm.AssistantSpec) (string, bool, error) {
	req := goopenai.AssistantRequest{
		Model:        spec.Model,
		Name:         &spec.Name,
		Instructions: &spec.Instructions,
		Tools:        toAssistantTools(spec),
	}

	id, err := c.findAssistant(ctx, spec.Name)
	if err != nil {
		return "", false, err
	}
	if id != "" {
		if _, err := c.api.ModifyAssistant(ctx, id, req); err != nil {
			return "", false, fmt.Errorf("modify assistant %s: %w", id, err)
		}
		c.logger.Info("assistant updated", zap.String("assistant_id", id), zap.String("name", spec.Name))
		return id, false, nil
	}

	created, err := c.api.CreateAssistant(ctx, req)
	if err != nil {
		return "", false, fmt.Errorf("create assistant: %w", err)
	}
	c.logger.Info("assistant created", zap.String("assistant_id", created.ID), zap.String("name", spec.Name))
	return created.ID, true, nil
}

func (c *Client) findAssistant(ctx context.Context, name string) (string, error) {
	limit := listPageSize
	order := "desc"
	var after *string
	for {
		page, err := c.api.ListAssistants(ctx, &limit, &order, after, nil)
		if err != nil {
			return "", fmt.Errorf("list assistants: %w", err)
		}
		for _, a := range page.Assistants {
			if a.Name != nil && *a.Name == name {
				return a.ID, nil
			}
		}
		if !page.HasMore || len(page.Assistants) == 0 {
			return "", nil
		}
		last := page.Assistants[len(page.Assistants)-1].ID
		after = &last
	}
}

func toRun(run goopenai.Run) *llm.Run {
	out := &llm.Run{
		ID:     run.ID,
		Status: types.RunStatus(run.Status),
	}
	if run.RequiredAction != nil && run.RequiredAction.SubmitToolOutputs != nil {
		out.ToolCalls = fromToolCalls(run.RequiredAction.SubmitToolOutputs.ToolCalls)
	}
	if run.LastError != nil {
		out.LastError = run.LastError.Message
	}
	return out
}

func fromToolCalls(calls []goopenai.ToolCall) []types.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, types.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: types.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func toToolCalls(calls []types.ToolCall) []goopenai.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]goopenai.ToolCall, 0, len(calls))
	for _, tc := range calls {
		out = append(out, goopenai.ToolCall{
			ID:   tc.ID,
			Type: goopenai.ToolTypeFunction,
			Function: goopenai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out
}

func toChatRequest(req *llm.CompletionRequest, stream bool) goopenai.ChatCompletionRequest {
	out := goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Stream:      stream,
		Messages:    make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, goopenai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCalls:  toToolCalls(m.ToolCalls),
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, goopenai.Tool{
			Type:     goopenai.ToolTypeFunction,
			Function: functionDefinition(t),
		})
	}
	return out
}

func functionDefinition(t llm.ToolSpec) *goopenai.FunctionDefinition {
	return &goopenai.FunctionDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Parameters,
	}
}

func toAssistantTools(spec *llm.AssistantSpec) []goopenai.AssistantTool {
	out := make([]goopenai.AssistantTool, 0, len(spec.Tools)+len(spec.RemoteTools))
	for _, name := range spec.RemoteTools {
		out = append(out, goopenai.AssistantTool{Type: goopenai.AssistantToolType(name)})
	}
	for _, t := range spec.Tools {
		out = append(out, goopenai.AssistantTool{
			Type:     goopenai.AssistantToolTypeFunction,
			Function: functionDefinition(t),
		})
	}
	return out
}

func toRemoteMessage(m goopenai.Message) llm.RemoteMessage {
	out := llm.RemoteMessage{
		ID:        m.ID,
		CreatedAt: int64(m.CreatedAt),
		Role:      types.Role(m.Role),
		Content:   make([]llm.RemoteContent, 0, len(m.Content)),
	}
	for _, c := range m.Content {
		rc := llm.RemoteContent{Type: c.Type}
		if c.Text != nil {
			rc.Text = c.Text.Value
			rc.Annotations = parseAnnotations(c.Text.Annotations)
		}
		if c.ImageFile != nil {
			rc.ImageFileID = c.ImageFile.FileID
		}
		out.Content = append(out.Content, rc)
	}
	return out
}

// parseAnnotations 注解在 SDK 中是无类型对象, 重新编码后按字段读取
func parseAnnotations(raw []any) []llm.Annotation {
	if len(raw) == 0 {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}

	var out []llm.Annotation
	gjson.ParseBytes(data).ForEach(func(_, a gjson.Result) bool {
		ann := llm.Annotation{
			Type:       a.Get("type").String(),
			Text:       a.Get("text").String(),
			StartIndex: int(a.Get("start_index").Int()),
			EndIndex:   int(a.Get("end_index").Int()),
		}
		switch ann.Type {
		case llm.AnnotationFileCitation:
			ann.FileID = a.Get("file_citation.file_id").String()
			ann.Quote = a.Get("file_citation.quote").String()
		case llm.AnnotationFilePath:
			ann.FileID = a.Get("file_path.file_id").String()
		}
		out = append(out, ann)
		return true
	})
	return out
}
