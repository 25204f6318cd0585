package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lk2023060901/chatai-backend/internal/chat/llm"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}

func TestListMessagesAfterPaginates(t *testing.T) {
	var afters []string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/threads/thread_1/messages", func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		afters = append(afters, after)
		assert.Equal(t, "asc", r.URL.Query().Get("order"))

		msg := func(id string) map[string]any {
			return map[string]any{
				"id": id, "object": "thread.message", "created_at": 1700000000, "role": "assistant",
				"content": []any{map[string]any{"type": "text", "text": map[string]any{"value": id, "annotations": []any{}}}},
			}
		}
		switch after {
		case "msg_user":
			writeJSON(w, map[string]any{"object": "list", "data": []any{msg("msg_a"), msg("msg_b")}, "has_more": true})
		case "msg_b":
			writeJSON(w, map[string]any{"object": "list", "data": []any{msg("msg_c")}, "has_more": false})
		default:
			http.Error(w, "unexpected cursor", http.StatusBadRequest)
		}
	})
	c := newTestClient(t, mux)

	msgs, err := c.ListMessagesAfter(context.Background(), "thread_1", "msg_user")
	require.NoError(t, err)

	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"msg_a", "msg_b", "msg_c"}, ids)
	assert.Equal(t, []string{"msg_user", "msg_b"}, afters)
	assert.Equal(t, "msg_c", msgs[2].Content[0].Text)
}

func TestLatestRun(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want *llm.Run
	}{
		{
			name: "no runs",
			body: map[string]any{"object": "list", "data": []any{}},
			want: nil,
		},
		{
			name: "requires action",
			body: map[string]any{"object": "list", "data": []any{map[string]any{
				"id": "run_1", "object": "thread.run", "status": "requires_action",
				"required_action": map[string]any{
					"type": "submit_tool_outputs",
					"submit_tool_outputs": map[string]any{"tool_calls": []any{map[string]any{
						"id": "call_1", "type": "function",
						"function": map[string]any{"name": "get_unix_time", "arguments": "{}"},
					}}},
				},
			}}},
			want: &llm.Run{ID: "run_1", Status: types.RunRequiresAction, ToolCalls: []types.ToolCall{{
				ID: "call_1", Type: "function", Function: types.FunctionCall{Name: "get_unix_time", Arguments: "{}"},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/v1/threads/thread_1/runs", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "1", r.URL.Query().Get("limit"))
				assert.Equal(t, "desc", r.URL.Query().Get("order"))
				writeJSON(w, tt.body)
			})
			c := newTestClient(t, mux)

			got, err := c.LatestRun(context.Background(), "thread_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSubmitToolOutputs(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/threads/thread_1/runs/run_1/submit_tool_outputs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		writeJSON(w, map[string]any{"id": "run_1", "object": "thread.run", "status": "queued"})
	})
	c := newTestClient(t, mux)

	err := c.SubmitToolOutputs(context.Background(), "thread_1", "run_1", []types.ToolOutput{
		{ToolCallID: "call_1", Output: `{"unix_time":1}`},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"tool_call_id": "call_1", "output": `{"unix_time":1}`}}, body["tool_outputs"])
}

func TestToRemoteMessageAnnotations(t *testing.T) {
	var annotations []any
	require.NoError(t, json.Unmarshal([]byte(`[
		{"type":"file_path","text":"sandbox:/mnt/data/chart.png","start_index":5,"end_index":33,"file_path":{"file_id":"file-abc"}},
		{"type":"file_citation","text":"【4†source】","start_index":40,"end_index":51,"file_citation":{"file_id":"file-doc","quote":"the quote"}}
	]`), &annotations))

	msg := toRemoteMessage(goopenai.Message{
		ID:        "msg_1",
		CreatedAt: 1700000000,
		Role:      "assistant",
		Content: []goopenai.MessageContent{
			{Type: "text", Text: &goopenai.MessageText{Value: "hello", Annotations: annotations}},
			{Type: "image_file", ImageFile: &goopenai.ImageFile{FileID: "file-img"}},
		},
	})

	assert.Equal(t, types.RoleAssistant, msg.Role)
	assert.Equal(t, int64(1700000000), msg.CreatedAt)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, []llm.Annotation{
		{Type: llm.AnnotationFilePath, Text: "sandbox:/mnt/data/chart.png", StartIndex: 5, EndIndex: 33, FileID: "file-abc"},
		{Type: llm.AnnotationFileCitation, Text: "【4†source】", StartIndex: 40, EndIndex: 51, FileID: "file-doc", Quote: "the quote"},
	}, msg.Content[0].Annotations)
	assert.Equal(t, "file-img", msg.Content[1].ImageFileID)
}

func TestToChatRequest(t *testing.T) {
	req := toChatRequest(&llm.CompletionRequest{
		Model:       "gpt-4o",
		Temperature: 0.5,
		Messages: []llm.ChatMessage{
			{Role: types.RoleSystem, Content: "sys"},
			{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Function: types.FunctionCall{Name: "f", Arguments: "{}"}}}},
			{Role: types.RoleTool, Content: `{"ok":true}`, ToolCallID: "c1", Name: "f"},
		},
		Tools: []llm.ToolSpec{{Name: "f", Description: "d", Parameters: map[string]any{"type": "object"}}},
	}, true)

	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, goopenai.ToolTypeFunction, req.Messages[1].ToolCalls[0].Type)
	assert.Equal(t, "c1", req.Messages[2].ToolCallID)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "f", req.Tools[0].Function.Name)
	assert.True(t, strings.HasPrefix(req.Model, "gpt-4o"))
}
