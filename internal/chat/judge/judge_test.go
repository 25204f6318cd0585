package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lk2023060901/chatai-backend/internal/chat/completion"
	"github.com/lk2023060901/chatai-backend/internal/chat/thread"
	"github.com/lk2023060901/chatai-backend/internal/chat/tools"
	"github.com/lk2023060901/chatai-backend/internal/chat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFirstJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "brace inside string", input: `noise {"a": "}"} noise2`, want: `{"a": "}"}`},
		{name: "back to back objects", input: `{"a":1}{"b":2}`, want: `{"a":1}`},
		{name: "nested", input: `x {"a":{"b":[1,{"c":2}]}} y`, want: `{"a":{"b":[1,{"c":2}]}}`},
		{name: "escaped quote", input: `{"a":"say \"}\" now"} tail`, want: `{"a":"say \"}\" now"}`},
		{name: "escaped backslash before quote", input: `{"a":"c:\\"} {"b":1}`, want: `{"a":"c:\\"}`},
		{name: "no object", input: `no json here`, want: ``},
		{name: "unbalanced", input: `{"a": {"b": 1}`, want: ``},
		{name: "code fence", input: "```json\n{\"ok\":true}\n```", want: `{"ok":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFirstJSON(tt.input))
		})
	}
}

func TestDecodeFirstJSONEmpty(t *testing.T) {
	var v map[string]any
	require.NoError(t, DecodeFirstJSON("nothing", &v))
	assert.Empty(t, v)
}

type fakeCompleter struct {
	reply    string
	err      error
	requests []completion.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req completion.Request) (*completion.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &completion.Result{Text: f.reply}, nil
}

func (f *fakeCompleter) lastUserContent() string {
	req := f.requests[len(f.requests)-1]
	return req.Messages[len(req.Messages)-1].Content
}

func addMessages(j *Judge, n int) {
	for i := 0; i < n; i++ {
		role := types.RoleUser
		text := thread.WrapWithMeta(fmt.Sprintf("question %d", i), time.Unix(1700000000, 0))
		if i%2 == 1 {
			role = types.RoleAssistant
			text = fmt.Sprintf("answer %d", i)
		}
		j.AddMessage(types.Message{
			ID:        fmt.Sprintf("msg_%02d", i),
			CreatedAt: int64(1700000000 + i),
			Role:      role,
			Content:   []types.ContentItem{types.TextItem(text)},
		})
	}
}

func TestFactCheck(t *testing.T) {
	reply := `Here you go: {"fact_checks":[{"role":"assistant","msg_id":"msg_11","correctness":4,` +
		`"rebuttal":"mostly right","links":[{"title":"Src","url":"https://example.com"}]}]} {"extra":1}`
	llm := &fakeCompleter{reply: reply}
	j := New(Config{Model: "gpt-4o"}, llm, nil)
	addMessages(j, 12)

	res := j.FactCheck(context.Background(), tools.CallContext{ClientToken: "c1"})
	require.Len(t, res.FactChecks, 1)
	fc := res.FactChecks[0]
	assert.Equal(t, "msg_11", fc.MsgID)
	assert.Equal(t, 4.0, fc.Correctness)
	assert.Equal(t, []Link{{Title: "Src", URL: "https://example.com"}}, fc.Links)

	require.Len(t, llm.requests, 1)
	assert.Equal(t, "c1", llm.requests[0].ClientToken)
	assert.Equal(t, "gpt-4o", llm.requests[0].Model)

	prompt := llm.lastUserContent()
	background, checked, found := strings.Cut(prompt, "## MESSAGES TO CHECK\n")
	require.True(t, found)
	// 背景窗口为 msg_02..msg_09, 待核查为 msg_10, msg_11
	assert.NotContains(t, background, "msg_01")
	assert.Contains(t, background, "- Message: 2 by user (msg_id: msg_02):\nquestion 2\n")
	assert.Contains(t, background, "msg_09")
	assert.NotContains(t, background, "msg_10")
	assert.Contains(t, checked, "- Message: 10 by user (msg_id: msg_10):\nquestion 10\n")
	assert.Contains(t, checked, "- Message: 11 by assistant (msg_id: msg_11):\nanswer 11\n")
	assert.NotContains(t, prompt, thread.MetaTag)
}

func TestFactCheckDegradesToEmpty(t *testing.T) {
	tests := []struct {
		name  string
		llm   *fakeCompleter
		count int
	}{
		{name: "no messages", llm: &fakeCompleter{reply: `{"fact_checks":[{"msg_id":"x"}]}`}, count: 0},
		{name: "completion error", llm: &fakeCompleter{err: errors.New("boom")}, count: 2},
		{name: "no json", llm: &fakeCompleter{reply: "I cannot do that"}, count: 2},
		{name: "wrong shape", llm: &fakeCompleter{reply: `{"fact_checks":"nope"}`}, count: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New(Config{}, tt.llm, nil)
			addMessages(j, tt.count)

			res := j.FactCheck(context.Background(), tools.CallContext{})
			require.NotNil(t, res)
			assert.NotNil(t, res.FactChecks)
			assert.Empty(t, res.FactChecks)
		})
	}
}

func TestCritique(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  Critique
	}{
		{name: "json", reply: `{"text":"be brief","requires_action":true}`, want: Critique{Text: "be brief", RequiresAction: true}},
		{name: "plain text", reply: " just be brief ", want: Critique{Text: "just be brief"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New(Config{}, &fakeCompleter{reply: tt.reply}, nil)
			addMessages(j, 2)

			got, err := j.Critique(context.Background(), tools.CallContext{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestSummaryAndResearch(t *testing.T) {
	llm := &fakeCompleter{reply: "  short summary \n"}
	j := New(Config{ResearchMessages: 2}, llm, nil)
	addMessages(j, 4)

	summary, err := j.Summary(context.Background(), tools.CallContext{})
	require.NoError(t, err)
	assert.Equal(t, "short summary", summary)
	assert.Contains(t, llm.lastUserContent(), "msg_00")
	assert.Equal(t, summaryInstructions, llm.requests[0].Messages[0].Content)

	_, err = j.Research(context.Background(), "who won?", tools.CallContext{})
	require.NoError(t, err)
	prompt := llm.lastUserContent()
	assert.NotContains(t, prompt, "msg_01")
	assert.Contains(t, prompt, "msg_02")
	assert.True(t, strings.HasSuffix(prompt, "## QUERY\nwho won?"))
}

func TestSinkKeepsMessagesInSync(t *testing.T) {
	j := New(Config{}, &fakeCompleter{}, nil)
	th := thread.New("t1")
	th.AttachSink(j)

	msg, err := th.CreateAssistantMessage("")
	require.NoError(t, err)
	require.NoError(t, th.UpdateMessage(msg.ID, "final text"))
	assert.Equal(t, 1, j.Len())
	assert.Equal(t, "final text", j.window(1, 0)[0].msg.Text())

	j.ClearMessages()
	assert.Zero(t, j.Len())
}

type wordCounter struct{}

func (wordCounter) Count(text string) int { return len(strings.Fields(text)) }

func TestTokenBudgetDropsOldestFirst(t *testing.T) {
	llm := &fakeCompleter{reply: "ok"}
	j := New(Config{MaxPromptTokens: 20}, llm, nil, WithTokenCounter(wordCounter{}))
	addMessages(j, 10)

	_, err := j.Summary(context.Background(), tools.CallContext{})
	require.NoError(t, err)

	prompt := llm.lastUserContent()
	assert.LessOrEqual(t, wordCounter{}.Count(prompt), 20)
	assert.Contains(t, prompt, "msg_09")
	assert.NotContains(t, prompt, "msg_00")
}
