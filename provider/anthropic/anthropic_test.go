package anthropic_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mohammad-safakhou/urska/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatMapsContentBlocks(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-test",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "search", "input": {"q": "x"}}
			],
			"stop_reason": "tool_use",
			"stop_sequence": null,
			"usage": {"input_tokens": 9, "output_tokens": 3}
		}`))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "key", BaseURL: srv.URL + "/", Model: "claude-test"})
	call := provider.ToolCall{ID: "toolu_0", Name: "search", Arguments: json.RawMessage(`{"q":"y"}`)}
	resp, err := c.Chat(context.Background(), provider.Request{
		Messages: []provider.Message{
			provider.System("be brief"),
			provider.User("question"),
			{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{call}},
			provider.ToolResult(call, "first", false),
			provider.ToolResult(provider.ToolCall{ID: "toolu_9"}, "second", true),
		},
		Tools: []provider.ToolSpec{{
			Name:       "search",
			Parameters: json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`),
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"q":"x"}`, string(resp.ToolCalls[0].Arguments))
	assert.EqualValues(t, 9, resp.Usage.InputTokens)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3, "the two tool results share one user turn")
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	assert.Len(t, last["content"].([]any), 2)
	system := got["system"].([]any)
	require.Len(t, system, 1)
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	schema := tools[0].(map[string]any)["input_schema"].(map[string]any)
	assert.Equal(t, []any{"q"}, schema["required"])
}

func TestChatAddsSchemaInstruction(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m","type":"message","role":"assistant","model":"c",
			"content":[{"type":"text","text":"{\"steps\":[]}"}],
			"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "key", BaseURL: srv.URL + "/", Model: "c"})
	resp, err := c.Chat(context.Background(), provider.Request{
		Messages: []provider.Message{provider.User("plan it")},
		Schema:   &provider.Schema{Name: "plan", Definition: json.RawMessage(`{"type":"object"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"steps":[]}`, resp.Content)

	system := got["system"].([]any)
	require.Len(t, system, 1)
	assert.Contains(t, system[0].(map[string]any)["text"], "JSON Schema")
	assert.EqualValues(t, defaultMaxTokens, got["max_tokens"])
}
