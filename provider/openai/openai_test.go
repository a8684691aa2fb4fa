package openai_provider

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

func TestChatSendsToolsAndSchema(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-test",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "search", "arguments": "{\"q\":\"x\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 4, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "sk-test", BaseURL: srv.URL + "/", Model: "gpt-test"})
	resp, err := c.Chat(context.Background(), provider.Request{
		Messages: []provider.Message{provider.System("sys"), provider.User("hi")},
		Tools: []provider.ToolSpec{{
			Name:        "search",
			Description: "search things",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`),
		}},
		Schema: &provider.Schema{Name: "plan", Definition: json.RawMessage(`{"type":"object"}`)},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-test", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	rf := got["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", rf["type"])

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"q":"x"}`, string(resp.ToolCalls[0].Arguments))
	assert.EqualValues(t, 11, resp.Usage.InputTokens)
	assert.EqualValues(t, 4, resp.Usage.OutputTokens)
}

func TestChatReplaysToolTurns(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"result R"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	call := provider.ToolCall{ID: "call_1", Name: "T", Arguments: json.RawMessage(`{"arg":"Y"}`)}
	c := New(Options{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	resp, err := c.Chat(context.Background(), provider.Request{Messages: []provider.Message{
		provider.User("call tool T with Y"),
		{Role: provider.RoleAssistant, ToolCalls: []provider.ToolCall{call}},
		provider.ToolResult(call, "R", false),
	}})
	require.NoError(t, err)
	assert.Equal(t, "result R", resp.Content)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 3)
	tool := msgs[2].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
}

func TestChatErrorsWithoutChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	c := New(Options{APIKey: "k", BaseURL: srv.URL, Model: "m"})
	_, err := c.Chat(context.Background(), provider.Request{Messages: []provider.Message{provider.User("x")}})
	assert.Error(t, err)
}
