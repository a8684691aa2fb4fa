package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/internal/tools"
	"github.com/mohammad-safakhou/urska/provider"
)

const defaultMaxRounds = 15

// ToolCaller is the part of the tool catalogue an executor needs.
type ToolCaller interface {
	Specs() []provider.ToolSpec
	Call(ctx context.Context, name string, args json.RawMessage) (tools.Result, error)
}

// Executor runs one instruction through a tool-calling loop. Every call
// starts from an empty conversation.
type Executor struct {
	llm       provider.Provider
	tools     ToolCaller
	maxRounds int
	logger    *log.Logger
}

func NewExecutor(llm provider.Provider, caller ToolCaller, maxRounds int, logger *log.Logger) *Executor {
	if maxRounds <= 0 {
		maxRounds = defaultMaxRounds
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Executor{llm: llm, tools: caller, maxRounds: maxRounds, logger: logger}
}

// Execute lets the model call tools for up to maxRounds rounds, then forces a
// tool-free answer. Tool failures are returned to the model as error results.
func (e *Executor) Execute(ctx context.Context, instruction string) (string, error) {
	msgs := []provider.Message{
		provider.System(executorSystemPrompt),
		provider.User(instruction),
	}
	specs := e.tools.Specs()

	for round := 0; round < e.maxRounds; round++ {
		resp, err := e.llm.Chat(ctx, provider.Request{Messages: msgs, Tools: specs})
		if err != nil {
			return "", fmt.Errorf("executor round %d: %w", round+1, err)
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}
		msgs = append(msgs, provider.Message{
			Role:      provider.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			msgs = append(msgs, e.callTool(ctx, call))
		}
	}

	e.logger.Printf("executor hit %d tool rounds, asking for a final answer", e.maxRounds)
	resp, err := e.llm.Chat(ctx, provider.Request{Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("executor final answer: %w", err)
	}
	return resp.Content, nil
}

func (e *Executor) callTool(ctx context.Context, call provider.ToolCall) provider.Message {
	progress.Notify(ctx, fmt.Sprintf("Checking for information with %s...", call.Name))
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	res, err := e.tools.Call(ctx, call.Name, args)
	if err != nil {
		e.logger.Printf("tool %s failed: %v", call.Name, err)
		return provider.ToolResult(call, err.Error(), true)
	}
	return provider.ToolResult(call, res.Content, res.IsError)
}
