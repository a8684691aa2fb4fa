package roles

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/urska/internal/agent/core"
	"github.com/mohammad-safakhou/urska/provider"
)

const strategistSystemPrompt = `You are a research strategist. You will be given a user objective and the tools available to a team of executors.
Write one short paragraph describing how the objective should be approached: which tools are worth calling, what information each should return, and how the findings fit together.
Do NOT write a numbered or bulleted list of steps. Your strategy will be turned into a detailed plan by someone else.`

const plannerSystemPrompt = `You are a tactical planner. Turn the strategy into an executable plan.

OUTPUT CONTRACT:
- Output a single JSON object with one key "steps".
- "steps" is an array of inner arrays. Each inner array holds one or two complete instructions that run in order.
- Inner arrays run one after another, and the executor of one inner array sees nothing of the others.
- Every instruction must be self-contained: name the tool, its parameters, and what to return.
- Return {"steps": []} when nothing needs to be done.`

const replannerSystemPrompt = `You are a replanner. You will be given the objective, the remaining plan and the results gathered so far.
Revise the remaining plan: drop steps that are already answered, substitute discovered values into later steps, and never repeat a step.
Use the same output contract as the planner: a JSON object with a single key "steps" holding an array of arrays of instructions.
Return {"steps": []} once the results are enough to answer the objective.`

const executorSystemPrompt = `You are an executor. Carry out the instruction you are given using the available tools.
You know nothing beyond the instruction itself. Report exactly what the instruction asks you to return, citing tool output where relevant.`

const synthesizerSystemPrompt = `You are the final writer. Answer the user's objective using only the findings provided.
If the findings do not answer the objective, say so plainly. Do not invent facts.`

const rephraserSystemPrompt = `You rewrite the latest user message of a conversation into a single standalone question that can be understood without the conversation.
Reply with the rewritten question only.`

const filterSystemPrompt = `You will be given a user query and one function. Decide whether calling the function is appropriate to answer the query.
Reply with a JSON object {"function_usage_required": true|false}.`

func buildStrategyPrompt(objective, catalogue string) string {
	return fmt.Sprintf(`AVAILABLE TOOLS:
%s

OBJECTIVE:
%s`, catalogue, objective)
}

func buildPlanPrompt(catalogue, strategy string) string {
	return fmt.Sprintf(`AVAILABLE TOOLS:
%s

STRATEGY:
%s`, catalogue, strategy)
}

func buildReplanPrompt(in core.ReplanInput) string {
	return fmt.Sprintf(`AVAILABLE TOOLS:
%s

OBJECTIVE:
%s

REMAINING PLAN:
%s

RESULTS SO FAR:
%s`, in.Catalogue, in.Objective, in.Remaining.Encode(), RenderHistory(in.History))
}

func buildSynthesisPrompt(objective string, history []core.PastStep) string {
	return fmt.Sprintf(`OBJECTIVE:
%s

FINDINGS:
%s`, objective, RenderHistory(history))
}

func buildFilterPrompt(function, question string) string {
	return fmt.Sprintf("# function to assess:\n\n%s\n\n# User query:\n\n%s", function, question)
}

// RenderHistory formats past steps as numbered instruction/response blocks.
func RenderHistory(history []core.PastStep) string {
	blocks := make([]string, 0, len(history))
	for i, st := range history {
		blocks = append(blocks, fmt.Sprintf("### Step %d\nUser Instruction:\n%s\n\nExecutor Response:\n%s",
			i+1, strings.TrimSpace(st.Instruction), strings.TrimSpace(st.Observation)))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// RenderConversation formats prior turns for the rephraser. System and tool
// messages are skipped.
func RenderConversation(conversation []provider.Message) string {
	var b strings.Builder
	for _, m := range conversation {
		var label string
		switch m.Role {
		case provider.RoleUser:
			label = "USER ASKED:"
		case provider.RoleAssistant:
			label = "ASSISTANT:"
		default:
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(m.Content))
	}
	return b.String()
}
