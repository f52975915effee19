package planner

import (
	"fmt"
	"strings"
)

// SystemPrompt builds the instructions shared by the model-backed planners.
func SystemPrompt(tools []ToolSpec) string {
	var b strings.Builder
	b.WriteString("You break a user's request into atomic tool calls.\n\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		kind := "read-only"
		if t.Mutating {
			kind = "mutating"
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", t.Name, kind, t.Description)
	}
	b.WriteString(`
Respond with JSON only, in this shape:
{"tasks": [{"id": "task_1", "description": "...", "tool": "...", "parameters": {}, "priority": 2, "dependencies": []}]}

Rules:
- Use only the tools listed above.
- "dependencies" lists the ids of tasks that must finish first.
- To use another task's output, write "${task_id}" or "${task_id.field}" as a parameter value.
- "priority" is 1 (high), 2 (medium) or 3 (low).
- If the request needs no tool, return {"tasks": []}.
`)
	return b.String()
}

// UserPrompt combines the request with what the session already did.
func UserPrompt(request, sessionSummary string) string {
	if strings.TrimSpace(sessionSummary) == "" {
		return request
	}
	return fmt.Sprintf("Session context:\n%s\nRequest:\n%s", sessionSummary, request)
}
