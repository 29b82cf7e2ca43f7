package manager

import (
	"regexp"
	"strings"

	"gatewayd/internal/profile"
)

// reasoningLineRe matches an existing reasoning directive at the start
// of a line, the fixed format used for deduplication.
var reasoningLineRe = regexp.MustCompile(`(?mi)^Reasoning:\s*\w+\s*$`)

// ApplyDefaults merges stored profile values into a chat payload.
// Strictly fill-in-the-gaps: a generation key is copied only when the
// payload lacks it, the system prompt is prepended only when no system
// message exists, and the reasoning directive is merged without
// duplication. Applying twice is a no-op.
func ApplyDefaults(payload map[string]any, stored map[string]any, family string) {
	if len(stored) == 0 {
		return
	}
	for _, key := range profile.GenerationKeys {
		v, have := stored[key]
		if !have || v == nil {
			continue
		}
		if _, present := payload[key]; !present {
			payload[key] = v
		}
	}

	messages, _ := payload["messages"].([]any)

	if sp, ok := stored["system_prompt"].(string); ok && sp != "" && !hasSystemMessage(messages) {
		messages = prependSystem(messages, sp)
	}

	if family == profile.FamilyGPTOSS {
		if effort, ok := stored["reasoning_effort"].(string); ok && effort != "" {
			messages = mergeReasoningDirective(messages, effort)
		}
	}

	if messages != nil {
		payload["messages"] = messages
	}
}

func hasSystemMessage(messages []any) bool {
	for _, m := range messages {
		if msg, ok := m.(map[string]any); ok && msg["role"] == "system" {
			return true
		}
	}
	return false
}

func prependSystem(messages []any, content string) []any {
	sys := map[string]any{"role": "system", "content": content}
	return append([]any{sys}, messages...)
}

// mergeReasoningDirective prepends "Reasoning: <level>" to the first
// system message, creating one if needed, skipping when a directive
// line is already present.
func mergeReasoningDirective(messages []any, effort string) []any {
	line := "Reasoning: " + strings.ToLower(strings.TrimSpace(effort))
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok || msg["role"] != "system" {
			continue
		}
		content, _ := msg["content"].(string)
		if reasoningLineRe.MatchString(content) {
			return messages
		}
		if content == "" {
			msg["content"] = line
		} else {
			msg["content"] = line + "\n\n" + content
		}
		return messages
	}
	return prependSystem(messages, line)
}
