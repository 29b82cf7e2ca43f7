package manager

import (
	"regexp"
	"strings"
)

// autoAliases are treated as "pick a model for me".
var autoAliases = map[string]struct{}{
	"":             {},
	"auto":         {},
	"gateway-auto": {},
}

// coderRe is a fixed keyword heuristic for programming-related text.
var coderRe = regexp.MustCompile(`(?i)\b(code|coding|program(?:ming)?|script|python|golang|javascript|typescript|rust|kotlin|swift|c\+\+|c#|sql|regex|json|yaml|html|css|bug|debug|compil(?:e|er)|refactor|function|class|method|variable|stack trace|traceback|exception|segfault|unit test|api|endpoint|git|docker|kubernetes)\b`)

// SelectModel resolves the model id for a chat request. An explicitly
// named model always wins unless it is an auto alias; otherwise the
// latest user-authored text is classified between the coder and
// general defaults.
func (m *Manager) SelectModel(explicit string, messages []any) string {
	if _, auto := autoAliases[strings.TrimSpace(strings.ToLower(explicit))]; !auto {
		return explicit
	}
	if coderRe.MatchString(latestUserText(messages)) {
		return m.cfg.CoderModel
	}
	return m.cfg.GeneralModel
}

// latestUserText returns the text of the most recent user message.
// OpenAI-style content can be a string or a list of typed parts.
func latestUserText(messages []any) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok || msg["role"] != "user" {
			continue
		}
		switch content := msg["content"].(type) {
		case string:
			return content
		case []any:
			var b strings.Builder
			for _, part := range content {
				if p, ok := part.(map[string]any); ok {
					if t, ok := p["text"].(string); ok {
						b.WriteString(t)
						b.WriteString(" ")
					}
				}
			}
			return b.String()
		}
		return ""
	}
	return ""
}
