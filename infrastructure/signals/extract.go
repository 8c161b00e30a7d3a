// Package signals implements the model-backed comparison and evaluation
// signals: semantic similarity scoring, vision structural judging, and
// rubric evaluation. Each provider sends a strict-JSON instruction through
// the llm client, tolerates one malformed reply before giving up, and
// clamps every numeric field at the parsing boundary.
package signals

import "strings"

// ExtractJSON pulls a JSON object out of a model reply that may wrap it
// in markdown fences or surrounding prose. Returns the empty string when
// no complete object is present.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	if idx := strings.Index(response, "```json"); idx != -1 {
		body := response[idx+len("```json"):]
		if end := strings.Index(body, "```"); end != -1 {
			return strings.TrimSpace(body[:end])
		}
	}

	if idx := strings.Index(response, "```"); idx != -1 {
		body := response[idx+3:]
		// Skip a language identifier on the fence line.
		if nl := strings.Index(body, "\n"); nl != -1 {
			body = body[nl+1:]
		}
		if end := strings.Index(body, "```"); end != -1 {
			candidate := strings.TrimSpace(body[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}

	// Scan for the matching close brace, ignoring braces inside strings.
	braceCount := 0
	inString := false
	escapeNext := false
	for i := start; i < len(response); i++ {
		char := response[i]

		if escapeNext {
			escapeNext = false
			continue
		}
		if char == '\\' {
			escapeNext = true
			continue
		}
		if char == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch char {
		case '{':
			braceCount++
		case '}':
			braceCount--
			if braceCount == 0 {
				return response[start : i+1]
			}
		}
	}

	return ""
}
