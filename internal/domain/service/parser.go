package service

import (
	"encoding/json"
	"fmt"
	"strings"

	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	apperrors "github.com/vertexmcp/vertexmcp/pkg/errors"
)

// ParsedResponse is the structured view of one model turn. FinalText holds
// every line that is not part of a tool-call block; Calls holds the parsed
// invocations in the order they appeared.
type ParsedResponse struct {
	FinalText string
	Calls     []domaintool.Invocation
}

// HasCalls reports whether the turn requested any tool executions.
func (p *ParsedResponse) HasCalls() bool { return len(p.Calls) > 0 }

// ParseResponse extracts TOOL_CALL / ARGUMENTS blocks from raw model text.
//
// Recognized shape, line oriented:
//
//	TOOL_CALL: <tool_name>
//	ARGUMENTS: <JSON object, possibly spanning lines to a balanced brace>
//
// Whitespace around the colons is tolerated, as is a missing trailing
// newline. Arguments whose JSON does not parse produce a
// MODEL_BEHAVIOR_ERROR instead of being dropped.
func ParseResponse(text string) (*ParsedResponse, error) {
	lines := strings.Split(text, "\n")
	parsed := &ParsedResponse{}
	var freeText []string

	for i := 0; i < len(lines); i++ {
		name, ok := matchDirective(lines[i], "TOOL_CALL")
		if !ok {
			freeText = append(freeText, lines[i])
			continue
		}
		if name == "" {
			return nil, apperrors.NewModelBehaviorError("TOOL_CALL with empty tool name")
		}

		// The arguments directive must follow, possibly after blank lines.
		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j >= len(lines) {
			return nil, apperrors.NewModelBehaviorError(
				fmt.Sprintf("TOOL_CALL %q has no ARGUMENTS line", name))
		}
		argsHead, ok := matchDirective(lines[j], "ARGUMENTS")
		if !ok {
			return nil, apperrors.NewModelBehaviorError(
				fmt.Sprintf("TOOL_CALL %q has no ARGUMENTS line", name))
		}

		rawJSON, next, err := collectJSON(argsHead, lines, j)
		if err != nil {
			return nil, err
		}

		var args map[string]interface{}
		if err := json.Unmarshal([]byte(rawJSON), &args); err != nil {
			return nil, apperrors.NewModelBehaviorError(
				fmt.Sprintf("invalid JSON in ARGUMENTS for tool %q: %v", name, err))
		}

		parsed.Calls = append(parsed.Calls, domaintool.Invocation{
			ToolName:  name,
			Arguments: args,
		})
		i = next
	}

	parsed.FinalText = strings.TrimSpace(strings.Join(freeText, "\n"))
	return parsed, nil
}

// matchDirective matches "<keyword>: <rest>" with optional whitespace
// around the colon, returning the trimmed rest.
func matchDirective(line, keyword string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, keyword) {
		return "", false
	}
	rest := strings.TrimSpace(trimmed[len(keyword):])
	if !strings.HasPrefix(rest, ":") {
		return "", false
	}
	return strings.TrimSpace(rest[1:]), true
}

// collectJSON gathers the ARGUMENTS payload starting at lines[start].
// A payload opening with '{' extends across lines until its braces
// balance, respecting strings and escapes. Returns the payload and the
// index of the last consumed line.
func collectJSON(head string, lines []string, start int) (string, int, error) {
	if !strings.HasPrefix(head, "{") {
		// Single-line payload of some other JSON value.
		return head, start, nil
	}

	var b strings.Builder
	b.WriteString(head)
	depth, inString, escaped := braceScan(head, 0, false, false)

	line := start
	for depth > 0 {
		line++
		if line >= len(lines) {
			return "", 0, apperrors.NewModelBehaviorError("unbalanced braces in ARGUMENTS")
		}
		b.WriteString("\n")
		b.WriteString(lines[line])
		depth, inString, escaped = braceScan(lines[line], depth, inString, escaped)
	}
	return b.String(), line, nil
}

// braceScan advances a brace-depth scan across one line of JSON.
func braceScan(s string, depth int, inString, escaped bool) (int, bool, bool) {
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case !inString && r == '{':
			depth++
		case !inString && r == '}':
			depth--
		}
	}
	return depth, inString, escaped
}
