package state

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Normalize converts an arbitrary tool result into the tagged ToolResult
// union. Already-structured values pass through. Strings go through a
// decode chain: strict JSON first, then a permissive literal decode for
// Python-flavored payloads, then fall back to the raw string with a
// logged warning. A tool result is never a silent untyped value.
func Normalize(v any) domain.ToolResult {
	switch raw := v.(type) {
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
			return domain.ToolResult{Kind: domain.ToolResultStructured, Structured: decoded}
		}
		if decoded, ok := decodeLooseLiteral(raw); ok {
			return domain.ToolResult{Kind: domain.ToolResultStructured, Structured: decoded}
		}
		slog.Warn("tool result not decodable, keeping raw string",
			"length", len(raw),
		)
		return domain.ToolResult{Kind: domain.ToolResultRaw, Raw: raw}
	case nil:
		return domain.ToolResult{Kind: domain.ToolResultStructured, Structured: nil}
	default:
		return domain.ToolResult{Kind: domain.ToolResultStructured, Structured: v}
	}
}

// decodeLooseLiteral attempts a safe decode of Python-style literal
// structures ({'a': True}, single quotes, None) by rewriting them into
// JSON and reparsing. Only quote and keyword rewrites are performed; no
// evaluation of any kind.
func decodeLooseLiteral(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return nil, false
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, false
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	inString := false
	for i := 0; i < len(trimmed); i++ {
		ch := trimmed[i]
		switch {
		case ch == '\'':
			// Treat single quotes as string delimiters.
			b.WriteByte('"')
			inString = !inString
		case ch == '"' && !inString:
			b.WriteByte('"')
			inString = !inString
		case !inString && hasKeywordAt(trimmed, i, "True"):
			b.WriteString("true")
			i += 3
		case !inString && hasKeywordAt(trimmed, i, "False"):
			b.WriteString("false")
			i += 4
		case !inString && hasKeywordAt(trimmed, i, "None"):
			b.WriteString("null")
			i += 3
		default:
			b.WriteByte(ch)
		}
	}

	var decoded any
	if err := json.Unmarshal([]byte(b.String()), &decoded); err != nil {
		return nil, false
	}
	return decoded, true
}

// hasKeywordAt reports whether the keyword occurs at i as a standalone
// token (not inside an identifier).
func hasKeywordAt(s string, i int, kw string) bool {
	if !strings.HasPrefix(s[i:], kw) {
		return false
	}
	if i > 0 && isIdentChar(s[i-1]) {
		return false
	}
	end := i + len(kw)
	if end < len(s) && isIdentChar(s[end]) {
		return false
	}
	return true
}

func isIdentChar(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
