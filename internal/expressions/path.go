package expressions

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// pathSegment is one step of a context path: a key or an array index.
type pathSegment struct {
	key     string
	index   int
	isIndex bool
}

// parsePath parses dotted and bracketed paths such as
// `user.emails[0]`, `rows.0.name` and `form["Your email"]`.
func parsePath(src string) ([]pathSegment, error) {
	var segs []pathSegment
	i := 0
	expectKey := true
	for i < len(src) {
		switch {
		case src[i] == '[':
			seg, next, err := parseBracket(src, i)
			if err != nil {
				return nil, err
			}
			segs = append(segs, seg)
			i = next
			expectKey = false
		case src[i] == '.':
			if expectKey {
				return nil, pathError(src, "unexpected '.'")
			}
			i++
			if i == len(src) {
				return nil, pathError(src, "path ends with '.'")
			}
			expectKey = true
		default:
			if !expectKey {
				return nil, pathError(src, "expected '.' or '[' after segment")
			}
			start := i
			for i < len(src) && !isPathDelim(src[i]) {
				i++
			}
			if i == start {
				return nil, pathError(src, "unexpected "+strconv.QuoteRune(rune(src[i])))
			}
			segs = append(segs, pathSegment{key: src[start:i]})
			expectKey = false
		}
	}
	if len(segs) == 0 {
		return nil, pathError(src, "empty path")
	}
	return segs, nil
}

func parseBracket(src string, i int) (pathSegment, int, error) {
	i++ // '['
	if i >= len(src) {
		return pathSegment{}, 0, pathError(src, "unclosed '['")
	}
	if q := src[i]; q == '"' || q == '\'' {
		var b strings.Builder
		i++
		for i < len(src) && src[i] != q {
			if src[i] == '\\' && i+1 < len(src) {
				i++
			}
			b.WriteByte(src[i])
			i++
		}
		if i+1 >= len(src) || src[i+1] != ']' {
			return pathSegment{}, 0, pathError(src, "unclosed quoted key")
		}
		return pathSegment{key: b.String()}, i + 2, nil
	}
	end := strings.IndexByte(src[i:], ']')
	if end <= 0 {
		return pathSegment{}, 0, pathError(src, "unclosed '['")
	}
	n, err := strconv.Atoi(src[i : i+end])
	if err != nil || n < 0 {
		return pathSegment{}, 0, pathError(src, "bracket index must be a non-negative integer or quoted key")
	}
	return pathSegment{index: n, isIndex: true}, i + end + 1, nil
}

func isPathDelim(c byte) bool {
	switch c {
	case '.', '[', ']', ' ', '\t', '\n', '\r', '{', '}', '"', '\'', '|', '(', ')':
		return true
	}
	return false
}

func pathError(src, msg string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeTemplate, "invalid path %q: %s", src, msg).
		WithDetails(map[string]any{"path": src})
}

// jqQuery renders segments as a gojq program. Keys are emitted as JSON string
// literals so user text never reaches the jq parser as syntax. A purely
// numeric key indexes arrays and keys objects.
func jqQuery(segs []pathSegment) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		switch {
		case s.isIndex:
			parts = append(parts, jqIndex(strconv.Itoa(s.index)))
		case isDigits(s.key):
			parts = append(parts, `if type == "array" then `+jqIndex(s.key)+` else `+jqKey(quoteKey(s.key))+` end`)
		default:
			parts = append(parts, jqKey(quoteKey(s.key)))
		}
	}
	return strings.Join(parts, " | ")
}

// jqKey and jqIndex yield nothing for an absent key or index, so a missing
// path produces no output while a present null produces null.
func jqKey(quoted string) string {
	return `(if type == "object" and has(` + quoted + `) then .[` + quoted + `] else empty end)`
}

func jqIndex(n string) string {
	return `(if type == "array" and length > ` + n + ` then .[` + n + `] else empty end)`
}

func quoteKey(k string) string {
	b, _ := json.Marshal(k)
	return string(b)
}

func isDigits(s string) bool {
	if s == "" || len(s) > 9 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
