package jimi

import (
	"encoding/json"
	"strings"
)

// NormalizeArguments repairs the malformed argument strings LLMs
// sometimes emit into strict JSON so schema validation can proceed.
//
// The repair pipeline short-circuits when the input is already strictly
// valid JSON — parsed fully with no trailing tokens, and not itself a
// JSON string whose content looks like an escaped object or array.
// Output is either valid JSON or the unchanged input; the function is
// deterministic and idempotent on its own output.
func NormalizeArguments(in string) string {
	s := strings.TrimSpace(in)
	if s == "" {
		return in
	}
	if strictlyValidJSON(s) {
		return s
	}

	s = stripNullPrefix(s)
	s = stripNullSuffix(s)
	s = unwrapQuotedJSON(s)
	s = escapeRawInValueStrings(s)
	s = quoteBarewordKeys(s)
	s = rebalanceBrackets(s)
	s = dropIllegalEscapes(s)
	s = wrapBareList(s)

	if json.Valid([]byte(s)) {
		return s
	}
	return in
}

// strictlyValidJSON reports whether s parses fully as one JSON value
// with no trailing tokens, and is not a textual value that itself looks
// like JSON (those still need one unwrap pass).
func strictlyValidJSON(s string) bool {
	if !json.Valid([]byte(s)) {
		return false
	}
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return false
	}
	if dec.More() {
		return false
	}
	if str, ok := v.(string); ok {
		inner := strings.TrimSpace(str)
		if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
			return false
		}
	}
	return true
}

// stripNullPrefix removes leading `null` tokens iff what remains still
// begins with an object, array, or string literal.
func stripNullPrefix(s string) string {
	rest := s
	stripped := false
	for {
		r := strings.TrimSpace(rest)
		if !strings.HasPrefix(r, "null") {
			rest = r
			break
		}
		rest = r[len("null"):]
		stripped = true
	}
	rest = strings.TrimSpace(rest)
	if !stripped {
		return s
	}
	if strings.HasPrefix(rest, "{") || strings.HasPrefix(rest, "[") || strings.HasPrefix(rest, `"`) {
		return rest
	}
	return s
}

// stripNullSuffix removes trailing `null` tokens, peeling quoted
// wrappers whose inner content ends in null, and dangling quote
// terminators that leave a balanced object or array.
func stripNullSuffix(s string) string {
	for {
		t := strings.TrimSpace(s)
		switch {
		case strings.HasSuffix(t, "null") && t != "null":
			s = strings.TrimSpace(strings.TrimSuffix(t, "null"))
		case strings.HasPrefix(t, `"`) && strings.HasSuffix(t, `"`) && len(t) >= 2 && innerEndsInNull(t):
			s = t[1 : len(t)-1]
		case strings.HasSuffix(t, `\"`) && balancedAfterTrim(t, 2):
			s = t[:len(t)-2]
		case strings.HasSuffix(t, `"`) && balancedAfterTrim(t, 1):
			s = t[:len(t)-1]
		default:
			return t
		}
	}
}

// innerEndsInNull reports whether the content of a quoted wrapper ends
// with a null token.
func innerEndsInNull(quoted string) bool {
	var inner string
	if err := json.Unmarshal([]byte(quoted), &inner); err != nil {
		inner = quoted[1 : len(quoted)-1]
	}
	return strings.HasSuffix(strings.TrimSpace(inner), "null")
}

// balancedAfterTrim reports whether removing the last n bytes leaves a
// string with balanced braces and brackets that frames an object/array.
func balancedAfterTrim(s string, n int) bool {
	t := strings.TrimSpace(s[:len(s)-n])
	if !strings.HasPrefix(t, "{") && !strings.HasPrefix(t, "[") {
		return false
	}
	open, _ := countBrackets(t)
	return open == 0
}

// unwrapQuotedJSON unescapes one layer when the whole value is a quoted
// escaped JSON object or array.
func unwrapQuotedJSON(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, `"`) || !strings.HasSuffix(t, `"`) || len(t) < 2 {
		return s
	}
	var inner string
	if err := json.Unmarshal([]byte(t), &inner); err != nil {
		return s
	}
	it := strings.TrimSpace(inner)
	if (strings.HasPrefix(it, "{") && strings.HasSuffix(it, "}")) ||
		(strings.HasPrefix(it, "[") && strings.HasSuffix(it, "]")) {
		return it
	}
	return s
}

// validEscapeChars are the characters that may legally follow a
// backslash inside a JSON string (plus the lenient single quote).
const validEscapeChars = `"'\/bfnrtu`

// escapeRawInValueStrings escapes raw control characters, quotes, and
// backslashes that appear inside string values (strings opened after a
// colon). A quote inside a value is treated as the closing quote only
// when the next significant character is a comma, colon, closer, or the
// end of input.
func escapeRawInValueStrings(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	inString := false
	valueString := false
	var lastSig byte

	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
				valueString = lastSig == ':'
				b.WriteByte(c)
				continue
			}
			if !isSpace(c) {
				lastSig = c
			}
			b.WriteByte(c)
			continue
		}

		// Inside a string.
		switch c {
		case '\\':
			if i+1 < len(s) && strings.IndexByte(validEscapeChars, s[i+1]) >= 0 {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
			} else if valueString {
				b.WriteString(`\\`)
			} else {
				b.WriteByte(c)
			}
		case '\n':
			if valueString {
				b.WriteString(`\n`)
			} else {
				b.WriteByte(c)
			}
		case '\r':
			if valueString {
				b.WriteString(`\r`)
			} else {
				b.WriteByte(c)
			}
		case '\t':
			if valueString {
				b.WriteString(`\t`)
			} else {
				b.WriteByte(c)
			}
		case '"':
			if !valueString || closesString(s, i+1) {
				inString = false
				lastSig = '"'
				b.WriteByte(c)
			} else {
				b.WriteString(`\"`)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closesString reports whether the text after a candidate closing quote
// looks like JSON structure rather than more string content.
func closesString(s string, from int) bool {
	for i := from; i < len(s); i++ {
		c := s[i]
		if isSpace(c) {
			continue
		}
		return c == ',' || c == '}' || c == ']' || c == ':'
	}
	return true
}

// quoteBarewordKeys wraps unquoted identifier keys in double quotes.
// Only positions directly inside an object (after `{` or a `,` whose
// innermost container is an object) followed by a colon qualify.
func quoteBarewordKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)

	var stack []byte
	inString := false
	expectKey := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch {
		case c == '"':
			inString = true
			expectKey = false
			b.WriteByte(c)
		case c == '{':
			stack = append(stack, '{')
			expectKey = true
			b.WriteByte(c)
		case c == '[':
			stack = append(stack, '[')
			expectKey = false
			b.WriteByte(c)
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			expectKey = false
			b.WriteByte(c)
		case c == ',':
			expectKey = len(stack) > 0 && stack[len(stack)-1] == '{'
			b.WriteByte(c)
		case expectKey && isIdentStart(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			k := j
			for k < len(s) && isSpace(s[k]) {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteByte('"')
				b.WriteString(s[i:j])
				b.WriteByte('"')
				i = j - 1
				expectKey = false
			} else {
				b.WriteByte(c)
			}
		default:
			if !isSpace(c) && c != ':' {
				expectKey = false
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}

// rebalanceBrackets appends missing closers in nesting order and drops
// closers that match no opener.
func rebalanceBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)

	var stack []byte
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
			b.WriteByte(c)
		case '{', '[':
			stack = append(stack, c)
			b.WriteByte(c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
				b.WriteByte(c)
			}
			// unmatched closer: dropped
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// dropIllegalEscapes removes backslashes that begin an escape sequence
// JSON does not allow, keeping the escaped character itself.
func dropIllegalEscapes(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !inString {
			if c == '"' {
				inString = true
			}
			b.WriteByte(c)
			continue
		}
		switch c {
		case '\\':
			if i+1 < len(s) && strings.IndexByte(validEscapeChars, s[i+1]) >= 0 {
				b.WriteByte(c)
				b.WriteByte(s[i+1])
				i++
			}
			// illegal escape: backslash dropped, next char kept as-is
		case '"':
			inString = false
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// wrapBareList frames comma-separated literal tokens as a JSON array
// when the input has no object/array/string framing of its own.
func wrapBareList(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	switch t[0] {
	case '{', '[', '"':
		return s
	}
	if !strings.Contains(t, ",") {
		return s
	}
	return "[" + t + "]"
}

// countBrackets returns the open-minus-closed counts for braces and
// brackets combined, ignoring string contents.
func countBrackets(s string) (open int, sawAny bool) {
	inString := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			open++
			sawAny = true
		case '}', ']':
			open--
			sawAny = true
		}
	}
	return open, sawAny
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
