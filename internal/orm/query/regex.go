package query

import (
	"regexp"
	"strings"
)

// likePattern rewrites a simple regular expression as a LIKE pattern. It reports false for patterns
// using anything beyond anchors, ".", ".*" and escaped dots; those go to the native regex operator.
func likePattern(re string) (string, bool) {
	if re == "" || !simpleRegexp(re) {
		return "", false
	}

	anchoredStart := strings.HasPrefix(re, "^")
	anchoredEnd := strings.HasSuffix(re, "$") && !strings.HasSuffix(re, `\$`)

	body := re
	if anchoredStart {
		body = body[1:]
	}
	if anchoredEnd {
		body = body[:len(body)-1]
	}

	var b strings.Builder
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c == '\\':
			// only escaped dots survive simpleRegexp
			i++
			b.WriteByte(body[i])
		case c == '.' && i+1 < len(body) && body[i+1] == '*':
			b.WriteByte('%')
			i++
		case c == '.':
			b.WriteByte('_')
		default:
			b.WriteByte(c)
		}
	}
	value := b.String()

	switch {
	case anchoredStart && anchoredEnd:
		return value, true
	case anchoredStart:
		return value + "%", true
	case anchoredEnd:
		return "%" + value, true
	default:
		return "%" + value + "%", true
	}
}

// simpleRegexp reports whether re can be expressed with LIKE without changing its meaning
func simpleRegexp(re string) bool {
	if strings.ContainsAny(re, "{}[]()") {
		return false
	}
	// LIKE wildcards inside the pattern would change its meaning
	if strings.ContainsAny(re, "%_") {
		return false
	}
	if strings.ContainsAny(re, "+?|") {
		return false
	}

	for i := 0; i < len(re); i++ {
		switch re[i] {
		case '\\':
			if i+1 >= len(re) || re[i+1] != '.' {
				return false
			}
			i++
		case '*':
			if i == 0 || re[i-1] != '.' || (i >= 2 && re[i-2] == '\\') {
				return false
			}
		case '^':
			if i != 0 {
				return false
			}
		case '$':
			if i != len(re)-1 {
				return false
			}
		}
	}
	return true
}

// regexSource extracts the pattern text of a $re value
func regexSource(v interface{}) (string, bool) {
	switch re := v.(type) {
	case string:
		return re, true
	case *regexp.Regexp:
		return re.String(), true
	case interface{ String() string }:
		return re.String(), true
	default:
		return "", false
	}
}
