package search

import (
	"regexp"
	"strings"
)

// expandReplacement renders a replacement template for one match.
//
// In regex mode the template supports the common substitution escapes:
// $1..$99 for numbered groups (the longest valid two-digit reference wins),
// $<name> for named groups, $& for the whole match, $` and $' for the text
// before and after it, and $$ for a literal dollar sign. A reference to a
// group that does not exist is kept literally; a group that matched nothing
// expands to the empty string. In literal mode the template is taken
// verbatim.
//
// idx holds the submatch indices into text, as shifted by [matchAt].
func expandReplacement(re *regexp.Regexp, text string, idx []int, template string, isRegex bool) string {
	if !isRegex || !strings.Contains(template, "$") {
		return template
	}

	group := func(n int) (string, bool) {
		if n < 0 || 2*n+1 >= len(idx) {
			return "", false
		}
		lo, hi := idx[2*n], idx[2*n+1]
		if lo < 0 {
			return "", true
		}
		return text[lo:hi], true
	}

	var b strings.Builder
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != '$' || i+1 >= len(template) {
			b.WriteByte(c)
			continue
		}

		switch next := template[i+1]; {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '&':
			b.WriteString(text[idx[0]:idx[1]])
			i++
		case next == '`':
			b.WriteString(text[:idx[0]])
			i++
		case next == '\'':
			b.WriteString(text[idx[1]:])
			i++
		case next == '<':
			end := strings.IndexByte(template[i+2:], '>')
			if end < 0 {
				b.WriteByte(c)
				continue
			}
			name := template[i+2 : i+2+end]
			n := groupNumber(re, name)
			if n < 0 {
				b.WriteString(template[i : i+3+end])
			} else if s, ok := group(n); ok {
				b.WriteString(s)
			}
			i += 2 + end
		case next >= '1' && next <= '9':
			n := int(next - '0')
			width := 1
			if i+2 < len(template) && template[i+2] >= '0' && template[i+2] <= '9' {
				wide := n*10 + int(template[i+2]-'0')
				if _, ok := group(wide); ok {
					n = wide
					width = 2
				}
			}
			if s, ok := group(n); ok {
				b.WriteString(s)
				i += width
			} else {
				b.WriteByte(c)
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// groupNumber resolves a named capture group to its index, or -1.
func groupNumber(re *regexp.Regexp, name string) int {
	if name == "" {
		return -1
	}
	for n, candidate := range re.SubexpNames() {
		if n > 0 && candidate == name {
			return n
		}
	}
	return -1
}
