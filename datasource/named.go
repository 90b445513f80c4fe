package datasource

import "strings"

// questionMask stands in for '?' inside quoted spans while sqlx.In counts
// bind variables.
const questionMask = '\x00'

// rewriteQuoted copies q and lets fn write every byte that sits inside a
// quoted literal or identifier. With backslash set, '\' escapes the next
// byte of a string literal as it does in MySQL.
func rewriteQuoted(q string, backslash bool, fn func(b *strings.Builder, ch byte)) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	var quote byte
	for i := 0; i < len(q); i++ {
		ch := q[i]
		switch {
		case quote == 0:
			if ch == '\'' || ch == '`' || ch == '"' {
				quote = ch
			}
		case ch == quote:
			quote = 0
		case backslash && ch == '\\' && quote != '`' && i+1 < len(q):
			b.WriteByte(ch)
			i++
			fn(&b, q[i])
			continue
		default:
			fn(&b, ch)
			continue
		}
		b.WriteByte(ch)
	}
	return b.String()
}

// escapeQuotedColons doubles ':' inside quoted literals and identifiers so
// sqlx.Named does not mistake them for placeholders.
func escapeQuotedColons(q string, backslash bool) string {
	if !strings.Contains(q, ":") {
		return q
	}
	return rewriteQuoted(q, backslash, func(b *strings.Builder, ch byte) {
		if ch == ':' {
			b.WriteByte(':')
		}
		b.WriteByte(ch)
	})
}

// maskQuotedQuestions hides '?' inside quoted spans from sqlx.In. It reports
// false when q already contains the mask byte and cannot be masked.
func maskQuotedQuestions(q string, backslash bool) (string, bool) {
	if strings.IndexByte(q, questionMask) >= 0 {
		return q, false
	}
	return rewriteQuoted(q, backslash, func(b *strings.Builder, ch byte) {
		if ch == '?' {
			ch = questionMask
		}
		b.WriteByte(ch)
	}), true
}

func unmaskQuestions(q string) string {
	return strings.ReplaceAll(q, string(rune(questionMask)), "?")
}
