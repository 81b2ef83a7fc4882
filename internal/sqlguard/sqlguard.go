// Package sqlguard is the safety gate between generated SQL and the
// target database. The gate is purely syntactic and has no dialect
// awareness: the denylist matches substrings, so an identifier that
// merely contains a denylisted keyword is rejected too.
package sqlguard

import (
	"fmt"
	"strings"
)

// Verdict is a value, not an error. Invalid SQL must never reach an
// executor.
type Verdict struct {
	Valid  bool
	Reason string
}

var dangerousKeywords = []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE"}

var dmlKeywords = map[string]bool{
	"SELECT":   true,
	"INSERT":   true,
	"UPDATE":   true,
	"DELETE":   true,
	"DROP":     true,
	"CREATE":   true,
	"ALTER":    true,
	"TRUNCATE": true,
	"MERGE":    true,
	"REPLACE":  true,
}

// Validate checks a generated statement. Rules, in order: non-empty, a
// recognized leading DML keyword, SELECT only, a single statement, no
// denylisted keyword anywhere in the text.
func Validate(sql string) Verdict {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return Verdict{Reason: "Empty SQL query"}
	}

	keyword := leadingKeyword(trimmed)
	if keyword == "" || !dmlKeywords[keyword] {
		return Verdict{Reason: "Invalid SQL statement"}
	}
	if keyword != "SELECT" {
		return Verdict{Reason: "Only SELECT queries are allowed"}
	}

	if strings.Contains(strings.TrimSuffix(trimmed, ";"), ";") {
		return Verdict{Reason: "Only a single statement is allowed"}
	}

	upper := strings.ToUpper(trimmed)
	for _, denied := range dangerousKeywords {
		if strings.Contains(upper, denied) {
			return Verdict{Reason: fmt.Sprintf("Dangerous keyword '%s' not allowed", denied)}
		}
	}
	return Verdict{Valid: true}
}

// leadingKeyword returns the first bare word of the statement, upper
// cased, after skipping whitespace and SQL comments.
func leadingKeyword(sql string) string {
	rest := sql
	for {
		rest = strings.TrimLeft(rest, " \t\r\n")
		switch {
		case strings.HasPrefix(rest, "--"):
			idx := strings.IndexByte(rest, '\n')
			if idx < 0 {
				return ""
			}
			rest = rest[idx+1:]
		case strings.HasPrefix(rest, "/*"):
			idx := strings.Index(rest, "*/")
			if idx < 0 {
				return ""
			}
			rest = rest[idx+2:]
		default:
			end := 0
			for end < len(rest) && isKeywordByte(rest[end]) {
				end++
			}
			return strings.ToUpper(rest[:end])
		}
	}
}

func isKeywordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b == '_'
}
