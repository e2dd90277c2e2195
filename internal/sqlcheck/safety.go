package sqlcheck

import (
	"strings"
	"unicode"
)

// SafetyError reports a statement that is syntactically valid but not
// allowed to run against a sandbox.
type SafetyError struct {
	Keyword string
	Detail  string
}

func (e *SafetyError) Error() string {
	return "safety violation: " + e.Detail
}

// deniedKeywords are the mutating and administrative verbs a sandbox
// query must never contain, matched as whole tokens so column names
// like created_at pass.
var deniedKeywords = []string{
	"create",
	"alter",
	"drop",
	"delete",
	"insert",
	"update",
	"truncate",
	"replace",
	"grant",
	"revoke",
}

// ValidateSafety enforces the read-only contract: the statement must
// start with SELECT or WITH and must not contain any denied keyword
// anywhere, including inside subqueries or CTE bodies.
func ValidateSafety(sql string) error {
	tokens := tokenize(stripComments(sql))
	if len(tokens) == 0 {
		return &SafetyError{Detail: "statement is empty"}
	}

	first := strings.ToLower(tokens[0])
	if first != "select" && first != "with" {
		return &SafetyError{
			Keyword: first,
			Detail:  "statement must start with SELECT or WITH, got " + strings.ToUpper(first),
		}
	}

	for _, token := range tokens {
		lowered := strings.ToLower(token)
		for _, denied := range deniedKeywords {
			if lowered == denied {
				return &SafetyError{
					Keyword: denied,
					Detail:  "statement contains denied keyword " + strings.ToUpper(denied),
				}
			}
		}
	}
	return nil
}

// stripComments removes line and block comments so commented text can
// neither satisfy the leading-keyword check nor trip the denylist.
func stripComments(sql string) string {
	var out strings.Builder
	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '-' && i+1 < len(runes) && runes[i+1] == '-' {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			out.WriteRune('\n')
			continue
		}
		if runes[i] == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			i += 2
			for i+1 < len(runes) && !(runes[i] == '*' && runes[i+1] == '/') {
				i++
			}
			i++
			out.WriteRune(' ')
			continue
		}
		out.WriteRune(runes[i])
	}
	return out.String()
}

// tokenize splits a statement into identifier-like tokens. Quoted
// strings and identifiers are skipped so literal values never trip the
// denylist. A doubled quote inside a quoted run is the SQL escape for
// the quote character and does not close the run.
func tokenize(sql string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	runes := []rune(sql)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if quote != 0 {
			if r == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"':
			flush()
			quote = r
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
