package sqlcheck

import (
	"fmt"
	"sort"
	"strings"

	"github.com/auxten/postgresql-parser/pkg/sql/parser"
	"github.com/auxten/postgresql-parser/pkg/sql/sem/tree"
	"github.com/auxten/postgresql-parser/pkg/walk"
)

// CanonicalTable is the relation name every dataset snapshot is
// queryable under when the statement does not name a table itself.
const CanonicalTable = "data"

// SyntaxError reports a statement the parser rejected or a table
// reference the sandbox cannot satisfy.
type SyntaxError struct {
	Detail string
}

func (e *SyntaxError) Error() string {
	return "syntax error: " + e.Detail
}

// Candidate is a statement that passed syntax validation.
type Candidate struct {
	RawSQL string
	Tables []string
}

// RelationName is the name the snapshot must be registered under for
// this statement to resolve. Statements with no table reference get
// the canonical name.
func (c Candidate) RelationName() string {
	if len(c.Tables) == 0 {
		return CanonicalTable
	}
	return c.Tables[0]
}

// RegistrationNames lists every name the snapshot is registered under
// before execution: the statement's own relation name plus the
// canonical one, so canonical references keep resolving even when the
// model invented a table name.
func (c Candidate) RegistrationNames() []string {
	relation := c.RelationName()
	if strings.EqualFold(relation, CanonicalTable) {
		return []string{relation}
	}
	return []string{relation, CanonicalTable}
}

// ValidateSyntax parses the statement and extracts its table
// references. It rejects empty input, multi-statement input, and
// anything the parser cannot parse. The first referenced table becomes
// the registration name; any further referenced name other than the
// canonical one is rejected, since a single snapshot backs the only
// relation the sandbox has.
func ValidateSyntax(sql string) (Candidate, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return Candidate{}, &SyntaxError{Detail: "statement is empty"}
	}

	stmts, err := parser.Parse(trimmed)
	if err != nil {
		return Candidate{}, &SyntaxError{Detail: err.Error()}
	}
	if len(stmts) != 1 {
		return Candidate{}, &SyntaxError{Detail: fmt.Sprintf("expected a single statement, got %d", len(stmts))}
	}

	tables, cteNames := collectNames(stmts)

	seen := map[string]bool{}
	distinct := make([]string, 0, len(tables))
	for _, table := range tables {
		if cteNames[strings.ToLower(table)] {
			continue
		}
		key := strings.ToLower(table)
		if seen[key] {
			continue
		}
		seen[key] = true
		distinct = append(distinct, table)
	}

	var offending []string
	for i, table := range distinct {
		if i == 0 || strings.EqualFold(table, CanonicalTable) {
			continue
		}
		offending = append(offending, table)
	}
	if len(offending) > 0 {
		sort.Strings(offending)
		return Candidate{}, &SyntaxError{
			Detail: fmt.Sprintf("statement references unknown tables (%s); only %q is available", strings.Join(offending, ", "), CanonicalTable),
		}
	}

	return Candidate{RawSQL: trimmed, Tables: distinct}, nil
}

func collectNames(stmts parser.Statements) ([]string, map[string]bool) {
	var tables []string
	cteNames := map[string]bool{}

	walker := &walk.AstWalker{
		Fn: func(_ any, node any) bool {
			switch n := node.(type) {
			case *tree.CTE:
				cteNames[strings.ToLower(string(n.Name.Alias))] = true
			case *tree.TableName:
				tables = append(tables, n.Table())
			case *tree.UnresolvedObjectName:
				tables = append(tables, n.Parts[0])
			}
			return false
		},
	}
	_, _ = walker.Walk(stmts, nil)

	return tables, cteNames
}
