package batch

import (
	"regexp"
	"strings"
	"unicode"
)

// statement is one ';' separated fragment of a group.
type statement struct {
	text    string // sent to the database
	keyword string // upper cased first word outside comments
	query   bool   // produces a result set
}

var (
	queryKeywords = map[string]struct{}{
		"SELECT": {}, "WITH": {}, "VALUES": {}, "PRAGMA": {}, "EXPLAIN": {},
		"SHOW": {}, "DESCRIBE": {}, "DESC": {}, "TABLE": {},
	}
	ddlKeywords = map[string]struct{}{
		"CREATE": {}, "DROP": {}, "ALTER": {},
	}
	reReturning = regexp.MustCompile(`(?i)\bRETURNING\b`)
)

// splitStatements splits text on ';' outside quotes and comments. Fragments
// holding nothing but comments are dropped, commentOnly reports a non-blank
// text made only of those.
func splitStatements(text string) (stmts []statement, commentOnly bool) {
	var (
		raw  strings.Builder // fragment as written
		bare strings.Builder // fragment without comments, literals masked
	)
	emit := func() {
		b := strings.TrimSpace(bare.String())
		t := strings.TrimSpace(raw.String())
		raw.Reset()
		bare.Reset()
		if b == "" {
			return
		}
		kw := keyword(b)
		_, isQuery := queryKeywords[kw]
		stmts = append(stmts, statement{
			text:    t,
			keyword: kw,
			query:   isQuery || reReturning.MatchString(b),
		})
	}

	rs := []rune(text)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		next := rune(0)
		if i+1 < len(rs) {
			next = rs[i+1]
		}
		switch {
		case c == '-' && next == '-':
			// line comment
			for ; i < len(rs) && rs[i] != '\n'; i++ {
				raw.WriteRune(rs[i])
			}
			if i < len(rs) {
				raw.WriteRune('\n')
			}
			bare.WriteByte(' ')
		case c == '/' && next == '*':
			raw.WriteString("/*")
			i += 2
			for ; i < len(rs); i++ {
				if rs[i] == '*' && i+1 < len(rs) && rs[i+1] == '/' {
					raw.WriteString("*/")
					i++
					break
				}
				raw.WriteRune(rs[i])
			}
			bare.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			raw.WriteRune(c)
			bare.WriteRune(c)
			for i++; i < len(rs); i++ {
				raw.WriteRune(rs[i])
				if rs[i] != c {
					continue
				}
				// doubled quote is an escaped one
				if i+1 < len(rs) && rs[i+1] == c {
					i++
					raw.WriteRune(c)
					continue
				}
				break
			}
			bare.WriteRune('?')
			bare.WriteRune(c)
		case c == ';':
			emit()
		default:
			raw.WriteRune(c)
			bare.WriteRune(c)
		}
	}
	emit()

	if len(stmts) == 0 && strings.TrimSpace(text) != "" {
		return nil, true
	}
	return stmts, false
}

func keyword(bare string) string {
	s := strings.TrimLeftFunc(bare, func(r rune) bool {
		return r == '(' || unicode.IsSpace(r)
	})
	end := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if end >= 0 {
		s = s[:end]
	}
	return strings.ToUpper(s)
}

func isDDL(kw string) bool {
	_, ok := ddlKeywords[kw]
	return ok
}
